package ocr

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"cloud.google.com/go/vision/v2/apiv1/visionpb"
	"github.com/googleapis/gax-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/receipt-tracking/ingestion/internal/backoff"
)

type fakeAnnotator struct {
	resp     *visionpb.BatchAnnotateImagesResponse   // default response
	resps    []*visionpb.BatchAnnotateImagesResponse // consumed in order first
	errs     []error                                 // consumed in order; nil entry means success
	calls    int
	features []visionpb.Feature_Type
}

func (f *fakeAnnotator) BatchAnnotateImages(_ context.Context, req *visionpb.BatchAnnotateImagesRequest, _ ...gax.CallOption) (*visionpb.BatchAnnotateImagesResponse, error) {
	f.calls++
	if reqs := req.GetRequests(); len(reqs) > 0 && len(reqs[0].GetFeatures()) > 0 {
		f.features = append(f.features, reqs[0].GetFeatures()[0].GetType())
	}
	if f.calls <= len(f.errs) && f.errs[f.calls-1] != nil {
		return nil, f.errs[f.calls-1]
	}
	if f.calls <= len(f.resps) {
		return f.resps[f.calls-1], nil
	}
	return f.resp, nil
}

func newTestClient(f *fakeAnnotator) *VisionClient {
	return &VisionClient{
		annotator: f,
		retrier: backoff.New(backoff.Policy{
			InitialDelay: time.Millisecond,
			MaxDelay:     2 * time.Millisecond,
			Multiplier:   2,
			MaxAttempts:  5,
			Deadline:     time.Second,
		}),
		logger: slog.Default(),
	}
}

func docResponse(doc *visionpb.TextAnnotation) *visionpb.BatchAnnotateImagesResponse {
	return &visionpb.BatchAnnotateImagesResponse{
		Responses: []*visionpb.AnnotateImageResponse{{FullTextAnnotation: doc}},
	}
}

func textResponse(annotations ...*visionpb.EntityAnnotation) *visionpb.BatchAnnotateImagesResponse {
	return &visionpb.BatchAnnotateImagesResponse{
		Responses: []*visionpb.AnnotateImageResponse{{TextAnnotations: annotations}},
	}
}

func errResponse(code codes.Code, msg string) *visionpb.BatchAnnotateImagesResponse {
	return &visionpb.BatchAnnotateImagesResponse{
		Responses: []*visionpb.AnnotateImageResponse{{Error: status.New(code, msg).Proto()}},
	}
}

func block(conf float32, words ...string) *visionpb.Block {
	var ws []*visionpb.Word
	for _, w := range words {
		var syms []*visionpb.Symbol
		for _, r := range w {
			syms = append(syms, &visionpb.Symbol{Text: string(r)})
		}
		ws = append(ws, &visionpb.Word{Symbols: syms})
	}
	return &visionpb.Block{
		Confidence: conf,
		Paragraphs: []*visionpb.Paragraph{{Words: ws}},
		BoundingBox: &visionpb.BoundingPoly{Vertices: []*visionpb.Vertex{
			{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 10, Y: 10}, {X: 0, Y: 10},
		}},
	}
}

func TestAnalyzeDocumentMeanConfidenceAndLanguage(t *testing.T) {
	f := &fakeAnnotator{resp: docResponse(&visionpb.TextAnnotation{
		Text: "TOTAL 42.99",
		Pages: []*visionpb.Page{{
			Property: &visionpb.TextAnnotation_TextProperty{
				DetectedLanguages: []*visionpb.TextAnnotation_DetectedLanguage{{LanguageCode: "ro"}},
			},
			Blocks: []*visionpb.Block{
				block(0.9, "TOTAL"),
				block(0.7, "42.99"),
			},
		}},
	})}

	res, err := newTestClient(f).AnalyzeDocument(context.Background(), []byte("img"))
	require.NoError(t, err)

	assert.Equal(t, []visionpb.Feature_Type{visionpb.Feature_DOCUMENT_TEXT_DETECTION}, f.features)
	assert.Equal(t, "TOTAL 42.99", res.FullText)
	assert.Equal(t, "ro", res.LanguageCode)
	require.Len(t, res.Blocks, 2)
	assert.Equal(t, "TOTAL", res.Blocks[0].Text)
	assert.Len(t, res.Blocks[0].BoundingBox.Vertices, 4)
	assert.InDelta(t, 0.8, res.Confidence, 1e-6)
	assert.GreaterOrEqual(t, res.Confidence, 0.0)
	assert.LessOrEqual(t, res.Confidence, 1.0)
}

func TestAnalyzeDocumentEmptyTextIsNotAnError(t *testing.T) {
	f := &fakeAnnotator{resp: docResponse(&visionpb.TextAnnotation{})}

	res, err := newTestClient(f).AnalyzeDocument(context.Background(), []byte("img"))
	require.NoError(t, err)
	assert.Empty(t, res.FullText)
	assert.Empty(t, res.Blocks)
	assert.Zero(t, res.Confidence)
}

func TestAnalyzeDocumentEmptyBatchIsNotAnError(t *testing.T) {
	f := &fakeAnnotator{resp: &visionpb.BatchAnnotateImagesResponse{}}

	res, err := newTestClient(f).AnalyzeDocument(context.Background(), []byte("img"))
	require.NoError(t, err)
	assert.Empty(t, res.FullText)
	assert.Zero(t, res.Confidence)
}

func TestAnalyzeDocumentRetriesTransientErrors(t *testing.T) {
	unavailable := status.Error(codes.Unavailable, "backend down")
	f := &fakeAnnotator{
		errs: []error{unavailable, unavailable, nil},
		resp: docResponse(&visionpb.TextAnnotation{Text: "ok", Pages: []*visionpb.Page{{Blocks: []*visionpb.Block{block(1, "ok")}}}}),
	}

	res, err := newTestClient(f).AnalyzeDocument(context.Background(), []byte("img"))
	require.NoError(t, err)
	assert.Equal(t, 3, f.calls)
	assert.Equal(t, "ok", res.FullText)
}

func TestAnalyzeDocumentRetriesEmbeddedResponseError(t *testing.T) {
	f := &fakeAnnotator{
		resps: []*visionpb.BatchAnnotateImagesResponse{
			errResponse(codes.Unavailable, "backend down"),
			errResponse(codes.ResourceExhausted, "rate limited"),
		},
		resp: docResponse(&visionpb.TextAnnotation{Text: "ok", Pages: []*visionpb.Page{{Blocks: []*visionpb.Block{block(1, "ok")}}}}),
	}

	res, err := newTestClient(f).AnalyzeDocument(context.Background(), []byte("img"))
	require.NoError(t, err)
	assert.Equal(t, 3, f.calls)
	assert.Equal(t, "ok", res.FullText)
}

func TestAnalyzeDocumentEmbeddedNonRetryableError(t *testing.T) {
	f := &fakeAnnotator{resp: errResponse(codes.InvalidArgument, "bad image payload")}

	_, err := newTestClient(f).AnalyzeDocument(context.Background(), []byte("img"))

	var extractErr *ExtractionError
	require.ErrorAs(t, err, &extractErr)
	assert.Equal(t, codes.InvalidArgument, status.Code(extractErr.Err))
	assert.Equal(t, 1, f.calls)
}

func TestAnalyzeDocumentNonRetryableFailsOnFirstAttempt(t *testing.T) {
	badImage := status.Error(codes.InvalidArgument, "bad image payload")
	f := &fakeAnnotator{errs: []error{badImage, badImage, badImage}}

	_, err := newTestClient(f).AnalyzeDocument(context.Background(), []byte("img"))

	var extractErr *ExtractionError
	require.ErrorAs(t, err, &extractErr)
	assert.Equal(t, 1, f.calls)
}

func TestAnalyzeDocumentSurfacesLastErrorAfterExhaustion(t *testing.T) {
	unavailable := status.Error(codes.Unavailable, "still down")
	f := &fakeAnnotator{errs: []error{unavailable, unavailable, unavailable, unavailable, unavailable, unavailable}}

	_, err := newTestClient(f).AnalyzeDocument(context.Background(), []byte("img"))

	var extractErr *ExtractionError
	require.ErrorAs(t, err, &extractErr)
	assert.Equal(t, codes.Unavailable, status.Code(extractErr.Err))
	assert.Equal(t, 5, f.calls)
}

func TestDetectTextNoConfidenceSignal(t *testing.T) {
	f := &fakeAnnotator{resp: textResponse(
		&visionpb.EntityAnnotation{Description: "TOTAL 42.99\nMEGA IMAGE"},
		&visionpb.EntityAnnotation{Description: "TOTAL", BoundingPoly: &visionpb.BoundingPoly{Vertices: []*visionpb.Vertex{{X: 1, Y: 2}}}},
		&visionpb.EntityAnnotation{Description: "42.99"},
	)}

	res, err := newTestClient(f).DetectText(context.Background(), []byte("img"))
	require.NoError(t, err)

	assert.Equal(t, []visionpb.Feature_Type{visionpb.Feature_TEXT_DETECTION}, f.features)
	assert.Equal(t, "TOTAL 42.99\nMEGA IMAGE", res.FullText)
	require.Len(t, res.Blocks, 2)
	assert.Zero(t, res.Blocks[0].Confidence)
	assert.Equal(t, Vertex{X: 1, Y: 2}, res.Blocks[0].BoundingBox.Vertices[0])
}

func TestDetectTextNoAnnotations(t *testing.T) {
	f := &fakeAnnotator{resp: textResponse()}

	res, err := newTestClient(f).DetectText(context.Background(), []byte("img"))
	require.NoError(t, err)
	assert.Empty(t, res.FullText)
	assert.Zero(t, res.Confidence)
}

func TestIsRetryableClassification(t *testing.T) {
	assert.True(t, IsRetryable(status.Error(codes.Unavailable, "x")))
	assert.True(t, IsRetryable(status.Error(codes.DeadlineExceeded, "x")))
	assert.True(t, IsRetryable(status.Error(codes.Internal, "x")))
	assert.True(t, IsRetryable(status.Error(codes.ResourceExhausted, "x")))

	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(status.Error(codes.InvalidArgument, "x")))
	assert.False(t, IsRetryable(status.Error(codes.PermissionDenied, "quota")))
	assert.False(t, IsRetryable(errors.New("plain error")))
}

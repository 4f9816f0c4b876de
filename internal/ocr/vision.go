package ocr

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strings"

	vision "cloud.google.com/go/vision/v2/apiv1"
	"cloud.google.com/go/vision/v2/apiv1/visionpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/receipt-tracking/ingestion/internal/backoff"
)

// imageAnnotator is the slice of the Vision API client we call.
type imageAnnotator interface {
	BatchAnnotateImages(ctx context.Context, req *visionpb.BatchAnnotateImagesRequest, opts ...gax.CallOption) (*visionpb.BatchAnnotateImagesResponse, error)
}

// VisionClient implements TextExtractor against Google Cloud Vision, with
// bounded exponential backoff around every remote call.
type VisionClient struct {
	annotator imageAnnotator
	retrier   *backoff.Retrier
	logger    *slog.Logger
}

func NewVisionClient(ctx context.Context, policy backoff.Policy, logger *slog.Logger, opts ...option.ClientOption) (*VisionClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ic, err := vision.NewImageAnnotatorClient(ctx, opts...)
	if err != nil {
		return nil, &ExtractionError{Op: "init", Err: err}
	}
	logger.Info("ocr.client.initialized")
	return &VisionClient{
		annotator: ic,
		retrier:   backoff.New(policy),
		logger:    logger,
	}, nil
}

// IsRetryable classifies transient infrastructure errors: service
// unavailable, deadline exceeded, internal server error, resource
// exhaustion, or a connection-level failure. Everything else (malformed
// image, quota denial, ...) surfaces immediately.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Internal, codes.ResourceExhausted:
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// annotate runs one feature against one image with retry. A per-image error
// embedded in the batch response is surfaced as a status error so it goes
// through the same retry classification as transport failures. A nil return
// with no error means the batch came back empty.
func (c *VisionClient) annotate(ctx context.Context, imageBytes []byte, feature visionpb.Feature_Type) (*visionpb.AnnotateImageResponse, error) {
	req := &visionpb.BatchAnnotateImagesRequest{
		Requests: []*visionpb.AnnotateImageRequest{{
			Image:    &visionpb.Image{Content: imageBytes},
			Features: []*visionpb.Feature{{Type: feature}},
		}},
	}

	var annotated *visionpb.AnnotateImageResponse
	err := c.retrier.Retry(ctx, IsRetryable, func(ctx context.Context) error {
		resp, opErr := c.annotator.BatchAnnotateImages(ctx, req)
		if opErr != nil {
			return opErr
		}
		annotated = nil
		if responses := resp.GetResponses(); len(responses) > 0 {
			annotated = responses[0]
		}
		if st := annotated.GetError(); st != nil {
			return status.ErrorProto(st)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return annotated, nil
}

// DetectText runs plain text detection. The first annotation carries the
// whole text; the rest are individual fragments without confidence scores.
func (c *VisionClient) DetectText(ctx context.Context, imageBytes []byte) (ExtractedText, error) {
	annotated, err := c.annotate(ctx, imageBytes, visionpb.Feature_TEXT_DETECTION)
	if err != nil {
		c.logger.Error("ocr.detect_text.failed", "error", err)
		return ExtractedText{}, &ExtractionError{Op: "detect_text", Err: err}
	}

	annotations := annotated.GetTextAnnotations()
	if len(annotations) == 0 {
		c.logger.Warn("ocr.detect_text.no_text")
		return ExtractedText{Confidence: 0}, nil
	}

	out := ExtractedText{FullText: annotations[0].GetDescription()}
	for _, a := range annotations[1:] {
		out.Blocks = append(out.Blocks, TextBlock{
			Text:        a.GetDescription(),
			BoundingBox: toBoundingBox(a.GetBoundingPoly()),
		})
	}
	if len(out.Blocks) > 0 {
		out.Confidence = 1.0
	}
	c.logger.Info("ocr.detect_text.ok", "blocks", len(out.Blocks))
	return out, nil
}

// AnalyzeDocument runs document-structured detection and computes the
// overall confidence as the arithmetic mean of block confidences (0 when no
// blocks were found). Undetectable text is not an error.
func (c *VisionClient) AnalyzeDocument(ctx context.Context, imageBytes []byte) (ExtractedText, error) {
	annotated, err := c.annotate(ctx, imageBytes, visionpb.Feature_DOCUMENT_TEXT_DETECTION)
	if err != nil {
		c.logger.Error("ocr.analyze_document.failed", "error", err)
		return ExtractedText{}, &ExtractionError{Op: "analyze_document", Err: err}
	}

	doc := annotated.GetFullTextAnnotation()
	if doc.GetText() == "" {
		c.logger.Warn("ocr.analyze_document.no_text")
		return ExtractedText{Confidence: 0}, nil
	}

	out := ExtractedText{FullText: doc.GetText()}
	for _, page := range doc.GetPages() {
		if out.LanguageCode == "" {
			if langs := page.GetProperty().GetDetectedLanguages(); len(langs) > 0 {
				out.LanguageCode = langs[0].GetLanguageCode()
			}
		}
		for _, block := range page.GetBlocks() {
			text := blockText(block)
			if text == "" {
				continue
			}
			out.Blocks = append(out.Blocks, TextBlock{
				Text:        text,
				Confidence:  float64(block.GetConfidence()),
				BoundingBox: toBoundingBox(block.GetBoundingBox()),
			})
		}
	}

	if len(out.Blocks) > 0 {
		var sum float64
		for _, b := range out.Blocks {
			sum += b.Confidence
		}
		out.Confidence = sum / float64(len(out.Blocks))
	}

	c.logger.Info("ocr.analyze_document.ok",
		"blocks", len(out.Blocks),
		"language", out.LanguageCode,
		"confidence", out.Confidence,
	)
	return out, nil
}

// blockText reassembles a block from its words and symbols, space-separated.
func blockText(block *visionpb.Block) string {
	var b strings.Builder
	for _, para := range block.GetParagraphs() {
		for _, word := range para.GetWords() {
			if b.Len() > 0 {
				b.WriteByte(' ')
			}
			for _, sym := range word.GetSymbols() {
				b.WriteString(sym.GetText())
			}
		}
	}
	return strings.TrimSpace(b.String())
}

func toBoundingBox(poly *visionpb.BoundingPoly) BoundingBox {
	var box BoundingBox
	for _, v := range poly.GetVertices() {
		box.Vertices = append(box.Vertices, Vertex{X: int(v.GetX()), Y: int(v.GetY())})
	}
	return box
}

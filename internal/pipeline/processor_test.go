package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/receipt-tracking/ingestion/constants"
	"github.com/receipt-tracking/ingestion/internal/event"
	"github.com/receipt-tracking/ingestion/internal/llm"
	"github.com/receipt-tracking/ingestion/internal/ocr"
	"github.com/receipt-tracking/ingestion/internal/repository"
)

type fakeFetcher struct {
	data []byte
	err  error
}

func (f *fakeFetcher) Fetch(context.Context, string, string) ([]byte, string, error) {
	return f.data, "image/jpeg", f.err
}

type fakeExtractor struct {
	text      ocr.ExtractedText
	err       error
	docCalls  int
	textCalls int
}

func (f *fakeExtractor) DetectText(context.Context, []byte) (ocr.ExtractedText, error) {
	f.textCalls++
	return f.text, f.err
}

func (f *fakeExtractor) AnalyzeDocument(context.Context, []byte) (ocr.ExtractedText, error) {
	f.docCalls++
	return f.text, f.err
}

type fakeParser struct {
	parsed llm.ParsedReceipt
	calls  int
}

func (f *fakeParser) ParseReceiptText(context.Context, string) llm.ParsedReceipt {
	f.calls++
	return f.parsed
}

type fakeRepo struct {
	docID string
	err   error
	saved []*repository.Receipt
}

func (f *fakeRepo) Create(_ context.Context, r *repository.Receipt) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.saved = append(f.saved, r)
	return f.docID, nil
}

type fakePublisher struct {
	events  []event.StatusEvent
	failOn  constants.Status
	failErr error
}

func (f *fakePublisher) Publish(_ context.Context, ev event.StatusEvent) error {
	if f.failErr != nil && ev.Status == f.failOn {
		return f.failErr
	}
	f.events = append(f.events, ev)
	return nil
}

func strptr(s string) *string { return &s }

func newTestProcessor(fetcher *fakeFetcher, extr *fakeExtractor, parser *fakeParser, repo *fakeRepo, pub *fakePublisher, opts ...ProcessorOption) *Processor {
	p := NewProcessor(fetcher, extr, parser, repo, pub, slog.New(slog.DiscardHandler), opts...)
	p.now = func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }
	return p
}

func TestProcessHappyPath(t *testing.T) {
	fetcher := &fakeFetcher{data: []byte("img")}
	extr := &fakeExtractor{text: ocr.ExtractedText{FullText: "LIDL\nTOTAL 42.17", Confidence: 0.93}}
	parser := &fakeParser{parsed: llm.ParsedReceipt{
		StoreName:   strptr("Lidl"),
		Date:        strptr("2025-02-28"),
		TotalAmount: "42.17",
		Categories:  []string{"Groceries"},
	}}
	repo := &fakeRepo{docID: "doc-123"}
	pub := &fakePublisher{}
	p := newTestProcessor(fetcher, extr, parser, repo, pub)

	err := p.Process(context.Background(), IngestionEvent{Bucket: "receipts", Name: "user-7/receipt-001.jpg"})
	require.NoError(t, err)

	require.Len(t, pub.events, 5)
	assert.Equal(t, constants.StatusProcessing, pub.events[0].Status)
	assert.Equal(t, "beginning OCR", pub.events[0].Message)
	assert.Equal(t, "OCR processing completed", pub.events[1].Message)
	assert.Equal(t, "Gemini processing started", pub.events[2].Message)
	assert.Equal(t, "Gemini processing completed", pub.events[3].Message)
	assert.Equal(t, constants.StatusSuccess, pub.events[4].Status)
	assert.Equal(t, "receipt processed successfully", pub.events[4].Message)
	assert.Equal(t, "doc-123", pub.events[4].ReceiptID)
	require.NotNil(t, pub.events[0].OwnerID)
	assert.Equal(t, "user-7", *pub.events[0].OwnerID)
	assert.Equal(t, "receipt-001", pub.events[0].ReceiptID)

	require.Len(t, repo.saved, 1)
	saved := repo.saved[0]
	assert.Equal(t, "user-7", saved.OwnerID)
	assert.Equal(t, "receipt-001.jpg", saved.FileName)
	assert.Equal(t, "https://storage.googleapis.com/receipts/user-7/receipt-001.jpg", saved.ImageURL)
	require.NotNil(t, saved.TotalAmount)
	assert.InDelta(t, 42.17, *saved.TotalAmount, 1e-9)
	assert.Equal(t, []string{"Groceries"}, saved.Categories)
	assert.Equal(t, "2025-03-01T12:00:00Z", saved.ProcessedAt)
	assert.Nil(t, saved.ParseError)

	assert.Equal(t, 1, extr.docCalls)
	assert.Equal(t, 0, extr.textCalls)
	assert.Equal(t, 1, parser.calls)
}

func TestProcessEmptyTextSkipsExtraction(t *testing.T) {
	extr := &fakeExtractor{text: ocr.ExtractedText{FullText: "  \n "}}
	parser := &fakeParser{}
	repo := &fakeRepo{docID: "doc-9"}
	pub := &fakePublisher{}
	p := newTestProcessor(&fakeFetcher{data: []byte("img")}, extr, parser, repo, pub)

	err := p.Process(context.Background(), IngestionEvent{Bucket: "receipts", Name: "user-7/blank.png"})
	require.NoError(t, err)

	require.Len(t, pub.events, 3)
	assert.Equal(t, constants.StatusFailed, pub.events[2].Status)
	assert.Equal(t, "no text extracted, processing skipped", pub.events[2].Message)
	assert.Zero(t, parser.calls)
	assert.Empty(t, repo.saved)
}

func TestProcessInvalidFileType(t *testing.T) {
	extr := &fakeExtractor{}
	pub := &fakePublisher{}
	p := newTestProcessor(&fakeFetcher{}, extr, &fakeParser{}, &fakeRepo{}, pub)

	err := p.Process(context.Background(), IngestionEvent{Bucket: "receipts", Name: "user-7/notes.pdf"})
	require.NoError(t, err)

	require.Len(t, pub.events, 1)
	assert.Equal(t, constants.StatusFailed, pub.events[0].Status)
	assert.Equal(t, "invalid file type", pub.events[0].Message)
	assert.Equal(t, "notes", pub.events[0].ReceiptID)
	assert.Zero(t, extr.docCalls)
}

func TestProcessFolderMarkerSilentlySkipped(t *testing.T) {
	pub := &fakePublisher{}
	p := newTestProcessor(&fakeFetcher{}, &fakeExtractor{}, &fakeParser{}, &fakeRepo{}, pub)

	err := p.Process(context.Background(), IngestionEvent{Bucket: "receipts", Name: "user-7/archive/"})
	require.NoError(t, err)
	assert.Empty(t, pub.events)
}

func TestProcessOCRFailurePublishesFailedAndReturnsError(t *testing.T) {
	extr := &fakeExtractor{err: errors.New("vision: deadline exceeded")}
	pub := &fakePublisher{}
	p := newTestProcessor(&fakeFetcher{data: []byte("img")}, extr, &fakeParser{}, &fakeRepo{}, pub)

	err := p.Process(context.Background(), IngestionEvent{Bucket: "receipts", Name: "user-7/r.jpg"})
	require.Error(t, err)

	last := pub.events[len(pub.events)-1]
	assert.Equal(t, constants.StatusFailed, last.Status)
	assert.Contains(t, last.Message, "deadline exceeded")
}

func TestProcessPersistFailure(t *testing.T) {
	extr := &fakeExtractor{text: ocr.ExtractedText{FullText: "TOTAL 1.00"}}
	repo := &fakeRepo{err: errors.New("firestore unavailable")}
	pub := &fakePublisher{}
	p := newTestProcessor(&fakeFetcher{data: []byte("img")}, extr, &fakeParser{parsed: llm.Fallback("x")}, repo, pub)

	err := p.Process(context.Background(), IngestionEvent{Bucket: "receipts", Name: "user-7/r.jpg"})
	require.Error(t, err)

	last := pub.events[len(pub.events)-1]
	assert.Equal(t, constants.StatusFailed, last.Status)
	assert.Contains(t, last.Message, "firestore unavailable")
}

func TestProcessMissingOwner(t *testing.T) {
	extr := &fakeExtractor{text: ocr.ExtractedText{FullText: "TOTAL 3.50"}}
	repo := &fakeRepo{docID: "doc-1"}
	pub := &fakePublisher{}
	parser := &fakeParser{parsed: llm.ParsedReceipt{Categories: []string{"Groceries"}}}
	p := newTestProcessor(&fakeFetcher{data: []byte("img")}, extr, parser, repo, pub)

	err := p.Process(context.Background(), IngestionEvent{Bucket: "receipts", Name: "orphan.jpg"})
	require.NoError(t, err)

	assert.Equal(t, constants.StatusFailed, pub.events[0].Status)
	assert.Nil(t, pub.events[0].OwnerID)
	// Continues to a successful result despite the missing owner.
	last := pub.events[len(pub.events)-1]
	assert.Equal(t, constants.StatusSuccess, last.Status)
	require.Len(t, repo.saved, 1)
	assert.Equal(t, "", repo.saved[0].OwnerID)
}

func TestProcessParseErrorStoredNotFatal(t *testing.T) {
	extr := &fakeExtractor{text: ocr.ExtractedText{FullText: "unreadable smudge"}}
	repo := &fakeRepo{docID: "doc-5"}
	pub := &fakePublisher{}
	p := newTestProcessor(&fakeFetcher{data: []byte("img")}, extr, &fakeParser{parsed: llm.Fallback("model unavailable")}, repo, pub)

	err := p.Process(context.Background(), IngestionEvent{Bucket: "receipts", Name: "user-7/r.jpg"})
	require.NoError(t, err)

	require.Len(t, repo.saved, 1)
	require.NotNil(t, repo.saved[0].ParseError)
	assert.Contains(t, *repo.saved[0].ParseError, "model unavailable")
	assert.Equal(t, []string{"Miscellaneous"}, repo.saved[0].Categories)
	assert.Equal(t, constants.StatusSuccess, pub.events[len(pub.events)-1].Status)
}

func TestProcessProcessingPublishFailurePropagates(t *testing.T) {
	extr := &fakeExtractor{text: ocr.ExtractedText{FullText: "TOTAL 5"}}
	repo := &fakeRepo{docID: "doc-3"}
	pub := &fakePublisher{failOn: constants.StatusProcessing, failErr: errors.New("redis down")}
	p := newTestProcessor(&fakeFetcher{data: []byte("img")}, extr, &fakeParser{parsed: llm.ParsedReceipt{Categories: []string{"Groceries"}}}, repo, pub)

	err := p.Process(context.Background(), IngestionEvent{Bucket: "receipts", Name: "user-7/r.jpg"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis down")

	// Nothing is persisted and the terminal failed event is still attempted.
	assert.Empty(t, repo.saved)
	require.NotEmpty(t, pub.events)
	last := pub.events[len(pub.events)-1]
	assert.Equal(t, constants.StatusFailed, last.Status)
	assert.Contains(t, last.Message, "redis down")
}

func TestProcessSuccessPublishFailurePropagates(t *testing.T) {
	extr := &fakeExtractor{text: ocr.ExtractedText{FullText: "TOTAL 5"}}
	pub := &fakePublisher{failOn: constants.StatusSuccess, failErr: errors.New("redis down")}
	p := newTestProcessor(&fakeFetcher{data: []byte("img")}, extr, &fakeParser{parsed: llm.ParsedReceipt{Categories: []string{"Groceries"}}}, &fakeRepo{docID: "doc-2"}, pub)

	err := p.Process(context.Background(), IngestionEvent{Bucket: "receipts", Name: "user-7/r.jpg"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis down")
}

func TestProcessPlainTextMode(t *testing.T) {
	extr := &fakeExtractor{text: ocr.ExtractedText{FullText: "TOTAL 5"}}
	pub := &fakePublisher{}
	p := newTestProcessor(&fakeFetcher{data: []byte("img")}, extr, &fakeParser{parsed: llm.ParsedReceipt{Categories: []string{"Groceries"}}}, &fakeRepo{docID: "d"}, pub, WithPlainTextDetection())

	require.NoError(t, p.Process(context.Background(), IngestionEvent{Bucket: "b", Name: "u/r.jpg"}))
	assert.Equal(t, 1, extr.textCalls)
	assert.Equal(t, 0, extr.docCalls)
}

func TestCoerceAmount(t *testing.T) {
	cases := []struct {
		name string
		in   any
		want *float64
	}{
		{"nil", nil, nil},
		{"float", 12.5, func() *float64 { f := 12.5; return &f }()},
		{"string", "19.99", func() *float64 { f := 19.99; return &f }()},
		{"dollar prefix", "$7.25", func() *float64 { f := 7.25; return &f }()},
		{"garbage string", "approx twenty", nil},
		{"bool", true, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := coerceAmount(tc.in)
			if tc.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.InDelta(t, *tc.want, *got, 1e-9)
		})
	}
}

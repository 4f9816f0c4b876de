package pipeline

import (
	"context"
	"log/slog"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/receipt-tracking/ingestion/constants"
	"github.com/receipt-tracking/ingestion/internal/common"
	"github.com/receipt-tracking/ingestion/internal/event"
	"github.com/receipt-tracking/ingestion/internal/llm"
	"github.com/receipt-tracking/ingestion/internal/ocr"
	"github.com/receipt-tracking/ingestion/internal/repository"
	"github.com/receipt-tracking/ingestion/internal/storage"
)

// IngestionEvent identifies a newly uploaded object to process.
type IngestionEvent struct {
	Bucket string `json:"bucket"`
	Name   string `json:"name"`
}

// Processor runs the full ingestion flow for one uploaded object:
// download, OCR, structured extraction, persistence, and status events.
type Processor struct {
	fetcher   storage.ObjectFetcher
	extractor ocr.TextExtractor
	parser    llm.FieldExtractor
	repo      repository.ReceiptRepository
	publisher event.Publisher
	logger    *slog.Logger

	// plainText switches OCR to sparse text detection instead of full
	// document analysis.
	plainText bool

	now func() time.Time
}

type ProcessorOption func(*Processor)

// WithPlainTextDetection uses sparse text detection, which is faster on
// photos with little structure.
func WithPlainTextDetection() ProcessorOption {
	return func(p *Processor) { p.plainText = true }
}

func NewProcessor(
	fetcher storage.ObjectFetcher,
	extractor ocr.TextExtractor,
	parser llm.FieldExtractor,
	repo repository.ReceiptRepository,
	publisher event.Publisher,
	logger *slog.Logger,
	opts ...ProcessorOption,
) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Processor{
		fetcher:   fetcher,
		extractor: extractor,
		parser:    parser,
		repo:      repo,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process handles a single uploaded object. Rejections the uploader caused
// (wrong file type, folder markers) are reported through status events and
// return nil; infrastructure failures return an error after a best-effort
// failed event so the caller can retry.
func (p *Processor) Process(ctx context.Context, ev IngestionEvent) error {
	if strings.HasSuffix(ev.Name, "/") {
		p.logger.Info("pipeline.skip.folder", "name", ev.Name)
		return nil
	}

	receiptID := baseName(ev.Name)
	ownerID := ownerFromPath(ev.Name)
	log := p.logger.With("bucket", ev.Bucket, "name", ev.Name, "receipt_id", receiptID)
	if rid := common.RequestIDFromContext(ctx); rid != "" {
		log = log.With("request_id", rid)
	}

	if !constants.IsImageExt(path.Ext(ev.Name)) {
		log.Warn("pipeline.skip.invalid_type", "ext", path.Ext(ev.Name))
		if perr := p.publisher.Publish(ctx, event.New(constants.StatusFailed, receiptID, ownerID, "invalid file type")); perr != nil {
			log.Error("pipeline.event.publish_failed", "error", perr)
			return perr
		}
		return nil
	}

	if ownerID == nil {
		log.Warn("pipeline.owner.missing")
		if perr := p.publisher.Publish(ctx, event.New(constants.StatusFailed, receiptID, nil, "could not determine owner from object path")); perr != nil {
			log.Error("pipeline.event.publish_failed", "error", perr)
			return perr
		}
	}

	docID, err := p.run(ctx, log, ev, receiptID, ownerID)
	if err != nil {
		log.Error("pipeline.process.failed", "error", err)
		p.reportFailure(ctx, log, event.New(constants.StatusFailed, receiptID, ownerID, err.Error()))
		return err
	}
	if docID == "" {
		// Terminal but not an infrastructure failure (e.g. blank image).
		return nil
	}

	if perr := p.publisher.Publish(ctx, event.New(constants.StatusSuccess, docID, ownerID, "receipt processed successfully")); perr != nil {
		log.Error("pipeline.event.publish_failed", "error", perr)
		return perr
	}
	log.Info("pipeline.process.ok", "doc_id", docID)
	return nil
}

// run performs the fallible middle of the flow. It returns the persisted
// document ID, or "" when processing ended early without an error.
func (p *Processor) run(ctx context.Context, log *slog.Logger, ev IngestionEvent, receiptID string, ownerID *string) (string, error) {
	if err := p.publisher.Publish(ctx, event.New(constants.StatusProcessing, receiptID, ownerID, "beginning OCR")); err != nil {
		return "", err
	}

	data, _, err := p.fetcher.Fetch(ctx, ev.Bucket, ev.Name)
	if err != nil {
		return "", err
	}

	text, err := p.extractText(ctx, data)
	if err != nil {
		return "", err
	}
	if err := p.publisher.Publish(ctx, event.New(constants.StatusProcessing, receiptID, ownerID, "OCR processing completed")); err != nil {
		return "", err
	}

	if strings.TrimSpace(text.FullText) == "" {
		log.Warn("pipeline.ocr.empty")
		if err := p.publisher.Publish(ctx, event.New(constants.StatusFailed, receiptID, ownerID, "no text extracted, processing skipped")); err != nil {
			return "", err
		}
		return "", nil
	}

	if err := p.publisher.Publish(ctx, event.New(constants.StatusProcessing, receiptID, ownerID, "Gemini processing started")); err != nil {
		return "", err
	}
	parsed := p.parser.ParseReceiptText(ctx, text.FullText)
	if err := p.publisher.Publish(ctx, event.New(constants.StatusProcessing, receiptID, ownerID, "Gemini processing completed")); err != nil {
		return "", err
	}

	receipt := p.buildReceipt(ev, ownerID, parsed)
	docID, err := p.repo.Create(ctx, receipt)
	if err != nil {
		return "", err
	}
	return docID, nil
}

func (p *Processor) extractText(ctx context.Context, data []byte) (ocr.ExtractedText, error) {
	if p.plainText {
		return p.extractor.DetectText(ctx, data)
	}
	return p.extractor.AnalyzeDocument(ctx, data)
}

func (p *Processor) buildReceipt(ev IngestionEvent, ownerID *string, parsed llm.ParsedReceipt) *repository.Receipt {
	owner := ""
	if ownerID != nil {
		owner = *ownerID
	}
	categories := parsed.Categories
	if len(categories) == 0 {
		categories = []string{string(constants.Miscellaneous)}
	}
	r := &repository.Receipt{
		OwnerID:      owner,
		FileName:     path.Base(ev.Name),
		ImageURL:     storage.ObjectURL(ev.Bucket, ev.Name),
		StoreName:    parsed.StoreName,
		StoreAddress: parsed.StoreAddress,
		Date:         parsed.Date,
		Time:         parsed.Time,
		TotalAmount:  coerceAmount(parsed.TotalAmount),
		Categories:   categories,
		ProcessedAt:  p.now().UTC().Format(time.RFC3339),
	}
	if parsed.Err != "" {
		msg := parsed.Err
		r.ParseError = &msg
	}
	return r
}

// reportFailure best-effort publishes the terminal failed event on the error
// path; the original error is already on its way to the caller, so a second
// failure here is only logged.
func (p *Processor) reportFailure(ctx context.Context, log *slog.Logger, ev event.StatusEvent) {
	if err := p.publisher.Publish(ctx, ev); err != nil {
		log.Warn("pipeline.event.publish_failed", "status", ev.Status, "error", err)
	}
}

// coerceAmount converts whatever the model returned for the total into a
// number, or nil when it cannot be read as one.
func coerceAmount(v any) *float64 {
	switch t := v.(type) {
	case nil:
		return nil
	case float64:
		return &t
	case int:
		f := float64(t)
		return &f
	case string:
		s := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(t), "$"))
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil
		}
		return &f
	default:
		return nil
	}
}

func baseName(objectPath string) string {
	base := path.Base(objectPath)
	return strings.TrimSuffix(base, path.Ext(base))
}

func ownerFromPath(objectPath string) *string {
	i := strings.Index(objectPath, "/")
	if i <= 0 {
		return nil
	}
	owner := objectPath[:i]
	return &owner
}

package ocr

import (
	"context"
	"fmt"
)

// Vertex is one corner of a text block's bounding polygon.
type Vertex struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// BoundingBox is the four-vertex polygon around a detected text fragment.
type BoundingBox struct {
	Vertices []Vertex `json:"vertices"`
}

// TextBlock is one detected fragment of text.
type TextBlock struct {
	Text        string      `json:"text"`
	Confidence  float64     `json:"confidence"`
	BoundingBox BoundingBox `json:"bounding_box"`
}

// ExtractedText is the language-agnostic result of one OCR call.
// Immutable after creation.
type ExtractedText struct {
	FullText     string      `json:"full_text"`
	Blocks       []TextBlock `json:"blocks"`
	LanguageCode string      `json:"language,omitempty"`
	Confidence   float64     `json:"confidence"`
}

// TextExtractor is the pipeline's view of the OCR service.
//
// DetectText is plain text detection: raw text plus per-fragment bounding
// boxes, no usable confidence signal. AnalyzeDocument is document-structured
// detection: per-block confidence, a detected language code, and overall
// confidence as the mean of block confidences. The pipeline uses
// AnalyzeDocument.
type TextExtractor interface {
	DetectText(ctx context.Context, imageBytes []byte) (ExtractedText, error)
	AnalyzeDocument(ctx context.Context, imageBytes []byte) (ExtractedText, error)
}

// ExtractionError wraps the last error observed from the OCR service once
// retries are exhausted or a non-retryable error surfaces.
type ExtractionError struct {
	Op  string
	Err error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("ocr %s: %v", e.Op, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

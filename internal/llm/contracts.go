package llm

import "context"

// ParsedReceipt is the normalized shape we want from the model. Scalar
// fields are null when the model could not extract them. TotalAmount is kept
// as the raw JSON value; the orchestrator owns numeric coercion. Categories
// is never empty and only ever contains members of the fixed taxonomy.
type ParsedReceipt struct {
	StoreName    *string  `json:"store_name"`
	StoreAddress *string  `json:"store_address"`
	Date         *string  `json:"date"`
	Time         *string  `json:"time"`
	TotalAmount  any      `json:"total_amount"`
	Categories   []string `json:"categories"`

	// Err annotates a fallback result with the reason, for diagnostics only.
	Err string `json:"error,omitempty"`
}

// FieldExtractor is the interface the pipeline depends on. Implementations
// never fail: any internal error resolves to Fallback.
type FieldExtractor interface {
	ParseReceiptText(ctx context.Context, rawText string) ParsedReceipt
}

// Fallback is the deterministic result used when the model call or response
// handling fails: all scalars null, categories pinned to the sentinel.
func Fallback(errMsg string) ParsedReceipt {
	return ParsedReceipt{
		Categories: []string{"Miscellaneous"},
		Err:        errMsg,
	}
}

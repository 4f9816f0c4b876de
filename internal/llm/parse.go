package llm

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/receipt-tracking/ingestion/constants"
)

// expected scalar fields of the model response, in schema order.
var scalarFields = []string{"store_name", "store_address", "date", "time", "total_amount"}

// DecodeResponse extracts the first {...} JSON object from free-form model
// output and normalizes it into a ParsedReceipt. It is a pure best-effort
// step: surrounding prose is tolerated, and every failure mode resolves to
// Fallback rather than an error.
func DecodeResponse(raw string, logger *slog.Logger) ParsedReceipt {
	if logger == nil {
		logger = slog.Default()
	}

	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start == -1 || end == -1 || end < start {
		logger.Warn("llm.decode.no_json_object", "response_len", len(raw))
		return Fallback("")
	}

	var doc map[string]any
	if err := json.Unmarshal([]byte(raw[start:end+1]), &doc); err != nil {
		logger.Warn("llm.decode.invalid_json", "error", err)
		return Fallback("")
	}

	// Advisory shape check only: normalization below owns the outcome.
	if err := ValidateAgainstResponseSchema(doc); err != nil {
		logger.Warn("llm.decode.schema_mismatch", "error", err)
	}

	// Missing scalars become null.
	for _, f := range scalarFields {
		if _, ok := doc[f]; !ok {
			doc[f] = nil
		}
	}

	out := ParsedReceipt{
		StoreName:    stringOrNil(doc["store_name"]),
		StoreAddress: stringOrNil(doc["store_address"]),
		Date:         stringOrNil(doc["date"]),
		Time:         stringOrNil(doc["time"]),
		TotalAmount:  doc["total_amount"],
		Categories:   NormalizeCategories(doc["categories"]),
	}

	logger.Info("llm.decode.ok",
		"has_store_name", out.StoreName != nil,
		"has_total", out.TotalAmount != nil,
		"categories", out.Categories,
	)
	return out
}

// NormalizeCategories applies the fixed repair rules to whatever the model
// put in the categories field:
//
//  1. missing or JSON null -> the Miscellaneous sentinel
//  2. a string equal to "null" or empty -> the sentinel; any other string is
//     split on commas and trimmed
//  3. any other non-list value -> the sentinel
//  4. the resulting list is filtered to taxonomy members; an empty filtered
//     list -> the sentinel
//
// The function is idempotent: applying it to an already-normalized list
// yields the same list.
func NormalizeCategories(v any) []string {
	var candidates []string

	switch t := v.(type) {
	case []any:
		for _, item := range t {
			if s, ok := item.(string); ok {
				candidates = append(candidates, s)
			}
		}
	case []string:
		candidates = t
	case string:
		s := strings.TrimSpace(t)
		if s == "" || s == "null" {
			return []string{string(constants.Miscellaneous)}
		}
		for _, part := range strings.Split(s, ",") {
			candidates = append(candidates, strings.TrimSpace(part))
		}
	default:
		return []string{string(constants.Miscellaneous)}
	}

	filtered := candidates[:0]
	for _, c := range candidates {
		if constants.IsValidCategory(c) {
			filtered = append(filtered, c)
		}
	}
	if len(filtered) == 0 {
		return []string{string(constants.Miscellaneous)}
	}
	return filtered
}

// stringOrNil keeps strings, renders JSON numbers, and drops anything the
// schema never promised (objects, arrays, booleans).
func stringOrNil(v any) *string {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		return &t
	case float64:
		s := strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.2f", t), "0"), ".")
		return &s
	default:
		return nil
	}
}

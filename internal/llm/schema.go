package llm

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// buildResponseSchema describes the shape we ask the model for. It is
// deliberately lenient (scalars nullable, total_amount number-or-string,
// categories of any repairable shape): it exists for diagnostics, while
// NormalizeCategories and friends decide the actual outcome.
func buildResponseSchema() map[string]any {
	nullableString := map[string]any{"type": []string{"string", "null"}}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"store_name":    nullableString,
			"store_address": nullableString,
			"date":          nullableString,
			"time":          nullableString,
			"total_amount":  map[string]any{"type": []string{"number", "string", "null"}},
			"categories":    map[string]any{"type": []string{"array", "string", "null"}},
		},
	}
}

var responseSchema = func() *jsonschema.Schema {
	s, err := compileSchema(buildResponseSchema())
	if err != nil {
		panic(fmt.Sprintf("llm: response schema does not compile: %v", err))
	}
	return s
}()

// ValidateAgainstResponseSchema reports whether a decoded model response
// matches the advertised shape. Callers treat a mismatch as a diagnostic,
// never as a failure.
func ValidateAgainstResponseSchema(doc map[string]any) error {
	if err := responseSchema.Validate(doc); err != nil {
		return fmt.Errorf("response does not match schema: %w", err)
	}
	return nil
}

func compileSchema(schemaMap map[string]any) (*jsonschema.Schema, error) {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	return compiler.Compile("schema.json")
}

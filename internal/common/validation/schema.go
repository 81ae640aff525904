// internal/common/validation/schema.go
package validation

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Model outputs are untrusted input. Every structured LLM response is checked
// against a schema before it is promoted into a typed record.

// ValidateJSON validates raw JSON bytes against a schema expressed as a Go map.
func ValidateJSON(raw []byte, schema map[string]interface{}) error {
	schemaLoader := gojsonschema.NewGoLoader(schema)
	documentLoader := gojsonschema.NewBytesLoader(raw)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("validation error: %w", err)
	}

	if !result.Valid() {
		errs := make([]string, len(result.Errors()))
		for i, e := range result.Errors() {
			errs[i] = e.String()
		}
		return fmt.Errorf("schema violation: %s", strings.Join(errs, "; "))
	}

	return nil
}

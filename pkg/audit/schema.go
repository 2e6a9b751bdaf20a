package audit

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// manifestSchema is the JSON Schema for the persisted manifest document.
// Validation happens on Load so a hand-edited or truncated manifest is
// rejected before any integrity decision is made from it.
const manifestSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["version", "algorithm", "created_at", "run_id", "file_count", "merkle_root", "total_bytes", "files"],
  "properties": {
    "version": {"type": "string"},
    "algorithm": {"const": "sha256"},
    "created_at": {"type": "string"},
    "run_id": {"type": "string"},
    "file_count": {"type": "integer", "minimum": 0},
    "merkle_root": {"type": "string", "pattern": "^[0-9a-f]{64}$"},
    "total_bytes": {"type": "integer", "minimum": 0},
    "files": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["path", "size", "sha256"],
        "properties": {
          "path": {"type": "string", "minLength": 1},
          "size": {"type": "integer", "minimum": 0},
          "sha256": {"type": "string", "pattern": "^[0-9a-f]{64}$"}
        }
      }
    }
  }
}`

var compiledSchema = jsonschema.MustCompileString("manifest.schema.json", manifestSchema)

// ValidateDocument checks raw manifest JSON against the format schema.
func ValidateDocument(data []byte) error {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("audit: manifest is not valid JSON: %w", err)
	}
	if err := compiledSchema.Validate(doc); err != nil {
		return fmt.Errorf("audit: manifest schema violation: %w", err)
	}
	return nil
}

package tools

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// GenerateSchema derives a JSON Schema object for tool parameters from T.
// Fields without omitempty are required.
func GenerateSchema[T any]() map[string]any {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	schema := reflector.Reflect(v)

	raw, err := json.Marshal(schema)
	if err != nil {
		panic(err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		panic(err)
	}
	delete(out, "$schema")
	delete(out, "$id")
	if _, ok := out["properties"]; !ok {
		out["properties"] = map[string]any{}
	}
	return out
}

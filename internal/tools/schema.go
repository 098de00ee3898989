// Package tools contains the built-in user-interaction tools. Each tool
// registers both schema forms: a function-form JSON schema derived from its
// params struct, and a markup schema mapping tag attributes and body to the
// same parameters.
package tools

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"
)

// functionSchema derives a function-form parameter schema from a Go struct
// using jsonschema struct tags. Only fields tagged jsonschema:"required" are
// required.
func functionSchema[T any]() (json.RawMessage, error) {
	reflector := &jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		AllowAdditionalProperties:  true,
		ExpandedStruct:             true,
		DoNotReference:             true,
	}
	schema := reflector.Reflect(new(T))

	data, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	// Not needed for tool declarations.
	delete(m, "$schema")
	delete(m, "$id")

	return json.Marshal(m)
}

func mustSchema[T any]() json.RawMessage {
	raw, err := functionSchema[T]()
	if err != nil {
		panic(fmt.Sprintf("tools: derive schema: %v", err))
	}
	return raw
}

// splitAttachments parses the comma-separated attachments value shared by the
// interaction tools.
func splitAttachments(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// attachmentsBlock renders the list the way results display it.
func attachmentsBlock(raw string) string {
	list := splitAttachments(raw)
	if len(list) == 0 {
		return ""
	}
	return "\n\nAttachments:\n- " + strings.Join(list, "\n- ")
}

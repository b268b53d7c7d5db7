package formatter

import (
	"encoding/json"
	"io"
)

// WriteJSON writes v as indented JSON. HTML escaping is disabled so shell
// commands and messages survive round trips unmangled.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteJSONLines writes each value as a single compact JSON line, the form
// consumed by log shippers and jq pipelines.
func WriteJSONLines[T any](w io.Writer, values []T) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for _, v := range values {
		if err := enc.Encode(v); err != nil {
			return err
		}
	}
	return nil
}

package loader

import (
	"bytes"
	"encoding/json"
)

// JSONCodec stores the document as indented JSON. It is the default format
// and the one the desktop client has always written.
type JSONCodec struct{}

// Name returns "json".
func (JSONCodec) Name() string { return "json" }

// Decode parses JSON data into a document map.
func (JSONCodec) Decode(data []byte) (map[string]any, error) {
	var doc map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// Encode renders doc as JSON with two-space indentation and a trailing newline.
func (JSONCodec) Encode(doc map[string]any) ([]byte, error) {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

package loader

import (
	"gopkg.in/yaml.v3"
)

// YAMLCodec stores the document as YAML.
type YAMLCodec struct{}

// Name returns "yaml".
func (YAMLCodec) Name() string { return "yaml" }

// Decode parses YAML data into a document map.
func (YAMLCodec) Decode(data []byte) (map[string]any, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return CanonicalMap(doc)
}

// Encode renders doc as YAML.
func (YAMLCodec) Encode(doc map[string]any) ([]byte, error) {
	return yaml.Marshal(doc)
}

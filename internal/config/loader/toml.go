package loader

import (
	"github.com/pelletier/go-toml/v2"
)

// TOMLCodec stores the document as TOML.
//
// TOML has no null, so nil values are dropped on encode.
type TOMLCodec struct{}

// Name returns "toml".
func (TOMLCodec) Name() string { return "toml" }

// Decode parses TOML data into a document map.
func (TOMLCodec) Decode(data []byte) (map[string]any, error) {
	var doc map[string]any
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return CanonicalMap(doc)
}

// Encode renders doc as TOML.
func (TOMLCodec) Encode(doc map[string]any) ([]byte, error) {
	return toml.Marshal(dropNil(doc))
}

func dropNil(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch val := v.(type) {
		case nil:
			continue
		case map[string]any:
			out[k] = dropNil(val)
		case []any:
			items := make([]any, 0, len(val))
			for _, item := range val {
				if item == nil {
					continue
				}
				if im, ok := item.(map[string]any); ok {
					items = append(items, dropNil(im))
					continue
				}
				items = append(items, item)
			}
			out[k] = items
		default:
			out[k] = v
		}
	}
	return out
}

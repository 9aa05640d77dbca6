package poster

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// DeepMerge copies src into dst. Nested objects are merged key by key; any
// other value, arrays included, replaces what dst holds.
func DeepMerge(dst, src map[string]any) {
	for k, sv := range src {
		sm, sok := sv.(map[string]any)
		dm, dok := dst[k].(map[string]any)
		if sok && dok {
			DeepMerge(dm, sm)
			continue
		}
		dst[k] = deepCopy(sv)
	}
}

// ExtractPaths returns a document holding only the dotted paths of record
// that exist. Missing paths are skipped.
func ExtractPaths(record map[string]any, paths []string) (map[string]any, error) {
	raw, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("failed to encode record: %w", err)
	}

	doc := []byte("{}")
	for _, path := range paths {
		res := gjson.GetBytes(raw, path)
		if !res.Exists() {
			continue
		}
		doc, err = sjson.SetRawBytes(doc, path, []byte(res.Raw))
		if err != nil {
			return nil, fmt.Errorf("failed to set path %q: %w", path, err)
		}
	}
	return decodeObject(doc)
}

func decodeObject(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}
	return out, nil
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return copyMap(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = deepCopy(item)
		}
		return out
	default:
		return v
	}
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopy(v)
	}
	return out
}

package classfeed

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
)

// Fingerprint serializes v into a stable key: object fields come out sorted by
// name, and null fields are dropped so that an absent field and an explicitly
// empty one produce the same key.
func Fingerprint(v any) (string, error) {
	byts, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("error marshaling fingerprint input: %w", err)
	}

	// Numbers stay as their literal text so large ints don't lose precision.
	dec := json.NewDecoder(bytes.NewReader(byts))
	dec.UseNumber()

	var generic any
	if err := dec.Decode(&generic); err != nil {
		return "", fmt.Errorf("error decoding fingerprint input: %w", err)
	}

	// encoding/json writes map keys in sorted order.
	out, err := json.Marshal(canonical(generic))
	if err != nil {
		return "", fmt.Errorf("error marshaling fingerprint: %w", err)
	}

	return string(out), nil
}

func canonical(v any) any {
	switch v := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			if val == nil {
				continue
			}
			out[k] = canonical(val)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, val := range v {
			out[i] = canonical(val)
		}
		return out
	default:
		return v
	}
}

// Fingerprint is the cache key for the query. Post types and tags are sets,
// so their order doesn't matter.
func (q FeedQuery) Fingerprint() (string, error) {
	q = q.Clone()
	slices.Sort(q.PostTypes)
	slices.Sort(q.Tags)

	return Fingerprint(q)
}

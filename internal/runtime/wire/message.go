// Package wire defines the canonical {header, body} message exchanged with a
// transport binding and its JSON encoding.
package wire

// Reserved header keys.
const (
	HeaderResource      = "resource"
	HeaderCorrelationID = "correlationId"
	HeaderParameters    = "parameters"
)

// Message is the on-wire request and response shape.
type Message struct {
	Header map[string]any `json:"header"`
	Body   map[string]any `json:"body"`
}

// CorrelationID returns the correlation identifier carried in the header. The
// second result is false when the key is missing or not a string.
func (m Message) CorrelationID() (string, bool) {
	if m.Header == nil {
		return "", false
	}
	id, ok := m.Header[HeaderCorrelationID].(string)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// Resource returns the "<method>.<path>" header value, or "" when absent.
func (m Message) Resource() string {
	if m.Header == nil {
		return ""
	}
	res, _ := m.Header[HeaderResource].(string)
	return res
}

// Clone copies the top-level header and body maps. Nested values are shared.
func (m Message) Clone() Message {
	return Message{
		Header: Merge(m.Header),
		Body:   Merge(m.Body),
	}
}

// WithHeader returns a copy of m with key set in the header.
func (m Message) WithHeader(key string, value any) Message {
	cloned := m.Clone()
	cloned.Header[key] = value
	return cloned
}

// Merge folds the sources left to right into a new map. On key collisions the
// later source wins. Nil sources are skipped and the result is never nil.
func Merge(sources ...map[string]any) map[string]any {
	size := 0
	for _, src := range sources {
		size += len(src)
	}

	merged := make(map[string]any, size)
	for _, src := range sources {
		for k, v := range src {
			merged[k] = v
		}
	}
	return merged
}

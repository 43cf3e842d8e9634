package wire

import (
	"fmt"

	"github.com/bytedance/sonic"
)

var codec = sonic.ConfigStd

// Encode serializes m to UTF-8 JSON. Nil header or body maps are written as
// empty objects so the two top-level keys are always objects.
func Encode(m Message) ([]byte, error) {
	if m.Header == nil {
		m.Header = map[string]any{}
	}
	if m.Body == nil {
		m.Body = map[string]any{}
	}
	return codec.Marshal(m)
}

// Decode parses a JSON payload into a Message.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := codec.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("decode wire message: %w", err)
	}
	return m, nil
}

// Marshal exposes the codec for callers that need to encode arbitrary values
// with the same settings as the wire format.
func Marshal(v any) ([]byte, error) {
	return codec.Marshal(v)
}

// Unmarshal is the decoding counterpart of Marshal.
func Unmarshal(data []byte, v any) error {
	return codec.Unmarshal(data, v)
}

package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeKeepsNullTerminalKey(t *testing.T) {
	data, err := Encode(Message{
		Header: map[string]any{HeaderResource: "delete.wow", HeaderCorrelationID: "id-1"},
		Body:   map[string]any{"wow": nil},
	})
	require.NoError(t, err)

	assert.JSONEq(t, `{"header":{"resource":"delete.wow","correlationId":"id-1"},"body":{"wow":null}}`, string(data))
}

func TestEncodeNilMapsAsObjects(t *testing.T) {
	data, err := Encode(Message{})
	require.NoError(t, err)

	assert.JSONEq(t, `{"header":{},"body":{}}`, string(data))
}

func TestDecodeRoundTrip(t *testing.T) {
	msg, err := Decode([]byte(`{"header":{"resource":"get.users","correlationId":"c"},"body":{"users":{"name":"ada"}}}`))
	require.NoError(t, err)

	id, ok := msg.CorrelationID()
	require.True(t, ok)
	assert.Equal(t, "c", id)
	assert.Equal(t, "get.users", msg.Resource())
	assert.Equal(t, map[string]any{"name": "ada"}, msg.Body["users"])
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode([]byte("not json"))
	assert.Error(t, err)
}

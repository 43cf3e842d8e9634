package transport

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

type recordingBinding struct {
	url     string
	inbound InboundHandler
	written [][]byte
	closed  bool
}

func (b *recordingBinding) Open(url string, inbound InboundHandler) error {
	b.url = url
	b.inbound = inbound
	return nil
}

func (b *recordingBinding) Write(payload []byte) error {
	b.written = append(b.written, payload)
	return nil
}

func (b *recordingBinding) Close() error {
	b.closed = true
	return nil
}

func TestBindingContract(t *testing.T) {
	var b Binding = &recordingBinding{}
	var got []string

	assert.NoError(t, b.Open("ws://localhost", func(p []byte) { got = append(got, string(p)) }))
	assert.NoError(t, b.Write([]byte("out")))

	rb := b.(*recordingBinding)
	rb.inbound([]byte("in"))

	assert.Equal(t, "ws://localhost", rb.url)
	assert.Equal(t, [][]byte{[]byte("out")}, rb.written)
	assert.Equal(t, []string{"in"}, got)
	assert.NoError(t, b.Close())
	assert.True(t, rb.closed)
}

func TestConsumerName(t *testing.T) {
	assert.Equal(t, "relay-"+strings.ToLower(InstanceID), ConsumerName(""))
	assert.Equal(t, "web-"+strings.ToLower(InstanceID), ConsumerName("web"))
	assert.Equal(t, ConsumerName("x"), ConsumerName("x"))
}

package runtime

import (
	"errors"
	"strconv"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/drblury/relay/internal/runtime/config"
	idspkg "github.com/drblury/relay/internal/runtime/ids"
	loggingpkg "github.com/drblury/relay/internal/runtime/logging"
	"github.com/drblury/relay/internal/runtime/wire"
	"github.com/drblury/relay/transport"
)

// fakeBinding records writes and lets tests push inbound payloads.
type fakeBinding struct {
	mu       sync.Mutex
	url      string
	inbound  transport.InboundHandler
	writes   [][]byte
	closed   int
	openErr  error
	writeErr error
}

func (f *fakeBinding) Open(url string, inbound transport.InboundHandler) error {
	if f.openErr != nil {
		return f.openErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.url = url
	f.inbound = inbound
	return nil
}

func (f *fakeBinding) Write(payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.writes = append(f.writes, payload)
	return nil
}

func (f *fakeBinding) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeBinding) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}

func (f *fakeBinding) lastWrite(t *testing.T) wire.Message {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.writes, "nothing written")
	msg, err := wire.Decode(f.writes[len(f.writes)-1])
	require.NoError(t, err)
	return msg
}

func (f *fakeBinding) push(payload []byte) {
	f.mu.Lock()
	inbound := f.inbound
	f.mu.Unlock()
	inbound(payload)
}

func (f *fakeBinding) reply(t *testing.T, correlationID string, body map[string]any) {
	t.Helper()
	payload, err := wire.Encode(wire.Message{
		Header: map[string]any{wire.HeaderCorrelationID: correlationID},
		Body:   body,
	})
	require.NoError(t, err)
	f.push(payload)
}

// sequenceIDs returns predictable correlation IDs: id-1, id-2, ...
func sequenceIDs() idspkg.Generator {
	var mu sync.Mutex
	n := 0
	return idspkg.GeneratorFunc(func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return "id-" + strconv.Itoa(n)
	})
}

func newTestDispatcher(t *testing.T, conf *config.Config, deps DispatcherDependencies) *Dispatcher {
	t.Helper()
	if conf == nil {
		conf = &config.Config{}
	}
	if deps.Registerer == nil {
		deps.Registerer = prometheus.NewRegistry()
	}
	d, err := NewDispatcher(conf, loggingpkg.NopLogger(), deps)
	require.NoError(t, err)
	t.Cleanup(d.Reset)
	return d
}

func newBoundDispatcher(t *testing.T, conf *config.Config, deps DispatcherDependencies) (*Dispatcher, *fakeBinding) {
	t.Helper()
	d := newTestDispatcher(t, conf, deps)
	b := &fakeBinding{}
	require.NoError(t, d.Bind(b, "ws://api.test"))
	return d, b
}

// recordingLogger captures debug and error entries.
type recordingLogger struct {
	mu     sync.Mutex
	debugs []string
	errors []error
}

func (r *recordingLogger) With(loggingpkg.LogFields) loggingpkg.ServiceLogger { return r }
func (r *recordingLogger) Info(string, loggingpkg.LogFields)                  {}
func (r *recordingLogger) Trace(string, loggingpkg.LogFields)                 {}

func (r *recordingLogger) Debug(msg string, _ loggingpkg.LogFields) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.debugs = append(r.debugs, msg)
}

func (r *recordingLogger) Error(_ string, err error, _ loggingpkg.LogFields) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		err = errors.New("<nil>")
	}
	r.errors = append(r.errors, err)
}

func (r *recordingLogger) errorCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.errors)
}

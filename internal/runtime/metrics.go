package runtime

import (
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Drop reasons reported by DispatcherMetrics.
const (
	DropUndecodable   = "undecodable"
	DropNoCorrelation = "no_correlation_id"
	DropUnknown       = "unknown_correlation_id"
	DropStale         = "stale_binding"
	DropPanic         = "panic"
)

// Message directions used as metric labels.
const (
	DirectionRequest  = "request"
	DirectionResponse = "response"
)

// DispatcherMetrics holds the Prometheus collectors of a Dispatcher. A nil
// *DispatcherMetrics is valid and records nothing.
type DispatcherMetrics struct {
	mu sync.Mutex

	requestsTotal    *prometheus.CounterVec
	responsesTotal   *prometheus.CounterVec
	droppedTotal     *prometheus.CounterVec
	writeErrorsTotal *prometheus.CounterVec
	messagesTotal    *prometheus.CounterVec
	outstanding      prometheus.Gauge

	registerer prometheus.Registerer
	registered bool
}

func newDispatcherCounterVec(namespace, name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatcher",
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

// NewDispatcherMetrics creates the collectors under namespace. Call Register
// to expose them.
func NewDispatcherMetrics(namespace string, registerer prometheus.Registerer) *DispatcherMetrics {
	if namespace == "" {
		namespace = "relay"
	}
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &DispatcherMetrics{
		registerer:       registerer,
		requestsTotal:    newDispatcherCounterVec(namespace, "requests_total", "Requests written to the transport binding", []string{"method"}),
		responsesTotal:   newDispatcherCounterVec(namespace, "responses_total", "Responses routed to a subscriber", []string{"method"}),
		droppedTotal:     newDispatcherCounterVec(namespace, "responses_dropped_total", "Inbound payloads dropped before reaching a subscriber", []string{"reason"}),
		writeErrorsTotal: newDispatcherCounterVec(namespace, "write_errors_total", "Writes rejected by the transport binding", []string{"method"}),
		messagesTotal:    newDispatcherCounterVec(namespace, "messages_total", "Messages seen by the metrics middleware", []string{"direction", "resource"}),
		outstanding: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "dispatcher",
			Name:      "outstanding_subscriptions",
			Help:      "Correlation entries waiting for responses",
		}),
	}
}

// Register registers the collectors. Safe to call multiple times; collectors
// already registered by another dispatcher are reused.
func (m *DispatcherMetrics) Register() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}

	m.requestsTotal = registerCounterVec(m.registerer, m.requestsTotal)
	m.responsesTotal = registerCounterVec(m.registerer, m.responsesTotal)
	m.droppedTotal = registerCounterVec(m.registerer, m.droppedTotal)
	m.writeErrorsTotal = registerCounterVec(m.registerer, m.writeErrorsTotal)
	m.messagesTotal = registerCounterVec(m.registerer, m.messagesTotal)

	if err := m.registerer.Register(m.outstanding); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			return err
		}
		if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
			m.outstanding = existing
		}
	}

	m.registered = true
	return nil
}

func registerCounterVec(r prometheus.Registerer, c *prometheus.CounterVec) *prometheus.CounterVec {
	if err := r.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing
			}
		}
	}
	return c
}

func (m *DispatcherMetrics) recordRequest(method string) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(method).Inc()
}

func (m *DispatcherMetrics) recordResponse(method string) {
	if m == nil {
		return
	}
	m.responsesTotal.WithLabelValues(method).Inc()
}

func (m *DispatcherMetrics) recordDrop(reason string) {
	if m == nil {
		return
	}
	m.droppedTotal.WithLabelValues(reason).Inc()
}

func (m *DispatcherMetrics) recordWriteError(method string) {
	if m == nil {
		return
	}
	m.writeErrorsTotal.WithLabelValues(method).Inc()
}

func (m *DispatcherMetrics) recordMessage(direction, resource string) {
	if m == nil {
		return
	}
	m.messagesTotal.WithLabelValues(direction, resource).Inc()
}

// addOutstanding moves the gauge by delta. Dispatchers sharing a registerer
// share the gauge, so it is never set outright.
func (m *DispatcherMetrics) addOutstanding(delta int) {
	if m == nil || delta == 0 {
		return
	}
	m.outstanding.Add(float64(delta))
}

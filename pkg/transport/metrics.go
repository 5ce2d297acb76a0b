package transport

import (
	"strconv"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

const retryFailed = "error"

type Metrics struct {
	Rewrites *prometheus.CounterVec
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		Rewrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rewrites_total",
				Help:      "Records the number of requests retried with a compatible API coordinate",
			},
			[]string{"flow", "code", "retry_code"},
		),
	}
}

func (m *Metrics) Register(registry prometheus.Registerer) error {
	return errors.WithStack(registry.Register(m.Rewrites))
}

// observe is a no-op on a nil receiver. retryCode 0 means the retry failed without a response.
func (m *Metrics) observe(flow string, code, retryCode int) {
	if m == nil {
		return
	}
	rc := retryFailed
	if retryCode != 0 {
		rc = strconv.Itoa(retryCode)
	}
	m.Rewrites.WithLabelValues(flow, strconv.Itoa(code), rc).Inc()
}

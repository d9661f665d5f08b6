// Package metrics wraps github.com/hashicorp/go-metrics into the small
// counter set the tracker emits: heartbeats sent/received, peer-expiry
// events, and transport errors (§7's transport_error is "surfaced as a log
// event and counter"). The ring manager emits no counters.
package metrics

import (
	"time"

	gometrics "github.com/hashicorp/go-metrics"
)

// Sink is a thin facade over a go-metrics Metrics instance, scoped with a
// fixed key prefix so every counter this module emits is namespaced
// consistently regardless of which global sink the host process installs.
type Sink struct {
	m      *gometrics.Metrics
	prefix []string
}

// NewInmemSink builds a Sink backed by an in-memory go-metrics instance —
// suitable as a default when the host application hasn't wired its own
// metrics.Metrics. Real deployments should pass their own *gometrics.Metrics
// (e.g. one exporting to statsd or Prometheus) via NewSink.
func NewInmemSink(prefix ...string) *Sink {
	inm := gometrics.NewInmemSink(10*time.Second, 60*time.Second)
	cfg := gometrics.DefaultConfig("dispatch")
	cfg.EnableHostname = false
	m, err := gometrics.New(cfg, inm)
	if err != nil {
		// go-metrics.New only fails on a nil sink, which NewInmemSink never
		// produces; fall back to the package-global default rather than
		// propagating an error no caller can act on.
		m = gometrics.Default()
	}
	return &Sink{m: m, prefix: prefix}
}

// NewSink wraps a caller-supplied go-metrics instance.
func NewSink(m *gometrics.Metrics, prefix ...string) *Sink {
	return &Sink{m: m, prefix: prefix}
}

func (s *Sink) key(name string) []string {
	return append(append([]string{}, s.prefix...), name)
}

func (s *Sink) IncrCounter(name string, val float32) {
	if s == nil || s.m == nil {
		return
	}
	s.m.IncrCounter(s.key(name), val)
}

func (s *Sink) SetGauge(name string, val float32) {
	if s == nil || s.m == nil {
		return
	}
	s.m.SetGauge(s.key(name), val)
}

func (s *Sink) AddSample(name string, val float32) {
	if s == nil || s.m == nil {
		return
	}
	s.m.AddSample(s.key(name), val)
}

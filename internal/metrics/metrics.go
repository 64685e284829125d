// Package metrics exposes Prometheus counters for the events the core's
// error-handling design treats as silent (drops, retransmissions,
// unmatched acknowledgements): nothing in the protocol surfaces these as
// failures, but a deployed pipeline still needs them to be observable.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Set bundles the counters one module family cares about. A nil *Set is
// valid everywhere it is used: every method on it is a no-op, so
// modules can take an optional *Set without a separate enabled flag.
type Set struct {
	Built       *prometheus.CounterVec
	Read        *prometheus.CounterVec
	Retransmit  *prometheus.CounterVec
	Acknowledge *prometheus.CounterVec
	Resend      *prometheus.CounterVec
	Dropped     *prometheus.CounterVec
}

// NewSet constructs and registers a Set against reg. module labels each
// counter with the module family (e.g. "ack", "stream") so one process
// running multiple module instances still gets distinct series.
func NewSet(reg prometheus.Registerer) *Set {
	s := &Set{
		Built: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_frames_built_total",
			Help: "Payloads framed for the downward build direction.",
		}, []string{"module"}),
		Read: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_frames_read_total",
			Help: "Frames delivered upward after a successful read.",
		}, []string{"module"}),
		Retransmit: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_retransmits_total",
			Help: "Frames re-emitted by a module's background timer.",
		}, []string{"module"}),
		Acknowledge: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_acknowledgements_total",
			Help: "Acknowledgement frames processed.",
		}, []string{"module", "result"}),
		Resend: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_resend_requests_total",
			Help: "Explicit Resend (negative acknowledgement) frames emitted.",
		}, []string{"module"}),
		Dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_frames_dropped_total",
			Help: "Frames silently dropped (malformed, stale, or out of window).",
		}, []string{"module", "reason"}),
	}
	for _, c := range []prometheus.Collector{s.Built, s.Read, s.Retransmit, s.Acknowledge, s.Resend, s.Dropped} {
		mustRegister(reg, c)
	}
	return s
}

func mustRegister(reg prometheus.Registerer, c prometheus.Collector) {
	err := reg.Register(c)
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		return
	}
	if err != nil {
		panic(err)
	}
}

// IncBuilt records one payload framed for the build direction.
func (s *Set) IncBuilt(module string) {
	if s == nil {
		return
	}
	s.Built.WithLabelValues(module).Inc()
}

// IncRead records one frame delivered upward.
func (s *Set) IncRead(module string) {
	if s == nil {
		return
	}
	s.Read.WithLabelValues(module).Inc()
}

// IncRetransmit records one timer-driven retransmission.
func (s *Set) IncRetransmit(module string) {
	if s == nil {
		return
	}
	s.Retransmit.WithLabelValues(module).Inc()
}

// IncAcknowledgeMatched records an acknowledgement that matched a
// pending entry.
func (s *Set) IncAcknowledgeMatched(module string) {
	if s == nil {
		return
	}
	s.Acknowledge.WithLabelValues(module, "matched").Inc()
}

// IncAcknowledgeUnmatched records an acknowledgement with no matching
// pending entry (unknown hash, or a stale/duplicate cumulative index).
func (s *Set) IncAcknowledgeUnmatched(module string) {
	if s == nil {
		return
	}
	s.Acknowledge.WithLabelValues(module, "unmatched").Inc()
}

// IncResend records one explicit Resend (negative acknowledgement)
// frame emitted by a receiver.
func (s *Set) IncResend(module string) {
	if s == nil {
		return
	}
	s.Resend.WithLabelValues(module).Inc()
}

// IncDroppedMalformed records a frame rejected for being too short or
// carrying an unknown tag.
func (s *Set) IncDroppedMalformed(module string) {
	if s == nil {
		return
	}
	s.Dropped.WithLabelValues(module, "malformed").Inc()
}

// IncDroppedOutOfWindow records a receive-side sequence number beyond
// the configured reorder window.
func (s *Set) IncDroppedOutOfWindow(module string) {
	if s == nil {
		return
	}
	s.Dropped.WithLabelValues(module, "out_of_window").Inc()
}

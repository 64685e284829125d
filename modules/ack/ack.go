// Package ack implements the Acknowledgement module: hash-keyed,
// stop-and-go retransmission with a fixed timeout. It guarantees
// at-least-once upward delivery; it does not deduplicate, and a sender
// retransmitting ahead of an in-flight acknowledgement can cause the
// same payload to be delivered upward more than once.
package ack

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	logging "github.com/ipfs/go-log/v2"

	"github.com/Galaktikos/Modular-Packet-Management-Protocol/internal/metrics"
	"github.com/Galaktikos/Modular-Packet-Management-Protocol/internal/pending"
	"github.com/Galaktikos/Modular-Packet-Management-Protocol/pipeline"
	"github.com/Galaktikos/Modular-Packet-Management-Protocol/wire"
)

var log = logging.Logger("ack")

// timerInterval is the background timer's polling cadence. It is a
// design constant, not a protocol invariant: any scheduler that checks
// at least this often is conformant.
const timerInterval = 10 * time.Millisecond

// Config holds the module's tunable timing.
type Config struct {
	// Timeout is how long a sent message waits for an acknowledgement
	// before it is retransmitted, unconditionally and without backoff.
	Timeout time.Duration
}

// DefaultConfig returns the spec's default: a 500ms fixed timeout.
func DefaultConfig() Config {
	return Config{Timeout: 500 * time.Millisecond}
}

// Option customizes a Module at construction time.
type Option func(*Module)

// WithClock overrides the module's time source, for deterministic tests.
func WithClock(c clock.Clock) Option {
	return func(m *Module) { m.clock = c }
}

// WithMetrics attaches a metrics.Set the module will report through.
func WithMetrics(s *metrics.Set) Option {
	return func(m *Module) { m.metrics = s }
}

// Module is the Acknowledgement pipeline module.
type Module struct {
	ep    *pipeline.Endpoint
	cfg   Config
	table *pending.Table
	clock clock.Clock

	metrics *metrics.Set

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New constructs an Acknowledgement module with the given configuration.
func New(cfg Config, opts ...Option) *Module {
	m := &Module{
		cfg:   cfg,
		table: pending.NewTable(),
		clock: clock.New(),
		stop:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Bind implements pipeline.Module.
func (m *Module) Bind(ep *pipeline.Endpoint) { m.ep = ep }

// Build implements pipeline.Module: frame the payload as Data, record it
// as pending, and continue the build downward.
func (m *Module) Build(payload []byte) {
	frame := wire.EncodeAckData(payload)
	hash := wire.Hash(payload)
	m.table.Put(hash, payload, frame, m.clock.Now())
	m.metrics.IncBuilt("ack")
	m.ep.ContinueBuild(frame)
}

// Read implements pipeline.Module.
func (m *Module) Read(frame []byte) {
	if len(frame) < 1 {
		m.metrics.IncDroppedMalformed("ack")
		return
	}
	switch frame[0] {
	case wire.AckTagData:
		payload := frame[1:]
		m.metrics.IncRead("ack")
		m.ep.ContinueRead(payload)
		m.ep.ContinueBuild(wire.EncodeAckAcknowledge(wire.Hash(payload)))
	case wire.AckTagAck:
		hash, ok := wire.DecodeAckAcknowledge(frame)
		if !ok {
			m.metrics.IncDroppedMalformed("ack")
			return
		}
		if _, removed := m.table.Remove(hash); removed {
			m.metrics.IncAcknowledgeMatched("ack")
		} else {
			m.metrics.IncAcknowledgeUnmatched("ack")
		}
	default:
		m.metrics.IncDroppedMalformed("ack")
	}
}

// Start launches the background retransmission timer. It is safe to
// call at most once per module instance. The timer is armed before
// Start returns.
func (m *Module) Start() {
	ticker := m.clock.Ticker(timerInterval)
	m.wg.Add(1)
	go m.run(ticker)
}

// Close stops the background timer and waits for it to exit.
func (m *Module) Close() error {
	m.stopOnce.Do(func() { close(m.stop) })
	m.wg.Wait()
	return nil
}

func (m *Module) run(ticker *clock.Ticker) {
	defer m.wg.Done()
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.retransmitExpired()
		}
	}
}

func (m *Module) retransmitExpired() {
	now := m.clock.Now()
	for hash, entry := range m.table.Snapshot() {
		if now.Sub(entry.LastSent()) < m.cfg.Timeout {
			continue
		}
		log.Debugw("retransmitting", "timeout", m.cfg.Timeout)
		m.ep.ContinueBuild(entry.Frame)
		m.table.Touch(hash, now)
		m.metrics.IncRetransmit("ack")
	}
}

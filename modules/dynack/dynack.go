// Package dynack implements the DynamicAcknowledgement module:
// hash-keyed retransmission whose timeout adapts to measured
// round-trip time, with Karn-style disambiguation of which
// transmission attempt an acknowledgement addresses.
package dynack

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	logging "github.com/ipfs/go-log/v2"

	"github.com/Galaktikos/Modular-Packet-Management-Protocol/internal/metrics"
	"github.com/Galaktikos/Modular-Packet-Management-Protocol/internal/pending"
	"github.com/Galaktikos/Modular-Packet-Management-Protocol/pipeline"
	"github.com/Galaktikos/Modular-Packet-Management-Protocol/wire"
)

var log = logging.Logger("dynack")

const timerInterval = 10 * time.Millisecond

// Config holds the module's adaptive-timeout tunables.
type Config struct {
	MinTimeout time.Duration
	MaxTimeout time.Duration
	Multiplier float64
}

// DefaultConfig returns the spec's defaults.
func DefaultConfig() Config {
	return Config{MinTimeout: time.Millisecond, MaxTimeout: time.Second, Multiplier: 2}
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

// Module is the DynamicAcknowledgement pipeline module.
type Module struct {
	ep    *pipeline.Endpoint
	cfg   Config
	table *pending.Table
	clock clock.Clock

	// timeoutSampleNS holds the most recent RTT sample in nanoseconds,
	// or 0 if no sample has been taken yet.
	timeoutSampleNS atomic.Int64

	metrics *metrics.Set

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New constructs a DynamicAcknowledgement module with the given configuration.
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

// Build implements pipeline.Module.
func (m *Module) Build(payload []byte) {
	frame := wire.EncodeDynAckData(payload)
	hash := wire.Hash(payload)
	m.table.Put(hash, payload, frame, m.clock.Now())
	m.metrics.IncBuilt("dynack")
	m.ep.ContinueBuild(frame)
}

// Read implements pipeline.Module.
func (m *Module) Read(frame []byte) {
	if len(frame) < 2 {
		m.metrics.IncDroppedMalformed("dynack")
		return
	}
	switch frame[0] {
	case wire.DynAckTagData:
		payload := frame[1:]
		m.metrics.IncRead("dynack")
		m.ep.ContinueRead(payload)
		m.ep.ContinueBuild(wire.EncodeDynAckAcknowledge(0, wire.Hash(payload)))
	case wire.DynAckTagResend:
		iteration, payload, ok := wire.DecodeDynAckResend(frame)
		if !ok {
			m.metrics.IncDroppedMalformed("dynack")
			return
		}
		m.metrics.IncRead("dynack")
		m.ep.ContinueRead(payload)
		m.ep.ContinueBuild(wire.EncodeDynAckAcknowledge(iteration, wire.Hash(payload)))
	case wire.DynAckTagAck:
		iteration, hash, ok := wire.DecodeDynAckAcknowledge(frame)
		if !ok {
			m.metrics.IncDroppedMalformed("dynack")
			return
		}
		m.handleAcknowledge(iteration, hash)
	default:
		m.metrics.IncDroppedMalformed("dynack")
	}
}

func (m *Module) handleAcknowledge(iteration uint8, hash pending.Hash) {
	entry, ok := m.table.Remove(hash)
	if !ok {
		m.metrics.IncAcknowledgeUnmatched("dynack")
		return
	}
	m.metrics.IncAcknowledgeMatched("dynack")
	sentAt, ok := entry.TimeAt(iteration)
	if !ok {
		return
	}
	sample := m.clock.Now().Sub(sentAt)
	if sample < 0 {
		sample = 0
	}
	m.timeoutSampleNS.Store(int64(sample))
	log.Debugw("rtt sample", "iteration", iteration, "sample", sample)
}

// effectiveTimeout returns the current retransmission threshold derived
// from the last RTT sample, and whether a sample exists at all.
func (m *Module) effectiveTimeout() (time.Duration, bool) {
	sampleNS := m.timeoutSampleNS.Load()
	if sampleNS == 0 {
		return 0, false
	}
	eff := time.Duration(float64(sampleNS) * m.cfg.Multiplier)
	if eff < m.cfg.MinTimeout {
		eff = m.cfg.MinTimeout
	}
	return eff, true
}

// Start launches the background retransmission timer. The timer is
// armed before Start returns.
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
	eff, known := m.effectiveTimeout()
	for hash, entry := range m.table.Snapshot() {
		elapsed := now.Sub(entry.LastSent())
		due := elapsed >= m.cfg.MaxTimeout || (known && elapsed >= eff)
		if !due {
			continue
		}
		iteration, payload, ok := m.table.Retransmit(hash, now)
		if !ok {
			continue
		}
		log.Debugw("retransmitting", "iteration", iteration)
		m.ep.ContinueBuild(wire.EncodeDynAckResend(iteration, payload))
		m.metrics.IncRetransmit("dynack")
	}
}

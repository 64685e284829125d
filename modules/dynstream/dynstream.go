// Package dynstream implements the DynamicStream module: the Stream
// module's sequence-numbered sliding-window reliable ordered delivery,
// with a retransmission timeout that adapts to measured round-trip
// time instead of the Stream module's fixed timeout.
package dynstream

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	logging "github.com/ipfs/go-log/v2"

	"github.com/Galaktikos/Modular-Packet-Management-Protocol/internal/metrics"
	"github.com/Galaktikos/Modular-Packet-Management-Protocol/internal/streamcore"
	"github.com/Galaktikos/Modular-Packet-Management-Protocol/pipeline"
	"github.com/Galaktikos/Modular-Packet-Management-Protocol/wire"
)

var log = logging.Logger("dynstream")

const timerInterval = time.Millisecond

// Config holds the module's adaptive-timeout tunables and window size.
type Config struct {
	MinTimeout        time.Duration
	MaxTimeout        time.Duration
	Multiplier        float64
	ReceiveBufferSize uint32
}

// DefaultConfig returns the spec's defaults.
func DefaultConfig() Config {
	return Config{
		MinTimeout:        time.Millisecond,
		MaxTimeout:        500 * time.Millisecond,
		Multiplier:        2,
		ReceiveBufferSize: 50,
	}
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

// Module is the DynamicStream pipeline module.
type Module struct {
	ep    *pipeline.Endpoint
	cfg   Config
	send  *streamcore.SendWindow
	recv  *streamcore.Receiver
	clock clock.Clock

	// timeoutSampleNS holds the most recent per-cumulative-ack-batch
	// minimum RTT sample in nanoseconds, or 0 if no sample has been
	// taken yet.
	timeoutSampleNS atomic.Int64

	mu       sync.Mutex
	lastSent time.Time
	haveSent bool

	metrics *metrics.Set

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New constructs a DynamicStream module with the given configuration.
func New(cfg Config, opts ...Option) *Module {
	m := &Module{
		cfg:   cfg,
		send:  streamcore.NewSendWindow(),
		recv:  streamcore.NewReceiver(cfg.ReceiveBufferSize),
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
	idx := m.send.Reserve()
	now := m.clock.Now()
	frame := wire.EncodeStreamMessage(idx, payload)
	m.send.Store(idx, frame, now)
	m.setLastSent(now)
	m.metrics.IncBuilt("dynstream")
	m.ep.ContinueBuild(frame)
}

// Read implements pipeline.Module. Frames shorter than 5 bytes are
// silently ignored per the wire format's frame size constraints.
func (m *Module) Read(frame []byte) {
	if len(frame) < 5 {
		m.metrics.IncDroppedMalformed("dynstream")
		return
	}
	switch frame[0] {
	case wire.StreamTagMessage:
		m.handleMessage(frame)
	case wire.StreamTagAcknowledgement:
		m.handleAcknowledgement(frame)
	case wire.StreamTagResend:
		indices, ok := wire.DecodeStreamResend(frame)
		if !ok {
			m.metrics.IncDroppedMalformed("dynstream")
			return
		}
		for _, f := range m.send.Resend(indices, m.clock.Now(), true) {
			m.ep.ContinueBuild(f)
		}
	default:
		m.metrics.IncDroppedMalformed("dynstream")
	}
}

func (m *Module) handleMessage(frame []byte) {
	idx, payload, ok := wire.DecodeStreamMessage(frame)
	if !ok {
		m.metrics.IncDroppedMalformed("dynstream")
		return
	}
	delivered, ackIdx, emitAck, missing, emitResend := m.recv.Accept(idx, payload)
	for _, p := range delivered {
		m.metrics.IncRead("dynstream")
		m.ep.ContinueRead(p)
	}
	if emitAck {
		m.ep.ContinueBuild(wire.EncodeStreamAcknowledgement(ackIdx))
	}
	if emitResend {
		m.metrics.IncResend("dynstream")
		m.ep.ContinueBuild(wire.EncodeStreamResend(missing))
	}
	if len(delivered) == 0 && !emitResend && !emitAck {
		m.metrics.IncDroppedOutOfWindow("dynstream")
	}
}

// handleAcknowledgement applies the cumulative ack and, for every packet
// it retires, samples the elapsed time since that packet's last recorded
// send. The smallest sample across the retired batch becomes the new RTT
// estimate: it is the measurement least distorted by a packet that had
// to be resent more than once.
func (m *Module) handleAcknowledgement(frame []byte) {
	idx, ok := wire.DecodeStreamAcknowledgement(frame)
	if !ok {
		m.metrics.IncDroppedMalformed("dynstream")
		return
	}
	now := m.clock.Now()
	removed, advanced := m.send.AckThrough(idx)
	if !advanced {
		m.metrics.IncAcknowledgeUnmatched("dynstream")
		return
	}
	m.metrics.IncAcknowledgeMatched("dynstream")
	var min time.Duration
	haveMin := false
	for _, pkt := range removed {
		sample := now.Sub(pkt.SendTime)
		if sample < 0 {
			sample = 0
		}
		if !haveMin || sample < min {
			min = sample
			haveMin = true
		}
	}
	if haveMin {
		m.timeoutSampleNS.Store(int64(min))
		log.Debugw("rtt sample", "sample", min)
	}
}

// effectiveTimeout returns the current retransmission threshold derived
// from the last RTT sample, and whether that threshold clears the
// configured minimum. Unlike the acknowledgement family's adaptive
// module, a sample below the minimum does not get clamped up to it: it
// simply fails to gate a retransmission on its own, leaving max_timeout
// as the only trigger.
func (m *Module) effectiveTimeout() (time.Duration, bool) {
	sampleNS := m.timeoutSampleNS.Load()
	if sampleNS == 0 {
		return 0, false
	}
	eff := time.Duration(float64(sampleNS) * m.cfg.Multiplier)
	if eff < m.cfg.MinTimeout {
		return eff, false
	}
	return eff, true
}

func (m *Module) setLastSent(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastSent = t
	m.haveSent = true
}

func (m *Module) getLastSent() (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSent, m.haveSent
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
			m.checkTimeout()
		}
	}
}

// checkTimeout retransmits the most recent packet when either the fixed
// ceiling max_timeout has elapsed, or the adaptive threshold has. This
// timer path never refreshes the packet's stored send time -- only a
// receiver-driven Resend does -- so the RTT estimator stays anchored to
// the original transmission rather than the retry.
func (m *Module) checkTimeout() {
	lastSent, ok := m.getLastSent()
	if !ok {
		return
	}
	now := m.clock.Now()
	elapsed := now.Sub(lastSent)
	eff, known := m.effectiveTimeout()
	due := elapsed >= m.cfg.MaxTimeout || (known && elapsed >= eff)
	if !due {
		return
	}
	_, pkt, ok := m.send.Last()
	if !ok {
		return
	}
	log.Debugw("retransmitting most recent packet", "elapsed", elapsed)
	m.ep.ContinueBuild(pkt.Frame)
	m.setLastSent(now)
	m.metrics.IncRetransmit("dynstream")
}

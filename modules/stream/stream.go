// Package stream implements the Stream module: a sequence-numbered
// sliding-window reliable ordered delivery channel with a fixed
// retransmission timeout.
package stream

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	logging "github.com/ipfs/go-log/v2"

	"github.com/Galaktikos/Modular-Packet-Management-Protocol/internal/metrics"
	"github.com/Galaktikos/Modular-Packet-Management-Protocol/internal/streamcore"
	"github.com/Galaktikos/Modular-Packet-Management-Protocol/pipeline"
	"github.com/Galaktikos/Modular-Packet-Management-Protocol/wire"
)

var log = logging.Logger("stream")

const timerInterval = time.Millisecond

// Config holds the module's tunable timing and window size.
type Config struct {
	Timeout           time.Duration
	ReceiveBufferSize uint32
}

// DefaultConfig returns the spec's defaults: a 50ms fixed timeout and a
// 50-message reorder window.
func DefaultConfig() Config {
	return Config{Timeout: 50 * time.Millisecond, ReceiveBufferSize: 50}
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

// Module is the Stream pipeline module.
type Module struct {
	ep    *pipeline.Endpoint
	cfg   Config
	send  *streamcore.SendWindow
	recv  *streamcore.Receiver
	clock clock.Clock

	mu       sync.Mutex
	lastSent time.Time
	haveSent bool

	metrics *metrics.Set

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New constructs a Stream module with the given configuration.
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

// Build implements pipeline.Module: frame the payload at the next
// sequence index, record it as unacknowledged, and continue downward.
func (m *Module) Build(payload []byte) {
	idx := m.send.Reserve()
	now := m.clock.Now()
	frame := wire.EncodeStreamMessage(idx, payload)
	m.send.Store(idx, frame, now)
	m.setLastSent(now)
	m.metrics.IncBuilt("stream")
	m.ep.ContinueBuild(frame)
}

// Read implements pipeline.Module. Frames shorter than 5 bytes are
// silently ignored per the wire format's frame size constraints.
func (m *Module) Read(frame []byte) {
	if len(frame) < 5 {
		m.metrics.IncDroppedMalformed("stream")
		return
	}
	switch frame[0] {
	case wire.StreamTagMessage:
		m.handleMessage(frame)
	case wire.StreamTagAcknowledgement:
		idx, ok := wire.DecodeStreamAcknowledgement(frame)
		if !ok {
			m.metrics.IncDroppedMalformed("stream")
			return
		}
		if _, advanced := m.send.AckThrough(idx); advanced {
			m.metrics.IncAcknowledgeMatched("stream")
		} else {
			m.metrics.IncAcknowledgeUnmatched("stream")
		}
	case wire.StreamTagResend:
		indices, ok := wire.DecodeStreamResend(frame)
		if !ok {
			m.metrics.IncDroppedMalformed("stream")
			return
		}
		for _, f := range m.send.Resend(indices, m.clock.Now(), false) {
			m.ep.ContinueBuild(f)
		}
	default:
		m.metrics.IncDroppedMalformed("stream")
	}
}

func (m *Module) handleMessage(frame []byte) {
	idx, payload, ok := wire.DecodeStreamMessage(frame)
	if !ok {
		m.metrics.IncDroppedMalformed("stream")
		return
	}
	delivered, ackIdx, emitAck, missing, emitResend := m.recv.Accept(idx, payload)
	for _, p := range delivered {
		m.metrics.IncRead("stream")
		m.ep.ContinueRead(p)
	}
	if emitAck {
		m.ep.ContinueBuild(wire.EncodeStreamAcknowledgement(ackIdx))
	}
	if emitResend {
		m.metrics.IncResend("stream")
		m.ep.ContinueBuild(wire.EncodeStreamResend(missing))
	}
	if len(delivered) == 0 && !emitResend && !emitAck {
		m.metrics.IncDroppedOutOfWindow("stream")
	}
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

func (m *Module) checkTimeout() {
	lastSent, ok := m.getLastSent()
	if !ok {
		return
	}
	now := m.clock.Now()
	if now.Sub(lastSent) < m.cfg.Timeout {
		return
	}
	_, pkt, ok := m.send.Last()
	if !ok {
		return
	}
	log.Debugw("retransmitting most recent packet", "timeout", m.cfg.Timeout)
	m.ep.ContinueBuild(pkt.Frame)
	m.setLastSent(now)
	m.metrics.IncRetransmit("stream")
}

package ack

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Galaktikos/Modular-Packet-Management-Protocol/pipeline"
	"github.com/Galaktikos/Modular-Packet-Management-Protocol/wire"
)

// harness wires a single Acknowledgement module into a one-module
// Manager and captures everything emitted downward or delivered upward.
type harness struct {
	mgr   *pipeline.Manager
	mod   *Module
	built [][]byte
	read  [][]byte
}

func newHarness(cfg Config, mockClock clock.Clock) *harness {
	h := &harness{}
	h.mod = New(cfg, WithClock(mockClock))
	h.mgr = pipeline.NewManager(
		func(b []byte) { h.read = append(h.read, b) },
		func(b []byte) { h.built = append(h.built, b) },
	)
	h.mgr.SetModules(h.mod)
	return h
}

func TestZeroLossRoundTrip(t *testing.T) {
	sender := newHarness(DefaultConfig(), clock.New())
	receiver := newHarness(DefaultConfig(), clock.New())

	payload := []byte{0x41, 0x42}
	sender.mgr.Build(payload)
	require.Len(t, sender.built, 1)
	assert.Equal(t, append([]byte{wire.AckTagData}, payload...), sender.built[0])

	receiver.mgr.Read(sender.built[0])
	require.Len(t, receiver.read, 1)
	assert.Equal(t, payload, receiver.read[0])
	require.Len(t, receiver.built, 1)
	assert.Equal(t, byte(wire.AckTagAck), receiver.built[0][0])

	sender.mgr.Read(receiver.built[0])
	assert.Equal(t, 0, sender.mod.table.Len(), "matching ack must clear the pending entry")
}

func TestSingleDropRetransmitsAfterTimeout(t *testing.T) {
	mockClock := clock.NewMock()
	sender := newHarness(DefaultConfig(), mockClock)
	sender.mod.Start()
	defer sender.mod.Close()

	payload := []byte{0x41, 0x42}
	sender.mgr.Build(payload)
	require.Len(t, sender.built, 1, "original Data frame sent once")

	// First Data frame is dropped (never delivered to a receiver).
	// Advance the mock clock past the fixed timeout.
	mockClock.Add(timerInterval + DefaultConfig().Timeout)

	require.Eventually(t, func() bool {
		return len(sender.built) >= 2
	}, time.Second, time.Millisecond)
	assert.Equal(t, sender.built[0], sender.built[1], "retransmission re-emits the identical frame")
}

func TestUnmatchedAcknowledgementIsNoop(t *testing.T) {
	h := newHarness(DefaultConfig(), clock.New())
	var hash [wire.HashSize]byte
	hash[0] = 0xFF
	assert.NotPanics(t, func() {
		h.mgr.Read(wire.EncodeAckAcknowledge(hash))
	})
}

func TestMalformedFrameIsDropped(t *testing.T) {
	h := newHarness(DefaultConfig(), clock.New())
	assert.NotPanics(t, func() {
		h.mgr.Read(nil)
		h.mgr.Read([]byte{0xFF})
	})
	assert.Empty(t, h.read)
}

func TestDuplicateDeliveryIsPossibleOnRetransmission(t *testing.T) {
	// Spec: the acknowledgement family does not deduplicate upward
	// delivery. Feeding the same Data frame twice must deliver twice.
	h := newHarness(DefaultConfig(), clock.New())
	frame := wire.EncodeAckData([]byte("x"))
	h.mgr.Read(frame)
	h.mgr.Read(frame)
	assert.Len(t, h.read, 2)
}

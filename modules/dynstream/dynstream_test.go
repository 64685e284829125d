package dynstream

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Galaktikos/Modular-Packet-Management-Protocol/pipeline"
	"github.com/Galaktikos/Modular-Packet-Management-Protocol/wire"
)

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

func TestOrderedBurstDeliversInOrderWithCumulativeAcks(t *testing.T) {
	sender := newHarness(DefaultConfig(), clock.New())
	receiver := newHarness(DefaultConfig(), clock.New())

	sender.mgr.Build([]byte("A"))
	sender.mgr.Build([]byte("B"))
	sender.mgr.Build([]byte("C"))
	require.Len(t, sender.built, 3)

	for _, frame := range sender.built {
		receiver.mgr.Read(frame)
	}
	require.Len(t, receiver.read, 3)
	assert.Equal(t, [][]byte{[]byte("A"), []byte("B"), []byte("C")}, receiver.read)

	var acks []uint32
	for _, frame := range receiver.built {
		idx, ok := wire.DecodeStreamAcknowledgement(frame)
		require.True(t, ok)
		acks = append(acks, idx)
	}
	assert.Equal(t, []uint32{0, 1, 2}, acks)
}

func TestReorderBuffersAndDrainsOnGapFill(t *testing.T) {
	sender := newHarness(DefaultConfig(), clock.New())
	receiver := newHarness(DefaultConfig(), clock.New())

	sender.mgr.Build([]byte("A"))
	sender.mgr.Build([]byte("B"))
	require.Len(t, sender.built, 2)

	receiver.mgr.Read(sender.built[1])
	assert.Empty(t, receiver.read)
	require.Len(t, receiver.built, 1)
	indices, ok := wire.DecodeStreamResend(receiver.built[0])
	require.True(t, ok)
	assert.Equal(t, []uint32{0}, indices)

	receiver.mgr.Read(sender.built[0])
	require.Len(t, receiver.read, 2)
}

func TestGapOutsideWindowDroppedSilently(t *testing.T) {
	receiver := newHarness(Config{
		MinTimeout: time.Millisecond, MaxTimeout: 500 * time.Millisecond,
		Multiplier: 2, ReceiveBufferSize: 2,
	}, clock.New())

	receiver.mgr.Read(wire.EncodeStreamMessage(3, []byte("D")))
	assert.Empty(t, receiver.read)
	assert.Empty(t, receiver.built)
}

func TestResendRefreshesSendTimeUnlikeTimerPath(t *testing.T) {
	mockClock := clock.NewMock()
	sender := newHarness(DefaultConfig(), mockClock)

	sender.mgr.Build([]byte("A"))
	require.Len(t, sender.built, 1)

	_, before, ok := sender.mod.send.Last()
	require.True(t, ok)
	t0 := before.SendTime

	mockClock.Add(10 * time.Millisecond)
	sender.mgr.Read(wire.EncodeStreamResend([]uint32{0}))
	require.Len(t, sender.built, 2, "resend path must re-emit the frame")

	_, after, ok := sender.mod.send.Last()
	require.True(t, ok)
	assert.True(t, after.SendTime.After(t0), "Resend refreshes the stored send time")
}

func TestAckBatchRTTSampleIsMinimumAcrossRetiredPackets(t *testing.T) {
	mockClock := clock.NewMock()
	sender := newHarness(DefaultConfig(), mockClock)

	sender.mgr.Build([]byte("A"))
	mockClock.Add(20 * time.Millisecond)
	sender.mgr.Build([]byte("B"))

	// Both 0 and 1 are acked together; 0 was sent 20ms earlier than 1,
	// so the batch's minimum elapsed time is the one measured against 1.
	sender.mgr.Read(wire.EncodeStreamAcknowledgement(1))

	eff, known := sender.mod.effectiveTimeout()
	require.True(t, known || eff >= 0)
	sample := sender.mod.timeoutSampleNS.Load()
	assert.Less(t, time.Duration(sample), 20*time.Millisecond)
}

func TestBackgroundTimerRetransmitsWithoutRefreshingSendTime(t *testing.T) {
	mockClock := clock.NewMock()
	cfg := DefaultConfig()
	sender := newHarness(cfg, mockClock)
	sender.mod.Start()
	defer sender.mod.Close()

	sender.mgr.Build([]byte("A"))
	require.Len(t, sender.built, 1)
	_, pkt, ok := sender.mod.send.Last()
	require.True(t, ok)
	t0 := pkt.SendTime

	mockClock.Add(timerInterval + cfg.MaxTimeout)
	require.Eventually(t, func() bool { return len(sender.built) >= 2 }, time.Second, time.Millisecond)

	_, after, ok := sender.mod.send.Last()
	require.True(t, ok)
	assert.Equal(t, t0, after.SendTime, "timer-driven retransmission must not refresh send time")
}

func TestEffectiveTimeoutUnknownUntilFirstSample(t *testing.T) {
	h := newHarness(DefaultConfig(), clock.New())
	_, known := h.mod.effectiveTimeout()
	assert.False(t, known)
}

func TestShortFrameIgnored(t *testing.T) {
	h := newHarness(DefaultConfig(), clock.New())
	assert.NotPanics(t, func() {
		h.mgr.Read([]byte{0x00, 0x01})
	})
	assert.Empty(t, h.read)
}

package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAckRoundTrip(t *testing.T) {
	payload := []byte("hello")
	frame := EncodeAckData(payload)
	require.Equal(t, byte(AckTagData), frame[0])
	assert.Equal(t, payload, frame[1:])

	hash := Hash(payload)
	ackFrame := EncodeAckAcknowledge(hash)
	require.Equal(t, byte(AckTagAck), ackFrame[0])
	got, ok := DecodeAckAcknowledge(ackFrame)
	require.True(t, ok)
	assert.Equal(t, hash, got)
}

func TestDynAckRoundTrip(t *testing.T) {
	payload := []byte("world")
	resend := EncodeDynAckResend(3, payload)
	iter, p, ok := DecodeDynAckResend(resend)
	require.True(t, ok)
	assert.Equal(t, uint8(3), iter)
	assert.Equal(t, payload, p)

	hash := Hash(payload)
	ack := EncodeDynAckAcknowledge(3, hash)
	iter2, h2, ok := DecodeDynAckAcknowledge(ack)
	require.True(t, ok)
	assert.Equal(t, uint8(3), iter2)
	assert.Equal(t, hash, h2)
}

func TestStreamRoundTrip(t *testing.T) {
	payload := []byte("abc")
	msg := EncodeStreamMessage(42, payload)
	idx, p, ok := DecodeStreamMessage(msg)
	require.True(t, ok)
	assert.Equal(t, uint32(42), idx)
	assert.Equal(t, payload, p)

	ack := EncodeStreamAcknowledgement(7)
	idx2, ok := DecodeStreamAcknowledgement(ack)
	require.True(t, ok)
	assert.Equal(t, uint32(7), idx2)

	resend := EncodeStreamResend([]uint32{1, 2, 5})
	indices, ok := DecodeStreamResend(resend)
	require.True(t, ok)
	assert.Equal(t, []uint32{1, 2, 5}, indices)

	empty := EncodeStreamResend(nil)
	indices, ok = DecodeStreamResend(empty)
	require.True(t, ok)
	assert.Empty(t, indices)
}

func TestStreamDecodeRejectsShortFrames(t *testing.T) {
	_, _, ok := DecodeStreamMessage([]byte{0x00, 0x01})
	assert.False(t, ok)

	_, ok = DecodeStreamAcknowledgement([]byte{0x01})
	assert.False(t, ok)

	_, ok = DecodeStreamResend([]byte{0x02, 0x01, 0x02})
	assert.False(t, ok)
}

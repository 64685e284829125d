// Package wire encodes and decodes the frame formats carried between
// peers by the acknowledgement and stream module families. Every
// integer on the wire is little-endian, per the protocol's external
// interface.
package wire

import (
	"crypto/sha1"
	"encoding/binary"

	"github.com/pkg/errors"
)

// HashSize is the length in bytes of a SHA-1 digest as carried on the wire.
const HashSize = sha1.Size

// Acknowledgement module tags (fixed timeout).
const (
	AckTagData = 0x00
	AckTagAck  = 0x01
)

// DynamicAcknowledgement module tags (adaptive timeout).
const (
	DynAckTagData   = 0x00
	DynAckTagResend = 0x01
	DynAckTagAck    = 0x02
)

// Stream / DynamicStream module tags.
const (
	StreamTagMessage         = 0x00
	StreamTagAcknowledgement = 0x01
	StreamTagResend          = 0x02
)

// ErrShortFrame is the error value for a frame too short to decode. The
// Decode functions in this package do not return it; they report a short
// frame through their ok result.
var ErrShortFrame = errors.New("wire: frame too short")

// Hash computes the SHA-1 digest the acknowledgement modules key their
// pending entries by.
func Hash(payload []byte) [HashSize]byte {
	return sha1.Sum(payload)
}

// --- Acknowledgement (fixed timeout) ---

// EncodeAckData frames an application payload as a Data frame.
func EncodeAckData(payload []byte) []byte {
	out := make([]byte, 1+len(payload))
	out[0] = AckTagData
	copy(out[1:], payload)
	return out
}

// EncodeAckAcknowledge frames a SHA-1 digest as an Acknowledge frame.
func EncodeAckAcknowledge(hash [HashSize]byte) []byte {
	out := make([]byte, 1+HashSize)
	out[0] = AckTagAck
	copy(out[1:], hash[:])
	return out
}

// DecodeAckAcknowledge extracts the digest from an Acknowledge frame.
// The caller must already have checked the tag byte.
func DecodeAckAcknowledge(frame []byte) (hash [HashSize]byte, ok bool) {
	if len(frame) < 1+HashSize {
		return hash, false
	}
	copy(hash[:], frame[1:1+HashSize])
	return hash, true
}

// --- DynamicAcknowledgement (adaptive timeout) ---

// EncodeDynAckData frames an application payload as a Data frame.
func EncodeDynAckData(payload []byte) []byte {
	out := make([]byte, 1+len(payload))
	out[0] = DynAckTagData
	copy(out[1:], payload)
	return out
}

// EncodeDynAckResend frames a retransmission attempt, tagged with its
// iteration number so the peer can echo it back unambiguously.
func EncodeDynAckResend(iteration uint8, payload []byte) []byte {
	out := make([]byte, 2+len(payload))
	out[0] = DynAckTagResend
	out[1] = iteration
	copy(out[2:], payload)
	return out
}

// DecodeDynAckResend extracts the iteration and payload from a Resend
// frame. The caller must already have checked the tag byte.
func DecodeDynAckResend(frame []byte) (iteration uint8, payload []byte, ok bool) {
	if len(frame) < 2 {
		return 0, nil, false
	}
	return frame[1], frame[2:], true
}

// EncodeDynAckAcknowledge frames an acknowledgement carrying the
// iteration of the attempt it addresses.
func EncodeDynAckAcknowledge(iteration uint8, hash [HashSize]byte) []byte {
	out := make([]byte, 2+HashSize)
	out[0] = DynAckTagAck
	out[1] = iteration
	copy(out[2:], hash[:])
	return out
}

// DecodeDynAckAcknowledge extracts the iteration and digest from an
// Acknowledge frame. The caller must already have checked the tag byte.
func DecodeDynAckAcknowledge(frame []byte) (iteration uint8, hash [HashSize]byte, ok bool) {
	if len(frame) < 2+HashSize {
		return 0, hash, false
	}
	copy(hash[:], frame[2:2+HashSize])
	return frame[1], hash, true
}

// --- Stream / DynamicStream ---

// EncodeStreamMessage frames a payload at the given sequence index.
func EncodeStreamMessage(index uint32, payload []byte) []byte {
	out := make([]byte, 5+len(payload))
	out[0] = StreamTagMessage
	binary.LittleEndian.PutUint32(out[1:5], index)
	copy(out[5:], payload)
	return out
}

// DecodeStreamMessage extracts the sequence index and payload from a
// Message frame. The caller must already have checked the tag byte and
// that the frame is at least 5 bytes long.
func DecodeStreamMessage(frame []byte) (index uint32, payload []byte, ok bool) {
	if len(frame) < 5 {
		return 0, nil, false
	}
	return binary.LittleEndian.Uint32(frame[1:5]), frame[5:], true
}

// EncodeStreamAcknowledgement frames a cumulative acknowledgement: every
// sequence number at or below index has been delivered upward.
func EncodeStreamAcknowledgement(index uint32) []byte {
	out := make([]byte, 5)
	out[0] = StreamTagAcknowledgement
	binary.LittleEndian.PutUint32(out[1:5], index)
	return out
}

// DecodeStreamAcknowledgement extracts the cumulative index from an
// Acknowledgement frame.
func DecodeStreamAcknowledgement(frame []byte) (index uint32, ok bool) {
	if len(frame) < 5 {
		return 0, false
	}
	return binary.LittleEndian.Uint32(frame[1:5]), true
}

// EncodeStreamResend frames a list of specific missing sequence indices.
func EncodeStreamResend(indices []uint32) []byte {
	out := make([]byte, 1+4*len(indices))
	out[0] = StreamTagResend
	for i, idx := range indices {
		binary.LittleEndian.PutUint32(out[1+4*i:5+4*i], idx)
	}
	return out
}

// DecodeStreamResend extracts the list of missing sequence indices from
// a Resend frame.
func DecodeStreamResend(frame []byte) (indices []uint32, ok bool) {
	if len(frame) < 1 {
		return nil, false
	}
	body := frame[1:]
	if len(body)%4 != 0 {
		return nil, false
	}
	indices = make([]uint32, len(body)/4)
	for i := range indices {
		indices[i] = binary.LittleEndian.Uint32(body[4*i : 4*i+4])
	}
	return indices, true
}

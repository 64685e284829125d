package streamcore

import "sync"

// Receiver implements the receiver-side algorithm shared verbatim by
// the Stream and DynamicStream modules (spec: "Same wire format and
// receiver logic"). It owns receive_index and the bounded
// out-of-order buffer.
type Receiver struct {
	mu         sync.Mutex
	buffer     map[uint32][]byte
	index      uint32 // receive_index: next sequence number expected in order
	windowSize uint32
}

// NewReceiver constructs a receiver with the given reorder window size.
func NewReceiver(windowSize uint32) *Receiver {
	return &Receiver{
		buffer:     make(map[uint32][]byte),
		windowSize: windowSize,
	}
}

// Accept processes one inbound Message(idx, payload):
//
//  1. idx < receive_index: the sender is behind our cumulative ack;
//     report the current watermark again, deliver nothing.
//  2. idx - receive_index > window: silently dropped, out of window.
//  3. idx == receive_index: deliver payload and any now-contiguous
//     buffered successors, report the last index actually delivered.
//  4. otherwise: buffer the out-of-order payload and report the
//     currently-missing indices in [receive_index, idx] via a Resend.
//
// The acknowledgement index returned on the in-order path is the last
// index delivered upward during this call, not receive_index-1 computed
// before any drain -- see the protocol's note on ack-index ambiguity.
func (r *Receiver) Accept(idx uint32, payload []byte) (delivered [][]byte, ackIndex uint32, emitAck bool, missing []uint32, emitResend bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if idx < r.index {
		return nil, r.index - 1, true, nil, false
	}

	if idx-r.index > r.windowSize {
		return nil, 0, false, nil, false
	}

	if idx == r.index {
		delivered = append(delivered, payload)
		cur := idx
		for {
			next, ok := r.buffer[cur+1]
			if !ok {
				break
			}
			delivered = append(delivered, next)
			delete(r.buffer, cur+1)
			cur++
		}
		r.index = cur + 1
		return delivered, cur, true, nil, false
	}

	r.buffer[idx] = payload
	for i := r.index; i <= idx; i++ {
		if _, ok := r.buffer[i]; !ok {
			missing = append(missing, i)
		}
	}
	return nil, 0, false, missing, true
}

// Index returns the current receive_index (next expected in-order
// sequence number).
func (r *Receiver) Index() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.index
}

// BufferLen reports the number of out-of-order payloads currently held.
func (r *Receiver) BufferLen() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buffer)
}

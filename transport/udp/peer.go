// Package udp adapts a bare net.PacketConn into the datagram transport
// the pipeline's bottom module builds into and reads out of. Unlike the
// connection-oriented transport it is adapted from, it performs no
// handshake: the modular pipeline's reliability modules already own
// retransmission and ordering, so the transport's only job is framing
// loss-tolerant datagrams onto the wire.
package udp

import (
	"net"
	"sync"

	logging "github.com/ipfs/go-log/v2"
	"github.com/pkg/errors"
)

var log = logging.Logger("transport/udp")

// MaxFrameSize bounds a single outbound datagram so it stays within a
// conservative path MTU without fragmenting.
const MaxFrameSize = 1400

// Peer is one endpoint of a fixed point-to-point UDP association. It has
// no notion of accepting multiple remotes: the pipeline above it is
// built per-peer, mirroring how each reliability module instance already
// owns exactly one send/receive window.
type Peer struct {
	conn   net.PacketConn
	remote net.Addr

	closeCh   chan struct{}
	closeOnce sync.Once
}

// Dial opens a UDP socket bound to an ephemeral local port and targets
// remoteAddr. No packet is sent until the first call to Send.
func Dial(remoteAddr string) (*Peer, error) {
	raddr, err := net.ResolveUDPAddr("udp", remoteAddr)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve remote address %q", remoteAddr)
	}
	conn, err := net.ListenPacket("udp", "")
	if err != nil {
		return nil, errors.Wrap(err, "open local udp socket")
	}
	return &Peer{conn: conn, remote: raddr, closeCh: make(chan struct{})}, nil
}

// Listen opens a UDP socket bound to localAddr, fixing its peer to the
// first remote address a datagram arrives from. Until then, Send returns
// an error: there is nothing to correspond with yet.
func Listen(localAddr string) (*Peer, error) {
	conn, err := net.ListenPacket("udp", localAddr)
	if err != nil {
		return nil, errors.Wrapf(err, "listen on %q", localAddr)
	}
	return &Peer{conn: conn, closeCh: make(chan struct{})}, nil
}

// LocalAddr reports the socket's bound local address.
func (p *Peer) LocalAddr() net.Addr { return p.conn.LocalAddr() }

// Send writes one frame to the peer's remote address. It is safe for the
// bottom pipeline module to call concurrently with Serve reading.
func (p *Peer) Send(frame []byte) error {
	remote := p.remote
	if remote == nil {
		return errors.New("udp: no remote address known yet")
	}
	if len(frame) > MaxFrameSize {
		return errors.Errorf("udp: frame of %d bytes exceeds max %d", len(frame), MaxFrameSize)
	}
	_, err := p.conn.WriteTo(frame, remote)
	return errors.Wrap(err, "write datagram")
}

// Serve reads datagrams until Close is called, invoking onFrame with
// each payload. The first datagram received by a Peer constructed via
// Listen fixes that sender as the peer's remote address, so a
// subsequent Send replies to whoever spoke first.
func (p *Peer) Serve(onFrame func([]byte)) error {
	buf := make([]byte, MaxFrameSize)
	for {
		select {
		case <-p.closeCh:
			return nil
		default:
		}
		n, addr, err := p.conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-p.closeCh:
				return nil
			default:
				log.Debugw("read error", "error", err)
				return errors.Wrap(err, "read datagram")
			}
		}
		if p.remote == nil {
			p.remote = addr
		}
		frame := make([]byte, n)
		copy(frame, buf[:n])
		onFrame(frame)
	}
}

// Close stops a pending Serve loop and releases the socket.
func (p *Peer) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.closeCh)
		err = p.conn.Close()
	})
	return err
}

package network

import (
	stderrors "errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/ipv4"

	"arqcopier/internal/config"
	"arqcopier/internal/errors"
)

// Endpoint is one side of the datagram channel. It is not connected at the
// socket level: the peer is learned from the first datagram and can change,
// and datagrams from anyone else are dropped by Receive.
type Endpoint struct {
	conn *net.UDPConn

	mu   sync.RWMutex
	peer *net.UDPAddr

	filtered atomic.Uint64
}

// Listen binds a UDP endpoint on address with no peer yet
func Listen(address string) (*Endpoint, error) {
	laddr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, errors.NewNetworkError("resolve", address, err)
	}

	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, errors.NewNetworkError("listen", address, err)
	}

	return &Endpoint{conn: conn}, nil
}

// Dial binds an ephemeral local port and targets address
func Dial(address string) (*Endpoint, error) {
	raddr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, errors.NewNetworkError("resolve", address, err)
	}

	// Bind the same address family as the target so IPv4 socket options apply.
	var laddr *net.UDPAddr
	network := "udp"
	if raddr.IP.To4() != nil {
		laddr = &net.UDPAddr{IP: net.IPv4zero}
		network = "udp4"
	}

	conn, err := net.ListenUDP(network, laddr)
	if err != nil {
		return nil, errors.NewNetworkError("bind", address, err)
	}

	e := &Endpoint{conn: conn}
	e.SetPeer(raddr)
	return e, nil
}

// SetPeer fixes the remote address used by Send and accepted by Receive
func (e *Endpoint) SetPeer(addr *net.UDPAddr) {
	e.mu.Lock()
	e.peer = addr
	e.mu.Unlock()
}

// Peer returns the current remote address, or nil
func (e *Endpoint) Peer() *net.UDPAddr {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.peer
}

// LocalAddr returns the bound address
func (e *Endpoint) LocalAddr() *net.UDPAddr {
	return e.conn.LocalAddr().(*net.UDPAddr)
}

// Conn exposes the socket for tuning
func (e *Endpoint) Conn() *net.UDPConn {
	return e.conn
}

// Filtered returns how many datagrams from strangers were dropped
func (e *Endpoint) Filtered() uint64 {
	return e.filtered.Load()
}

// Close releases the socket. Blocked reads return an error.
func (e *Endpoint) Close() error {
	return e.conn.Close()
}

// Send writes one datagram to the peer
func (e *Endpoint) Send(b []byte) error {
	peer := e.Peer()
	if peer == nil {
		return errors.NewNetworkError("send", "", stderrors.New("no peer address"))
	}

	if _, err := e.conn.WriteToUDP(b, peer); err != nil {
		return errors.NewNetworkError("send", peer.String(), err)
	}
	return nil
}

// Receive reads one datagram from the peer into buf. Datagrams from other
// addresses are discarded and do not extend the timeout. A zero timeout
// blocks.
func (e *Endpoint) Receive(buf []byte, timeout time.Duration) (int, error) {
	if err := e.setDeadline(timeout); err != nil {
		return 0, err
	}

	for {
		n, addr, err := e.read(buf, timeout)
		if err != nil {
			return 0, err
		}

		peer := e.Peer()
		if peer != nil && !sameAddr(peer, addr) {
			e.filtered.Add(1)
			slog.Debug("Ignoring datagram from unexpected address",
				"from", addr.String(),
				"peer", peer.String())
			continue
		}
		return n, nil
	}
}

// ReceiveFrom reads one datagram from anyone and reports the sender
func (e *Endpoint) ReceiveFrom(buf []byte, timeout time.Duration) (int, *net.UDPAddr, error) {
	if err := e.setDeadline(timeout); err != nil {
		return 0, nil, err
	}
	return e.read(buf, timeout)
}

func (e *Endpoint) setDeadline(timeout time.Duration) error {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	if err := e.conn.SetReadDeadline(deadline); err != nil {
		return errors.NewNetworkError("set_deadline", e.conn.LocalAddr().String(), err)
	}
	return nil
}

func (e *Endpoint) read(buf []byte, timeout time.Duration) (int, *net.UDPAddr, error) {
	n, addr, err := e.conn.ReadFromUDP(buf)
	if err != nil {
		var ne net.Error
		if stderrors.As(err, &ne) && ne.Timeout() {
			return 0, nil, errors.NewTimeoutError("receive", timeout)
		}
		return 0, nil, errors.NewNetworkError("receive", e.conn.LocalAddr().String(), err)
	}
	return n, addr, nil
}

func sameAddr(a, b *net.UDPAddr) bool {
	return a.Port == b.Port && a.IP.Equal(b.IP)
}

// OptimizeUDPConnection enlarges socket buffers and applies the IPv4 TTL and
// TOS when they are non-zero.
func OptimizeUDPConnection(conn *net.UDPConn, ttl, tos int) error {
	if err := conn.SetReadBuffer(config.UDPBufferSize); err != nil {
		slog.Warn("Failed to set UDP read buffer", "error", err)
	}

	if err := conn.SetWriteBuffer(config.UDPBufferSize); err != nil {
		slog.Warn("Failed to set UDP write buffer", "error", err)
	}

	if ttl == 0 && tos == 0 {
		return nil
	}

	p := ipv4.NewConn(conn)
	if ttl > 0 {
		if err := p.SetTTL(ttl); err != nil {
			return errors.NewNetworkError("set_ttl", conn.LocalAddr().String(), err)
		}
	}
	if tos > 0 {
		if err := p.SetTOS(tos); err != nil {
			return errors.NewNetworkError("set_tos", conn.LocalAddr().String(), err)
		}
	}

	slog.Debug("UDP socket tuned", "ttl", ttl, "tos", tos)
	return nil
}

package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// maxDatagramBytes is the largest UDP payload.
const maxDatagramBytes = 65535

// UDPListenerConfig contains configuration options for the UDP listener.
type UDPListenerConfig struct {
	Address     string           // e.g. ":2370"
	RcvBuf      int              // socket receive buffer in bytes, 0 keeps the OS default
	LogInterval time.Duration    // default: 1 minute
	Handler     DatagramHandler  // required
	Sockets     UDPSocketFactory // default: RealUDPSocketFactory
}

// UDPListener receives datagrams and passes them to a DatagramHandler.
type UDPListener struct {
	config UDPListenerConfig
	sock   UDPSocket
	ready  chan struct{}
}

// NewUDPListener creates a new UDP listener with the provided configuration.
func NewUDPListener(config UDPListenerConfig) *UDPListener {
	if config.LogInterval == 0 {
		config.LogInterval = time.Minute
	}
	if config.Sockets == nil {
		config.Sockets = RealUDPSocketFactory{}
	}
	return &UDPListener{config: config, ready: make(chan struct{})}
}

// Ready is closed once the socket is bound.
func (l *UDPListener) Ready() <-chan struct{} { return l.ready }

// LocalAddr returns the bound address, or nil before Ready.
func (l *UDPListener) LocalAddr() net.Addr {
	select {
	case <-l.ready:
		return l.sock.LocalAddr()
	default:
		return nil
	}
}

// Start binds the socket and handles datagrams until ctx is done.
func (l *UDPListener) Start(ctx context.Context) error {
	if l.config.Handler == nil {
		return errors.New("udp listener: handler is required")
	}
	addr, err := net.ResolveUDPAddr("udp", l.config.Address)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}
	sock, err := l.config.Sockets.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP address: %w", err)
	}
	defer sock.Close()

	if l.config.RcvBuf > 0 {
		if err := sock.SetReadBuffer(l.config.RcvBuf); err != nil {
			opsf("Warning: failed to set UDP receive buffer size to %d: %v", l.config.RcvBuf, err)
		}
	}
	l.sock = sock
	close(l.ready)
	opsf("UDP listener started on %s", sock.LocalAddr())

	expirer, _ := l.config.Handler.(interface{ Expire() })
	statser, _ := l.config.Handler.(interface{ Stats() ReceiverStats })
	lastLog := time.Now()

	buffer := make([]byte, maxDatagramBytes)
	for {
		if ctx.Err() != nil {
			opsf("UDP listener stopping due to context cancellation")
			return ctx.Err()
		}

		// A short deadline lets the loop notice cancellation and expire
		// stale partial frames while the sender is quiet.
		sock.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		n, from, err := sock.ReadFromUDP(buffer)
		if expirer != nil {
			expirer.Expire()
		}
		if statser != nil && time.Since(lastLog) >= l.config.LogInterval {
			diagf("receiver stats: %+v", statser.Stats())
			lastLog = time.Now()
		}
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			opsf("UDP read error: %v", err)
			continue
		}

		if err := l.config.Handler.HandleDatagram(buffer[:n]); err != nil {
			tracef("datagram from %v: %v", from, err)
		}
	}
}

package vision

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/banshee-data/supplybot/internal/monitoring"
	"github.com/banshee-data/supplybot/internal/navigation"
)

// Read errors other than a closed socket are retried with a doubling delay.
const (
	minReadBackoff = 10 * time.Millisecond
	maxReadBackoff = time.Second
)

// datagramConn is the part of *net.UDPConn the source uses.
type datagramConn interface {
	ReadFromUDP(b []byte) (int, *net.UDPAddr, error)
	LocalAddr() net.Addr
	Close() error
}

// UDPSource receives marker positions from the camera pipeline, one record
// per datagram. It implements navigation.TickSource.
type UDPSource struct {
	conn    datagramConn
	timeout time.Duration
	obs     chan navigation.Observation

	start     time.Time
	closeOnce sync.Once
	done      chan struct{}
}

// UDPOptions configures a UDPSource.
type UDPOptions struct {
	// Addr is the local address to listen on, e.g. ":4210".
	Addr string
	// FrameTimeout is how long Next waits for a datagram before reporting
	// the marker as not detected. Zero waits indefinitely.
	FrameTimeout time.Duration
	// ReadBuffer is the datagram buffer size. Defaults to 2048.
	ReadBuffer int
}

// ListenUDP starts receiving on opts.Addr.
func ListenUDP(opts UDPOptions) (*UDPSource, error) {
	if opts.Addr == "" {
		return nil, errors.New("udp listen address must be set")
	}
	addr, err := net.ResolveUDPAddr("udp", opts.Addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", opts.Addr, err)
	}

	return newUDPSource(conn, opts), nil
}

func newUDPSource(conn datagramConn, opts UDPOptions) *UDPSource {
	bufSize := opts.ReadBuffer
	if bufSize <= 0 {
		bufSize = 2048
	}

	s := &UDPSource{
		conn:    conn,
		timeout: opts.FrameTimeout,
		obs:     make(chan navigation.Observation, 1),
		start:   time.Now(),
		done:    make(chan struct{}),
	}
	go s.readLoop(bufSize)
	return s
}

// nextBackoff returns the delay after d, starting at minReadBackoff.
func nextBackoff(d time.Duration) time.Duration {
	if d <= 0 {
		return minReadBackoff
	}
	return min(2*d, maxReadBackoff)
}

// LocalAddr returns the bound address.
func (s *UDPSource) LocalAddr() net.Addr { return s.conn.LocalAddr() }

func (s *UDPSource) readLoop(bufSize int) {
	defer close(s.obs)
	buf := make([]byte, bufSize)
	var backoff time.Duration
	for {
		n, _, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			backoff = nextBackoff(backoff)
			monitoring.Logf("vision: udp read failed, retrying in %v: %v", backoff, err)
			select {
			case <-s.done:
				return
			case <-time.After(backoff):
			}
			continue
		}
		backoff = 0
		obs, t, hasT, err := ParseObservation(buf[:n])
		if err != nil {
			monitoring.Logf("vision: dropping datagram: %v", err)
			continue
		}
		if hasT {
			obs.At = secondsAfter(s.start, t)
		} else {
			obs.At = time.Now()
		}
		s.offer(obs)
	}
}

// offer keeps only the newest observation so a slow consumer never acts on
// a stale position.
func (s *UDPSource) offer(obs navigation.Observation) {
	for {
		select {
		case s.obs <- obs:
			return
		default:
		}
		select {
		case <-s.obs:
		default:
		}
	}
}

// Next blocks for the next datagram. With a frame timeout it returns an
// undetected observation when none arrives in time. After Close it returns
// io.EOF.
func (s *UDPSource) Next(ctx context.Context) (navigation.Observation, error) {
	var timeout <-chan time.Time
	if s.timeout > 0 {
		t := time.NewTimer(s.timeout)
		defer t.Stop()
		timeout = t.C
	}
	select {
	case obs, ok := <-s.obs:
		if !ok {
			return navigation.Observation{}, io.EOF
		}
		return obs, nil
	case <-timeout:
		return navigation.Observation{Detected: false, At: time.Now()}, nil
	case <-ctx.Done():
		return navigation.Observation{}, ctx.Err()
	}
}

// Close stops the listener.
func (s *UDPSource) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.conn.Close()
	})
	return err
}

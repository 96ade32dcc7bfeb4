// Package serialmux owns the serial link to the robot. Commands go out in
// single writes; lines the firmware prints are fanned out to subscribers.
package serialmux

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"tailscale.com/tsweb"
)

var (
	// ErrWriteFailed is returned when the port accepts fewer bytes than the
	// command holds.
	ErrWriteFailed = errors.New("failed to write to serial port")
	// ErrClosed is returned by SendCommand after Close.
	ErrClosed = errors.New("serial port closed")
)

// subscriberBuffer lines are queued per subscriber before lines are dropped.
const subscriberBuffer = 16

// LinkStats counts traffic over the link since it was opened.
type LinkStats struct {
	Commands     int            `json:"commands"`
	BytesWritten int            `json:"bytes_written"`
	PerCommand   map[string]int `json:"per_command"`
	Lines        int            `json:"lines"`
	Dropped      int            `json:"dropped_lines"`
	LastLine     string         `json:"last_line,omitempty"`
	Subscribers  int            `json:"subscribers"`
	Closed       bool           `json:"closed"`
}

// SerialMux multiplexes one serial port between a single command writer and
// any number of line subscribers.
type SerialMux[T SerialPorter] struct {
	port T

	writeMu sync.Mutex
	term    string

	mu     sync.Mutex
	subs   map[string]chan string
	closed bool
	stats  LinkStats
}

// SerialMuxInterface is the link as seen by the rest of the program.
type SerialMuxInterface interface {
	// Subscribe returns an ID and a channel receiving every line the device
	// prints. The channel is closed by Unsubscribe or Close.
	Subscribe() (string, chan string)
	// Unsubscribe removes and closes a subscriber channel.
	Unsubscribe(string)
	// SendCommand writes the command in one write.
	SendCommand(string) error
	// Monitor reads lines until ctx is done or the port is closed.
	Monitor(context.Context) error
	// Close closes all subscriber channels and the port.
	Close() error

	// AttachAdminRoutes mounts debugging endpoints under /debug/. Manual
	// commands are handed to commands, which validates and paces them.
	AttachAdminRoutes(mux *http.ServeMux, commands http.Handler)
}

// NewSerialMux wraps port. The mux owns the port from here on.
func NewSerialMux[T SerialPorter](port T) *SerialMux[T] {
	return &SerialMux[T]{
		port:  port,
		subs:  make(map[string]chan string),
		stats: LinkStats{PerCommand: make(map[string]int)},
	}
}

// SetTerminator sets the suffix appended to commands. Empty sends commands
// byte for byte.
func (s *SerialMux[T]) SetTerminator(term string) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.term = term
}

func (s *SerialMux[T]) Subscribe() (string, chan string) {
	id := uuid.NewString()
	ch := make(chan string, subscriberBuffer)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[id] = ch
	return id, ch
}

func (s *SerialMux[T]) Unsubscribe(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.subs[id]; ok {
		delete(s.subs, id)
		close(ch)
	}
}

func (s *SerialMux[T]) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *SerialMux[T]) SendCommand(command string) error {
	if s.isClosed() {
		return ErrClosed
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	payload := command
	if s.term != "" && !strings.HasSuffix(payload, s.term) {
		payload += s.term
	}
	n, err := s.port.Write([]byte(payload))

	s.mu.Lock()
	s.stats.BytesWritten += n
	if err == nil && n == len(payload) {
		s.stats.Commands++
		s.stats.PerCommand[strings.TrimSuffix(payload, s.term)]++
	}
	s.mu.Unlock()

	if err != nil {
		return err
	}
	if n != len(payload) {
		return fmt.Errorf("%w: wrote %d of %d bytes", ErrWriteFailed, n, len(payload))
	}
	return nil
}

// broadcast hands line to every subscriber that has room for it.
func (s *SerialMux[T]) broadcast(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.Lines++
	s.stats.LastLine = line
	for _, ch := range s.subs {
		select {
		case ch <- line:
		default:
			s.stats.Dropped++
		}
	}
}

// Monitor scans the port and broadcasts each line. It returns ctx.Err() on
// cancellation and nil once the port is closed or reaches EOF.
func (s *SerialMux[T]) Monitor(ctx context.Context) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)

	// Scan blocks in Read, so it runs apart from the select below.
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(s.port)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				var err error
				select {
				case err = <-scanErr:
				default:
				}
				if err == nil || s.isClosed() {
					return nil
				}
				return err
			}
			if s.isClosed() {
				return nil
			}
			s.broadcast(line)
		}
	}
}

// Close closes all subscriber channels and the port. Calling Close more than
// once is a no-op.
func (s *SerialMux[T]) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
	s.mu.Unlock()
	return s.port.Close()
}

// Stats returns a copy of the link counters.
func (s *SerialMux[T]) Stats() LinkStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	st.PerCommand = make(map[string]int, len(s.stats.PerCommand))
	for k, v := range s.stats.PerCommand {
		st.PerCommand[k] = v
	}
	st.Subscribers = len(s.subs)
	st.Closed = s.closed
	return st
}

// AttachAdminRoutes mounts the debug routes. send-command-api never writes
// to the port itself: it forwards to commands, and answers 503 without one.
func (s *SerialMux[T]) AttachAdminRoutes(mux *http.ServeMux, commands http.Handler) {
	debug := tsweb.Debugger(mux)

	debug.HandleSilentFunc("send-command-api", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if commands == nil {
			http.Error(w, "Manual commands are disabled", http.StatusServiceUnavailable)
			return
		}
		commands.ServeHTTP(w, r)
	})

	debug.HandleSilentFunc("link-stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(s.Stats())
	})

	// Server-Sent Events stream of lines printed by the device.
	debug.HandleSilentFunc("tail", func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")

		id, lines := s.Subscribe()
		defer s.Unsubscribe(id)
		io.WriteString(w, ": ping\n\n")
		flusher.Flush()

		for {
			select {
			case line, ok := <-lines:
				if !ok {
					return
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", line); err != nil {
					return
				}
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	})
}

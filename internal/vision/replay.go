package vision

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/banshee-data/supplybot/internal/navigation"
	"github.com/banshee-data/supplybot/internal/timeutil"
)

// ReplaySource replays recorded marker positions, one line per tick. Blank
// lines and lines starting with # are skipped. It implements
// navigation.TickSource.
type ReplaySource struct {
	scan   *bufio.Scanner
	closer io.Closer
	clock  timeutil.Clock
	period time.Duration

	start time.Time
	line  int
	n     int
}

// NewReplaySource reads observations from r and paces them at tickRateHz
// on clock. A non-positive rate replays as fast as the consumer reads.
func NewReplaySource(r io.Reader, clock timeutil.Clock, tickRateHz float64) *ReplaySource {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	var period time.Duration
	if tickRateHz > 0 {
		period = time.Duration(float64(time.Second) / tickRateHz)
	}
	return &ReplaySource{
		scan:   bufio.NewScanner(r),
		clock:  clock,
		period: period,
	}
}

// OpenReplay opens a replay file. Close releases it.
func OpenReplay(path string, clock timeutil.Clock, tickRateHz float64) (*ReplaySource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open replay: %w", err)
	}
	s := NewReplaySource(f, clock, tickRateHz)
	s.closer = f
	return s, nil
}

// Next returns the next observation, or io.EOF after the last line.
func (s *ReplaySource) Next(ctx context.Context) (navigation.Observation, error) {
	if err := ctx.Err(); err != nil {
		return navigation.Observation{}, err
	}
	for s.scan.Scan() {
		s.line++
		text := strings.TrimSpace(s.scan.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		obs, t, hasT, err := ParseObservation([]byte(text))
		if err != nil {
			return navigation.Observation{}, fmt.Errorf("replay line %d: %w", s.line, err)
		}

		if s.n == 0 {
			s.start = s.clock.Now()
		} else if s.period > 0 {
			s.clock.Sleep(s.period)
		}
		s.n++

		if hasT {
			obs.At = secondsAfter(s.start, t)
		} else {
			obs.At = s.clock.Now()
		}
		return obs, nil
	}
	if err := s.scan.Err(); err != nil {
		return navigation.Observation{}, err
	}
	return navigation.Observation{}, io.EOF
}

// Close releases the underlying file, if any.
func (s *ReplaySource) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

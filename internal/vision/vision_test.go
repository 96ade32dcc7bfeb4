package vision

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/supplybot/internal/geometry"
	"github.com/banshee-data/supplybot/internal/monitoring"
	"github.com/banshee-data/supplybot/internal/navigation"
	"github.com/banshee-data/supplybot/internal/timeutil"
	"github.com/banshee-data/supplybot/internal/trajectory"
)

const fixture = `{
  "origin": [320, 240],
  "priority": [480, 250],
  "secondary": [[330, 90], [430, 360]],
  "waypoints": [[480, 240], [320, 80], [160, 240], [433, 353]],
  "marker": [320, 400]
}`

func TestLoadDetections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "arena.json")
	require.NoError(t, os.WriteFile(path, []byte(fixture), 0o644))

	d, err := LoadDetections(path)
	require.NoError(t, err)
	assert.Equal(t, geometry.Pt(320, 240), d.Origin)
	assert.Equal(t, geometry.Pt(480, 250), d.Priority)
	assert.Equal(t, []geometry.Point{geometry.Pt(330, 90), geometry.Pt(430, 360)}, d.Secondary)
	assert.Len(t, d.Waypoints, 4)
	assert.Equal(t, geometry.Pt(320, 400), d.Marker)
	require.NoError(t, d.Validate())

	_, _, err = trajectory.Plan(d)
	assert.NoError(t, err)
}

func TestLoadDetections_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadDetections(filepath.Join(dir, "arena.txt"))
	assert.ErrorContains(t, err, ".json extension")

	_, err = LoadDetections(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)

	_, err = ParseDetections([]byte(`{"origin": [1, 2]}`))
	assert.ErrorIs(t, err, trajectory.ErrMissingDetection)
	assert.ErrorContains(t, err, "priority, marker")

	_, err = ParseDetections([]byte(`not json`))
	assert.Error(t, err)
}

func TestParseObservation(t *testing.T) {
	tests := []struct {
		in       string
		detected bool
		marker   geometry.Point
		t        float64
		hasT     bool
	}{
		{"12.5,40", true, geometry.Pt(12.5, 40), 0, false},
		{" 1 , 3 , 4 ", true, geometry.Pt(3, 4), 0, false},
		{"false,3,4", false, geometry.Pt(3, 4), 0, false},
		{"0.25,yes,5,6", true, geometry.Pt(5, 6), 0.25, true},
		{"1.5,0,5,6\n", false, geometry.Pt(5, 6), 1.5, true},
	}
	for _, tt := range tests {
		obs, ts, hasT, err := ParseObservation([]byte(tt.in))
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.detected, obs.Detected, tt.in)
		assert.Equal(t, tt.marker, obs.Marker, tt.in)
		assert.Equal(t, tt.t, ts, tt.in)
		assert.Equal(t, tt.hasT, hasT, tt.in)
	}

	for _, bad := range []string{"", "1", "a,b", "1,2,3,4,5", "maybe,1,2", "x,1,1,1"} {
		_, _, _, err := ParseObservation([]byte(bad))
		assert.Error(t, err, bad)
	}
}

func TestReplaySource(t *testing.T) {
	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	clock := timeutil.NewMockClock(start)
	in := "# x,y\n10,20\n\n0,11,21\n2.0,1,12,22\n"
	src := NewReplaySource(strings.NewReader(in), clock, 10)
	ctx := context.Background()

	obs, err := src.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, navigation.Observation{Marker: geometry.Pt(10, 20), Detected: true, At: start}, obs)

	obs, err = src.Next(ctx)
	require.NoError(t, err)
	assert.False(t, obs.Detected)
	assert.Equal(t, start.Add(100*time.Millisecond), obs.At)

	obs, err = src.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, start.Add(2*time.Second), obs.At, "explicit timestamps are relative to the first line")

	_, err = src.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)

	assert.Equal(t, []time.Duration{100 * time.Millisecond, 100 * time.Millisecond}, clock.Sleeps())
	assert.NoError(t, src.Close())
}

func TestReplaySource_BadLine(t *testing.T) {
	src := NewReplaySource(strings.NewReader("1,2\nnope\n"), timeutil.NewMockClock(time.Time{}), 0)
	_, err := src.Next(context.Background())
	require.NoError(t, err)
	_, err = src.Next(context.Background())
	assert.ErrorContains(t, err, "replay line 2")
}

func TestReplaySource_Canceled(t *testing.T) {
	src := NewReplaySource(strings.NewReader("1,2\n"), nil, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := src.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOpenReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "replay.csv")
	require.NoError(t, os.WriteFile(path, []byte("1,2\n"), 0o644))

	src, err := OpenReplay(path, timeutil.NewMockClock(time.Time{}), 30)
	require.NoError(t, err)
	defer src.Close()

	obs, err := src.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, geometry.Pt(1, 2), obs.Marker)

	_, err = OpenReplay(filepath.Join(t.TempDir(), "missing.csv"), nil, 30)
	assert.Error(t, err)
}

func sendUDP(t *testing.T, addr net.Addr, payload string) {
	t.Helper()
	conn, err := net.Dial("udp", addr.String())
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write([]byte(payload))
	require.NoError(t, err)
}

func TestUDPSource(t *testing.T) {
	src, err := ListenUDP(UDPOptions{Addr: "127.0.0.1:0"})
	require.NoError(t, err)
	defer src.Close()

	sendUDP(t, src.LocalAddr(), "garbage")
	sendUDP(t, src.LocalAddr(), "1,15,25")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	obs, err := src.Next(ctx)
	require.NoError(t, err)
	assert.True(t, obs.Detected)
	assert.Equal(t, geometry.Pt(15, 25), obs.Marker)
	assert.False(t, obs.At.IsZero())
}

func TestUDPSource_FrameTimeout(t *testing.T) {
	src, err := ListenUDP(UDPOptions{Addr: "127.0.0.1:0", FrameTimeout: 10 * time.Millisecond})
	require.NoError(t, err)
	defer src.Close()

	obs, err := src.Next(context.Background())
	require.NoError(t, err)
	assert.False(t, obs.Detected)
}

func TestUDPSource_CloseAndCancel(t *testing.T) {
	src, err := ListenUDP(UDPOptions{Addr: "127.0.0.1:0"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = src.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	require.NoError(t, src.Close())
	require.NoError(t, src.Close())

	ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = src.Next(ctx)
	assert.True(t, errors.Is(err, io.EOF), "got %v", err)
}

func TestListenUDP_Errors(t *testing.T) {
	_, err := ListenUDP(UDPOptions{})
	assert.Error(t, err)
	_, err = ListenUDP(UDPOptions{Addr: "not-an-address"})
	assert.Error(t, err)
}

// flakyConn fails the first failures reads, then delivers one datagram and
// blocks until closed.
type flakyConn struct {
	mu       sync.Mutex
	failures int
	reads    []time.Time
	sent     bool
	closed   chan struct{}
	once     sync.Once
}

func (c *flakyConn) ReadFromUDP(b []byte) (int, *net.UDPAddr, error) {
	c.mu.Lock()
	c.reads = append(c.reads, time.Now())
	if c.failures > 0 {
		c.failures--
		c.mu.Unlock()
		return 0, nil, errors.New("connection refused")
	}
	if !c.sent {
		c.sent = true
		c.mu.Unlock()
		return copy(b, "1,3,4"), nil, nil
	}
	c.mu.Unlock()
	<-c.closed
	return 0, nil, net.ErrClosed
}

func (c *flakyConn) LocalAddr() net.Addr { return &net.UDPAddr{} }

func (c *flakyConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func TestNextBackoff(t *testing.T) {
	var got []time.Duration
	d := time.Duration(0)
	for range 9 {
		d = nextBackoff(d)
		got = append(got, d)
	}
	assert.Equal(t, []time.Duration{
		10 * time.Millisecond, 20 * time.Millisecond, 40 * time.Millisecond,
		80 * time.Millisecond, 160 * time.Millisecond, 320 * time.Millisecond,
		640 * time.Millisecond, time.Second, time.Second,
	}, got)
}

func TestUDPSource_ReadErrorsBackOff(t *testing.T) {
	var mu sync.Mutex
	var logged []string
	prev := monitoring.Logf
	monitoring.Logf = func(format string, args ...any) {
		mu.Lock()
		defer mu.Unlock()
		logged = append(logged, fmt.Sprintf(format, args...))
	}
	t.Cleanup(func() { monitoring.Logf = prev })

	conn := &flakyConn{failures: 3, closed: make(chan struct{})}
	src := newUDPSource(conn, UDPOptions{})
	defer src.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	obs, err := src.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, geometry.Pt(3, 4), obs.Marker)

	conn.mu.Lock()
	reads := append([]time.Time(nil), conn.reads...)
	conn.mu.Unlock()
	require.GreaterOrEqual(t, len(reads), 4)
	// 10ms + 20ms + 40ms between the failed reads and the good one
	assert.GreaterOrEqual(t, reads[3].Sub(reads[0]), 70*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, logged, 3)
	assert.Contains(t, logged[0], "udp read failed, retrying in 10ms")
	assert.Contains(t, logged[2], "connection refused")
}

func TestUDPSource_CloseDuringBackoff(t *testing.T) {
	prev := monitoring.Logf
	monitoring.Logf = func(string, ...any) {}
	t.Cleanup(func() { monitoring.Logf = prev })

	conn := &flakyConn{failures: 1000, closed: make(chan struct{})}
	src := newUDPSource(conn, UDPOptions{})
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, src.Close())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := src.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)

	conn.mu.Lock()
	defer conn.mu.Unlock()
	assert.Less(t, len(conn.reads), 10, "reads are spaced out, not spinning")
}

package navigation

import (
	"context"
	"errors"
	"io"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/supplybot/internal/geometry"
	"github.com/banshee-data/supplybot/internal/serialmux"
	"github.com/banshee-data/supplybot/internal/timeutil"
	"github.com/banshee-data/supplybot/internal/trajectory"
)

// sliceSource replays a fixed list of observations and then reports io.EOF.
type sliceSource struct {
	obs []Observation
	i   int
}

func (s *sliceSource) Next(ctx context.Context) (Observation, error) {
	if err := ctx.Err(); err != nil {
		return Observation{}, err
	}
	if s.i >= len(s.obs) {
		return Observation{}, io.EOF
	}
	o := s.obs[s.i]
	s.i++
	return o, nil
}

type tickLog struct {
	mu    sync.Mutex
	ticks []Tick
}

func (l *tickLog) RecordTick(t Tick) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ticks = append(l.ticks, t)
}

var arenaOrigin = geometry.Pt(0, 0)

func arenaTrajectory(t *testing.T) *trajectory.Trajectory {
	t.Helper()
	_, traj, err := trajectory.Plan(trajectory.Detections{
		Origin:    arenaOrigin,
		Marker:    geometry.Pt(0, -10),
		Priority:  geometry.Pt(19, 1),
		Secondary: []geometry.Point{geometry.Pt(1, 19), geometry.Pt(13, -13)},
		Waypoints: []geometry.Point{
			geometry.Pt(20, 0),
			geometry.Pt(0, 20),
			geometry.Pt(-20, 0),
			geometry.Pt(14, -14),
			geometry.Pt(-14, 14),
		},
	})
	require.NoError(t, err)
	return traj
}

// rotated returns p turned by deg around the arena origin.
func rotated(p geometry.Point, deg float64) geometry.Point {
	s, c := math.Sincos(deg * math.Pi / 180)
	return geometry.Pt(p.X*c-p.Y*s, p.X*s+p.Y*c)
}

func seen(p geometry.Point) Observation {
	return Observation{Marker: p, Detected: true}
}

type sessionFixture struct {
	port  *serialmux.TestableSerialPort
	clock *timeutil.MockClock
	log   *tickLog
	sess  *Session
}

func newSessionFixture(t *testing.T, cfg Config, obs []Observation) *sessionFixture {
	t.Helper()
	f := &sessionFixture{
		port:  serialmux.NewTestableSerialPort(),
		clock: timeutil.NewMockClock(epoch),
		log:   &tickLog{},
	}
	sess, err := NewSession(SessionConfig{
		Navigator:  NewNavigator(cfg),
		Trajectory: arenaTrajectory(t),
		Origin:     arenaOrigin,
		Source:     &sliceSource{obs: obs},
		Actuator:   NewChannel(serialmux.NewSerialMux(f.port), f.clock, DefaultPace),
		Clock:      f.clock,
		Recorders:  []Recorder{f.log},
	})
	require.NoError(t, err)
	f.sess = sess
	return f
}

func quickConfig() Config {
	return Config{
		ResetThresholdDeg: 3,
		CoinThresholdDeg:  10,
		TickRateHz:        30,
	}
}

func TestSession_Run(t *testing.T) {
	traj := arenaTrajectory(t)
	obs := []Observation{
		seen(rotated(traj.At(0).Target(), 60)),
		seen(rotated(traj.At(0).Target(), 5)),
		seen(rotated(traj.At(1).Target(), -5)),
		seen(rotated(traj.At(2).Target(), 5)),
		// settle tick
		{},
	}
	f := newSessionFixture(t, quickConfig(), obs)

	require.NoError(t, f.sess.Run(context.Background()))

	assert.Equal(t, "cscscsl", string(f.port.GetWrittenData()))
	assert.Len(t, f.clock.Sleeps(), 7)
	for _, d := range f.clock.Sleeps() {
		assert.Equal(t, 100*time.Millisecond, d)
	}
	assert.True(t, f.port.IsClosed())

	require.Len(t, f.log.ticks, 5)
	first := f.log.ticks[0]
	assert.Equal(t, 0, first.Seq)
	assert.Equal(t, 0, first.Target)
	assert.InDelta(t, 60, first.Bearing, 0.01)
	assert.Empty(t, first.Commands)
	assert.Equal(t, epoch.Add(100*time.Millisecond), first.At, "zero timestamps fall back to the clock")

	assert.Equal(t, []Command{CommandStop, CommandMove}, f.log.ticks[1].Commands)
	assert.Equal(t, 1, f.log.ticks[2].Target)
	assert.Equal(t, []Command{CommandStop, CommandLongBeep}, f.log.ticks[3].Commands)
	assert.Equal(t, StateDone, f.log.ticks[3].Snapshot.State)
	assert.Equal(t, StateFinished, f.log.ticks[4].Snapshot.State)
	assert.Zero(t, f.log.ticks[4].Bearing, "no bearing once DONE")
}

func TestSession_DefaultThresholdsNeverStop(t *testing.T) {
	traj := arenaTrajectory(t)
	obs := make([]Observation, 0, 50)
	for i := 0; i < 50; i++ {
		obs = append(obs, seen(rotated(traj.At(0).Target(), 4)))
	}
	f := newSessionFixture(t, DefaultConfig(), obs)

	err := f.sess.Run(context.Background())
	require.ErrorIs(t, err, ErrSourceExhausted)

	written := string(f.port.GetWrittenData())
	assert.Equal(t, "c", written[:1])
	assert.NotContains(t, written, "s")
	assert.Len(t, written, 51)
	assert.True(t, f.port.IsClosed())
}

func TestSession_DropoutKeepsLastMarker(t *testing.T) {
	traj := arenaTrajectory(t)
	near := rotated(traj.At(0).Target(), 45)
	obs := []Observation{
		{Detected: false, Marker: geometry.Pt(999, 999)},
		seen(near),
		{Detected: false},
	}
	f := newSessionFixture(t, quickConfig(), obs)

	err := f.sess.Run(context.Background())
	require.ErrorIs(t, err, ErrSourceExhausted)
	require.Len(t, f.log.ticks, 3)

	// before any detection the robot is assumed to be home
	assert.Equal(t, traj.At(3).Target(), f.log.ticks[0].Marker)
	assert.InDelta(t, 90, f.log.ticks[0].Bearing, 0.01)
	assert.False(t, f.log.ticks[0].Detected)

	assert.Equal(t, near, f.log.ticks[2].Marker)
	assert.InDelta(t, 45, f.log.ticks[2].Bearing, 0.01)
}

func TestSession_DegenerateGeometry(t *testing.T) {
	f := newSessionFixture(t, quickConfig(), []Observation{seen(arenaOrigin)})

	err := f.sess.Run(context.Background())
	assert.ErrorIs(t, err, geometry.ErrDegenerateGeometry)
	assert.True(t, f.port.IsClosed())
}

func TestSession_WriteErrorIsFatal(t *testing.T) {
	traj := arenaTrajectory(t)
	f := newSessionFixture(t, quickConfig(), []Observation{seen(rotated(traj.At(0).Target(), 5))})
	boom := errors.New("cable pulled")
	// the start command goes through, the STOP fails
	f.sess.actuator = &failingActuator{Actuator: f.sess.actuator, failAt: 2, err: boom}

	err := f.sess.Run(context.Background())
	assert.ErrorIs(t, err, ErrChannelWrite)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "c", string(f.port.GetWrittenData()))
	assert.True(t, f.port.IsClosed())
	assert.Empty(t, f.log.ticks, "failed tick is not recorded")
}

// failingActuator fails the failAt-th Send (1-based).
type failingActuator struct {
	Actuator
	failAt int
	err    error
	n      int
}

func (a *failingActuator) Send(cmd Command) error {
	a.n++
	if a.n == a.failAt {
		return errors.Join(ErrChannelWrite, a.err)
	}
	return a.Actuator.Send(cmd)
}

func TestSession_ContextCanceled(t *testing.T) {
	f := newSessionFixture(t, quickConfig(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := f.sess.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "c", string(f.port.GetWrittenData()))
	assert.True(t, f.port.IsClosed())
}

func TestNewSession_Validation(t *testing.T) {
	traj := arenaTrajectory(t)
	src := &sliceSource{}
	act := NewChannel(serialmux.NewSerialMux(serialmux.NewTestableSerialPort()), nil, 0)
	nav := NewNavigator(DefaultConfig())

	_, err := NewSession(SessionConfig{Trajectory: traj, Source: src, Actuator: act})
	assert.Error(t, err)
	_, err = NewSession(SessionConfig{Navigator: nav, Source: src, Actuator: act})
	assert.Error(t, err)
	_, err = NewSession(SessionConfig{Navigator: nav, Trajectory: traj, Actuator: act})
	assert.Error(t, err)
	_, err = NewSession(SessionConfig{Navigator: nav, Trajectory: traj, Source: src})
	assert.Error(t, err)

	s, err := NewSession(SessionConfig{Navigator: nav, Trajectory: traj, Source: src, Actuator: act})
	require.NoError(t, err)
	assert.Equal(t, traj.At(3).Target(), s.marker)
}

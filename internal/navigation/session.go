package navigation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/banshee-data/supplybot/internal/geometry"
	"github.com/banshee-data/supplybot/internal/monitoring"
	"github.com/banshee-data/supplybot/internal/timeutil"
	"github.com/banshee-data/supplybot/internal/trajectory"
)

// ErrSourceExhausted is returned when the tick source ends before the run
// reaches FINISHED.
var ErrSourceExhausted = errors.New("tick source exhausted")

// Observation is one reading of the robot's marker from the vision
// collaborator. Detected is false when the marker was not found in the
// frame, in which case Marker is ignored.
type Observation struct {
	Marker   geometry.Point
	Detected bool
	At       time.Time
}

// TickSource supplies one observation per control tick. Next blocks until
// the next observation is available. It returns io.EOF when no more
// observations will arrive.
type TickSource interface {
	Next(ctx context.Context) (Observation, error)
}

// Tick is the record of one control iteration.
type Tick struct {
	Seq      int
	At       time.Time
	Marker   geometry.Point
	Detected bool
	Target   int
	Bearing  float64
	Snapshot Snapshot
	Commands []Command
}

// Recorder observes ticks and commands. Implementations must not block the
// control loop for long and handle their own errors.
type Recorder interface {
	RecordTick(Tick)
}

// SessionConfig wires a Session.
type SessionConfig struct {
	Navigator  *Navigator
	Trajectory *trajectory.Trajectory
	Origin     geometry.Point
	Source     TickSource
	Actuator   Actuator
	Clock      timeutil.Clock
	Recorders  []Recorder
}

// Session runs one trajectory from the start command to FINISHED.
type Session struct {
	nav       *Navigator
	traj      *trajectory.Trajectory
	origin    geometry.Point
	source    TickSource
	actuator  Actuator
	clock     timeutil.Clock
	recorders []Recorder

	marker geometry.Point
	seq    int
}

// NewSession validates cfg and returns a session ready to Run.
func NewSession(cfg SessionConfig) (*Session, error) {
	switch {
	case cfg.Navigator == nil:
		return nil, errors.New("session: navigator is required")
	case cfg.Trajectory == nil:
		return nil, errors.New("session: trajectory is required")
	case cfg.Source == nil:
		return nil, errors.New("session: tick source is required")
	case cfg.Actuator == nil:
		return nil, errors.New("session: actuator is required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Session{
		nav:       cfg.Navigator,
		traj:      cfg.Trajectory,
		origin:    cfg.Origin,
		source:    cfg.Source,
		actuator:  cfg.Actuator,
		clock:     clock,
		recorders: cfg.Recorders,
		// the robot starts on the home node
		marker: cfg.Trajectory.At(trajectory.Stops - 1).Target(),
	}, nil
}

// Run sends the start command and then steps the navigator once per
// observation until FINISHED. The actuator is closed on every return path.
// Any failure is fatal to the session.
func (s *Session) Run(ctx context.Context) (err error) {
	defer func() {
		if cerr := s.actuator.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close actuator: %w", cerr)
		}
	}()

	if err := s.actuator.Send(CommandMove); err != nil {
		return err
	}

	for s.nav.State() != StateFinished {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.tick(ctx); err != nil {
			return err
		}
	}
	monitoring.Logf("program finished after %d ticks", s.seq)
	return nil
}

func (s *Session) tick(ctx context.Context) error {
	obs, err := s.source.Next(ctx)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w in state %v at stop %d", ErrSourceExhausted, s.nav.State(), s.nav.Index())
		}
		return err
	}
	if obs.Detected {
		s.marker = obs.Marker
	}
	at := obs.At
	if at.IsZero() {
		at = s.clock.Now()
	}

	target := s.nav.Index()
	var bearing float64
	if s.nav.NeedsBearing() {
		bearing, err = geometry.Angle(s.origin, s.traj.At(target).Target(), s.marker)
		if err != nil {
			return fmt.Errorf("tick %d: %w", s.seq, err)
		}
	}

	cmds := s.nav.Step(bearing)
	for _, cmd := range cmds {
		if err := s.actuator.Send(cmd); err != nil {
			return err
		}
	}

	t := Tick{
		Seq:      s.seq,
		At:       at,
		Marker:   s.marker,
		Detected: obs.Detected,
		Target:   target,
		Bearing:  bearing,
		Snapshot: s.nav.Snapshot(),
		Commands: cmds,
	}
	for _, r := range s.recorders {
		r.RecordTick(t)
	}
	s.seq++
	return nil
}

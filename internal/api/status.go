package api

import (
	"errors"
	"sync"
	"time"

	"github.com/banshee-data/supplybot/internal/geometry"
	"github.com/banshee-data/supplybot/internal/navigation"
	"github.com/banshee-data/supplybot/internal/trajectory"
)

// ErrRunInProgress is returned by WhileIdle while a session owns the
// actuator.
var ErrRunInProgress = errors.New("run in progress")

// Status is the live view of the current run.
type Status struct {
	RunID    string               `json:"run_id"`
	Running  bool                 `json:"running"`
	Snapshot *navigation.Snapshot `json:"navigator,omitempty"`
	Marker   *geometry.Point      `json:"marker,omitempty"`
	Detected bool                 `json:"marker_detected"`
	Commands []string             `json:"last_commands,omitempty"`
	Sent     int                  `json:"commands_sent"`
	Updated  time.Time            `json:"updated"`
	Error    string               `json:"error,omitempty"`
}

// StatusStore holds the latest tick of a session for the HTTP API. It
// implements navigation.Recorder.
type StatusStore struct {
	mu     sync.RWMutex
	status Status
	traj   *trajectory.Trajectory
}

// NewStatusStore returns a store for runID.
func NewStatusStore(runID string) *StatusStore {
	return &StatusStore{status: Status{RunID: runID}}
}

// SetTrajectory publishes the planned trajectory.
func (s *StatusStore) SetTrajectory(t *trajectory.Trajectory) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.traj = t
}

// Trajectory returns the planned trajectory, or nil before planning.
func (s *StatusStore) Trajectory() *trajectory.Trajectory {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.traj
}

// Start marks the run as running.
func (s *StatusStore) Start(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.Running = true
	s.status.Updated = at
}

// WhileIdle runs fn only if no run is active. Start blocks until fn returns,
// so a manual command can never interleave with a session.
func (s *StatusStore) WhileIdle(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.Running {
		return ErrRunInProgress
	}
	return fn()
}

// Finish marks the run as stopped, recording err if the run failed.
func (s *StatusStore) Finish(at time.Time, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.Running = false
	s.status.Updated = at
	if err != nil {
		s.status.Error = err.Error()
	}
}

// RecordTick publishes t.
func (s *StatusStore) RecordTick(t navigation.Tick) {
	snap := t.Snapshot
	marker := t.Marker
	cmds := make([]string, 0, len(t.Commands))
	for _, c := range t.Commands {
		cmds = append(cmds, c.String())
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.Snapshot = &snap
	s.status.Marker = &marker
	s.status.Detected = t.Detected
	s.status.Sent += len(t.Commands)
	if len(cmds) > 0 {
		s.status.Commands = cmds
	}
	s.status.Updated = t.At
}

// Status returns a copy of the current status.
func (s *StatusStore) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.status
	st.Commands = append([]string(nil), s.status.Commands...)
	return st
}

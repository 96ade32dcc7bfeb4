package db

import (
	"sync"
	"time"

	"github.com/banshee-data/supplybot/internal/monitoring"
	"github.com/banshee-data/supplybot/internal/navigation"
)

// RunRecorder writes every command of a session to the run log. It
// implements navigation.Recorder. Write failures are logged and the first
// one is kept for Err; they never stop the robot.
type RunRecorder struct {
	db    *DB
	runID string

	mu  sync.Mutex
	seq int
	err error
}

// NewRunRecorder returns a recorder for runID.
func NewRunRecorder(db *DB, runID string) *RunRecorder {
	return &RunRecorder{db: db, runID: runID}
}

// RecordStart logs the start command sent before the first tick.
func (r *RunRecorder) RecordStart(at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record(CommandRecord{
		Tick:    -1,
		Command: string(rune(navigation.CommandMove)),
		State:   navigation.StateApproaching.String(),
		At:      at,
	})
}

// RecordTick logs the commands emitted by one tick.
func (r *RunRecorder) RecordTick(t navigation.Tick) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range t.Commands {
		r.record(CommandRecord{
			Tick:    t.Seq,
			Command: string(rune(c)),
			State:   t.Snapshot.State.String(),
			Index:   t.Target,
			Bearing: t.Bearing,
			At:      t.At,
		})
	}
}

func (r *RunRecorder) record(c CommandRecord) {
	c.Seq = r.seq
	r.seq++
	if err := r.db.RecordCommand(r.runID, c); err != nil {
		monitoring.Warnf("run %s: %v", r.runID, err)
		if r.err == nil {
			r.err = err
		}
	}
}

// Err returns the first write failure, if any.
func (r *RunRecorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

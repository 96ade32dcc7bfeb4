package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/supplybot/internal/trajectory"
)

// Run statuses.
const (
	RunStatusRunning  = "running"
	RunStatusFinished = "finished"
	RunStatusFailed   = "failed"
)

// ErrRunNotFound is returned when a run ID is not in the log.
var ErrRunNotFound = errors.New("run not found")

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// Run is one row of the runs table.
type Run struct {
	ID             string     `json:"run_id"`
	Started        time.Time  `json:"started"`
	Finished       *time.Time `json:"finished,omitempty"`
	Status         string     `json:"status"`
	Error          string     `json:"error,omitempty"`
	ConfigJSON     string     `json:"config,omitempty"`
	TrajectoryJSON string     `json:"trajectory,omitempty"`
}

// StartRun inserts a running run. configJSON is stored verbatim.
func (db *DB) StartRun(id string, started time.Time, configJSON string) error {
	_, err := db.Exec(
		`INSERT INTO runs (run_id, started_unix_nano, status, config_json) VALUES (?, ?, ?, ?)`,
		id, started.UnixNano(), RunStatusRunning, configJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to start run %s: %w", id, err)
	}
	return nil
}

// SetRunTrajectory stores the planned trajectory of a run.
func (db *DB) SetRunTrajectory(id, trajectoryJSON string) error {
	res, err := db.Exec(`UPDATE runs SET trajectory_json = ? WHERE run_id = ?`, trajectoryJSON, id)
	if err != nil {
		return fmt.Errorf("failed to store trajectory for run %s: %w", id, err)
	}
	return expectOneRow(res, id)
}

// FinishRun closes a run. A non-nil runErr marks it failed.
func (db *DB) FinishRun(id string, finished time.Time, runErr error) error {
	status, msg := RunStatusFinished, ""
	if runErr != nil {
		status, msg = RunStatusFailed, runErr.Error()
	}
	res, err := db.Exec(
		`UPDATE runs SET finished_unix_nano = ?, status = ?, error = ? WHERE run_id = ?`,
		finished.UnixNano(), status, msg, id,
	)
	if err != nil {
		return fmt.Errorf("failed to finish run %s: %w", id, err)
	}
	return expectOneRow(res, id)
}

func expectOneRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return nil
}

const runColumns = `run_id, started_unix_nano, finished_unix_nano, status,
	COALESCE(error, ''), COALESCE(config_json, ''), COALESCE(trajectory_json, '')`

func scanRun(s interface{ Scan(...any) error }) (Run, error) {
	var (
		r        Run
		started  int64
		finished sql.NullInt64
	)
	if err := s.Scan(&r.ID, &started, &finished, &r.Status, &r.Error, &r.ConfigJSON, &r.TrajectoryJSON); err != nil {
		return Run{}, err
	}
	r.Started = time.Unix(0, started).UTC()
	if finished.Valid {
		f := time.Unix(0, finished.Int64).UTC()
		r.Finished = &f
	}
	return r, nil
}

// GetRun returns one run.
func (db *DB) GetRun(id string) (Run, error) {
	r, err := scanRun(db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE run_id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return r, err
}

// Runs returns up to limit runs, newest first.
func (db *DB) Runs(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`SELECT `+runColumns+` FROM runs ORDER BY started_unix_nano DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// RecordReport stores the relief aid rows of a run in order.
func (db *DB) RecordReport(runID string, rows []trajectory.ReportRow) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for i, r := range rows {
		if _, err := tx.Exec(
			`INSERT INTO report_rows (run_id, row_idx, node, category) VALUES (?, ?, ?, ?)`,
			runID, i, r.Node, r.Category,
		); err != nil {
			return fmt.Errorf("failed to record report row %d: %w", i, err)
		}
	}
	return tx.Commit()
}

// ReportRows returns the relief aid rows of a run in order.
func (db *DB) ReportRows(runID string) ([]trajectory.ReportRow, error) {
	rows, err := db.Query(`SELECT node, category FROM report_rows WHERE run_id = ? ORDER BY row_idx`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []trajectory.ReportRow
	for rows.Next() {
		var r trajectory.ReportRow
		if err := rows.Scan(&r.Node, &r.Category); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CommandRecord is one command written to the robot. Tick is -1 for the
// start command sent before the first tick.
type CommandRecord struct {
	Seq     int       `json:"seq"`
	Tick    int       `json:"tick"`
	Command string    `json:"command"`
	State   string    `json:"state"`
	Index   int       `json:"target_index"`
	Bearing float64   `json:"bearing_deg"`
	At      time.Time `json:"at"`
}

// RecordCommand appends one command to the run log.
func (db *DB) RecordCommand(runID string, c CommandRecord) error {
	_, err := db.Exec(
		`INSERT INTO commands (run_id, seq, tick, command, state, target_index, bearing_deg, at_unix_nano)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, c.Seq, c.Tick, c.Command, c.State, c.Index, c.Bearing, c.At.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to record command %d: %w", c.Seq, err)
	}
	return nil
}

// Commands returns the commands of a run in send order.
func (db *DB) Commands(runID string) ([]CommandRecord, error) {
	rows, err := db.Query(
		`SELECT seq, tick, command, state, target_index, bearing_deg, at_unix_nano
		FROM commands WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CommandRecord
	for rows.Next() {
		var (
			c  CommandRecord
			at int64
		)
		if err := rows.Scan(&c.Seq, &c.Tick, &c.Command, &c.State, &c.Index, &c.Bearing, &at); err != nil {
			return nil, err
		}
		c.At = time.Unix(0, at).UTC()
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeviceLine is one line printed by the robot firmware.
type DeviceLine struct {
	ID   int64     `json:"id"`
	Kind string    `json:"kind"`
	Line string    `json:"line"`
	At   time.Time `json:"at"`
}

// RecordDeviceLine appends a firmware line to the run log.
func (db *DB) RecordDeviceLine(runID, kind, line string) error {
	_, err := db.Exec(
		`INSERT INTO device_log (run_id, kind, line, at_unix_nano) VALUES (?, ?, ?, ?)`,
		runID, kind, line, time.Now().UnixNano(),
	)
	return err
}

// DeviceLines returns the firmware lines of a run in arrival order.
func (db *DB) DeviceLines(runID string) ([]DeviceLine, error) {
	rows, err := db.Query(
		`SELECT log_id, kind, line, at_unix_nano FROM device_log WHERE run_id = ? ORDER BY log_id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DeviceLine
	for rows.Next() {
		var (
			l  DeviceLine
			at int64
		)
		if err := rows.Scan(&l.ID, &l.Kind, &l.Line, &at); err != nil {
			return nil, err
		}
		l.At = time.Unix(0, at).UTC()
		out = append(out, l)
	}
	return out, rows.Err()
}

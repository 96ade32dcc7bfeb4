package db

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/supplybot/internal/navigation"
	"github.com/banshee-data/supplybot/internal/trajectory"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "supplybot.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

var t0 = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func TestOpenDB_Pragmas(t *testing.T) {
	db := newTestDB(t)

	var journalMode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&journalMode))
	assert.Equal(t, "wal", journalMode)

	var busyTimeout int
	require.NoError(t, db.QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout))
	assert.Equal(t, 5000, busyTimeout)

	var foreignKeys int
	require.NoError(t, db.QueryRow("PRAGMA foreign_keys").Scan(&foreignKeys))
	assert.Equal(t, 1, foreignKeys)
}

func TestMigrations(t *testing.T) {
	db, err := OpenDB(filepath.Join(t.TempDir(), "m.db"))
	require.NoError(t, err)
	defer db.Close()

	version, dirty, err := db.MigrateVersion(Migrations())
	require.NoError(t, err)
	assert.Equal(t, uint(0), version)
	assert.False(t, dirty)

	require.NoError(t, db.MigrateUp(Migrations()))
	// second run is a no-op
	require.NoError(t, db.MigrateUp(Migrations()))

	latest, err := GetLatestMigrationVersion(Migrations())
	require.NoError(t, err)
	assert.Equal(t, uint(2), latest)

	status, err := db.GetMigrationStatus(Migrations())
	require.NoError(t, err)
	assert.Equal(t, MigrationStatus{
		CurrentVersion:         2,
		LatestVersion:          2,
		SchemaMigrationsExists: true,
	}, status)

	require.NoError(t, db.MigrateDown(Migrations()))
	version, _, err = db.MigrateVersion(Migrations())
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)

	require.NoError(t, db.MigrateTo(Migrations(), 2))
	version, _, err = db.MigrateVersion(Migrations())
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
}

func TestRuns(t *testing.T) {
	db := newTestDB(t)

	require.NoError(t, db.StartRun("run-a", t0, `{"tick_rate_hz":30}`))
	require.NoError(t, db.StartRun("run-b", t0.Add(time.Hour), ""))
	require.NoError(t, db.SetRunTrajectory("run-a", `[{"node":3}]`))
	require.NoError(t, db.FinishRun("run-a", t0.Add(time.Minute), nil))
	require.NoError(t, db.FinishRun("run-b", t0.Add(2*time.Hour), errors.New("serial unplugged")))

	runs, err := db.Runs(10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-b", runs[0].ID, "newest first")
	assert.Equal(t, RunStatusFailed, runs[0].Status)
	assert.Equal(t, "serial unplugged", runs[0].Error)

	a, err := db.GetRun("run-a")
	require.NoError(t, err)
	finished := t0.Add(time.Minute)
	want := Run{
		ID:             "run-a",
		Started:        t0,
		Finished:       &finished,
		Status:         RunStatusFinished,
		ConfigJSON:     `{"tick_rate_hz":30}`,
		TrajectoryJSON: `[{"node":3}]`,
	}
	if diff := cmp.Diff(want, a); diff != "" {
		t.Errorf("GetRun mismatch (-want +got):\n%s", diff)
	}

	runs, err = db.Runs(1)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestRuns_NotFound(t *testing.T) {
	db := newTestDB(t)
	_, err := db.GetRun("nope")
	assert.ErrorIs(t, err, ErrRunNotFound)
	assert.ErrorIs(t, db.FinishRun("nope", t0, nil), ErrRunNotFound)
	assert.ErrorIs(t, db.SetRunTrajectory("nope", "[]"), ErrRunNotFound)
	require.NoError(t, db.StartRun("dup", t0, ""))
	assert.Error(t, db.StartRun("dup", t0, ""), "duplicate run ID")
}

func TestNewRunID(t *testing.T) {
	a, b := NewRunID(), NewRunID()
	assert.Len(t, a, 36)
	assert.NotEqual(t, a, b)
}

func TestReport(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.StartRun("r", t0, ""))

	rows := []trajectory.ReportRow{
		{Node: 3, Category: trajectory.CategoryPriority},
		{Node: 2, Category: trajectory.CategorySecondary},
		{Node: 6, Category: trajectory.CategorySecondary},
	}
	require.NoError(t, db.RecordReport("r", rows))

	got, err := db.ReportRows("r")
	require.NoError(t, err)
	assert.Equal(t, rows, got)

	// foreign key to runs
	assert.Error(t, db.RecordReport("missing", rows))
	got, err = db.ReportRows("missing")
	require.NoError(t, err)
	assert.Empty(t, got, "failed insert is rolled back")
}

func TestRunRecorder(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.StartRun("r", t0, ""))

	rec := NewRunRecorder(db, "r")
	rec.RecordStart(t0)
	rec.RecordTick(navigation.Tick{Seq: 0, At: t0.Add(time.Second), Bearing: 42})
	rec.RecordTick(navigation.Tick{
		Seq:      1,
		At:       t0.Add(2 * time.Second),
		Target:   0,
		Bearing:  5,
		Snapshot: navigation.Snapshot{State: navigation.StateApproaching, Index: 1},
		Commands: []navigation.Command{navigation.CommandStop, navigation.CommandMove},
	})
	require.NoError(t, rec.Err())

	got, err := db.Commands("r")
	require.NoError(t, err)
	want := []CommandRecord{
		{Seq: 0, Tick: -1, Command: "c", State: "APPROACHING", At: t0},
		{Seq: 1, Tick: 1, Command: "s", State: "APPROACHING", Index: 0, Bearing: 5, At: t0.Add(2 * time.Second)},
		{Seq: 2, Tick: 1, Command: "c", State: "APPROACHING", Index: 0, Bearing: 5, At: t0.Add(2 * time.Second)},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Commands mismatch (-want +got):\n%s", diff)
	}
}

func TestRunRecorder_KeepsFirstError(t *testing.T) {
	db := newTestDB(t)
	// no run row: the foreign key rejects every insert
	rec := NewRunRecorder(db, "ghost")
	rec.RecordStart(t0)
	rec.RecordTick(navigation.Tick{Commands: []navigation.Command{navigation.CommandReset}})
	assert.Error(t, rec.Err())
}

func TestDeviceLines(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.RecordDeviceLine("r", "ack", "ack c"))
	require.NoError(t, db.RecordDeviceLine("r", "error", "err stall"))
	require.NoError(t, db.RecordDeviceLine("other", "ack", "ack s"))

	lines, err := db.DeviceLines("r")
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Equal(t, "ack c", lines[0].Line)
	assert.Equal(t, "error", lines[1].Kind)
	assert.False(t, lines[0].At.IsZero())
}

func TestAttachAdminRoutes(t *testing.T) {
	db := newTestDB(t)
	mux := http.NewServeMux()
	db.AttachAdminRoutes(mux)

	req := httptest.NewRequest(http.MethodGet, "/debug/", nil)
	req.RemoteAddr = "127.0.0.1:12345"
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "tailsql")
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/banshee-data/supplybot/internal/api"
	"github.com/banshee-data/supplybot/internal/config"
	"github.com/banshee-data/supplybot/internal/db"
	"github.com/banshee-data/supplybot/internal/navigation"
	"github.com/banshee-data/supplybot/internal/report"
	"github.com/banshee-data/supplybot/internal/timeutil"
	"github.com/banshee-data/supplybot/internal/trajectory"
	"github.com/banshee-data/supplybot/internal/viz"
)

// mission is everything one run needs.
type mission struct {
	runID      string
	cfg        *config.RunConfig
	detections trajectory.Detections
	actuator   navigation.Actuator
	db         *db.DB
	source     navigation.TickSource
	clock      timeutil.Clock
	status     *api.StatusStore
}

// runMission plans the trajectory, writes the report and arena plot, drives
// the robot to FINISHED and records the outcome in the run log.
func runMission(ctx context.Context, m mission) error {
	started := m.clock.Now()
	if err := m.db.StartRun(m.runID, started, configJSON(m.cfg)); err != nil {
		return err
	}
	err := drive(ctx, m)
	if ferr := m.db.FinishRun(m.runID, m.clock.Now(), err); ferr != nil {
		log.Printf("failed to finish run %s: %v", m.runID, ferr)
	}
	if m.status != nil {
		m.status.Finish(m.clock.Now(), err)
	}
	return err
}

func drive(ctx context.Context, m mission) error {
	seq, traj, err := trajectory.Plan(m.detections)
	if err != nil {
		return fmt.Errorf("failed to plan trajectory: %w", err)
	}
	for i, st := range traj.Stops() {
		log.Printf("stop %d: %s node %d at %v", i, st.Role, st.Index+1, st.Target())
	}

	rows := traj.Report()
	if err := report.WriteFile(m.cfg.GetReportPath(), rows); err != nil {
		return err
	}
	if err := m.db.RecordReport(m.runID, rows); err != nil {
		return err
	}
	if b, err := json.Marshal(api.TrajectoryToAPI(traj)); err == nil {
		if err := m.db.SetRunTrajectory(m.runID, string(b)); err != nil {
			return err
		}
	}
	if path, err := viz.SaveArena(m.cfg.GetPlotDir(), seq, traj); err != nil {
		log.Printf("failed to plot arena: %v", err)
	} else {
		log.Printf("arena plot written to %s", path)
	}

	navCfg := m.cfg.NavigationConfig()
	recorder := db.NewRunRecorder(m.db, m.runID)
	trace := viz.NewBearingTrace(navCfg)
	recorders := []navigation.Recorder{recorder, trace}
	if m.status != nil {
		m.status.SetTrajectory(traj)
		recorders = append(recorders, m.status)
	}

	sess, err := navigation.NewSession(navigation.SessionConfig{
		Navigator:  navigation.NewNavigator(navCfg),
		Trajectory: traj,
		Origin:     seq.Origin(),
		Source:     m.source,
		Actuator:   m.actuator,
		Clock:      m.clock,
		Recorders:  recorders,
	})
	if err != nil {
		return err
	}

	start := m.clock.Now()
	recorder.RecordStart(start)
	if m.status != nil {
		m.status.Start(start)
	}
	runErr := sess.Run(ctx)

	if trace.Len() > 0 {
		if path, err := trace.Save(m.cfg.GetPlotDir()); err != nil {
			log.Printf("failed to save bearing trace: %v", err)
		} else {
			log.Printf("bearing trace written to %s (%d ticks in %v)", path, trace.Len(), m.clock.Since(start).Round(time.Millisecond))
		}
	}
	if err := recorder.Err(); err != nil {
		log.Printf("run log incomplete: %v", err)
	}
	return runErr
}

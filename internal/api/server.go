// Package api serves a read-only JSON view of the robot's runs plus a
// manual command endpoint for bench testing.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/supplybot/internal/db"
	"github.com/banshee-data/supplybot/internal/navigation"
	"github.com/banshee-data/supplybot/internal/trajectory"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// CommandSender delivers one paced command to the robot.
// navigation.Channel implements it.
type CommandSender interface {
	Send(navigation.Command) error
}

// RunStore is the subset of the run log the API reads.
type RunStore interface {
	Runs(limit int) ([]db.Run, error)
	GetRun(id string) (db.Run, error)
	ReportRows(runID string) ([]trajectory.ReportRow, error)
	Commands(runID string) ([]db.CommandRecord, error)
}

type Server struct {
	m      CommandSender
	db     RunStore
	status *StatusStore
}

// NewServer wires the API. m and store may be nil, in which case the
// endpoints that need them answer 503. Manual commands are refused while
// status reports a running session.
func NewServer(m CommandSender, store RunStore, status *StatusStore) *Server {
	return &Server{
		m:      m,
		db:     store,
		status: status,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/command", s.CommandHandler())
	mux.HandleFunc("/api/status", s.showStatus)
	mux.HandleFunc("/api/trajectory", s.showTrajectory)
	mux.HandleFunc("/api/runs", s.listRuns)
	mux.HandleFunc("/api/runs/{id}", s.showRun)
	return mux
}

// CommandHandler serves manual commands. It is mounted at /command and
// reused by the serial debug routes.
func (s *Server) CommandHandler() http.Handler {
	return http.HandlerFunc(s.sendCommandHandler)
}

// sendCommandHandler writes a single actuator symbol. Only the command
// alphabet is accepted, and only while no session is running.
func (s *Server) sendCommandHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.m == nil {
		http.Error(w, "No serial port attached", http.StatusServiceUnavailable)
		return
	}

	command := strings.TrimSpace(r.FormValue("command"))
	if len(command) != 1 {
		http.Error(w, "Command must be a single symbol", http.StatusBadRequest)
		return
	}
	cmd, err := navigation.ParseCommand(command[0])
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	send := func() error { return s.m.Send(cmd) }
	if s.status != nil {
		err = s.status.WhileIdle(send)
	} else {
		err = send()
	}
	switch {
	case errors.Is(err, ErrRunInProgress):
		http.Error(w, "A run owns the actuator", http.StatusConflict)
		return
	case err != nil:
		http.Error(w, "Failed to send command", http.StatusInternalServerError)
		return
	}
	io.WriteString(w, fmt.Sprintf("Sent %s: %s", cmd, cmd.Describe()))
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (s *Server) writeJSON(w http.ResponseWriter, v any, what string) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write "+what)
	}
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if s.status == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "No run in progress")
		return
	}
	s.writeJSON(w, s.status.Status(), "status")
}

// StopAPI is one trajectory stop as served by /api/trajectory.
type StopAPI struct {
	Stop int     `json:"stop"`
	Role string  `json:"role"`
	Node int     `json:"node"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
}

// TrajectoryAPI is the /api/trajectory response.
type TrajectoryAPI struct {
	Stops  []StopAPI              `json:"stops"`
	Report []trajectory.ReportRow `json:"report"`
}

// TrajectoryToAPI converts t for the API. Node numbers are 1-based
// positions in the ordered sequence.
func TrajectoryToAPI(t *trajectory.Trajectory) TrajectoryAPI {
	out := TrajectoryAPI{Report: t.Report()}
	for i, st := range t.Stops() {
		p := st.Target()
		out.Stops = append(out.Stops, StopAPI{
			Stop: i,
			Role: st.Role.String(),
			Node: st.Index + 1,
			X:    p.X,
			Y:    p.Y,
		})
	}
	return out
}

func (s *Server) showTrajectory(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	var t *trajectory.Trajectory
	if s.status != nil {
		t = s.status.Trajectory()
	}
	if t == nil {
		s.writeJSONError(w, http.StatusNotFound, "No trajectory planned")
		return
	}
	s.writeJSON(w, TrajectoryToAPI(t), "trajectory")
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if s.db == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "No run database")
		return
	}

	limit := 20 // default value
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			s.writeJSONError(w, http.StatusBadRequest, "Invalid 'limit' parameter")
			return
		}
		limit = parsed
	}

	runs, err := s.db.Runs(limit)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve runs: %v", err))
		return
	}
	if runs == nil {
		runs = []db.Run{}
	}
	s.writeJSON(w, runs, "runs")
}

// RunDetail is the /api/runs/{id} response.
type RunDetail struct {
	db.Run
	Report   []trajectory.ReportRow `json:"report"`
	Commands []db.CommandRecord     `json:"commands"`
}

func (s *Server) showRun(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if s.db == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "No run database")
		return
	}

	id := r.PathValue("id")
	run, err := s.db.GetRun(id)
	if errors.Is(err, db.ErrRunNotFound) {
		s.writeJSONError(w, http.StatusNotFound, "Run not found")
		return
	}
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve run: %v", err))
		return
	}
	detail := RunDetail{Run: run}
	if detail.Report, err = s.db.ReportRows(id); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve report: %v", err))
		return
	}
	if detail.Commands, err = s.db.Commands(id); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve commands: %v", err))
		return
	}
	s.writeJSON(w, detail, "run")
}

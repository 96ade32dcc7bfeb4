package serialmux

import (
	"fmt"
	"strings"

	"github.com/banshee-data/supplybot/internal/monitoring"
)

// LineRecorder persists device lines.
type LineRecorder interface {
	RecordDeviceLine(runID, kind, line string) error
}

// HandleLine classifies a device line, logs it and records it against runID.
// Firmware error lines are logged as warnings but never stop the run.
func HandleLine(rec LineRecorder, runID, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	kind := ClassifyLine(line)
	switch kind {
	case LineTypeError:
		monitoring.Warnf("device reported: %s", line)
	case LineTypeUnknown:
		monitoring.Logf("unknown device line: %s", line)
	default:
		monitoring.Logf("device: %s", line)
	}
	if rec == nil {
		return nil
	}
	if err := rec.RecordDeviceLine(runID, kind, line); err != nil {
		return fmt.Errorf("failed to record device line: %w", err)
	}
	return nil
}

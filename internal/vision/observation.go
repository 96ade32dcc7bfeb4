package vision

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/supplybot/internal/geometry"
	"github.com/banshee-data/supplybot/internal/navigation"
)

// ParseObservation parses one marker record. Accepted layouts:
//
//	x,y
//	detected,x,y
//	t,detected,x,y
//
// t is seconds since the feed started. The second return value reports
// whether t was present.
func ParseObservation(b []byte) (navigation.Observation, float64, bool, error) {
	s := strings.TrimSpace(string(b))
	if s == "" {
		return navigation.Observation{}, 0, false, errors.New("empty payload")
	}

	parts := strings.Split(s, ",")
	var (
		obs  = navigation.Observation{Detected: true}
		t    float64
		hasT bool
		idx  int
		err  error
	)
	switch len(parts) {
	case 2:
	case 3:
		if obs.Detected, err = parseBoolLoose(parts[0]); err != nil {
			return navigation.Observation{}, 0, false, fmt.Errorf("detected: %w", err)
		}
		idx = 1
	case 4:
		if t, err = parseF64(parts[0]); err != nil {
			return navigation.Observation{}, 0, false, fmt.Errorf("t: %w", err)
		}
		hasT = true
		if obs.Detected, err = parseBoolLoose(parts[1]); err != nil {
			return navigation.Observation{}, 0, false, fmt.Errorf("detected: %w", err)
		}
		idx = 2
	default:
		return navigation.Observation{}, 0, false, fmt.Errorf("expected 2, 3 or 4 fields, got %d", len(parts))
	}

	x, err := parseF64(parts[idx])
	if err != nil {
		return navigation.Observation{}, 0, false, fmt.Errorf("x: %w", err)
	}
	y, err := parseF64(parts[idx+1])
	if err != nil {
		return navigation.Observation{}, 0, false, fmt.Errorf("y: %w", err)
	}
	obs.Marker = geometry.Pt(x, y)
	return obs, t, hasT, nil
}

// secondsAfter returns base shifted by t seconds.
func secondsAfter(base time.Time, t float64) time.Time {
	return base.Add(time.Duration(t * float64(time.Second)))
}

// parseF64 parses a float from a CSV field.
func parseF64(value string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(value), 64)
}

// parseBoolLoose parses booleans from common telemetry encodings.
func parseBoolLoose(value string) (bool, error) {
	norm := strings.ToLower(strings.TrimSpace(value))
	switch norm {
	case "1", "true", "yes", "y", "t":
		return true, nil
	case "0", "false", "no", "n", "f":
		return false, nil
	default:
		f, err := strconv.ParseFloat(norm, 64)
		if err != nil {
			return false, err
		}
		return f != 0, nil
	}
}

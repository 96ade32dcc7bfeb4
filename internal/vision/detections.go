// Package vision holds the contracts with the overhead camera pipeline: the
// one-shot detections taken before a run and the per-tick marker feed.
package vision

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/banshee-data/supplybot/internal/geometry"
	"github.com/banshee-data/supplybot/internal/trajectory"
)

const maxDetectionsSize = 1 * 1024 * 1024 // 1MB

// detectionsFile is the JSON layout of a detections fixture. Points are
// [x, y] pairs in image pixels.
type detectionsFile struct {
	Origin    *[2]float64  `json:"origin"`
	Priority  *[2]float64  `json:"priority"`
	Secondary [][2]float64 `json:"secondary"`
	Waypoints [][2]float64 `json:"waypoints"`
	Marker    *[2]float64  `json:"marker"`
}

func pt(p [2]float64) geometry.Point { return geometry.Pt(p[0], p[1]) }

func pts(ps [][2]float64) []geometry.Point {
	out := make([]geometry.Point, 0, len(ps))
	for _, p := range ps {
		out = append(out, pt(p))
	}
	return out
}

// ParseDetections decodes a detections fixture. Counts are checked by
// Detections.Validate, not here.
func ParseDetections(data []byte) (trajectory.Detections, error) {
	var f detectionsFile
	if err := json.Unmarshal(data, &f); err != nil {
		return trajectory.Detections{}, fmt.Errorf("failed to parse detections JSON: %w", err)
	}
	var missing []string
	if f.Origin == nil {
		missing = append(missing, "origin")
	}
	if f.Priority == nil {
		missing = append(missing, "priority")
	}
	if f.Marker == nil {
		missing = append(missing, "marker")
	}
	if len(missing) > 0 {
		return trajectory.Detections{}, fmt.Errorf("%w: no %s", trajectory.ErrMissingDetection, strings.Join(missing, ", "))
	}
	return trajectory.Detections{
		Origin:    pt(*f.Origin),
		Priority:  pt(*f.Priority),
		Secondary: pts(f.Secondary),
		Waypoints: pts(f.Waypoints),
		Marker:    pt(*f.Marker),
	}, nil
}

// LoadDetections reads a detections fixture from a .json file.
func LoadDetections(path string) (trajectory.Detections, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return trajectory.Detections{}, fmt.Errorf("detections file must have .json extension, got %q", ext)
	}
	info, err := os.Stat(cleanPath)
	if err != nil {
		return trajectory.Detections{}, fmt.Errorf("failed to stat detections file: %w", err)
	}
	if info.Size() > maxDetectionsSize {
		return trajectory.Detections{}, fmt.Errorf("detections file too large: %d bytes (max %d)", info.Size(), maxDetectionsSize)
	}
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return trajectory.Detections{}, fmt.Errorf("failed to read detections file: %w", err)
	}
	return ParseDetections(data)
}

// Package adaptive derives per-run decoding thresholds from scene
// illumination and recent detection history. The controller never
// changes thresholds mid-run: a pipeline run snapshots one Thresholds
// value and keeps it until the next run.
package adaptive

import (
	"fmt"

	"github.com/coupling-works/inspect.station/internal/postprocess"
)

// Profile names a base threshold posture. More aggressive profiles
// trade precision for recall under bad illumination.
type Profile string

const (
	ProfileConservative Profile = "conservative"
	ProfileModerate     Profile = "moderate"
	ProfileAggressive   Profile = "aggressive"
	ProfileExtreme      Profile = "extreme"
)

// baseThresholds is the posture table. Values match the calibrated
// line configurations.
var baseThresholds = map[Profile]postprocess.ThresholdSet{
	ProfileConservative: {Confidence: 0.55, IoU: 0.35},
	ProfileModerate:     {Confidence: 0.30, IoU: 0.20},
	ProfileAggressive:   {Confidence: 0.10, IoU: 0.10},
	ProfileExtreme:      {Confidence: 0.01, IoU: 0.01},
}

// ParseProfile validates a profile name.
func ParseProfile(name string) (Profile, error) {
	p := Profile(name)
	if _, ok := baseThresholds[p]; !ok {
		return "", fmt.Errorf("unknown threshold profile %q", name)
	}
	return p, nil
}

// Base returns the profile's threshold pair.
func (p Profile) Base() postprocess.ThresholdSet {
	if ts, ok := baseThresholds[p]; ok {
		return ts
	}
	return baseThresholds[ProfileModerate]
}

// Thresholds is the full per-family threshold state one pipeline run
// operates under.
type Thresholds struct {
	Parts   postprocess.ThresholdSet `json:"parts"`
	Defects postprocess.ThresholdSet `json:"defects"`
	Profile Profile                  `json:"profile"`
	// Factor is the illumination factor the set was derived with,
	// recorded for traceability.
	Factor float64 `json:"factor"`
}

// Package inference runs the per-stage neural models. Each pipeline
// stage owns one model; the engine behind it is opaque to the rest of
// the system and only speaks tensors.
package inference

import "fmt"

// Stage identifies one model slot in the pipeline.
type Stage string

const (
	StageClassify       Stage = "classify"
	StageDetectParts    Stage = "detect_parts"
	StageDetectDefects  Stage = "detect_defects"
	StageSegmentDefects Stage = "segment_defects"
	StageSegmentParts   Stage = "segment_parts"
)

// Stages returns all stages in canonical pipeline order.
func Stages() []Stage {
	return []Stage{
		StageClassify,
		StageDetectParts,
		StageDetectDefects,
		StageSegmentDefects,
		StageSegmentParts,
	}
}

// Valid reports whether s names a known stage.
func (s Stage) Valid() bool {
	switch s {
	case StageClassify, StageDetectParts, StageDetectDefects,
		StageSegmentDefects, StageSegmentParts:
		return true
	}
	return false
}

// ParseStage converts a string into a Stage, failing on unknown names.
func ParseStage(name string) (Stage, error) {
	s := Stage(name)
	if !s.Valid() {
		return "", fmt.Errorf("unknown stage %q", name)
	}
	return s, nil
}

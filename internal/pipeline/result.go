package pipeline

import (
	"time"

	"github.com/coupling-works/inspect.station/internal/adaptive"
	"github.com/coupling-works/inspect.station/internal/inference"
	"github.com/coupling-works/inspect.station/internal/postprocess"
)

// Classification is the output of the classify stage.
type Classification struct {
	Class      int     `json:"class_index"`
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Timings holds per-stage and total elapsed time in milliseconds.
type Timings struct {
	CaptureMs        float64 `json:"capture_ms"`
	ClassifyMs       float64 `json:"classify_ms"`
	DetectPartsMs    float64 `json:"detect_parts_ms"`
	DetectDefectsMs  float64 `json:"detect_defects_ms"`
	SegmentDefectsMs float64 `json:"segment_defects_ms"`
	SegmentPartsMs   float64 `json:"segment_parts_ms"`
	TotalMs          float64 `json:"total_ms"`
}

// Result is the record of one pipeline invocation. Every field is
// populated on every run; stages that failed carry a null result and
// an entry in Errors. The persistence layer stores Result as-is, so
// the schema here is a boundary contract.
type Result struct {
	ID        string    `json:"id"`
	StartedAt time.Time `json:"started_at"`
	Backend   string    `json:"backend"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	Sequence  uint64    `json:"sequence"`

	Thresholds adaptive.Thresholds        `json:"thresholds"`
	ModelIDs   map[inference.Stage]string `json:"model_ids"`

	Classification      *Classification            `json:"classification"`
	PartDetections      []postprocess.Detection    `json:"part_detections"`
	DefectDetections    []postprocess.Detection    `json:"defect_detections"`
	DefectSegmentations []postprocess.Segmentation `json:"defect_segmentations"`
	PartSegmentations   []postprocess.Segmentation `json:"part_segmentations"`

	FusionApplied bool     `json:"fusion_applied"`
	FusionNotes   []string `json:"fusion_notes,omitempty"`

	// Errors maps a failed stage to its error text. A stage absent
	// from the map either succeeded or was not requested.
	Errors map[inference.Stage]string `json:"errors,omitempty"`

	Timings Timings `json:"timings"`
}

// StageOK reports whether a stage ran without error in this result.
func (r *Result) StageOK(stage inference.Stage) bool {
	_, failed := r.Errors[stage]
	return !failed
}

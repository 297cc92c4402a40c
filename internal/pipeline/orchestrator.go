// Package pipeline sequences one inspection run: frame acquisition,
// the five inference stages, postprocessing with adaptive thresholds,
// and mask fusion. A stage failing never aborts the run; its result is
// null and the remaining stages still execute.
package pipeline

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/coupling-works/inspect.station/internal/adaptive"
	"github.com/coupling-works/inspect.station/internal/camera"
	"github.com/coupling-works/inspect.station/internal/fusion"
	"github.com/coupling-works/inspect.station/internal/inference"
	"github.com/coupling-works/inspect.station/internal/labels"
	"github.com/coupling-works/inspect.station/internal/monitoring"
	"github.com/coupling-works/inspect.station/internal/postprocess"
)

// Config bundles the orchestrator's collaborators. Passing them
// through the constructor makes wiring explicit and testing
// deterministic.
type Config struct {
	Source *camera.Source
	Runner *inference.Runner

	// Controller supplies thresholds per run. Nil disables adaptation;
	// Static is used instead.
	Controller *adaptive.Controller
	// Static is the threshold set used when Controller is nil.
	Static adaptive.Thresholds

	// Fusion merges touching part/defect segmentations when enabled.
	Fusion        *fusion.Engine
	FusionEnabled bool

	PartsQuality   postprocess.QualityConfig
	DefectsQuality postprocess.QualityConfig

	PartsLabels  *labels.Table
	DefectLabels *labels.Table
}

// Orchestrator runs inspection pipelines. Safe for sequential use from
// one caller; the capture goroutine inside Source is the only internal
// concurrency.
type Orchestrator struct {
	cfg Config
}

func New(cfg Config) *Orchestrator {
	return &Orchestrator{cfg: cfg}
}

// RunFull acquires a frame and executes every stage in fixed order:
// classify, detect parts, detect defects, segment defects, segment
// parts. Only acquisition failure aborts the run; per-stage failures
// are recorded in Result.Errors.
func (o *Orchestrator) RunFull(ctx context.Context) (*Result, error) {
	return o.run(ctx, inference.Stages())
}

// RunStage acquires a frame and executes a single stage.
func (o *Orchestrator) RunStage(ctx context.Context, stage inference.Stage) (*Result, error) {
	if !stage.Valid() {
		return nil, fmt.Errorf("pipeline: unknown stage %q", stage)
	}
	return o.run(ctx, []inference.Stage{stage})
}

func (o *Orchestrator) run(ctx context.Context, stages []inference.Stage) (*Result, error) {
	start := time.Now()

	frame, waited, err := o.cfg.Source.Frame(ctx)
	if err != nil {
		return nil, fmt.Errorf("pipeline: acquire frame: %w", err)
	}

	res := &Result{
		ID:        uuid.NewString(),
		StartedAt: start,
		Backend:   frame.Backend,
		Width:     frame.Width,
		Height:    frame.Height,
		Sequence:  frame.Seq,
		ModelIDs:  o.cfg.Runner.ModelIDs(),
		Errors:    make(map[inference.Stage]string),
	}
	res.Timings.CaptureMs = ms(waited)

	// Thresholds are snapshotted once per run. The controller computes
	// the next set from this frame's illumination; decodes below read
	// only the snapshot, never the live controller state.
	if o.cfg.Controller != nil {
		res.Thresholds = o.cfg.Controller.Next(adaptive.Analyze(frame))
	} else {
		res.Thresholds = o.cfg.Static
	}

	detections := 0
	for _, stage := range stages {
		elapsed := o.runStage(ctx, stage, frame, res, &detections)
		switch stage {
		case inference.StageClassify:
			res.Timings.ClassifyMs = elapsed
		case inference.StageDetectParts:
			res.Timings.DetectPartsMs = elapsed
		case inference.StageDetectDefects:
			res.Timings.DetectDefectsMs = elapsed
		case inference.StageSegmentDefects:
			res.Timings.SegmentDefectsMs = elapsed
		case inference.StageSegmentParts:
			res.Timings.SegmentPartsMs = elapsed
		}
	}

	if o.cfg.Controller != nil {
		o.cfg.Controller.RecordDetections(detections)
	}

	o.fuse(res)

	res.Timings.TotalMs = ms(time.Since(start))
	monitoring.Debugf("[pipeline] run %s: %d stages, %d failed, %.1fms",
		res.ID, len(stages), len(res.Errors), res.Timings.TotalMs)
	return res, nil
}

// runStage executes one stage and decodes its output into res.
// Returns the stage's elapsed milliseconds.
func (o *Orchestrator) runStage(ctx context.Context, stage inference.Stage, frame *camera.Frame, res *Result, detections *int) float64 {
	start := time.Now()
	outs, err := o.cfg.Runner.Run(ctx, stage, frame)
	elapsed := ms(time.Since(start))
	if err != nil {
		res.Errors[stage] = err.Error()
		monitoring.Logf("[pipeline] stage %s failed: %v", stage, err)
		return elapsed
	}

	if err := o.decode(stage, outs, frame, res, detections); err != nil {
		res.Errors[stage] = err.Error()
		monitoring.Logf("[pipeline] stage %s decode failed: %v", stage, err)
	}
	return elapsed
}

func (o *Orchestrator) decode(stage inference.Stage, outs []inference.Tensor, frame *camera.Frame, res *Result, detections *int) error {
	ts := res.Thresholds
	inputSize := o.cfg.Runner.InputSize()
	switch stage {
	case inference.StageClassify:
		if len(outs) < 1 {
			return fmt.Errorf("classify returned no output")
		}
		cls, err := decodeClassification(outs[0], o.cfg.PartsLabels)
		if err != nil {
			return err
		}
		res.Classification = cls

	case inference.StageDetectParts:
		if len(outs) < 1 {
			return fmt.Errorf("detect returned no output")
		}
		dets, err := postprocess.DecodeDetections(outs[0], ts.Parts, frame.Width, frame.Height, inputSize)
		if err != nil {
			return err
		}
		attachLabels(dets, o.cfg.PartsLabels)
		res.PartDetections = nonNil(dets)
		*detections += len(dets)

	case inference.StageDetectDefects:
		if len(outs) < 1 {
			return fmt.Errorf("detect returned no output")
		}
		dets, err := postprocess.DecodeDetections(outs[0], ts.Defects, frame.Width, frame.Height, inputSize)
		if err != nil {
			return err
		}
		attachLabels(dets, o.cfg.DefectLabels)
		res.DefectDetections = nonNil(dets)
		*detections += len(dets)

	case inference.StageSegmentDefects:
		if len(outs) < 2 {
			return fmt.Errorf("segment returned %d outputs, want 2", len(outs))
		}
		segs, err := postprocess.DecodeSegmentations(outs[0], outs[1], ts.Defects, o.cfg.DefectsQuality, frame.Width, frame.Height, inputSize)
		if err != nil {
			return err
		}
		attachSegLabels(segs, o.cfg.DefectLabels)
		res.DefectSegmentations = nonNilSegs(segs)

	case inference.StageSegmentParts:
		if len(outs) < 2 {
			return fmt.Errorf("segment returned %d outputs, want 2", len(outs))
		}
		segs, err := postprocess.DecodeSegmentations(outs[0], outs[1], ts.Parts, o.cfg.PartsQuality, frame.Width, frame.Height, inputSize)
		if err != nil {
			return err
		}
		attachSegLabels(segs, o.cfg.PartsLabels)
		res.PartSegmentations = nonNilSegs(segs)
	}
	return nil
}

// fuse merges touching segmentations in-place on the result. Runs only
// over stages that produced output; failed stages stay null.
func (o *Orchestrator) fuse(res *Result) {
	if !o.cfg.FusionEnabled || o.cfg.Fusion == nil {
		return
	}
	if res.PartSegmentations != nil {
		fused, bad := o.cfg.Fusion.Fuse(res.PartSegmentations)
		res.PartSegmentations = nonNilSegs(fused)
		for _, ic := range bad {
			res.FusionNotes = append(res.FusionNotes, "parts: "+ic.Error())
		}
	}
	if res.DefectSegmentations != nil {
		fused, bad := o.cfg.Fusion.Fuse(res.DefectSegmentations)
		res.DefectSegmentations = nonNilSegs(fused)
		for _, ic := range bad {
			res.FusionNotes = append(res.FusionNotes, "defects: "+ic.Error())
		}
	}
	res.FusionApplied = true
}

// decodeClassification reads a class-logit vector, softmaxes it and
// returns the best class.
func decodeClassification(raw inference.Tensor, table *labels.Table) (*Classification, error) {
	t := raw.Squeeze()
	if len(t.Shape) != 1 || len(t.Data) == 0 {
		return nil, fmt.Errorf("classify output has shape %v, want a vector", raw.Shape)
	}

	best, maxLogit := 0, float64(t.Data[0])
	for i, v := range t.Data {
		if float64(v) > maxLogit {
			best, maxLogit = i, float64(v)
		}
	}
	var sum float64
	for _, v := range t.Data {
		sum += math.Exp(float64(v) - maxLogit)
	}

	return &Classification{
		Class:      best,
		Label:      table.Name(best),
		Confidence: 1 / sum,
	}, nil
}

func attachLabels(dets []postprocess.Detection, table *labels.Table) {
	for i := range dets {
		dets[i].Label = table.Name(dets[i].Class)
	}
}

func attachSegLabels(segs []postprocess.Segmentation, table *labels.Table) {
	for i := range segs {
		segs[i].Label = table.Name(segs[i].Class)
	}
}

// nonNil keeps the null-vs-empty distinction in Result JSON: a failed
// stage is null, a stage that found nothing is [].
func nonNil(dets []postprocess.Detection) []postprocess.Detection {
	if dets == nil {
		return []postprocess.Detection{}
	}
	return dets
}

func nonNilSegs(segs []postprocess.Segmentation) []postprocess.Segmentation {
	if segs == nil {
		return []postprocess.Segmentation{}
	}
	return segs
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

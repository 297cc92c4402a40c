package adaptive

import (
	"math"
	"sync"

	"github.com/coupling-works/inspect.station/internal/monitoring"
	"github.com/coupling-works/inspect.station/internal/postprocess"
)

// Factor bounds. The illumination factor scales confidence thresholds
// and never leaves this band, so even pathological lighting cannot
// push thresholds to useless values.
const (
	FactorMin = 0.5
	FactorMax = 1.5

	// nominalBrightness and nominalContrast are the luma statistics of
	// a well-lit scene; frames matching them map to factor 1.0.
	nominalBrightness = 127.5
	nominalContrast   = 48.0
)

// ControllerConfig contains configuration options for the Controller.
type ControllerConfig struct {
	// Profile selects the base threshold posture (default: moderate).
	Profile Profile
	// PartsBase/DefectsBase override the profile's base thresholds per
	// family when non-zero.
	PartsBase   postprocess.ThresholdSet
	DefectsBase postprocess.ThresholdSet
	// HistorySize is the rolling detection-count window (default: 10).
	HistorySize int
	// Smoothing is the EMA weight applied to new factors, in (0, 1].
	// Lower values damp faster lighting swings (default: 0.3).
	Smoothing float64
}

func (c *ControllerConfig) historySize() int {
	if c.HistorySize <= 0 {
		return 10
	}
	return c.HistorySize
}

func (c *ControllerConfig) smoothing() float64 {
	if c.Smoothing <= 0 || c.Smoothing > 1 {
		return 0.3
	}
	return c.Smoothing
}

func (c *ControllerConfig) partsBase() postprocess.ThresholdSet {
	if c.PartsBase.Confidence > 0 {
		return c.PartsBase
	}
	return c.profile().Base()
}

func (c *ControllerConfig) defectsBase() postprocess.ThresholdSet {
	if c.DefectsBase.Confidence > 0 {
		return c.DefectsBase
	}
	return c.profile().Base()
}

func (c *ControllerConfig) profile() Profile {
	if c.Profile == "" {
		return ProfileModerate
	}
	return c.Profile
}

// Controller maintains the active threshold set. Next derives and
// installs the set for an upcoming run; RecordDetections feeds the
// run outcome back into the damping history. Both are safe for
// concurrent use, though the pipeline calls them from one goroutine.
type Controller struct {
	cfg ControllerConfig

	mu      sync.Mutex
	factor  float64 // EMA-damped illumination factor
	history []int   // recent detection counts, newest last
	current Thresholds
}

// NewController creates a controller with the profile's base
// thresholds installed and a neutral factor.
func NewController(cfg ControllerConfig) *Controller {
	c := &Controller{cfg: cfg, factor: 1.0}
	c.current = Thresholds{
		Parts:   cfg.partsBase(),
		Defects: cfg.defectsBase(),
		Profile: cfg.profile(),
		Factor:  1.0,
	}
	return c
}

// rawFactor maps illumination statistics to a confidence scale factor
// in [FactorMin, FactorMax]. Dim or flat scenes yield factors below
// one (thresholds relax to preserve recall); bright, contrasty scenes
// yield factors above one. Both mappings are monotone in their input.
func rawFactor(ill Illumination) float64 {
	bf := clampFactor(ill.Brightness / nominalBrightness)
	cf := clampFactor(ill.Contrast / nominalContrast)
	return clampFactor((bf + cf) / 2)
}

func clampFactor(f float64) float64 {
	return math.Min(FactorMax, math.Max(FactorMin, f))
}

// Next computes, installs and returns the threshold set for the
// upcoming run. The installation is atomic with respect to Current:
// a run that already snapshotted the previous set is unaffected.
func (c *Controller) Next(ill Illumination) Thresholds {
	c.mu.Lock()
	defer c.mu.Unlock()

	raw := rawFactor(ill)
	alpha := c.cfg.smoothing()
	c.factor = c.factor*(1-alpha) + raw*alpha

	// Detection-history damping: when recent runs found nothing, pull
	// the factor down so thresholds relax further; when the scene is
	// crowded, hold it at least at neutral.
	damped := c.factor
	if mean, ok := c.historyMean(); ok {
		switch {
		case mean < 1:
			damped *= 0.9
		case mean > 20:
			damped = math.Max(damped, 1.0)
		}
	}
	damped = clampFactor(damped)

	next := Thresholds{
		Parts:   scaleThresholds(c.cfg.partsBase(), damped),
		Defects: scaleThresholds(c.cfg.defectsBase(), damped),
		Profile: c.cfg.profile(),
		Factor:  damped,
	}
	if next.Factor != c.current.Factor {
		monitoring.Logf("adaptive: factor %.3f (brightness=%.1f contrast=%.1f), parts conf %.3f, defects conf %.3f",
			damped, ill.Brightness, ill.Contrast, next.Parts.Confidence, next.Defects.Confidence)
	}
	c.current = next
	return next
}

// scaleThresholds applies the factor to the confidence threshold and
// keeps both values in workable bounds. IoU is left unscaled: overlap
// pruning should not loosen with lighting.
func scaleThresholds(base postprocess.ThresholdSet, factor float64) postprocess.ThresholdSet {
	conf := base.Confidence * factor
	if conf < 0.01 {
		conf = 0.01
	}
	if conf > 0.99 {
		conf = 0.99
	}
	return postprocess.ThresholdSet{Confidence: conf, IoU: base.IoU}
}

// RecordDetections appends a run's detection count to the rolling
// history.
func (c *Controller) RecordDetections(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = append(c.history, n)
	if max := c.cfg.historySize(); len(c.history) > max {
		c.history = c.history[len(c.history)-max:]
	}
}

func (c *Controller) historyMean() (float64, bool) {
	if len(c.history) == 0 {
		return 0, false
	}
	sum := 0
	for _, n := range c.history {
		sum += n
	}
	return float64(sum) / float64(len(c.history)), true
}

// Current returns the installed threshold set without recomputing.
func (c *Controller) Current() Thresholds {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

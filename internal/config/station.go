package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/coupling-works/inspect.station/internal/adaptive"
	"github.com/coupling-works/inspect.station/internal/camera"
	"github.com/coupling-works/inspect.station/internal/fusion"
	"github.com/coupling-works/inspect.station/internal/postprocess"
)

// DefaultConfigPath is the path to the canonical station defaults file.
// This is the single source of truth for all default station values.
const DefaultConfigPath = "config/station.defaults.json"

// StationConfig represents the root configuration for one inspection
// station. The schema matches the /api/config endpoint so the same
// JSON can be used for both startup configuration and runtime updates.
type StationConfig struct {
	// Camera params
	SensorAddr         *string  `json:"sensor_addr,omitempty"`
	SensorRcvBuf       *int     `json:"sensor_rcvbuf,omitempty"`
	SensorExposureUs   *int     `json:"sensor_exposure_us,omitempty"` // zero keeps the head value
	SensorGain         *float64 `json:"sensor_gain,omitempty"`
	SensorFPS          *float64 `json:"sensor_fps,omitempty"`
	SensorROI          *[4]int  `json:"sensor_roi,omitempty"` // x, y, width, height
	MinCompleteness    *float64 `json:"min_completeness,omitempty"`
	TargetWidth        *int     `json:"target_width,omitempty"`
	TargetHeight       *int     `json:"target_height,omitempty"`
	FrameTimeout       *string  `json:"frame_timeout,omitempty"` // duration string like "100ms"
	StartupTimeout     *string  `json:"startup_timeout,omitempty"`
	WebcamMaxDevice    *int     `json:"webcam_max_device,omitempty"`
	WebcamProbeTimeout *string  `json:"webcam_probe_timeout,omitempty"`
	WebcamExposure     *float64 `json:"webcam_exposure,omitempty"` // zero keeps driver auto mode
	WebcamGain         *float64 `json:"webcam_gain,omitempty"`
	WebcamFPS          *float64 `json:"webcam_fps,omitempty"`
	TriggerPort        *string  `json:"trigger_port,omitempty"` // serial device, empty disables

	// Model params
	ModelDir     *string `json:"model_dir,omitempty"`
	InputSize    *int    `json:"input_size,omitempty"`
	StageTimeout *string `json:"stage_timeout,omitempty"`
	PartsLabels  *string `json:"parts_labels,omitempty"`
	DefectLabels *string `json:"defect_labels,omitempty"`

	// Threshold params. Explicit values override the named profile.
	Profile           *string  `json:"profile,omitempty"`
	PartsConfidence   *float64 `json:"parts_confidence,omitempty"`
	PartsIoU          *float64 `json:"parts_iou,omitempty"`
	DefectsConfidence *float64 `json:"defects_confidence,omitempty"`
	DefectsIoU        *float64 `json:"defects_iou,omitempty"`

	// Quality filter params (optional, full struct replace)
	PartsQuality   *postprocess.QualityConfig `json:"parts_quality,omitempty"`
	DefectsQuality *postprocess.QualityConfig `json:"defects_quality,omitempty"`

	// Fusion params
	FusionEnabled     *bool    `json:"fusion_enabled,omitempty"`
	FusionMaxDistance *float64 `json:"fusion_max_distance,omitempty"`
	FusionMinOverlap  *float64 `json:"fusion_min_overlap,omitempty"`

	// Adaptive controller params
	AdaptiveEnabled   *bool    `json:"adaptive_enabled,omitempty"`
	AdaptiveSmoothing *float64 `json:"adaptive_smoothing,omitempty"`
	AdaptiveHistory   *int     `json:"adaptive_history,omitempty"`

	// Persistence / API params
	DBPath     *string `json:"db_path,omitempty"`
	ListenAddr *string `json:"listen_addr,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyStationConfig returns a StationConfig with all fields set to nil.
// Use LoadStationConfig to load actual values from the defaults file.
func EmptyStationConfig() *StationConfig {
	return &StationConfig{}
}

// LoadStationConfig loads a StationConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under
// the max file size. Fields omitted from the JSON file retain their
// default values, so partial configs are safe.
func LoadStationConfig(path string) (*StationConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse JSON into empty config. The Get* methods provide fallback
	// defaults for any fields not specified in the JSON.
	cfg := EmptyStationConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical station defaults from
// DefaultConfigPath. It searches for the file in the current directory
// and common parent directories. Panics if the file cannot be loaded,
// intended for test setup.
func MustLoadDefaultConfig() *StationConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath, // from internal/config/
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadStationConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *StationConfig) Validate() error {
	for name, v := range map[string]*float64{
		"parts_confidence":   c.PartsConfidence,
		"parts_iou":          c.PartsIoU,
		"defects_confidence": c.DefectsConfidence,
		"defects_iou":        c.DefectsIoU,
	} {
		if v != nil && (*v < 0 || *v > 1) {
			return fmt.Errorf("%s must be between 0 and 1, got %f", name, *v)
		}
	}

	if c.MinCompleteness != nil {
		if *c.MinCompleteness <= 0 || *c.MinCompleteness > 1 {
			return fmt.Errorf("min_completeness must be in (0, 1], got %f", *c.MinCompleteness)
		}
	}

	if c.Profile != nil && *c.Profile != "" {
		if _, err := adaptive.ParseProfile(*c.Profile); err != nil {
			return fmt.Errorf("invalid profile: %w", err)
		}
	}

	for name, v := range map[string]*string{
		"frame_timeout":        c.FrameTimeout,
		"startup_timeout":      c.StartupTimeout,
		"webcam_probe_timeout": c.WebcamProbeTimeout,
		"stage_timeout":        c.StageTimeout,
	} {
		if v != nil && *v != "" {
			if _, err := time.ParseDuration(*v); err != nil {
				return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
			}
		}
	}

	if c.InputSize != nil && *c.InputSize <= 0 {
		return fmt.Errorf("input_size must be positive, got %d", *c.InputSize)
	}
	if c.TargetWidth != nil && *c.TargetWidth <= 0 {
		return fmt.Errorf("target_width must be positive, got %d", *c.TargetWidth)
	}
	if c.TargetHeight != nil && *c.TargetHeight <= 0 {
		return fmt.Errorf("target_height must be positive, got %d", *c.TargetHeight)
	}
	if c.AdaptiveSmoothing != nil {
		if *c.AdaptiveSmoothing <= 0 || *c.AdaptiveSmoothing > 1 {
			return fmt.Errorf("adaptive_smoothing must be in (0, 1], got %f", *c.AdaptiveSmoothing)
		}
	}
	if c.SensorExposureUs != nil && *c.SensorExposureUs < 0 {
		return fmt.Errorf("sensor_exposure_us must not be negative, got %d", *c.SensorExposureUs)
	}
	if c.SensorGain != nil && *c.SensorGain < 0 {
		return fmt.Errorf("sensor_gain must not be negative, got %f", *c.SensorGain)
	}
	if c.SensorFPS != nil && *c.SensorFPS < 0 {
		return fmt.Errorf("sensor_fps must not be negative, got %f", *c.SensorFPS)
	}
	if c.SensorROI != nil {
		roi := *c.SensorROI
		if roi[0] < 0 || roi[1] < 0 || roi[2] <= 0 || roi[3] <= 0 {
			return fmt.Errorf("sensor_roi must be [x y width height] with positive size, got %v", roi)
		}
	}
	if c.WebcamGain != nil && *c.WebcamGain < 0 {
		return fmt.Errorf("webcam_gain must not be negative, got %f", *c.WebcamGain)
	}
	if c.WebcamFPS != nil && *c.WebcamFPS < 0 {
		return fmt.Errorf("webcam_fps must not be negative, got %f", *c.WebcamFPS)
	}

	return nil
}

func (c *StationConfig) duration(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def
	}
	return d
}

// GetSensorAddr returns the sensor_addr value or the default.
func (c *StationConfig) GetSensorAddr() string {
	if c.SensorAddr == nil {
		return ":5600"
	}
	return *c.SensorAddr
}

// GetSensorRcvBuf returns the sensor_rcvbuf value or the default.
func (c *StationConfig) GetSensorRcvBuf() int {
	if c.SensorRcvBuf == nil {
		return 4 * 1024 * 1024
	}
	return *c.SensorRcvBuf
}

// GetMinCompleteness returns the min_completeness value or the default.
func (c *StationConfig) GetMinCompleteness() float64 {
	if c.MinCompleteness == nil {
		return 1.0
	}
	return *c.MinCompleteness
}

// GetTargetWidth returns the target_width value or the default.
func (c *StationConfig) GetTargetWidth() int {
	if c.TargetWidth == nil {
		return 1736
	}
	return *c.TargetWidth
}

// GetTargetHeight returns the target_height value or the default.
func (c *StationConfig) GetTargetHeight() int {
	if c.TargetHeight == nil {
		return 768
	}
	return *c.TargetHeight
}

// GetFrameTimeout parses and returns the FrameTimeout as a time.Duration.
func (c *StationConfig) GetFrameTimeout() time.Duration {
	return c.duration(c.FrameTimeout, 100*time.Millisecond)
}

// GetStartupTimeout parses and returns the StartupTimeout as a time.Duration.
func (c *StationConfig) GetStartupTimeout() time.Duration {
	return c.duration(c.StartupTimeout, 5*time.Second)
}

// GetWebcamMaxDevice returns the webcam_max_device value or the default.
func (c *StationConfig) GetWebcamMaxDevice() int {
	if c.WebcamMaxDevice == nil {
		return 9
	}
	return *c.WebcamMaxDevice
}

// GetWebcamProbeTimeout parses and returns the WebcamProbeTimeout as a time.Duration.
func (c *StationConfig) GetWebcamProbeTimeout() time.Duration {
	return c.duration(c.WebcamProbeTimeout, time.Second)
}

// GetWebcamExposure returns the webcam_exposure value; zero keeps the
// driver's auto exposure.
func (c *StationConfig) GetWebcamExposure() float64 {
	if c.WebcamExposure == nil {
		return 0
	}
	return *c.WebcamExposure
}

// GetWebcamGain returns the webcam_gain value; zero keeps the driver
// default.
func (c *StationConfig) GetWebcamGain() float64 {
	if c.WebcamGain == nil {
		return 0
	}
	return *c.WebcamGain
}

// GetWebcamFPS returns the webcam_fps value; zero keeps the device
// default rate.
func (c *StationConfig) GetWebcamFPS() float64 {
	if c.WebcamFPS == nil {
		return 0
	}
	return *c.WebcamFPS
}

// GetHeadSettings returns the sensor head acquisition parameters when
// any are configured, nil otherwise. Nil means the head keeps its
// programmed values.
func (c *StationConfig) GetHeadSettings() *camera.HeadSettings {
	if c.SensorExposureUs == nil && c.SensorGain == nil && c.SensorFPS == nil && c.SensorROI == nil {
		return nil
	}
	h := &camera.HeadSettings{}
	if c.SensorExposureUs != nil {
		h.ExposureUs = *c.SensorExposureUs
	}
	if c.SensorGain != nil {
		h.Gain = *c.SensorGain
	}
	if c.SensorFPS != nil {
		h.FrameRate = *c.SensorFPS
	}
	if c.SensorROI != nil {
		roi := *c.SensorROI
		h.ROIX, h.ROIY = roi[0], roi[1]
		h.ROIWidth, h.ROIHeight = roi[2], roi[3]
	}
	return h
}

// GetTriggerPort returns the trigger_port value; empty disables the
// hardware trigger.
func (c *StationConfig) GetTriggerPort() string {
	if c.TriggerPort == nil {
		return ""
	}
	return *c.TriggerPort
}

// GetModelDir returns the model_dir value or the default.
func (c *StationConfig) GetModelDir() string {
	if c.ModelDir == nil {
		return "models"
	}
	return *c.ModelDir
}

// GetInputSize returns the input_size value or the default.
func (c *StationConfig) GetInputSize() int {
	if c.InputSize == nil {
		return 640
	}
	return *c.InputSize
}

// GetStageTimeout parses and returns the StageTimeout as a time.Duration.
func (c *StationConfig) GetStageTimeout() time.Duration {
	return c.duration(c.StageTimeout, time.Second)
}

// GetPartsLabels returns the parts_labels value or the default.
func (c *StationConfig) GetPartsLabels() string {
	if c.PartsLabels == nil {
		return filepath.Join(c.GetModelDir(), "parts.txt")
	}
	return *c.PartsLabels
}

// GetDefectLabels returns the defect_labels value or the default.
func (c *StationConfig) GetDefectLabels() string {
	if c.DefectLabels == nil {
		return filepath.Join(c.GetModelDir(), "defects.txt")
	}
	return *c.DefectLabels
}

// GetProfile returns the named robustness profile or the default.
func (c *StationConfig) GetProfile() adaptive.Profile {
	if c.Profile == nil || *c.Profile == "" {
		return adaptive.ProfileModerate
	}
	p, err := adaptive.ParseProfile(*c.Profile)
	if err != nil {
		return adaptive.ProfileModerate
	}
	return p
}

// GetPartsThresholds returns the parts detector thresholds: the named
// profile's base pair, with explicit overrides taking precedence.
func (c *StationConfig) GetPartsThresholds() postprocess.ThresholdSet {
	ts := c.GetProfile().Base()
	if c.PartsConfidence != nil {
		ts.Confidence = *c.PartsConfidence
	}
	if c.PartsIoU != nil {
		ts.IoU = *c.PartsIoU
	}
	return ts
}

// GetDefectsThresholds returns the defect detector thresholds: the
// named profile's base pair, with explicit overrides taking precedence.
func (c *StationConfig) GetDefectsThresholds() postprocess.ThresholdSet {
	ts := c.GetProfile().Base()
	if c.DefectsConfidence != nil {
		ts.Confidence = *c.DefectsConfidence
	}
	if c.DefectsIoU != nil {
		ts.IoU = *c.DefectsIoU
	}
	return ts
}

// GetPartsQuality returns the parts quality filter config or the defaults.
func (c *StationConfig) GetPartsQuality() postprocess.QualityConfig {
	if c.PartsQuality == nil {
		return postprocess.PartsQualityDefaults()
	}
	return *c.PartsQuality
}

// GetDefectsQuality returns the defect quality filter config or the defaults.
func (c *StationConfig) GetDefectsQuality() postprocess.QualityConfig {
	if c.DefectsQuality == nil {
		return postprocess.DefectQualityDefaults()
	}
	return *c.DefectsQuality
}

// GetFusionEnabled returns the fusion_enabled value or the default.
func (c *StationConfig) GetFusionEnabled() bool {
	if c.FusionEnabled == nil {
		return true
	}
	return *c.FusionEnabled
}

// GetFusionConfig returns the fusion grouping parameters or the defaults.
func (c *StationConfig) GetFusionConfig() fusion.Config {
	fc := fusion.DefaultConfig()
	if c.FusionMaxDistance != nil {
		fc.MaxCentroidDistance = *c.FusionMaxDistance
	}
	if c.FusionMinOverlap != nil {
		fc.MinMaskOverlap = *c.FusionMinOverlap
	}
	return fc
}

// GetAdaptiveEnabled returns the adaptive_enabled value or the default.
func (c *StationConfig) GetAdaptiveEnabled() bool {
	if c.AdaptiveEnabled == nil {
		return true
	}
	return *c.AdaptiveEnabled
}

// GetAdaptiveSmoothing returns the adaptive_smoothing value or the default.
func (c *StationConfig) GetAdaptiveSmoothing() float64 {
	if c.AdaptiveSmoothing == nil {
		return 0.3
	}
	return *c.AdaptiveSmoothing
}

// GetAdaptiveHistory returns the adaptive_history value or the default.
func (c *StationConfig) GetAdaptiveHistory() int {
	if c.AdaptiveHistory == nil {
		return 10
	}
	return *c.AdaptiveHistory
}

// GetDBPath returns the db_path value or the default.
func (c *StationConfig) GetDBPath() string {
	if c.DBPath == nil {
		return "inspections.db"
	}
	return *c.DBPath
}

// GetListenAddr returns the listen_addr value or the default.
func (c *StationConfig) GetListenAddr() string {
	if c.ListenAddr == nil {
		return ":8080"
	}
	return *c.ListenAddr
}

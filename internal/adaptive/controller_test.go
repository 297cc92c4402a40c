package adaptive

import (
	"testing"

	"github.com/coupling-works/inspect.station/internal/camera"
	"github.com/coupling-works/inspect.station/internal/postprocess"
)

func uniformFrame(w, h int, v byte) *camera.Frame {
	f := &camera.Frame{Width: w, Height: h, Pixels: make([]byte, w*h*3)}
	for i := range f.Pixels {
		f.Pixels[i] = v
	}
	return f
}

func TestAnalyzeUniformFrame(t *testing.T) {
	ill := Analyze(uniformFrame(16, 16, 128))
	if ill.Brightness < 127 || ill.Brightness > 129 {
		t.Errorf("brightness = %f, want ~128", ill.Brightness)
	}
	if ill.Contrast != 0 {
		t.Errorf("contrast = %f, want 0 for uniform frame", ill.Contrast)
	}
	if ill.DynamicRange != 0 {
		t.Errorf("dynamic range = %f, want 0", ill.DynamicRange)
	}
	if ill.Entropy != 0 {
		t.Errorf("entropy = %f, want 0 for single-value histogram", ill.Entropy)
	}
}

func TestAnalyzeGradientFrame(t *testing.T) {
	f := &camera.Frame{Width: 256, Height: 1, Pixels: make([]byte, 256*3)}
	for x := 0; x < 256; x++ {
		v := byte(x)
		f.Pixels[x*3], f.Pixels[x*3+1], f.Pixels[x*3+2] = v, v, v
	}
	ill := Analyze(f)
	if ill.Contrast <= 0 {
		t.Error("gradient frame reported zero contrast")
	}
	if ill.DynamicRange < 250 {
		t.Errorf("dynamic range = %f, want ~255", ill.DynamicRange)
	}
	if ill.Entropy < 7.9 || ill.Entropy > 8.01 {
		t.Errorf("entropy = %f, want ~8 bits for flat histogram", ill.Entropy)
	}
}

func TestRawFactorBounds(t *testing.T) {
	tests := []struct {
		name string
		ill  Illumination
	}{
		{"pitch black", Illumination{Brightness: 0, Contrast: 0}},
		{"blown out", Illumination{Brightness: 255, Contrast: 255}},
		{"nominal", Illumination{Brightness: 127.5, Contrast: 48}},
		{"dim low contrast", Illumination{Brightness: 30, Contrast: 5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := rawFactor(tt.ill)
			if f < FactorMin || f > FactorMax {
				t.Errorf("factor %f outside [%f, %f]", f, FactorMin, FactorMax)
			}
		})
	}
}

func TestRawFactorMonotoneInBrightness(t *testing.T) {
	prev := -1.0
	for b := 0.0; b <= 255; b += 5 {
		f := rawFactor(Illumination{Brightness: b, Contrast: 48})
		if f < prev {
			t.Fatalf("factor decreased at brightness %f: %f < %f", b, f, prev)
		}
		prev = f
	}
}

func TestRawFactorNominalIsNeutral(t *testing.T) {
	f := rawFactor(Illumination{Brightness: 127.5, Contrast: 48})
	if f < 0.99 || f > 1.01 {
		t.Errorf("nominal scene factor = %f, want ~1.0", f)
	}
}

func TestControllerDimSceneRelaxesThresholds(t *testing.T) {
	c := NewController(ControllerConfig{Profile: ProfileModerate, Smoothing: 1.0})
	base := ProfileModerate.Base()

	ts := c.Next(Illumination{Brightness: 30, Contrast: 5})
	if ts.Parts.Confidence >= base.Confidence {
		t.Errorf("dim scene did not relax parts confidence: %f >= %f", ts.Parts.Confidence, base.Confidence)
	}
	// IoU never scales with lighting.
	if ts.Parts.IoU != base.IoU {
		t.Errorf("IoU changed with lighting: %f != %f", ts.Parts.IoU, base.IoU)
	}
}

func TestControllerConfidenceStaysInBounds(t *testing.T) {
	c := NewController(ControllerConfig{Profile: ProfileExtreme, Smoothing: 1.0})
	ts := c.Next(Illumination{Brightness: 0, Contrast: 0})
	if ts.Parts.Confidence < 0.01 {
		t.Errorf("confidence %f below floor", ts.Parts.Confidence)
	}

	c = NewController(ControllerConfig{
		PartsBase:   postprocess.ThresholdSet{Confidence: 0.9, IoU: 0.3},
		DefectsBase: postprocess.ThresholdSet{Confidence: 0.9, IoU: 0.3},
		Smoothing:   1.0,
	})
	ts = c.Next(Illumination{Brightness: 255, Contrast: 255})
	if ts.Parts.Confidence > 0.99 {
		t.Errorf("confidence %f above ceiling", ts.Parts.Confidence)
	}
}

func TestControllerSmoothingDampsSwings(t *testing.T) {
	c := NewController(ControllerConfig{Profile: ProfileModerate, Smoothing: 0.3})

	// Settle at nominal.
	for i := 0; i < 20; i++ {
		c.Next(Illumination{Brightness: 127.5, Contrast: 48})
	}
	settled := c.Current().Factor

	// One dark frame must move the factor only a fraction of the way.
	ts := c.Next(Illumination{Brightness: 10, Contrast: 2})
	full := rawFactor(Illumination{Brightness: 10, Contrast: 2})
	if ts.Factor <= full {
		t.Errorf("factor %f jumped straight to raw %f", ts.Factor, full)
	}
	if ts.Factor >= settled {
		t.Errorf("factor %f did not move toward dark raw value", ts.Factor)
	}
}

func TestControllerEmptyHistoryDampsDown(t *testing.T) {
	c := NewController(ControllerConfig{Profile: ProfileModerate, Smoothing: 1.0})
	nominal := Illumination{Brightness: 127.5, Contrast: 48}

	without := c.Next(nominal).Factor
	for i := 0; i < 5; i++ {
		c.RecordDetections(0)
	}
	with := c.Next(nominal).Factor
	if with >= without {
		t.Errorf("empty detection history did not pull factor down: %f >= %f", with, without)
	}
}

func TestControllerSnapshotUnaffectedByNext(t *testing.T) {
	c := NewController(ControllerConfig{Profile: ProfileConservative, Smoothing: 1.0})
	snap := c.Next(Illumination{Brightness: 127.5, Contrast: 48})
	before := snap.Parts.Confidence

	// A later recomputation must not mutate the earlier snapshot.
	c.Next(Illumination{Brightness: 5, Contrast: 1})
	if snap.Parts.Confidence != before {
		t.Error("snapshot was mutated by a later Next")
	}
	if c.Current().Parts.Confidence >= before {
		t.Error("Current did not pick up the dark-scene recomputation")
	}
	if snap.Profile != ProfileConservative {
		t.Errorf("snapshot profile = %s", snap.Profile)
	}
}

func TestControllerHistoryWindowBounded(t *testing.T) {
	c := NewController(ControllerConfig{HistorySize: 3})
	for i := 0; i < 10; i++ {
		c.RecordDetections(i)
	}
	c.mu.Lock()
	n := len(c.history)
	c.mu.Unlock()
	if n != 3 {
		t.Errorf("history length = %d, want 3", n)
	}
}

func TestParseProfile(t *testing.T) {
	for _, name := range []string{"conservative", "moderate", "aggressive", "extreme"} {
		if _, err := ParseProfile(name); err != nil {
			t.Errorf("ParseProfile(%q) failed: %v", name, err)
		}
	}
	if _, err := ParseProfile("reckless"); err == nil {
		t.Error("unknown profile accepted")
	}
}

func TestProfileBaseTable(t *testing.T) {
	cons := ProfileConservative.Base()
	if cons.Confidence != 0.55 || cons.IoU != 0.35 {
		t.Errorf("conservative base = %+v", cons)
	}
	ext := ProfileExtreme.Base()
	if ext.Confidence != 0.01 || ext.IoU != 0.01 {
		t.Errorf("extreme base = %+v", ext)
	}
}

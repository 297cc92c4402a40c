package fusion

import (
	"testing"

	"github.com/coupling-works/inspect.station/internal/postprocess"
)

const frameSize = 64

// square builds a segmentation whose mask is a filled square with its
// top-left corner at (x, y).
func square(class int, score float64, x, y, side int) postprocess.Segmentation {
	m := postprocess.NewMask(frameSize, frameSize)
	for yy := y; yy < y+side; yy++ {
		for xx := x; xx < x+side; xx++ {
			m.Set(xx, yy)
		}
	}
	return postprocess.Segmentation{
		Detection: postprocess.Detection{
			Box:   postprocess.Box{X1: float64(x), Y1: float64(y), X2: float64(x + side), Y2: float64(y + side)},
			Score: score,
			Class: class,
			Label: "part",
		},
		Mask:       m,
		MaskArea:   side * side,
		MaskWidth:  side,
		MaskHeight: side,
	}
}

func TestFuseSinglePassthrough(t *testing.T) {
	e := NewEngine(DefaultConfig())
	in := []postprocess.Segmentation{square(0, 0.9, 10, 10, 8)}
	out, bad := e.Fuse(in)
	if len(bad) != 0 {
		t.Fatalf("unexpected inconsistencies: %v", bad)
	}
	if len(out) != 1 || out[0].MaskArea != 64 || out[0].Score != 0.9 {
		t.Errorf("single input changed: %+v", out)
	}
}

func TestFuseEmpty(t *testing.T) {
	e := NewEngine(DefaultConfig())
	out, bad := e.Fuse(nil)
	if len(out) != 0 || len(bad) != 0 {
		t.Errorf("empty input produced output: %v %v", out, bad)
	}
}

func TestFuseTouchingPairMerges(t *testing.T) {
	e := NewEngine(Config{MaxCentroidDistance: 20})
	a := square(0, 0.9, 10, 10, 8)
	b := square(0, 0.7, 20, 10, 8)

	out, bad := e.Fuse([]postprocess.Segmentation{a, b})
	if len(bad) != 0 {
		t.Fatalf("unexpected inconsistencies: %v", bad)
	}
	if len(out) != 1 {
		t.Fatalf("got %d outputs, want 1 merged", len(out))
	}
	m := out[0]
	if m.Score != 0.9 {
		t.Errorf("merged score = %f, want group max 0.9", m.Score)
	}
	// Union box must contain both inputs.
	if m.Box.X1 > a.Box.X1 || m.Box.X2 < b.Box.X2 || m.Box.Y1 > a.Box.Y1 || m.Box.Y2 < a.Box.Y2 {
		t.Errorf("merged box %+v does not cover both inputs", m.Box)
	}
}

func TestFuseDistantPairPassesThrough(t *testing.T) {
	e := NewEngine(Config{MaxCentroidDistance: 5})
	a := square(0, 0.9, 2, 2, 4)
	b := square(0, 0.7, 50, 50, 4)

	out, _ := e.Fuse([]postprocess.Segmentation{a, b})
	if len(out) != 2 {
		t.Fatalf("got %d outputs, want 2", len(out))
	}
	if out[0].Box != a.Box || out[1].Box != b.Box {
		t.Error("passthrough did not preserve input order")
	}
}

func TestFuseTransitiveClosure(t *testing.T) {
	// a touches b, b touches c, a does not touch c directly. All three
	// must land in one group.
	e := NewEngine(Config{MaxCentroidDistance: 12})
	a := square(0, 0.9, 4, 10, 6)
	b := square(0, 0.8, 14, 10, 6)
	c := square(0, 0.7, 24, 10, 6)

	if e.touching(&a, &c) {
		t.Fatal("test setup broken: a and c touch directly")
	}
	out, bad := e.Fuse([]postprocess.Segmentation{a, b, c})
	if len(bad) != 0 {
		t.Fatalf("unexpected inconsistencies: %v", bad)
	}
	if len(out) != 1 {
		t.Fatalf("got %d outputs, want 1 transitive merge", len(out))
	}
	if out[0].Score != 0.9 {
		t.Errorf("merged score = %f", out[0].Score)
	}
}

func TestFuseMixedClassesReported(t *testing.T) {
	e := NewEngine(Config{MaxCentroidDistance: 20})
	a := square(0, 0.9, 10, 10, 8)
	b := square(2, 0.8, 20, 10, 8)

	out, bad := e.Fuse([]postprocess.Segmentation{a, b})
	if len(out) != 2 {
		t.Fatalf("mixed-class group was merged: %d outputs", len(out))
	}
	if len(bad) != 1 {
		t.Fatalf("got %d inconsistencies, want 1", len(bad))
	}
	ic := bad[0]
	if len(ic.Members) != 2 || ic.Members[0] != 0 || ic.Members[1] != 1 {
		t.Errorf("members = %v", ic.Members)
	}
	if len(ic.Classes) != 2 || ic.Classes[0] != 0 || ic.Classes[1] != 2 {
		t.Errorf("classes = %v", ic.Classes)
	}
	if ic.Error() == "" {
		t.Error("inconsistency has empty error text")
	}
}

func TestFuseOverlapGroupingWithoutDistance(t *testing.T) {
	// Distance test disabled; only mask IoU groups. Two heavily
	// overlapping squares merge, a disjoint one stays separate.
	e := NewEngine(Config{MinMaskOverlap: 0.3})
	a := square(0, 0.9, 10, 10, 10)
	b := square(0, 0.8, 12, 10, 10) // IoU 8/12
	c := square(0, 0.7, 40, 40, 10)

	out, bad := e.Fuse([]postprocess.Segmentation{a, b, c})
	if len(bad) != 0 {
		t.Fatalf("unexpected inconsistencies: %v", bad)
	}
	if len(out) != 2 {
		t.Fatalf("got %d outputs, want 2", len(out))
	}
	if out[1].Score != 0.7 {
		t.Errorf("disjoint segmentation not preserved: %+v", out[1])
	}
}

func TestMergeWeightedBinarise(t *testing.T) {
	// The dominant member keeps its pixels, the weak member's
	// exclusive pixels fall below the 0.5 vote and drop out.
	e := NewEngine(Config{MaxCentroidDistance: 30})
	strong := square(0, 0.9, 10, 10, 6)
	weak := square(0, 0.1, 18, 10, 6)

	out, _ := e.Fuse([]postprocess.Segmentation{strong, weak})
	if len(out) != 1 {
		t.Fatalf("got %d outputs, want 1", len(out))
	}
	m := out[0].Mask
	if !m.At(12, 12) {
		t.Error("pixel backed by dominant member was dropped")
	}
	if m.At(20, 12) {
		t.Error("pixel backed only by weak member survived binarisation")
	}
	if out[0].MaskArea != 36 {
		t.Errorf("merged area = %d, want 36 (dominant square only)", out[0].MaskArea)
	}
}

func TestFuseDeterministicOrdering(t *testing.T) {
	e := NewEngine(Config{MaxCentroidDistance: 8})
	in := []postprocess.Segmentation{
		square(0, 0.5, 50, 50, 4),
		square(0, 0.9, 10, 10, 4),
		square(0, 0.8, 14, 10, 4),
	}
	first, _ := e.Fuse(in)
	for i := 0; i < 5; i++ {
		again, _ := e.Fuse(in)
		if len(again) != len(first) {
			t.Fatal("output length unstable")
		}
		for j := range again {
			if again[j].Box != first[j].Box || again[j].Score != first[j].Score {
				t.Fatalf("run %d output %d differs", i, j)
			}
		}
	}
	// Groups are emitted by smallest input index: the lone segmentation
	// at index 0 first, then the merged pair.
	if first[0].Score != 0.5 || first[1].Score != 0.9 {
		t.Errorf("ordering = %f, %f", first[0].Score, first[1].Score)
	}
}

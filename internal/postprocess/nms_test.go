package postprocess

import "testing"

func det(x1, y1, x2, y2, score float64) Detection {
	return Detection{Box: Box{X1: x1, Y1: y1, X2: x2, Y2: y2}, Score: score}
}

func TestNMSSuppressesOverlaps(t *testing.T) {
	dets := []Detection{
		det(0, 0, 100, 100, 0.9),
		det(10, 10, 110, 110, 0.8), // heavy overlap with first
		det(200, 200, 300, 300, 0.7),
	}
	keep := nonMaxSuppression(dets, 0.5)
	if len(keep) != 2 {
		t.Fatalf("kept %d, want 2: %v", len(keep), keep)
	}
	if keep[0] != 0 || keep[1] != 2 {
		t.Errorf("kept %v, want [0 2]", keep)
	}
}

func TestNMSEqualConfidenceTieBreak(t *testing.T) {
	// Identical boxes, identical scores: the earlier index must win.
	dets := []Detection{
		det(0, 0, 50, 50, 0.8),
		det(0, 0, 50, 50, 0.8),
		det(0, 0, 50, 50, 0.8),
	}
	keep := nonMaxSuppression(dets, 0.5)
	if len(keep) != 1 || keep[0] != 0 {
		t.Errorf("kept %v, want [0]", keep)
	}
}

func TestNMSPairwiseIoUBound(t *testing.T) {
	dets := []Detection{
		det(0, 0, 100, 100, 0.9),
		det(40, 0, 140, 100, 0.85),
		det(80, 0, 180, 100, 0.8),
		det(30, 30, 90, 90, 0.95),
		det(0, 50, 100, 150, 0.6),
	}
	thresh := 0.3
	keep := nonMaxSuppression(dets, thresh)
	for i := 0; i < len(keep); i++ {
		for j := i + 1; j < len(keep); j++ {
			iou := dets[keep[i]].Box.IoU(dets[keep[j]].Box)
			if iou > thresh {
				t.Errorf("kept pair (%d,%d) has IoU %.3f > %.3f", keep[i], keep[j], iou, thresh)
			}
		}
	}
}

func TestNMSDeterministic(t *testing.T) {
	dets := []Detection{
		det(0, 0, 60, 60, 0.7),
		det(20, 20, 80, 80, 0.7),
		det(40, 40, 100, 100, 0.7),
	}
	first := nonMaxSuppression(dets, 0.2)
	for run := 0; run < 10; run++ {
		again := nonMaxSuppression(dets, 0.2)
		if len(again) != len(first) {
			t.Fatalf("run %d: kept %v, first run kept %v", run, again, first)
		}
		for i := range first {
			if again[i] != first[i] {
				t.Fatalf("run %d: kept %v, first run kept %v", run, again, first)
			}
		}
	}
}

func TestNMSEmptyInput(t *testing.T) {
	if keep := nonMaxSuppression(nil, 0.5); len(keep) != 0 {
		t.Errorf("kept %v from empty input", keep)
	}
}

func TestBoxIoU(t *testing.T) {
	a := Box{X1: 0, Y1: 0, X2: 10, Y2: 10}
	tests := []struct {
		name string
		b    Box
		want float64
	}{
		{"identical", Box{0, 0, 10, 10}, 1.0},
		{"disjoint", Box{20, 20, 30, 30}, 0.0},
		{"touching edge", Box{10, 0, 20, 10}, 0.0},
		{"half overlap", Box{5, 0, 15, 10}, 50.0 / 150.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := a.IoU(tt.b)
			if diff := got - tt.want; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("IoU = %f, want %f", got, tt.want)
			}
		})
	}
}

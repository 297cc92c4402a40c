// Package fusion merges segmentation masks that belong to physically
// touching objects. Parts pressed together on the inspection belt
// frequently segment as separate instances; the fusion engine groups
// instances whose masks touch and collapses each group into one
// segmentation.
package fusion

import (
	"fmt"
	"math"
	"sort"

	"github.com/coupling-works/inspect.station/internal/postprocess"
)

// Default grouping parameters, in frame pixels.
const (
	DefaultMaxCentroidDistance = 60.0
	DefaultMinMaskOverlap      = 0.10
)

// Config holds the grouping parameters for one fusion pass.
type Config struct {
	// MaxCentroidDistance groups two masks whose centroids lie within
	// this many pixels of each other. Zero disables the distance test.
	MaxCentroidDistance float64 `json:"max_centroid_distance"`
	// MinMaskOverlap groups two masks whose IoU meets this ratio.
	// Zero disables the overlap test.
	MinMaskOverlap float64 `json:"min_mask_overlap"`
}

// DefaultConfig returns grouping parameters tuned for coupling parts
// at the station's working distance.
func DefaultConfig() Config {
	return Config{
		MaxCentroidDistance: DefaultMaxCentroidDistance,
		MinMaskOverlap:      DefaultMinMaskOverlap,
	}
}

// Inconsistency records a group whose members carry different class
// labels. Such a group is never merged; its members pass through
// unchanged.
type Inconsistency struct {
	Members []int `json:"members"` // input indices, ascending
	Classes []int `json:"classes"` // distinct class indices, ascending
}

func (ic Inconsistency) Error() string {
	return fmt.Sprintf("fusion group %v spans classes %v", ic.Members, ic.Classes)
}

// Engine groups and merges touching segmentations. Safe for concurrent
// use: a fusion pass holds no state between calls.
type Engine struct {
	cfg Config
}

func NewEngine(cfg Config) *Engine {
	if cfg.MaxCentroidDistance == 0 && cfg.MinMaskOverlap == 0 {
		cfg = DefaultConfig()
	}
	return &Engine{cfg: cfg}
}

// Fuse collapses each group of touching segmentations into one merged
// segmentation. Ungrouped inputs pass through unchanged. The output is
// ordered by the smallest input index of each group, so the result is
// deterministic for a given input slice. Groups whose members disagree
// on class are reported and passed through unmerged.
func (e *Engine) Fuse(segs []postprocess.Segmentation) ([]postprocess.Segmentation, []Inconsistency) {
	if len(segs) <= 1 {
		return segs, nil
	}

	uf := newUnionFind(len(segs))
	for i := 0; i < len(segs); i++ {
		for j := i + 1; j < len(segs); j++ {
			if e.touching(&segs[i], &segs[j]) {
				uf.union(i, j)
			}
		}
	}

	// Collect groups keyed by root, members in input order.
	groups := make(map[int][]int)
	for i := range segs {
		r := uf.find(i)
		groups[r] = append(groups[r], i)
	}

	// Order groups by their smallest member index.
	leaders := make([]int, 0, len(groups))
	for _, members := range groups {
		leaders = append(leaders, members[0])
	}
	sort.Ints(leaders)

	out := make([]postprocess.Segmentation, 0, len(leaders))
	var bad []Inconsistency
	for _, lead := range leaders {
		members := groups[uf.find(lead)]
		if len(members) == 1 {
			out = append(out, segs[members[0]])
			continue
		}
		if classes := distinctClasses(segs, members); len(classes) > 1 {
			bad = append(bad, Inconsistency{Members: members, Classes: classes})
			for _, m := range members {
				out = append(out, segs[m])
			}
			continue
		}
		out = append(out, mergeGroup(segs, members))
	}
	return out, bad
}

// touching applies the pairwise candidate test: centroid distance
// within bound, or mask IoU above the overlap floor.
func (e *Engine) touching(a, b *postprocess.Segmentation) bool {
	if e.cfg.MaxCentroidDistance > 0 {
		ax, ay, aok := a.Mask.Centroid()
		bx, by, bok := b.Mask.Centroid()
		if aok && bok {
			if math.Hypot(ax-bx, ay-by) <= e.cfg.MaxCentroidDistance {
				return true
			}
		}
	}
	if e.cfg.MinMaskOverlap > 0 {
		if a.Mask.IoU(b.Mask) >= e.cfg.MinMaskOverlap {
			return true
		}
	}
	return false
}

func distinctClasses(segs []postprocess.Segmentation, members []int) []int {
	seen := make(map[int]bool)
	for _, m := range members {
		seen[segs[m].Class] = true
	}
	classes := make([]int, 0, len(seen))
	for c := range seen {
		classes = append(classes, c)
	}
	sort.Ints(classes)
	return classes
}

// mergeGroup collapses members into one segmentation: masks are
// averaged pixel-wise weighted by member confidence and re-binarised
// at 0.5, the box is the union of member boxes, and confidence is the
// group maximum. The label comes from the highest-confidence member;
// equal confidences break toward the smaller class index, then the
// smaller input index.
func mergeGroup(segs []postprocess.Segmentation, members []int) postprocess.Segmentation {
	first := segs[members[0]]
	w, h := first.Mask.W, first.Mask.H

	var totalWeight float64
	for _, m := range members {
		totalWeight += segs[m].Score
	}

	merged := postprocess.NewMask(w, h)
	box := first.Box
	lead := members[0]
	for _, m := range members[1:] {
		box = box.Union(segs[m].Box)
		if better(segs[m], segs[lead]) {
			lead = m
		}
	}

	x1, y1 := int(box.X1), int(box.Y1)
	x2, y2 := int(math.Ceil(box.X2)), int(math.Ceil(box.Y2))
	for y := y1; y < y2 && y < h; y++ {
		for x := x1; x < x2 && x < w; x++ {
			var acc float64
			for _, m := range members {
				if segs[m].Mask.At(x, y) {
					acc += segs[m].Score
				}
			}
			if totalWeight > 0 && acc/totalWeight >= 0.5 {
				merged.Set(x, y)
			}
		}
	}

	mw, mh := 0, 0
	if b, ok := merged.Bounds(); ok {
		mw, mh = int(b.Width()), int(b.Height())
	}

	return postprocess.Segmentation{
		Detection: postprocess.Detection{
			Box:   box,
			Score: segs[lead].Score,
			Class: segs[lead].Class,
			Label: segs[lead].Label,
		},
		Mask:       merged,
		MaskArea:   merged.Area(),
		MaskWidth:  mw,
		MaskHeight: mh,
	}
}

// better reports whether a should lead the merged group over b.
func better(a, b postprocess.Segmentation) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.Class < b.Class
}

// unionFind is a plain disjoint-set with path compression. Group sizes
// here are tiny, so union by rank is not worth the bookkeeping.
type unionFind struct {
	parent []int
}

func newUnionFind(n int) *unionFind {
	p := make([]int, n)
	for i := range p {
		p[i] = i
	}
	return &unionFind{parent: p}
}

func (u *unionFind) find(x int) int {
	for u.parent[x] != x {
		u.parent[x] = u.parent[u.parent[x]]
		x = u.parent[x]
	}
	return x
}

func (u *unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	// Smaller root wins so group identity follows the earliest member.
	if ra < rb {
		u.parent[rb] = ra
	} else {
		u.parent[ra] = rb
	}
}

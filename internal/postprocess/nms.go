package postprocess

import "sort"

// nonMaxSuppression returns the indices of detections that survive
// greedy NMS at the given IoU threshold. Candidates are visited in
// descending confidence order; on equal confidence the candidate with
// the smaller original index wins, which keeps the result
// deterministic for identical inputs.
func nonMaxSuppression(dets []Detection, iouThreshold float64) []int {
	order := make([]int, len(dets))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		da, db := dets[order[a]], dets[order[b]]
		if da.Score != db.Score {
			return da.Score > db.Score
		}
		return order[a] < order[b]
	})

	keep := make([]int, 0, len(dets))
	suppressed := make([]bool, len(dets))
	for _, i := range order {
		if suppressed[i] {
			continue
		}
		keep = append(keep, i)
		for _, j := range order {
			if j == i || suppressed[j] {
				continue
			}
			if dets[i].Box.IoU(dets[j].Box) > iouThreshold {
				suppressed[j] = true
			}
		}
	}

	// Survivors in original candidate order keeps downstream handling
	// stable.
	sort.Ints(keep)
	return keep
}

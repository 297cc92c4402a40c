package postprocess

// QualityConfig holds the geometric acceptance gates applied to
// decoded segmentations. Each family (parts, defects) carries its own
// config. All comparisons are inclusive on the passing side: a value
// exactly at a minimum passes, exactly at the maximum passes.
type QualityConfig struct {
	// MinMaskArea is the minimum number of foreground pixels.
	MinMaskArea int `json:"min_mask_area"`
	// MinMaskWidth/MinMaskHeight bound the tight foreground extents.
	MinMaskWidth  int `json:"min_mask_width"`
	MinMaskHeight int `json:"min_mask_height"`
	// MinBoxArea is the minimum bounding box area in pixels.
	MinBoxArea float64 `json:"min_box_area"`
	// MinCoverage is the minimum mask area / box area ratio.
	MinCoverage float64 `json:"min_coverage"`
	// MinDensity is the minimum foreground ratio inside the box region.
	MinDensity float64 `json:"min_density"`
	// MaxAspectRatio bounds max(extentW, extentH) / min(extentW, extentH).
	MaxAspectRatio float64 `json:"max_aspect_ratio"`
}

// PartsQualityDefaults returns the production gates for part masks.
func PartsQualityDefaults() QualityConfig {
	return QualityConfig{
		MinMaskArea:    2000,
		MinMaskWidth:   30,
		MinMaskHeight:  30,
		MinBoxArea:     500,
		MinCoverage:    0.4,
		MinDensity:     0.1,
		MaxAspectRatio: 10.0,
	}
}

// DefectQualityDefaults returns the gates for defect masks. Defects
// are legitimately small and sparse, so every minimum sits well below
// the parts config.
func DefectQualityDefaults() QualityConfig {
	return QualityConfig{
		MinMaskArea:    50,
		MinMaskWidth:   5,
		MinMaskHeight:  5,
		MinBoxArea:     25,
		MinCoverage:    0.1,
		MinDensity:     0.05,
		MaxAspectRatio: 20.0,
	}
}

// Accept reports whether a segmentation passes every gate. Zero-valued
// gates are disabled.
func (q QualityConfig) Accept(s *Segmentation) bool {
	if q.MinBoxArea > 0 && s.Box.Area() < q.MinBoxArea {
		return false
	}
	if q.MinMaskArea > 0 && s.MaskArea < q.MinMaskArea {
		return false
	}
	if q.MinMaskWidth > 0 && s.MaskWidth < q.MinMaskWidth {
		return false
	}
	if q.MinMaskHeight > 0 && s.MaskHeight < q.MinMaskHeight {
		return false
	}
	if q.MinCoverage > 0 {
		boxArea := s.Box.Area()
		if boxArea <= 0 || float64(s.MaskArea)/boxArea < q.MinCoverage {
			return false
		}
	}
	if q.MaxAspectRatio > 0 && s.MaskWidth > 0 && s.MaskHeight > 0 {
		w, h := float64(s.MaskWidth), float64(s.MaskHeight)
		ratio := w / h
		if h > w {
			ratio = h / w
		}
		if ratio > q.MaxAspectRatio {
			return false
		}
	}
	if q.MinDensity > 0 {
		boxArea := s.Box.Area()
		if boxArea <= 0 {
			return false
		}
		density := float64(s.Mask.CountIn(s.Box)) / boxArea
		if density < q.MinDensity {
			return false
		}
	}
	return true
}

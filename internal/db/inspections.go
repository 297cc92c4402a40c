package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/coupling-works/inspect.station/internal/pipeline"
)

// InspectionRecord is one persisted pipeline run. The per-stage result
// columns hold the JSON the pipeline produced; a NULL column means the
// stage failed or was not requested, an empty JSON array means it ran
// and found nothing.
type InspectionRecord struct {
	ID        string    `json:"id"`
	StartedAt time.Time `json:"started_at"`
	Backend   string    `json:"backend"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	Sequence  uint64    `json:"sequence"`

	Profile           string  `json:"profile"`
	Factor            float64 `json:"factor"`
	PartsConfidence   float64 `json:"parts_confidence"`
	PartsIoU          float64 `json:"parts_iou"`
	DefectsConfidence float64 `json:"defects_confidence"`
	DefectsIoU        float64 `json:"defects_iou"`

	Classification      json.RawMessage `json:"classification"`
	PartDetections      json.RawMessage `json:"part_detections"`
	DefectDetections    json.RawMessage `json:"defect_detections"`
	DefectSegmentations json.RawMessage `json:"defect_segmentations"`
	PartSegmentations   json.RawMessage `json:"part_segmentations"`

	FusionApplied bool            `json:"fusion_applied"`
	FusionNotes   json.RawMessage `json:"fusion_notes,omitempty"`
	Errors        json.RawMessage `json:"errors,omitempty"`
	ModelIDs      json.RawMessage `json:"model_ids"`

	Timings pipeline.Timings `json:"timings"`
}

// RecordInspection writes one pipeline result. Failed stages are
// stored as NULL so the record distinguishes "failed" from "empty".
func (db *DB) RecordInspection(res *pipeline.Result) error {
	classification, err := jsonColumn(res.Classification, res.Classification == nil)
	if err != nil {
		return err
	}
	partDets, err := jsonColumn(res.PartDetections, res.PartDetections == nil)
	if err != nil {
		return err
	}
	defectDets, err := jsonColumn(res.DefectDetections, res.DefectDetections == nil)
	if err != nil {
		return err
	}
	defectSegs, err := jsonColumn(res.DefectSegmentations, res.DefectSegmentations == nil)
	if err != nil {
		return err
	}
	partSegs, err := jsonColumn(res.PartSegmentations, res.PartSegmentations == nil)
	if err != nil {
		return err
	}
	notes, err := jsonColumn(res.FusionNotes, len(res.FusionNotes) == 0)
	if err != nil {
		return err
	}
	errs, err := jsonColumn(res.Errors, len(res.Errors) == 0)
	if err != nil {
		return err
	}
	modelIDs, err := jsonColumn(res.ModelIDs, len(res.ModelIDs) == 0)
	if err != nil {
		return err
	}

	_, err = db.Exec(`INSERT INTO inspections (
			id, started_at, backend, width, height, sequence,
			profile, factor,
			parts_confidence, parts_iou, defects_confidence, defects_iou,
			classification, part_detections, defect_detections,
			defect_segmentations, part_segmentations,
			fusion_applied, fusion_notes, errors, model_ids,
			capture_ms, classify_ms, detect_parts_ms, detect_defects_ms,
			segment_defects_ms, segment_parts_ms, total_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		res.ID, res.StartedAt, res.Backend, res.Width, res.Height, res.Sequence,
		string(res.Thresholds.Profile), res.Thresholds.Factor,
		res.Thresholds.Parts.Confidence, res.Thresholds.Parts.IoU,
		res.Thresholds.Defects.Confidence, res.Thresholds.Defects.IoU,
		classification, partDets, defectDets, defectSegs, partSegs,
		res.FusionApplied, notes, errs, modelIDs,
		res.Timings.CaptureMs, res.Timings.ClassifyMs, res.Timings.DetectPartsMs,
		res.Timings.DetectDefectsMs, res.Timings.SegmentDefectsMs,
		res.Timings.SegmentPartsMs, res.Timings.TotalMs,
	)
	if err != nil {
		return fmt.Errorf("insert inspection %s: %w", res.ID, err)
	}
	return nil
}

// RecentInspections returns up to n records, newest first.
func (db *DB) RecentInspections(n int) ([]InspectionRecord, error) {
	rows, err := db.Query(`SELECT
			id, started_at, backend, width, height, sequence,
			profile, factor,
			parts_confidence, parts_iou, defects_confidence, defects_iou,
			classification, part_detections, defect_detections,
			defect_segmentations, part_segmentations,
			fusion_applied, fusion_notes, errors, model_ids,
			capture_ms, classify_ms, detect_parts_ms, detect_defects_ms,
			segment_defects_ms, segment_parts_ms, total_ms
		FROM inspections ORDER BY started_at DESC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []InspectionRecord
	for rows.Next() {
		var (
			rec                                            InspectionRecord
			classification, partDets, defectDets           sql.NullString
			defectSegs, partSegs, notes, errsCol, modelIDs sql.NullString
		)
		if err := rows.Scan(
			&rec.ID, &rec.StartedAt, &rec.Backend, &rec.Width, &rec.Height, &rec.Sequence,
			&rec.Profile, &rec.Factor,
			&rec.PartsConfidence, &rec.PartsIoU, &rec.DefectsConfidence, &rec.DefectsIoU,
			&classification, &partDets, &defectDets, &defectSegs, &partSegs,
			&rec.FusionApplied, &notes, &errsCol, &modelIDs,
			&rec.Timings.CaptureMs, &rec.Timings.ClassifyMs, &rec.Timings.DetectPartsMs,
			&rec.Timings.DetectDefectsMs, &rec.Timings.SegmentDefectsMs,
			&rec.Timings.SegmentPartsMs, &rec.Timings.TotalMs,
		); err != nil {
			return nil, err
		}
		rec.Classification = rawJSON(classification)
		rec.PartDetections = rawJSON(partDets)
		rec.DefectDetections = rawJSON(defectDets)
		rec.DefectSegmentations = rawJSON(defectSegs)
		rec.PartSegmentations = rawJSON(partSegs)
		rec.FusionNotes = rawJSON(notes)
		rec.Errors = rawJSON(errsCol)
		rec.ModelIDs = rawJSON(modelIDs)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// StageTiming is one run's timing row for the report tool.
type StageTiming struct {
	StartedAt time.Time
	Timings   pipeline.Timings
}

// StageTimings returns per-run timings since the given time, oldest
// first.
func (db *DB) StageTimings(since time.Time) ([]StageTiming, error) {
	rows, err := db.Query(`SELECT
			started_at,
			capture_ms, classify_ms, detect_parts_ms, detect_defects_ms,
			segment_defects_ms, segment_parts_ms, total_ms
		FROM inspections WHERE started_at >= ? ORDER BY started_at ASC`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var timings []StageTiming
	for rows.Next() {
		var st StageTiming
		if err := rows.Scan(
			&st.StartedAt,
			&st.Timings.CaptureMs, &st.Timings.ClassifyMs, &st.Timings.DetectPartsMs,
			&st.Timings.DetectDefectsMs, &st.Timings.SegmentDefectsMs,
			&st.Timings.SegmentPartsMs, &st.Timings.TotalMs,
		); err != nil {
			return nil, err
		}
		timings = append(timings, st)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return timings, nil
}

// InspectionStats summarises the inspections table.
type InspectionStats struct {
	Count       int64   `json:"count"`
	WithErrors  int64   `json:"with_errors"`
	MeanTotalMs float64 `json:"mean_total_ms"`
}

// Stats returns aggregate counters over all recorded inspections.
func (db *DB) Stats() (InspectionStats, error) {
	var st InspectionStats
	err := db.QueryRow(`SELECT
			COUNT(*),
			COUNT(errors),
			COALESCE(AVG(total_ms), 0)
		FROM inspections`).Scan(&st.Count, &st.WithErrors, &st.MeanTotalMs)
	if err != nil {
		return InspectionStats{}, err
	}
	return st, nil
}

// jsonColumn marshals v for a nullable TEXT column. null forces a NULL
// regardless of v, preserving the failed-stage marker.
func jsonColumn(v interface{}, null bool) (interface{}, error) {
	if null {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal column: %w", err)
	}
	return string(data), nil
}

func rawJSON(s sql.NullString) json.RawMessage {
	if !s.Valid {
		return nil
	}
	return json.RawMessage(s.String)
}

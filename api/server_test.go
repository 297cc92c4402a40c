package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/coupling-works/inspect.station/internal/adaptive"
	"github.com/coupling-works/inspect.station/internal/camera"
	"github.com/coupling-works/inspect.station/internal/config"
	"github.com/coupling-works/inspect.station/internal/db"
	"github.com/coupling-works/inspect.station/internal/fusion"
	"github.com/coupling-works/inspect.station/internal/inference"
	"github.com/coupling-works/inspect.station/internal/pipeline"
	"github.com/coupling-works/inspect.station/internal/postprocess"
)

func classifyTensor() inference.Tensor {
	t := inference.NewTensor(1, 3)
	copy(t.Data, []float32{0.1, 2.0, 0.5})
	return t
}

func detectTensor() inference.Tensor {
	t := inference.NewTensor(1, 5, 1)
	copy(t.Data, []float32{320, 320, 200, 200, 4.0})
	return t
}

func newTestServer(t *testing.T, withDB bool) (*Server, *camera.Source) {
	t.Helper()

	source := camera.NewSource(
		camera.SourceConfig{FrameTimeout: 200 * time.Millisecond},
		&camera.MockBackend{Width: 64, Height: 64, Interval: time.Millisecond},
	)
	if err := source.Start(context.Background()); err != nil {
		t.Fatalf("source start failed: %v", err)
	}
	t.Cleanup(source.Stop)

	runner := inference.NewRunner(inference.RunnerConfig{})
	t.Cleanup(func() { runner.Close() })
	for _, stage := range inference.Stages() {
		var outs []inference.Tensor
		switch stage {
		case inference.StageClassify:
			outs = []inference.Tensor{classifyTensor()}
		default:
			outs = []inference.Tensor{detectTensor()}
		}
		if err := runner.Bind(stage, &inference.MockEngine{ID: string(stage) + "-v1", Outputs: outs}); err != nil {
			t.Fatalf("bind %s failed: %v", stage, err)
		}
	}

	orch := pipeline.New(pipeline.Config{
		Source: source,
		Runner: runner,
		Static: adaptive.Thresholds{
			Parts:   postprocess.ThresholdSet{Confidence: 0.3, IoU: 0.45},
			Defects: postprocess.ThresholdSet{Confidence: 0.3, IoU: 0.45},
			Profile: adaptive.ProfileModerate,
			Factor:  1.0,
		},
		Fusion:         fusion.NewEngine(fusion.DefaultConfig()),
		FusionEnabled:  true,
		PartsQuality:   postprocess.PartsQualityDefaults(),
		DefectsQuality: postprocess.DefectQualityDefaults(),
	})

	var database *db.DB
	if withDB {
		var err error
		database, err = db.NewDB(filepath.Join(t.TempDir(), "api_test.db"))
		if err != nil {
			t.Fatalf("failed to create test DB: %v", err)
		}
		t.Cleanup(func() { database.Close() })
	}

	cfg := config.EmptyStationConfig()
	return NewServer(orch, source, database, cfg), source
}

func TestInspectEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, true)
	mux := srv.ServeMux()

	req := httptest.NewRequest(http.MethodPost, "/inspect", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var res pipeline.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("failed to decode result: %v", err)
	}
	if res.ID == "" {
		t.Error("expected a run ID")
	}
	if res.Classification == nil {
		t.Error("expected a classification")
	}
	if res.Backend != "mock" {
		t.Errorf("expected mock backend, got %q", res.Backend)
	}

	// The full run must have been persisted.
	records, err := srv.db.RecentInspections(1)
	if err != nil {
		t.Fatalf("RecentInspections failed: %v", err)
	}
	if len(records) != 1 || records[0].ID != res.ID {
		t.Errorf("expected persisted run %s, got %+v", res.ID, records)
	}
}

func TestInspectMethodNotAllowed(t *testing.T) {
	srv, _ := newTestServer(t, false)
	mux := srv.ServeMux()

	req := httptest.NewRequest(http.MethodGet, "/inspect", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rec.Code)
	}
}

func TestInspectSingleStage(t *testing.T) {
	srv, _ := newTestServer(t, true)
	mux := srv.ServeMux()

	req := httptest.NewRequest(http.MethodPost, "/inspect?stage=classify", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var res pipeline.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("failed to decode result: %v", err)
	}
	if res.Classification == nil {
		t.Error("expected a classification")
	}
	if res.PartDetections != nil {
		t.Error("expected no part detections on a classify-only run")
	}

	// Single-stage runs are not persisted.
	records, err := srv.db.RecentInspections(1)
	if err != nil {
		t.Fatalf("RecentInspections failed: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("expected no persisted runs, got %d", len(records))
	}
}

func TestInspectUnknownStage(t *testing.T) {
	srv, _ := newTestServer(t, false)
	mux := srv.ServeMux()

	req := httptest.NewRequest(http.MethodPost, "/inspect?stage=bogus", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestListInspections(t *testing.T) {
	srv, _ := newTestServer(t, true)
	mux := srv.ServeMux()

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/inspect", nil)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("inspect %d failed: %d", i, rec.Code)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/inspections?limit=2", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var records []db.InspectionRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &records); err != nil {
		t.Fatalf("failed to decode records: %v", err)
	}
	if len(records) != 2 {
		t.Errorf("expected 2 records, got %d", len(records))
	}
}

func TestListInspectionsBadLimit(t *testing.T) {
	srv, _ := newTestServer(t, true)
	mux := srv.ServeMux()

	for _, limit := range []string{"0", "-1", "nope", "501"} {
		req := httptest.NewRequest(http.MethodGet, "/inspections?limit="+limit, nil)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("limit %q: expected 400, got %d", limit, rec.Code)
		}
	}
}

func TestStatsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, true)
	mux := srv.ServeMux()

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var out struct {
		Capture     camera.CaptureStats `json:"capture"`
		Inspections *db.InspectionStats `json:"inspections"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("failed to decode stats: %v", err)
	}
	if out.Capture.Backend != "mock" {
		t.Errorf("expected mock capture backend, got %q", out.Capture.Backend)
	}
	if out.Inspections == nil {
		t.Error("expected inspection stats with a database configured")
	}
}

func TestConfigEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, false)
	mux := srv.ServeMux()

	req := httptest.NewRequest(http.MethodGet, "/config", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var cfg config.StationConfig
	if err := json.Unmarshal(rec.Body.Bytes(), &cfg); err != nil {
		t.Fatalf("failed to decode config: %v", err)
	}
	if cfg.SensorAddr != nil {
		t.Error("expected unset fields to stay absent in the reported config")
	}
}

func TestStatusEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, false)
	mux := srv.ServeMux()

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var status struct {
		Backend string `json:"backend"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("failed to decode status: %v", err)
	}
	if status.Backend != "mock" {
		t.Errorf("expected mock backend, got %q", status.Backend)
	}
}

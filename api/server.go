package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/coupling-works/inspect.station/internal/camera"
	"github.com/coupling-works/inspect.station/internal/config"
	"github.com/coupling-works/inspect.station/internal/db"
	"github.com/coupling-works/inspect.station/internal/httputil"
	"github.com/coupling-works/inspect.station/internal/inference"
	"github.com/coupling-works/inspect.station/internal/monitoring"
	"github.com/coupling-works/inspect.station/internal/pipeline"
	"github.com/coupling-works/inspect.station/internal/version"
)

type Server struct {
	orch   *pipeline.Orchestrator
	source *camera.Source
	db     *db.DB
	cfg    *config.StationConfig
}

func NewServer(orch *pipeline.Orchestrator, source *camera.Source, database *db.DB, cfg *config.StationConfig) *Server {
	return &Server{
		orch:   orch,
		source: source,
		db:     database,
		cfg:    cfg,
	}
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/inspect", s.inspectHandler)
	mux.HandleFunc("/inspections", s.listInspections)
	mux.HandleFunc("/stats", s.statsHandler)
	mux.HandleFunc("/status", s.statusHandler)
	mux.HandleFunc("/config", s.configHandler)
	return mux
}

// inspectHandler runs the pipeline against the next frame. An optional
// stage query parameter restricts the run to a single stage; the
// result is persisted only for full runs.
func (s *Server) inspectHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}

	var (
		res *pipeline.Result
		err error
	)
	if name := r.URL.Query().Get("stage"); name != "" {
		stage, perr := inference.ParseStage(name)
		if perr != nil {
			httputil.BadRequest(w, perr.Error())
			return
		}
		res, err = s.orch.RunStage(r.Context(), stage)
	} else {
		res, err = s.orch.RunFull(r.Context())
	}
	if err != nil {
		httputil.ServiceUnavailable(w, fmt.Sprintf("inspection failed: %v", err))
		return
	}

	if r.URL.Query().Get("stage") == "" && s.db != nil {
		if err := s.db.RecordInspection(res); err != nil {
			monitoring.Logf("failed to record inspection %s: %v", res.ID, err)
		}
	}

	httputil.WriteJSON(w, http.StatusOK, res)
}

func (s *Server) listInspections(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.db == nil {
		httputil.NotFound(w, "no database configured")
		return
	}

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			httputil.BadRequest(w, "limit must be in 1..500")
			return
		}
		limit = n
	}

	records, err := s.db.RecentInspections(limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to list inspections: %v", err))
		return
	}
	if records == nil {
		records = []db.InspectionRecord{}
	}
	httputil.WriteJSON(w, http.StatusOK, records)
}

func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	out := struct {
		Capture     camera.CaptureStats `json:"capture"`
		Inspections *db.InspectionStats `json:"inspections,omitempty"`
	}{}
	if s.source != nil {
		out.Capture = s.source.Stats()
	}
	if s.db != nil {
		stats, err := s.db.Stats()
		if err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("failed to read stats: %v", err))
			return
		}
		out.Inspections = &stats
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

// configHandler returns the station configuration as loaded, not the
// resolved defaults: unset fields stay absent so the operator can see
// what the file actually pins.
func (s *Server) configHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.cfg == nil {
		httputil.NotFound(w, "no configuration loaded")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, s.cfg)
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	status := struct {
		Time    time.Time `json:"time"`
		Version string    `json:"version"`
		Backend string    `json:"backend"`
	}{Time: time.Now().UTC(), Version: version.String()}
	if s.source != nil {
		status.Backend = s.source.ActiveBackend()
	}
	httputil.WriteJSON(w, http.StatusOK, status)
}

package main

import (
	"context"
	"embed"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/coupling-works/inspect.station/api"
	"github.com/coupling-works/inspect.station/internal/adaptive"
	"github.com/coupling-works/inspect.station/internal/camera"
	"github.com/coupling-works/inspect.station/internal/config"
	"github.com/coupling-works/inspect.station/internal/db"
	"github.com/coupling-works/inspect.station/internal/fusion"
	"github.com/coupling-works/inspect.station/internal/inference"
	"github.com/coupling-works/inspect.station/internal/labels"
	"github.com/coupling-works/inspect.station/internal/monitoring"
	"github.com/coupling-works/inspect.station/internal/pipeline"
	"github.com/coupling-works/inspect.station/internal/version"
)

var (
	//go:embed static/*
	staticFiles embed.FS
	devMode     = flag.Bool("dev", false, "Run with a synthetic camera and canned models")
	configPath  = flag.String("config", "", "Station config file (default: search config/station.defaults.json)")
	listen      = flag.String("listen", "", "Listen address (overrides config)")
	dbPath      = flag.String("db", "", "SQLite database path (overrides config)")
	replayFile  = flag.String("replay", "", "Replay sensor packets from a pcap capture")
)

func main() {
	flag.Parse()
	log.Printf("inspect.station %s", version.String())

	var cfg *config.StationConfig
	if *configPath != "" {
		var err error
		cfg, err = config.LoadStationConfig(*configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
	} else {
		cfg = config.MustLoadDefaultConfig()
	}

	if *listen == "" {
		*listen = cfg.GetListenAddr()
	}
	if *dbPath == "" {
		*dbPath = cfg.GetDBPath()
	}
	monitoring.SetDebug(*devMode)

	sensor, source, err := buildSource(cfg)
	if err != nil {
		log.Fatalf("failed to build capture source: %v", err)
	}

	runner, err := buildRunner(cfg)
	if err != nil {
		log.Fatalf("failed to build inference runner: %v", err)
	}
	defer runner.Close()

	orch := buildOrchestrator(cfg, source, runner)

	database, err := db.NewDB(*dbPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer database.Close()

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := source.Start(ctx); err != nil {
		log.Fatalf("failed to start capture: %v", err)
	}
	defer source.Stop()
	log.Printf("capture running on backend %q", source.ActiveBackend())

	// replay feeds captured sensor traffic into the assembler so a
	// bench without the sensor head exercises the real UDP path
	if *replayFile != "" {
		if sensor == nil {
			log.Fatal("replay requires the sensor backend")
		}
		port, err := udpPort(cfg.GetSensorAddr())
		if err != nil {
			log.Fatalf("failed to parse sensor address: %v", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := camera.ReplayCapture(ctx, *replayFile, port, sensor.HandlePacket); err != nil && err != context.Canceled {
				log.Printf("replay terminated: %v", err)
			}
			log.Print("replay routine terminated")
		}()
	}

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := http.NewServeMux()

		apiMux := api.NewServer(orch, source, database, cfg).ServeMux()
		mux.Handle("/api/", http.StripPrefix("/api", apiMux))

		// read static files from the embedded filesystem in production
		// or from the local ./static in dev for easier iteration
		// without restarting the server
		var staticHandler http.Handler
		if *devMode {
			staticHandler = http.FileServer(http.Dir("./static"))
		} else {
			staticHandler = http.FileServer(http.FS(staticFiles))
		}
		mux.Handle("/", staticHandler)

		h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			monitoring.Debugf("got request %q", r.URL.Path)
			mux.ServeHTTP(w, r)
		})

		server := &http.Server{
			Addr:    *listen,
			Handler: h,
		}

		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}

		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}

// buildSource assembles the capture backends in preference order:
// sensor head first, webcam fallback. Dev mode swaps both for the
// synthetic generator. The sensor backend is returned separately so
// replay can feed packets into its assembler.
func buildSource(cfg *config.StationConfig) (*camera.SensorBackend, *camera.Source, error) {
	srcCfg := camera.SourceConfig{
		FrameTimeout:   cfg.GetFrameTimeout(),
		StartupTimeout: cfg.GetStartupTimeout(),
	}

	if *devMode {
		mock := &camera.MockBackend{
			Width:  cfg.GetTargetWidth(),
			Height: cfg.GetTargetHeight(),
		}
		return nil, camera.NewSource(srcCfg, mock), nil
	}

	sensorCfg := camera.SensorConfig{
		ListenAddr:      cfg.GetSensorAddr(),
		RcvBuf:          cfg.GetSensorRcvBuf(),
		TargetWidth:     cfg.GetTargetWidth(),
		TargetHeight:    cfg.GetTargetHeight(),
		MinCompleteness: cfg.GetMinCompleteness(),
		Head:            cfg.GetHeadSettings(),
	}
	if port := cfg.GetTriggerPort(); port != "" {
		trigger, err := camera.OpenTrigger(port)
		if err != nil {
			return nil, nil, fmt.Errorf("open trigger port %s: %w", port, err)
		}
		sensorCfg.Trigger = trigger
	}
	sensor := camera.NewSensorBackend(sensorCfg)

	webcam := camera.NewWebcamBackend(camera.WebcamConfig{
		MaxDeviceIndex: cfg.GetWebcamMaxDevice(),
		ProbeTimeout:   cfg.GetWebcamProbeTimeout(),
		TargetWidth:    cfg.GetTargetWidth(),
		TargetHeight:   cfg.GetTargetHeight(),
		Exposure:       cfg.GetWebcamExposure(),
		Gain:           cfg.GetWebcamGain(),
		FrameRate:      cfg.GetWebcamFPS(),
	})

	return sensor, camera.NewSource(srcCfg, sensor, webcam), nil
}

// buildRunner binds one engine per stage. Production loads ONNX
// models named after their stage from the model directory; dev mode
// binds canned engines so the whole pipeline runs without models.
func buildRunner(cfg *config.StationConfig) (*inference.Runner, error) {
	runner := inference.NewRunner(inference.RunnerConfig{
		InputSize:    cfg.GetInputSize(),
		StageTimeout: cfg.GetStageTimeout(),
	})

	for _, stage := range inference.Stages() {
		var (
			eng inference.Engine
			err error
		)
		if *devMode {
			eng = devEngine(stage, cfg.GetInputSize())
		} else {
			eng, err = inference.NewDNNEngine(filepath.Join(cfg.GetModelDir(), string(stage)+".onnx"))
			if err != nil {
				runner.Close()
				return nil, fmt.Errorf("load model for %s: %w", stage, err)
			}
		}
		if err := runner.Bind(stage, eng); err != nil {
			runner.Close()
			return nil, err
		}
	}
	return runner, nil
}

func buildOrchestrator(cfg *config.StationConfig, source *camera.Source, runner *inference.Runner) *pipeline.Orchestrator {
	pipeCfg := pipeline.Config{
		Source: source,
		Runner: runner,
		Static: adaptive.Thresholds{
			Parts:   cfg.GetPartsThresholds(),
			Defects: cfg.GetDefectsThresholds(),
			Profile: cfg.GetProfile(),
			Factor:  1.0,
		},
		FusionEnabled:  cfg.GetFusionEnabled(),
		PartsQuality:   cfg.GetPartsQuality(),
		DefectsQuality: cfg.GetDefectsQuality(),
	}
	if pipeCfg.FusionEnabled {
		pipeCfg.Fusion = fusion.NewEngine(cfg.GetFusionConfig())
	}
	if cfg.GetAdaptiveEnabled() {
		pipeCfg.Controller = adaptive.NewController(adaptive.ControllerConfig{
			Profile:     cfg.GetProfile(),
			PartsBase:   cfg.GetPartsThresholds(),
			DefectsBase: cfg.GetDefectsThresholds(),
			HistorySize: cfg.GetAdaptiveHistory(),
			Smoothing:   cfg.GetAdaptiveSmoothing(),
		})
	}
	pipeCfg.PartsLabels = loadLabels(cfg.GetPartsLabels())
	pipeCfg.DefectLabels = loadLabels(cfg.GetDefectLabels())
	return pipeline.New(pipeCfg)
}

// loadLabels tolerates a missing label file: detections still flow,
// carrying class indices without names.
func loadLabels(path string) *labels.Table {
	table, err := labels.Load(path)
	if err != nil {
		log.Printf("label file %s not loaded: %v", path, err)
		return nil
	}
	return table
}

// devEngine returns a canned engine whose output places one confident
// instance in the frame centre, so dev mode produces plausible
// results end to end.
func devEngine(stage inference.Stage, inputSize int) inference.Engine {
	id := string(stage) + "-dev"
	if stage == inference.StageClassify {
		cls := inference.NewTensor(1, 3)
		copy(cls.Data, []float32{0.1, 2.0, 0.5})
		return &inference.MockEngine{ID: id, Outputs: []inference.Tensor{cls}}
	}

	centre := float32(inputSize) / 2
	side := float32(inputSize) / 4
	det := inference.NewTensor(1, 5, 1)
	copy(det.Data, []float32{centre, centre, side, side, 4.0})
	if stage == inference.StageDetectParts || stage == inference.StageDetectDefects {
		return &inference.MockEngine{ID: id, Outputs: []inference.Tensor{det}}
	}

	// segmentation stages add 32 mask coefficients and a prototype
	// bank whose first plane covers the whole frame
	seg := inference.NewTensor(1, 37, 1)
	copy(seg.Data, det.Data)
	seg.Data[5] = 1.0
	protos := inference.NewTensor(1, 32, 8, 8)
	for i := 0; i < 64; i++ {
		protos.Data[i] = 10.0
	}
	return &inference.MockEngine{ID: id, Outputs: []inference.Tensor{seg, protos}}
}

func udpPort(addr string) (int, error) {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(portStr)
}

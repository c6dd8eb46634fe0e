package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Tutortoise/plate-detection-service/config"
	"github.com/Tutortoise/plate-detection-service/detections"
	"github.com/Tutortoise/plate-detection-service/logger"
	"github.com/Tutortoise/plate-detection-service/plates"

	"github.com/gorilla/mux"
	ort "github.com/yalue/onnxruntime_go"
)

var version = "dev"

type metricsSource interface {
	Metrics() detections.MetricsSnapshot
}

type AppState struct {
	Config  *config.Config
	Plates  *plates.Service
	Metrics metricsSource
	Log     *logger.Logger
}

func detectorConfig(m config.ModelConfig) detections.Config {
	cfg := detections.DefaultConfig(m.Path)
	cfg.ConfThreshold = m.ConfThreshold
	cfg.IoUThreshold = m.IoUThreshold
	if m.InputSize > 0 {
		cfg.InputSize = m.InputSize
	}
	if m.NumClasses > 0 {
		cfg.NumClasses = m.NumClasses
	}
	if m.PoolSize > 0 {
		cfg.PoolSize = m.PoolSize
	}
	if m.AcquireTimeout > 0 {
		cfg.AcquireTimeout = m.AcquireTimeout
	}
	if m.IntraOpThreads > 0 {
		cfg.IntraOpThreads = m.IntraOpThreads
	}
	if m.InterOpThreads > 0 {
		cfg.InterOpThreads = m.InterOpThreads
	}
	if m.InputName != "" {
		cfg.InputName = m.InputName
	}
	if m.OutputName != "" {
		cfg.OutputName = m.OutputName
	}
	return cfg
}

// detectorSource adapts the loader to plates.DetectorFunc without ever handing
// out a typed-nil *Detector.
func detectorSource(loader *detections.Loader) plates.DetectorFunc {
	return func() (plates.Detector, error) {
		d, err := loader.Get()
		if err != nil {
			return nil, err
		}
		if d == nil {
			return nil, detections.ErrPoolClosed
		}
		return d, nil
	}
}

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.StringVar(&configPath, "c", "", "Path to configuration file (short)")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.LogConfig{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting plate detection service",
		"version", version,
		"model", cfg.Model.Path,
		"cpu_features", detections.CPUFeatures(),
	)

	ort.SetSharedLibraryPath(cfg.Model.SharedLibraryPath)
	if err := ort.InitializeEnvironment(); err != nil {
		log.Fatal("Failed to initialize ONNX environment", "library", cfg.Model.SharedLibraryPath, "error", err)
	}
	defer ort.DestroyEnvironment()

	// The model is loaded once here; a failure is fatal.
	loader := detections.NewLoader(detectorConfig(cfg.Model))
	detector, err := loader.Get()
	if err != nil {
		log.Fatal("Failed to load plate detection model", "model", cfg.Model.Path, "error", err)
	}
	defer loader.Close()

	service := plates.NewService(detectorSource(loader), detections.DecodeFile, log)

	state := &AppState{
		Config:  cfg,
		Plates:  service,
		Metrics: detector,
		Log:     log,
	}

	srv := &http.Server{
		Handler:      newRouter(state),
		Addr:         cfg.Server.Addr(),
		WriteTimeout: cfg.Server.WriteTimeout,
		ReadTimeout:  cfg.Server.ReadTimeout,
	}

	go func() {
		log.Info("Starting server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Server failed", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Info("Received shutdown signal", "signal", sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("Error during shutdown", "error", err)
	}
	log.Info("Shutdown complete")
}

func newRouter(state *AppState) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/", handleIndex).Methods("GET")
	r.HandleFunc("/detect-plate", handleDetectPlate(state)).Methods("POST")
	state.addMonitoringRoutes(r)
	return r
}

func (s *AppState) addMonitoringRoutes(r *mux.Router) {
	r.HandleFunc("/metrics", s.handleMetrics).Methods("GET")
	r.HandleFunc("/healthz", s.handleHealth).Methods("GET")
}

// Package main is the entry point for the chainwatch detection service, the
// HTTP surface over the transaction anomaly-detection engine.
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/yourorg/chainwatch/internal/config"
	"github.com/yourorg/chainwatch/internal/fetch"
	"github.com/yourorg/chainwatch/internal/ingest"
	"github.com/yourorg/chainwatch/internal/orchestrator"
	"github.com/yourorg/chainwatch/internal/otel"
	"github.com/yourorg/chainwatch/internal/store"
)

// startTime records when the service was initialized for uptime reporting
var startTime = time.Now()

// Server is the HTTP service instance.
type Server struct {
	cfg       config.Config
	orch      *orchestrator.Orchestrator
	server    *http.Server
	metrics   *serverMetrics
	rateLimit *rate.Limiter
}

// serverMetrics holds Prometheus metrics for the server
type serverMetrics struct {
	requestCounter  *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	anomalyCounter  prometheus.Counter
	txCounter       prometheus.Counter
}

// registerMetrics sets up Prometheus metrics collection
func registerMetrics(reg prometheus.Registerer) *serverMetrics {
	m := &serverMetrics{
		requestCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chainwatch_requests_total",
				Help: "Total number of requests processed",
			},
			[]string{"endpoint", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chainwatch_request_duration_seconds",
				Help:    "Request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"endpoint"},
		),
		anomalyCounter: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "chainwatch_anomalies_total",
				Help: "Total number of transactions flagged as anomalous",
			},
		),
		txCounter: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "chainwatch_transactions_total",
				Help: "Total number of transactions scored",
			},
		),
	}

	reg.MustRegister(
		m.requestCounter,
		m.requestDuration,
		m.anomalyCounter,
		m.txCounter,
	)

	return m
}

func main() {
	setupLogging()

	cfg := config.Load()

	shutdown := otel.InitTracer(cfg.OtelEndpoint)
	defer shutdown()

	orch := orchestrator.New(cfg, fetch.NewEtherscanClient(cfg))
	server := NewServer(cfg, orch)
	server.Start()
}

// setupLogging configures the logging for the application
func setupLogging() {
	logFormat := strings.ToLower(os.Getenv("LOG_FORMAT"))
	logLevel := strings.ToLower(os.Getenv("LOG_LEVEL"))

	switch logFormat {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	switch logLevel {
	case "debug":
		logrus.SetLevel(logrus.DebugLevel)
	case "info":
		logrus.SetLevel(logrus.InfoLevel)
	case "warn", "warning":
		logrus.SetLevel(logrus.WarnLevel)
	case "error":
		logrus.SetLevel(logrus.ErrorLevel)
	default:
		logrus.SetLevel(logrus.InfoLevel)
	}

	logrus.Info("Logging configured")
}

// NewServer creates a new server instance.
func NewServer(cfg config.Config, orch *orchestrator.Orchestrator) *Server {
	s := &Server{
		cfg:       cfg,
		orch:      orch,
		metrics:   registerMetrics(prometheus.DefaultRegisterer),
		rateLimit: rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst),
	}

	logrus.WithFields(logrus.Fields{
		"port":          cfg.Port,
		"model_dir":     cfg.ModelDir,
		"contamination": cfg.Contamination,
		"trees":         cfg.TreeCount,
	}).Info("Server initialized")

	return s
}

// Start begins the HTTP server and sets up graceful shutdown
func (s *Server) Start() {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/api/v1/detect", s.handleDetect)
	mux.HandleFunc("/api/v1/batch-detect", s.handleBatchDetect)
	mux.HandleFunc("/api/v1/train", s.handleTrain)

	s.server = &http.Server{
		Addr:         ":" + s.cfg.Port,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logrus.Infof("Server starting on port %s", s.cfg.Port)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("Error starting server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		logrus.Fatalf("Server shutdown failed: %v", err)
	}

	logrus.Info("Server stopped")
}

// handleHealth is a simple health check endpoint
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleStatus provides detailed service status information
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "operational",
		"uptime":        time.Since(startTime).String(),
		"model_present": store.Exists(s.cfg.ModelDir),
		"configuration": map[string]any{
			"model_dir":     s.cfg.ModelDir,
			"contamination": s.cfg.Contamination,
			"tree_count":    s.cfg.TreeCount,
			"sample_size":   s.cfg.SampleSize,
		},
	})
}

// detectRequest is the expected POST body for /api/v1/detect.
type detectRequest struct {
	Transactions []map[string]any `json:"transactions"`
}

// handleDetect scores a batch of transactions against the current model.
func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() {
		s.metrics.requestDuration.WithLabelValues("detect").Observe(time.Since(start).Seconds())
	}()

	if !s.allow(w, r, http.MethodPost) {
		return
	}

	var req detectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, "detect", http.StatusBadRequest, "Request must be JSON")
		return
	}
	if len(req.Transactions) == 0 {
		s.errorResponse(w, "detect", http.StatusBadRequest, "No transactions provided")
		return
	}

	logrus.Infof("Processing %d transactions", len(req.Transactions))

	records, err := ingest.Records(req.Transactions)
	if err != nil {
		s.errorResponse(w, "detect", http.StatusBadRequest, err.Error())
		return
	}

	results, err := s.orch.Detect(r.Context(), records, s.cfg.ModelDir)
	if err != nil {
		s.errorResponse(w, "detect", http.StatusInternalServerError, "Error processing transactions: "+err.Error())
		return
	}

	s.metrics.txCounter.Add(float64(len(results)))
	for _, res := range results {
		if res.IsAnomaly {
			s.metrics.anomalyCounter.Inc()
		}
	}
	s.metrics.requestCounter.WithLabelValues("detect", "success").Inc()

	writeJSON(w, http.StatusOK, results)
}

// batchDetectRequest is the expected POST body for /api/v1/batch-detect.
type batchDetectRequest struct {
	Batches []struct {
		BatchID      string           `json:"batch_id"`
		Transactions []map[string]any `json:"transactions"`
	} `json:"batches"`
}

// handleBatchDetect scores several independent batches in one call.
func (s *Server) handleBatchDetect(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() {
		s.metrics.requestDuration.WithLabelValues("batch-detect").Observe(time.Since(start).Seconds())
	}()

	if !s.allow(w, r, http.MethodPost) {
		return
	}

	var req batchDetectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, "batch-detect", http.StatusBadRequest, "Request must be JSON")
		return
	}
	if len(req.Batches) == 0 {
		s.errorResponse(w, "batch-detect", http.StatusBadRequest, "No batches provided")
		return
	}

	logrus.Infof("Processing %d batches", len(req.Batches))

	batchResults := make(map[string]any, len(req.Batches))
	for _, batch := range req.Batches {
		id := batch.BatchID
		if id == "" {
			id = "unknown"
		}
		if len(batch.Transactions) == 0 {
			logrus.Warnf("Empty transactions array in batch %q", id)
			batchResults[id] = []any{}
			continue
		}

		records, err := ingest.Records(batch.Transactions)
		if err != nil {
			s.errorResponse(w, "batch-detect", http.StatusBadRequest, err.Error())
			return
		}

		results, err := s.orch.Detect(r.Context(), records, s.cfg.ModelDir)
		if err != nil {
			s.errorResponse(w, "batch-detect", http.StatusInternalServerError, "Error processing transactions: "+err.Error())
			return
		}
		batchResults[id] = results
	}

	s.metrics.requestCounter.WithLabelValues("batch-detect", "success").Inc()
	writeJSON(w, http.StatusOK, map[string]any{
		"batch_results":           batchResults,
		"total_batches_processed": len(batchResults),
	})
}

// trainRequest is the optional POST body for /api/v1/train. With an empty
// body the service falls back to fetching transactions for the configured
// address.
type trainRequest struct {
	Transactions []map[string]any `json:"transactions"`
	InputFile    string           `json:"input_file"`
	Address      string           `json:"address"`
}

// handleTrain retrains the model on demand.
func (s *Server) handleTrain(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() {
		s.metrics.requestDuration.WithLabelValues("train").Observe(time.Since(start).Seconds())
	}()

	if !s.allow(w, r, http.MethodPost) {
		return
	}

	var req trainRequest
	if r.Body != nil {
		// Body is optional; decode errors on an empty body are ignored.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	opts := orchestrator.TrainOptions{
		InputFile: req.InputFile,
		Address:   req.Address,
	}
	if len(req.Transactions) > 0 {
		records, err := ingest.Records(req.Transactions)
		if err != nil {
			s.errorResponse(w, "train", http.StatusBadRequest, err.Error())
			return
		}
		opts.Records = records
	}

	scorer, err := s.orch.Train(r.Context(), opts)
	if err != nil {
		s.errorResponse(w, "train", http.StatusInternalServerError, "Training failed: "+err.Error())
		return
	}

	s.metrics.requestCounter.WithLabelValues("train", "success").Inc()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "trained",
		"thresholds": scorer.Thresholds,
	})
}

// allow enforces the request method and the service rate limit.
func (s *Server) allow(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		s.errorResponse(w, "any", http.StatusMethodNotAllowed, "Method not allowed")
		return false
	}
	if !s.rateLimit.Allow() {
		s.errorResponse(w, "any", http.StatusTooManyRequests, "Rate limit exceeded")
		return false
	}
	return true
}

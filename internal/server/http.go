package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Uttam1728/healthcare-auto-soap-note-taking-bot/internal/analysis"
	"github.com/Uttam1728/healthcare-auto-soap-note-taking-bot/internal/config"
	"github.com/Uttam1728/healthcare-auto-soap-note-taking-bot/internal/metrics"
	"github.com/Uttam1728/healthcare-auto-soap-note-taking-bot/internal/session"
	"github.com/Uttam1728/healthcare-auto-soap-note-taking-bot/internal/transcription"
)

// HTTPServer provides HTTP API endpoints for monitoring and management
type HTTPServer struct {
	server         *http.Server
	logger         *slog.Logger
	config         *config.Config
	manager        *session.Manager
	wsServer       *WSServer
	transcriber    *transcription.Client
	analysisClient *analysis.Client
	analyzer       *analysis.Analyzer
	metrics        *metrics.Metrics

	startTime time.Time
}

// NewHTTPServer creates a new HTTP API server. The provider clients and
// metrics may be nil; the affected endpoints then omit those sections.
func NewHTTPServer(appConfig *config.Config, logger *slog.Logger,
	manager *session.Manager, wsServer *WSServer, transcriber *transcription.Client,
	analysisClient *analysis.Client, analyzer *analysis.Analyzer, m *metrics.Metrics) *HTTPServer {

	h := &HTTPServer{
		logger:         logger,
		config:         appConfig,
		manager:        manager,
		wsServer:       wsServer,
		transcriber:    transcriber,
		analysisClient: analysisClient,
		analyzer:       analyzer,
		metrics:        m,
		startTime:      time.Now(),
	}

	// Create HTTP server with routes
	mux := http.NewServeMux()
	h.setupRoutes(mux)

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", appConfig.HTTP.Address, appConfig.HTTP.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	// Health check endpoint
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))

	// Session monitoring endpoints
	mux.HandleFunc("/sessions", h.withMetrics("/sessions", h.handleSessions))
	mux.HandleFunc("/sessions/", h.withMetrics("/sessions/{id}", h.handleSessionDetail))

	// Configuration endpoint
	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))

	// Statistics endpoints
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))
	mux.HandleFunc("/stats/analysis", h.withMetrics("/stats/analysis", h.handleAnalysisStats))

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	mux.Handle("/metrics", promhttp.Handler())

	// Root endpoint with API documentation
	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		// Create a response writer wrapper to capture status code
		ww := &responseWriter{ResponseWriter: w, statusCode: 200}

		// Call the original handler
		handler(ww, r)

		if h.metrics == nil {
			return
		}

		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		// Record error if status code indicates an error
		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	uptime := time.Since(h.startTime)
	wsStats := h.wsServer.GetStats()

	components := map[string]interface{}{
		"websocket_server": map[string]interface{}{
			"status":            "running",
			"connected_clients": wsStats.ConnectedClients,
			"messages_received": wsStats.MessagesReceived,
			"messages_sent":     wsStats.MessagesSent,
		},
		"session_manager": map[string]interface{}{
			"status":          "running",
			"active_sessions": h.manager.ActiveCount(),
			"total_created":   h.manager.TotalCreated(),
		},
	}
	if h.transcriber != nil {
		transcriptionStats := h.transcriber.GetStats()
		components["transcription"] = map[string]interface{}{
			"status":   "running",
			"connects": transcriptionStats.Connects,
			"failures": transcriptionStats.Failures,
		}
	}
	if h.analysisClient != nil {
		analysisStats := h.analysisClient.GetStats()
		components["analysis"] = map[string]interface{}{
			"status":          "running",
			"total_requests":  analysisStats.TotalRequests,
			"success_rate":    analysisStats.SuccessRate,
			"active_requests": analysisStats.ActiveRequests,
		}
	}

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    uptime.String(),
		"service": map[string]interface{}{
			"name":    "auto-soap-note-service",
			"version": "1.0.0",
		},
		"components": components,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(health)
}

// handleSessions implements the /sessions endpoint
func (h *HTTPServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	infos := h.manager.Infos()

	response := map[string]interface{}{
		"total_sessions": len(infos),
		"timestamp":      time.Now().UTC(),
		"sessions":       infos,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleSessionDetail implements the /sessions/{session_id} endpoint
func (h *HTTPServer) handleSessionDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Extract session ID from URL path
	sessionID := r.URL.Path[len("/sessions/"):]
	if sessionID == "" {
		http.Error(w, "Session ID required", http.StatusBadRequest)
		return
	}

	sess, exists := h.manager.Get(sessionID)
	if !exists {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sess.GetInfo())
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Return sanitized configuration (remove sensitive data)
	sanitizedConfig := map[string]interface{}{
		"server": map[string]interface{}{
			"host":             h.config.Server.Host,
			"port":             h.config.Server.Port,
			"max_message_size": h.config.Server.MaxMessageSize,
			"send_queue_size":  h.config.Server.SendQueueSize,
		},
		"http": map[string]interface{}{
			"address": h.config.HTTP.Address,
			"port":    h.config.HTTP.Port,
			"enabled": h.config.HTTP.Enabled,
		},
		"audio": map[string]interface{}{
			"sample_rate": h.config.Audio.SampleRate,
			"frame_size":  h.config.Audio.FrameSize,
			"highpass_hz": h.config.Audio.HighpassHz,
			"lowpass_hz":  h.config.Audio.LowpassHz,
			"gain":        h.config.Audio.Gain,
		},
		"vad": map[string]interface{}{
			"base_threshold":          h.config.VAD.BaseThreshold,
			"speech_count_threshold":  h.config.VAD.SpeechCountThreshold,
			"silence_count_tolerance": h.config.VAD.SilenceCountTolerance,
		},
		"chunker": map[string]interface{}{
			"low_watermark_seconds":  h.config.Chunker.LowWatermarkSeconds,
			"mid_watermark_seconds":  h.config.Chunker.MidWatermarkSeconds,
			"max_buffer_seconds":     h.config.Chunker.MaxBufferSeconds,
			"flush_interval_seconds": h.config.Chunker.FlushIntervalSeconds,
		},
		"session": map[string]interface{}{
			"max_sessions":             h.config.Session.MaxSessions,
			"idle_timeout_seconds":     h.config.Session.IdleTimeoutSeconds,
			"stop_grace_seconds":       h.config.Session.StopGraceSeconds,
			"cleanup_interval_seconds": h.config.Session.CleanupIntervalSeconds,
		},
		"transcription": map[string]interface{}{
			"url":                h.config.Transcription.URL,
			"model":              h.config.Transcription.Model,
			"language":           h.config.Transcription.Language,
			"sample_rate":        h.config.Transcription.SampleRate,
			"channels":           h.config.Transcription.Channels,
			"utterance_end_ms":   h.config.Transcription.UtteranceEndMS,
			"endpointing_ms":     h.config.Transcription.EndpointingMS,
			"keywords":           len(h.config.Transcription.Keywords),
			"api_key_configured": h.config.Transcription.APIKey != "",
			// Note: API key is intentionally omitted for security
		},
		"analysis": map[string]interface{}{
			"url":                h.config.Analysis.URL,
			"model":              h.config.Analysis.Model,
			"max_tokens":         h.config.Analysis.MaxTokens,
			"timeout_seconds":    h.config.Analysis.TimeoutSeconds,
			"max_retries":        h.config.Analysis.MaxRetries,
			"max_concurrent":     h.config.Analysis.MaxConcurrent,
			"cache_enabled":      h.config.Analysis.Cache.Enabled,
			"api_key_configured": h.config.Analysis.APIKey != "",
			// Note: API key is intentionally omitted for security
		},
		"events": map[string]interface{}{
			"enabled":          h.config.Events.Enabled,
			"brokers":          h.config.Events.Brokers,
			"transcript_topic": h.config.Events.TranscriptTopic,
			"analysis_topic":   h.config.Events.AnalysisTopic,
		},
		"logging": map[string]interface{}{
			"level":  h.config.Logging.Level,
			"format": h.config.Logging.Format,
			"output": h.config.Logging.Output,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sanitizedConfig)
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	uptime := time.Since(h.startTime)

	stats := map[string]interface{}{
		"uptime":    uptime.String(),
		"timestamp": time.Now().UTC(),
		"websocket": h.wsServer.GetStats(),
		"sessions": map[string]interface{}{
			"active_count":  h.manager.ActiveCount(),
			"total_created": h.manager.TotalCreated(),
		},
	}
	if h.transcriber != nil {
		stats["transcription"] = h.transcriber.GetStats()
	}
	if h.analyzer != nil {
		stats["analysis"] = h.analyzer.GetStats()
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

// handleAnalysisStats implements the /stats/analysis endpoint
func (h *HTTPServer) handleAnalysisStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := map[string]interface{}{
		"timestamp": time.Now().UTC(),
	}
	if h.analyzer != nil {
		stats["analyzer"] = h.analyzer.GetStats()
		if cacheStats, ok := h.analyzer.CacheStats(); ok {
			stats["cache"] = cacheStats
		}
	}
	if h.analysisClient != nil {
		stats["provider"] = h.analysisClient.GetStats()
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	apiDoc := map[string]interface{}{
		"service": "Auto SOAP Note Service",
		"version": "1.0.0",
		"endpoints": map[string]interface{}{
			"GET /":                      "API documentation",
			"GET /health":                "Service health check",
			"GET /sessions":              "List all recording sessions",
			"GET /sessions/{session_id}": "Get detailed session information",
			"GET /config":                "Get service configuration",
			"GET /stats":                 "Get service statistics",
			"GET /stats/analysis":        "Get analysis pipeline statistics",
			"GET /metrics":               "Prometheus metrics",
		},
		"websocket": fmt.Sprintf("ws://%s:%d/", h.config.Server.Host, h.config.Server.Port),
		"timestamp": time.Now().UTC(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(apiDoc)
}

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/Uttam1728/healthcare-auto-soap-note-taking-bot/internal/analysis"
	"github.com/Uttam1728/healthcare-auto-soap-note-taking-bot/internal/config"
	"github.com/Uttam1728/healthcare-auto-soap-note-taking-bot/internal/events"
	"github.com/Uttam1728/healthcare-auto-soap-note-taking-bot/internal/metrics"
	"github.com/Uttam1728/healthcare-auto-soap-note-taking-bot/internal/server"
	"github.com/Uttam1728/healthcare-auto-soap-note-taking-bot/internal/session"
	"github.com/Uttam1728/healthcare-auto-soap-note-taking-bot/internal/transcription"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "auto-soap-note-service"
	serviceVersion    = "1.0.0"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Provider keys may live in a local .env file; real environment
	// variables take precedence and the file is optional.
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger based on configuration
	logger := initLogger(cfg.Logging)

	// Log service startup
	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	// Log configuration summary (without sensitive data)
	logger.Info("Configuration loaded",
		slog.String("ws_address", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)),
		slog.Bool("http_enabled", cfg.HTTP.Enabled),
		slog.Int("http_port", cfg.HTTP.Port),
		slog.Int("max_sessions", cfg.Session.MaxSessions),
		slog.String("transcription_model", cfg.Transcription.Model),
		slog.String("analysis_model", cfg.Analysis.Model),
		slog.Bool("analysis_cache", cfg.Analysis.Cache.Enabled),
		slog.Bool("event_mirroring", cfg.Events.Enabled),
		slog.String("log_level", cfg.Logging.Level),
	)

	// Create cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Prometheus metrics
	appMetrics := metrics.NewMetrics()
	logger.Info("Prometheus metrics initialized")

	// Initialize speech provider client
	transcriber, err := transcription.NewClient(transcription.Config{
		URL:               cfg.Transcription.URL,
		APIKey:            cfg.Transcription.APIKey,
		Model:             cfg.Transcription.Model,
		Language:          cfg.Transcription.Language,
		SampleRate:        cfg.Transcription.SampleRate,
		Channels:          cfg.Transcription.Channels,
		UtteranceEndMS:    cfg.Transcription.UtteranceEndMS,
		EndpointingMS:     cfg.Transcription.EndpointingMS,
		Keywords:          cfg.Transcription.Keywords,
		ConnectTimeout:    cfg.Transcription.GetConnectTimeoutDuration(),
		MaxConnectRetries: cfg.Transcription.MaxConnectRetries,
		KeepAliveInterval: cfg.Transcription.GetKeepAliveDuration(),
		SendQueueSize:     cfg.Transcription.SendQueueSize,
	}, logger)
	if err != nil {
		logger.Error("Failed to create speech provider client, is DEEPGRAM_API_KEY set?",
			slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Speech provider client initialized",
		slog.String("model", cfg.Transcription.Model),
		slog.Int("keywords", len(cfg.Transcription.Keywords)),
	)

	// Initialize analysis provider client
	analysisClient, err := analysis.NewClient(analysis.ClientConfig{
		Endpoint:      cfg.Analysis.URL,
		APIKey:        cfg.Analysis.APIKey,
		Model:         cfg.Analysis.Model,
		Timeout:       cfg.Analysis.GetTimeoutDuration(),
		MaxRetries:    cfg.Analysis.MaxRetries,
		MaxConcurrent: cfg.Analysis.MaxConcurrent,
	})
	if err != nil {
		logger.Error("Failed to create analysis provider client, is ANTHROPIC_API_KEY set?",
			slog.String("error", err.Error()))
		os.Exit(1)
	}

	var cache *analysis.Cache
	if cfg.Analysis.Cache.Enabled {
		cache = analysis.NewCache(cfg.Analysis.Cache.MaxEntries, cfg.Analysis.Cache.GetTTLDuration())
	}
	analyzer := analysis.NewAnalyzer(analysisClient, cache, analysis.AnalyzerConfig{
		MinTranscriptChars: cfg.Analysis.MinTranscriptChars,
		MaxTranscriptChars: cfg.Analysis.MaxTranscriptChars,
		EnhancedMaxTokens:  cfg.Analysis.MaxTokens,
	}, logger)
	logger.Info("Analysis pipeline initialized",
		slog.String("model", cfg.Analysis.Model),
		slog.Bool("cache", cfg.Analysis.Cache.Enabled),
	)

	// Initialize event mirroring (runs in log-only mode when disabled)
	publisher := events.New(events.Config{
		Enabled:         cfg.Events.Enabled,
		Brokers:         cfg.Events.Brokers,
		TranscriptTopic: cfg.Events.TranscriptTopic,
		AnalysisTopic:   cfg.Events.AnalysisTopic,
	}, appMetrics, logger)

	// Initialize session manager
	manager := session.NewManager(session.ManagerConfig{
		MaxSessions:     cfg.Session.MaxSessions,
		IdleTimeout:     cfg.Session.GetIdleTimeoutDuration(),
		CleanupInterval: cfg.Session.GetCleanupIntervalDuration(),
		Session: session.Config{
			StopGrace:  cfg.Session.GetStopGraceDuration(),
			QueueBytes: cfg.Session.AudioQueueBytes,
		},
	}, transcriber, analyzer, publisher, appMetrics, logger)
	logger.Info("Session manager initialized",
		slog.Int("max_sessions", cfg.Session.MaxSessions),
		slog.Duration("idle_timeout", cfg.Session.GetIdleTimeoutDuration()),
		slog.Duration("stop_grace", cfg.Session.GetStopGraceDuration()),
	)

	// Initialize WebSocket boundary server
	wsServer := server.NewWSServer(cfg.Server, manager, appMetrics, logger)
	logger.Info("WebSocket server initialized")

	// Initialize HTTP API server (if enabled)
	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(cfg, logger, manager, wsServer, transcriber,
			analysisClient, analyzer, appMetrics)
		logger.Info("HTTP API server initialized",
			slog.String("address", fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port)),
		)
	}

	// Start WebSocket server
	if err := wsServer.Start(); err != nil {
		logger.Error("Failed to start WebSocket server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Start HTTP server (if enabled)
	if httpServer != nil {
		if err := httpServer.Start(); err != nil {
			logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("ws_address", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)),
	)

	// Wait for shutdown signal
	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("Context cancelled, shutting down")
	}

	logger.Info("Starting graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// Stop HTTP server first (stop accepting new requests)
	if httpServer != nil {
		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}

	// Stop WebSocket server (disconnect clients, each cleans up its session)
	if err := wsServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping WebSocket server", slog.String("error", err.Error()))
	}

	// Stop session manager (close any remaining sessions)
	manager.Stop()

	// Flush and close the event publisher
	if err := publisher.Close(); err != nil {
		logger.Error("Error closing event publisher", slog.String("error", err.Error()))
	}

	// Get final statistics
	stats := wsServer.GetStats()
	logger.Info("Final server statistics",
		slog.Uint64("total_clients", stats.TotalClients),
		slog.Uint64("messages_received", stats.MessagesReceived),
		slog.Uint64("messages_sent", stats.MessagesSent),
		slog.Uint64("sessions_created", manager.TotalCreated()),
	)

	logger.Info("Service stopped")
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	// Parse log level
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo // default fallback
	}

	// Configure handler options
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug, // Add source info for debug level
	}

	// Determine output destination
	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		// Assume it's a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	// Create handler based on format
	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	case "text", "":
		handler = slog.NewTextHandler(output, opts)
	default:
		// Default to text format
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}

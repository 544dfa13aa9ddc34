package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/radiomirchi/radio-mirchi/internal/config"
	"github.com/radiomirchi/radio-mirchi/internal/game"
	"github.com/radiomirchi/radio-mirchi/internal/llm"
	"github.com/radiomirchi/radio-mirchi/internal/metrics"
	"github.com/radiomirchi/radio-mirchi/internal/missions"
	"github.com/radiomirchi/radio-mirchi/internal/secrets"
	"github.com/radiomirchi/radio-mirchi/internal/server"
	"github.com/radiomirchi/radio-mirchi/internal/speech"
	"github.com/radiomirchi/radio-mirchi/internal/store"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "radio-mirchi"
	serviceVersion    = "0.1.0"
)

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file (empty for defaults)")
	envFile := flag.String("env", ".env", "Path to .env file")
	flag.Parse()

	config.LoadDotEnv(*envFile)

	path := *configPath
	if path == defaultConfigPath {
		if _, err := os.Stat(path); err != nil {
			path = ""
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", path),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Secrets.Enabled {
		resolver, err := secrets.Open(ctx, cfg.Secrets, logger)
		if err != nil {
			logger.Error("Failed to open secrets resolver", slog.String("error", err.Error()))
			os.Exit(1)
		}
		if err := resolver.Apply(ctx, cfg); err != nil {
			logger.Error("Failed to resolve secrets", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	if err := cfg.RequireCredentials(); err != nil {
		logger.Error("Missing credentials", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("Configuration loaded",
		slog.String("address", cfg.Server.Address()),
		slog.String("llm_provider", cfg.LLM.Provider),
		slog.String("llm_model", cfg.LLM.Model),
		slog.String("speech_endpoint", cfg.Speech.BaseURL),
		slog.Int("tts_sample_rate", cfg.Speech.SampleRate),
		slog.Int("voice_sample_rate", cfg.Voice.SampleRate),
		slog.String("store_driver", cfg.Store.Driver),
		slog.String("log_level", cfg.Logging.Level),
	)

	appMetrics := metrics.New(nil)
	logger.Info("Prometheus metrics initialized")

	missionStore, err := store.Open(ctx, cfg.Store, appMetrics)
	if err != nil {
		logger.Error("Failed to open mission store", slog.String("error", err.Error()))
		os.Exit(1)
	}

	provider, err := llm.NewProvider(ctx, llmConfig(cfg.LLM))
	if err != nil {
		logger.Error("Failed to create LLM provider", slog.String("error", err.Error()))
		os.Exit(1)
	}
	llmService := llm.NewService(provider, logger, appMetrics, cfg.LLM.GetTimeoutDuration())

	speechClient, err := speech.NewClient(speech.Config{
		BaseURL:       cfg.Speech.BaseURL,
		APIKey:        cfg.Speech.APIKey,
		SampleRate:    cfg.Speech.SampleRate,
		STTModel:      cfg.Speech.STTModel,
		Language:      cfg.Speech.Language,
		Timeout:       cfg.Speech.GetTimeoutDuration(),
		MaxRetries:    cfg.Speech.MaxRetries,
		MaxConcurrent: cfg.Speech.MaxConcurrent,
	}, appMetrics, logger)
	if err != nil {
		logger.Error("Failed to create speech client", slog.String("error", err.Error()))
		os.Exit(1)
	}

	missionService := missions.NewService(missionStore, llmService, logger, appMetrics)

	gameConfig := game.Config{
		QueueLowWater: cfg.Game.QueueLowWater,
		HistoryLimit:  cfg.Game.HistoryLimit,
		ErrorBackoff:  cfg.Game.GetErrorBackoff(),
		Voice: game.VoiceConfig{
			SampleRate:   cfg.Voice.SampleRate,
			Threshold:    cfg.Voice.Threshold,
			WindowSize:   cfg.Voice.WindowSize,
			MinSpeech:    cfg.Voice.GetMinSpeechDuration(),
			MinSilence:   cfg.Voice.GetMinSilenceDuration(),
			MaxUtterance: cfg.Voice.GetMaxUtterance(),
		},
	}
	games := game.NewManager(logger, cfg.Game.GetSessionIdleTimeout(), game.Deps{
		Missions: missionService,
		Dialogue: llmService,
		Speech:   speechClient,
	}, gameConfig, appMetrics)
	logger.Info("Game manager initialized",
		slog.Duration("session_idle_timeout", cfg.Game.GetSessionIdleTimeout()),
		slog.Int("history_limit", cfg.Game.HistoryLimit),
	)

	httpServer := server.NewHTTPServer(cfg, logger, missionService, games, speechClient, appMetrics)

	if err := httpServer.Start(); err != nil {
		logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("address", cfg.Server.Address()),
	)

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("Context cancelled, shutting down")
	}

	logger.Info("Starting graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.GetShutdownTimeout())
	defer shutdownCancel()

	// Stop accepting requests before ending live sessions
	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
	}

	games.Stop()

	if err := missionService.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error waiting for mission generation", slog.String("error", err.Error()))
	}

	speechStats := speechClient.GetStats()
	if err := speechClient.Close(); err != nil {
		logger.Error("Error closing speech client", slog.String("error", err.Error()))
	}

	if err := missionStore.Close(); err != nil {
		logger.Error("Error closing mission store", slog.String("error", err.Error()))
	}

	gameStats := games.GetStats()
	logger.Info("Final service statistics",
		slog.Uint64("sessions_total", gameStats.TotalSessions),
		slog.Uint64("speech_requests", speechStats.TotalRequests),
		slog.Uint64("speech_failures", speechStats.FailedRequests),
	)

	logger.Info("Service stopped")
}

// llmConfig picks the API key matching the selected provider
func llmConfig(c config.LLMConfig) llm.Config {
	key := c.GoogleAPIKey
	if strings.EqualFold(c.Provider, llm.ProviderOpenAI) {
		key = c.OpenAIAPIKey
	}
	return llm.Config{
		Provider:    c.Provider,
		Model:       c.Model,
		APIKey:      key,
		BaseURL:     c.BaseURL,
		Temperature: c.Temperature,
	}
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
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
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

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

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}

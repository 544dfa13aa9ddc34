package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/radiomirchi/radio-mirchi/internal/config"
	"github.com/radiomirchi/radio-mirchi/internal/game"
	"github.com/radiomirchi/radio-mirchi/internal/metrics"
	"github.com/radiomirchi/radio-mirchi/internal/mission"
	"github.com/radiomirchi/radio-mirchi/internal/speech"
)

const (
	serviceName    = "radio-mirchi"
	serviceVersion = "0.1.0"
	apiPrefix      = "/api/v1"
)

// MissionService is the mission workflow used by the API.
// *missions.Service satisfies it.
type MissionService interface {
	Create(ctx context.Context, topic, userID string) (*mission.Mission, error)
	Get(ctx context.Context, id string) (*mission.Mission, error)
	Status(ctx context.Context, id string) (mission.Status, error)
	List(ctx context.Context, userID string, limit int) ([]*mission.Mission, error)
	GeneratePropaganda(ctx context.Context, topic string) (*mission.Propaganda, error)
}

// SpeechStats reports speech client statistics. *speech.Client satisfies it.
type SpeechStats interface {
	GetStats() speech.ClientStats
}

// HTTPServer provides the mission API, the game WebSocket and monitoring
// endpoints
type HTTPServer struct {
	server   *http.Server
	handler  http.Handler
	logger   *slog.Logger
	config   *config.Config
	missions MissionService
	games    *game.Manager
	speech   SpeechStats
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader

	// Server state
	startTime time.Time
	mu        sync.RWMutex
	wsConns   int
}

// NewHTTPServer creates a new HTTP API server. speechStats may be nil.
func NewHTTPServer(cfg *config.Config, logger *slog.Logger, missions MissionService,
	games *game.Manager, speechStats SpeechStats, m *metrics.Metrics) *HTTPServer {
	if logger == nil {
		logger = slog.Default()
	}

	h := &HTTPServer{
		logger:    logger.With(slog.String("component", "http")),
		config:    cfg,
		missions:  missions,
		games:     games,
		speech:    speechStats,
		metrics:   m,
		startTime: time.Now(),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 8192,
		CheckOrigin:     h.checkOrigin,
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)
	h.handler = mux

	h.server = &http.Server{
		Addr:        cfg.Server.Address(),
		Handler:     mux,
		ReadTimeout: cfg.Server.GetReadTimeout(),
		// WebSocket connections outlive any write timeout; game writes set
		// their own deadlines
		IdleTimeout: 60 * time.Second,
	}

	return h
}

// Handler returns the routed handler, mainly for tests
func (h *HTTPServer) Handler() http.Handler {
	return h.handler
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	// Mission API
	mux.HandleFunc("POST "+apiPrefix+"/create_mission", h.withMetrics("/create_mission", h.handleCreateMission))
	mux.HandleFunc("GET "+apiPrefix+"/mission_status/{id}", h.withMetrics("/mission_status/{id}", h.handleMissionStatus))
	mux.HandleFunc("GET "+apiPrefix+"/missions/{id}", h.withMetrics("/missions/{id}", h.handleGetMission))
	mux.HandleFunc("GET "+apiPrefix+"/missions", h.withMetrics("/missions", h.handleListMissions))
	mux.HandleFunc("POST "+apiPrefix+"/create_propaganda", h.withMetrics("/create_propaganda", h.handleCreatePropaganda))

	// Live broadcast
	mux.HandleFunc("GET "+apiPrefix+"/ws/{id}", h.withMetrics("/ws/{id}", h.handleWebSocket))

	// Monitoring
	mux.HandleFunc("GET /health", h.withMetrics("/health", h.handleHealth))
	mux.HandleFunc("GET /stats", h.withMetrics("/stats", h.handleStats))
	mux.HandleFunc("GET /sessions", h.withMetrics("/sessions", h.handleSessions))
	mux.HandleFunc("GET /config", h.withMetrics("/config", h.handleConfig))

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	mux.Handle("GET /metrics", h.metrics.Handler())

	// Root endpoint with API documentation
	mux.HandleFunc("GET /{$}", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		// Create a response writer wrapper to capture status code
		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

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

// Hijack lets the WebSocket upgrade take over the connection
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	rw.statusCode = http.StatusSwitchingProtocols
	return hj.Hijack()
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	ln, err := net.Listen("tcp", h.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", h.server.Addr, err)
	}

	h.logger.Info("Starting HTTP API server",
		slog.String("address", ln.Addr().String()),
	)

	go func() {
		if err := h.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server. Hijacked WebSocket connections are
// not tracked by Shutdown; stop the game manager to end them.
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

// errorResponse is the JSON error body
type errorResponse struct {
	Detail string `json:"detail"`
}

func (h *HTTPServer) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Debug("Failed to write response", slog.String("error", err.Error()))
	}
}

func (h *HTTPServer) writeError(w http.ResponseWriter, status int, detail string) {
	h.writeJSON(w, status, errorResponse{Detail: detail})
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(h.startTime)
	games := h.games.GetStats()

	components := map[string]any{
		"game_manager": map[string]any{
			"status":          "running",
			"active_sessions": games.ActiveSessions,
		},
		"websocket": map[string]any{
			"status":      "running",
			"connections": h.activeConnections(),
		},
	}
	if h.speech != nil {
		speechStats := h.speech.GetStats()
		components["speech"] = map[string]any{
			"status":          "running",
			"total_requests":  speechStats.TotalRequests,
			"success_rate":    speechStats.SuccessRate,
			"active_requests": speechStats.ActiveRequests,
			"tts_requests":    speechStats.TTSRequests,
		}
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    uptime.String(),
		"service": map[string]any{
			"name":    serviceName,
			"version": serviceVersion,
		},
		"components": components,
	})
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]any{
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
		"sessions":  h.games.GetStats(),
		"websocket": map[string]any{
			"active_connections": h.activeConnections(),
		},
	}
	if h.speech != nil {
		stats["speech"] = h.speech.GetStats()
	}

	h.writeJSON(w, http.StatusOK, stats)
}

// handleSessions lists live game sessions
func (h *HTTPServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	sessions := h.games.GetAllSessions()
	h.writeJSON(w, http.StatusOK, map[string]any{
		"total_sessions": len(sessions),
		"timestamp":      time.Now().UTC(),
		"sessions":       sessions,
	})
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	c := h.config

	// API keys are never returned
	sanitized := map[string]any{
		"server": map[string]any{
			"host":             c.Server.Host,
			"port":             c.Server.Port,
			"read_timeout":     c.Server.ReadTimeout,
			"write_timeout":    c.Server.WriteTimeout,
			"shutdown_timeout": c.Server.ShutdownTimeout,
			"allowed_origins":  c.Server.AllowedOrigins,
		},
		"llm": map[string]any{
			"provider":    c.LLM.Provider,
			"model":       c.LLM.Model,
			"base_url":    c.LLM.BaseURL,
			"temperature": c.LLM.Temperature,
			"timeout":     c.LLM.Timeout,
		},
		"speech": map[string]any{
			"base_url":       c.Speech.BaseURL,
			"sample_rate":    c.Speech.SampleRate,
			"stt_model":      c.Speech.STTModel,
			"language":       c.Speech.Language,
			"timeout":        c.Speech.Timeout,
			"max_retries":    c.Speech.MaxRetries,
			"max_concurrent": c.Speech.MaxConcurrent,
		},
		"store": map[string]any{
			"driver":     c.Store.Driver,
			"path":       c.Store.Path,
			"table":      c.Store.Table,
			"user_index": c.Store.UserIndex,
			"region":     c.Store.Region,
		},
		"game": map[string]any{
			"queue_low_water":      c.Game.QueueLowWater,
			"history_limit":        c.Game.HistoryLimit,
			"error_backoff":        c.Game.ErrorBackoff,
			"session_idle_timeout": c.Game.SessionIdleTimeout,
			"max_user_dialogue":    c.Game.MaxUserDialogue,
		},
		"voice": map[string]any{
			"sample_rate":          c.Voice.SampleRate,
			"threshold":            c.Voice.Threshold,
			"window_size":          c.Voice.WindowSize,
			"min_speech_duration":  c.Voice.MinSpeechDuration,
			"min_silence_duration": c.Voice.MinSilenceDuration,
			"max_utterance":        c.Voice.MaxUtterance,
		},
		"logging": map[string]any{
			"level":  c.Logging.Level,
			"format": c.Logging.Format,
			"output": c.Logging.Output,
		},
	}

	h.writeJSON(w, http.StatusOK, sanitized)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{
		"message": "Welcome to the Radio Mirchi API",
		"service": serviceName,
		"version": serviceVersion,
		"endpoints": map[string]string{
			"POST /api/v1/create_mission":     "Create a mission and start generation",
			"GET /api/v1/mission_status/{id}": "Mission generation status",
			"GET /api/v1/missions/{id}":       "Full mission document",
			"GET /api/v1/missions":            "List missions (user_id, limit)",
			"POST /api/v1/create_propaganda":  "Generate propaganda content synchronously",
			"GET /api/v1/ws/{id}":             "Live broadcast WebSocket",
			"GET /health":                     "Service health check",
			"GET /stats":                      "Service statistics",
			"GET /sessions":                   "Live game sessions",
			"GET /config":                     "Service configuration",
			"GET /metrics":                    "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	})
}

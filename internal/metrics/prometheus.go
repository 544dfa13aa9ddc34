package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains all Prometheus metrics for the radio show backend.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Mission metrics
	MissionsCreated    prometheus.Counter
	MissionsCompleted  *prometheus.CounterVec
	GenerationDuration prometheus.Histogram

	// LLM metrics
	LLMRequests        *prometheus.CounterVec
	LLMRequestDuration *prometheus.HistogramVec

	// Game session metrics
	ActiveSessions   prometheus.Gauge
	SessionsStarted  prometheus.Counter
	SessionDuration  prometheus.Histogram
	DialogueLines    prometheus.Counter
	UserMessages     *prometheus.CounterVec
	AwakeningChanges prometheus.Histogram

	// Voice input metrics
	VADWindowsProcessed prometheus.Counter
	VADVoiceDetected    prometheus.Counter
	UtterancesDetected  prometheus.Counter
	UtteranceDuration   prometheus.Histogram

	// Speech provider metrics
	TTSRequests *prometheus.CounterVec
	TTSBytes    prometheus.Counter
	TTSDuration prometheus.Histogram
	STTRequests *prometheus.CounterVec
	STTDuration prometheus.Histogram
	STTRetries  prometheus.Counter

	// Store metrics
	StoreOperations *prometheus.CounterVec
	StoreDuration   *prometheus.HistogramVec

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// New creates all metrics and registers them with reg. A nil registry gets a
// fresh one with the Go and process collectors.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		// Mission metrics
		MissionsCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "radio_missions_created_total",
			Help: "Total number of missions created",
		}),
		MissionsCompleted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "radio_missions_completed_total",
			Help: "Total number of missions that finished generation, by final status",
		}, []string{"status"}),
		GenerationDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "radio_mission_generation_duration_seconds",
			Help:    "Time from mission creation to stage2 or failure",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s to ~4 minutes
		}),

		// LLM metrics
		LLMRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "radio_llm_requests_total",
			Help: "Total number of LLM requests",
		}, []string{"operation", "status"}),
		LLMRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "radio_llm_request_duration_seconds",
			Help:    "Duration of LLM requests",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~1 minute
		}, []string{"operation"}),

		// Game session metrics
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "radio_active_sessions",
			Help: "Current number of live game sessions",
		}),
		SessionsStarted: f.NewCounter(prometheus.CounterOpts{
			Name: "radio_sessions_started_total",
			Help: "Total number of game sessions started",
		}),
		SessionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "radio_session_duration_seconds",
			Help:    "Duration of game sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~1 hour
		}),
		DialogueLines: f.NewCounter(prometheus.CounterOpts{
			Name: "radio_dialogue_lines_spoken_total",
			Help: "Total number of host lines sent to clients",
		}),
		UserMessages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "radio_user_messages_total",
			Help: "Total number of user interjections, by source",
		}, []string{"source"}),
		AwakeningChanges: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "radio_awakened_listeners_change_percent",
			Help:    "Awakened listeners change reported per dialogue batch",
			Buckets: prometheus.LinearBuckets(-20, 5, 9), // -20% to +20%
		}),

		// Voice input metrics
		VADWindowsProcessed: f.NewCounter(prometheus.CounterOpts{
			Name: "radio_vad_windows_processed_total",
			Help: "Total number of VAD windows processed",
		}),
		VADVoiceDetected: f.NewCounter(prometheus.CounterOpts{
			Name: "radio_vad_voice_detected_total",
			Help: "Total number of VAD windows with voice detected",
		}),
		UtterancesDetected: f.NewCounter(prometheus.CounterOpts{
			Name: "radio_utterances_detected_total",
			Help: "Total number of user voice utterances segmented",
		}),
		UtteranceDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "radio_utterance_duration_seconds",
			Help:    "Duration of segmented user utterances",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 8), // 0.25s to ~30s
		}),

		// Speech provider metrics
		TTSRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "radio_tts_requests_total",
			Help: "Total number of text-to-speech requests",
		}, []string{"status"}),
		TTSBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "radio_tts_audio_bytes_total",
			Help: "Total PCM bytes streamed to clients",
		}),
		TTSDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "radio_tts_stream_duration_seconds",
			Help:    "Time spent streaming one synthesized line",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		STTRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "radio_stt_requests_total",
			Help: "Total number of transcription requests",
		}, []string{"status"}),
		STTDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "radio_stt_duration_seconds",
			Help:    "Duration of transcription requests",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		STTRetries: f.NewCounter(prometheus.CounterOpts{
			Name: "radio_stt_retries_total",
			Help: "Total number of transcription request retries",
		}),

		// Store metrics
		StoreOperations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "radio_store_operations_total",
			Help: "Total number of mission store operations",
		}, []string{"operation", "status"}),
		StoreDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "radio_store_operation_duration_seconds",
			Help:    "Duration of mission store operations",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12), // 0.5ms to ~1s
		}, []string{"operation"}),

		// HTTP API metrics
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "radio_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "radio_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "radio_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// Handler returns the HTTP handler serving this registry
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the registry the metrics are registered with
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordMissionCreated increments the missions created counter
func (m *Metrics) RecordMissionCreated() {
	if m == nil {
		return
	}
	m.MissionsCreated.Inc()
}

// RecordMissionCompleted records the final generation status of a mission
func (m *Metrics) RecordMissionCompleted(status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.MissionsCompleted.WithLabelValues(status).Inc()
	m.GenerationDuration.Observe(durationSeconds)
}

// RecordLLMRequest records one LLM call
func (m *Metrics) RecordLLMRequest(operation string, err error, durationSeconds float64) {
	if m == nil {
		return
	}
	m.LLMRequests.WithLabelValues(operation, statusLabel(err)).Inc()
	m.LLMRequestDuration.WithLabelValues(operation).Observe(durationSeconds)
}

// RecordSessionStarted increments the active and started session counters
func (m *Metrics) RecordSessionStarted() {
	if m == nil {
		return
	}
	m.SessionsStarted.Inc()
	m.ActiveSessions.Inc()
}

// RecordSessionEnded decrements active sessions and records the duration
func (m *Metrics) RecordSessionEnded(durationSeconds float64) {
	if m == nil {
		return
	}
	m.ActiveSessions.Dec()
	m.SessionDuration.Observe(durationSeconds)
}

// RecordDialogueLine increments the spoken lines counter
func (m *Metrics) RecordDialogueLine() {
	if m == nil {
		return
	}
	m.DialogueLines.Inc()
}

// RecordUserMessage records a user interjection from "text" or "voice"
func (m *Metrics) RecordUserMessage(source string) {
	if m == nil {
		return
	}
	m.UserMessages.WithLabelValues(source).Inc()
}

// RecordAwakeningChange records an awakened listeners change percentage
func (m *Metrics) RecordAwakeningChange(change float64) {
	if m == nil {
		return
	}
	m.AwakeningChanges.Observe(change)
}

// RecordVADWindow increments VAD windows processed and optionally voice detected
func (m *Metrics) RecordVADWindow(hasVoice bool) {
	if m == nil {
		return
	}
	m.VADWindowsProcessed.Inc()
	if hasVoice {
		m.VADVoiceDetected.Inc()
	}
}

// RecordUtterance records a segmented user utterance
func (m *Metrics) RecordUtterance(durationSeconds float64) {
	if m == nil {
		return
	}
	m.UtterancesDetected.Inc()
	m.UtteranceDuration.Observe(durationSeconds)
}

// RecordTTS records one synthesized line
func (m *Metrics) RecordTTS(err error, bytes int, durationSeconds float64) {
	if m == nil {
		return
	}
	m.TTSRequests.WithLabelValues(statusLabel(err)).Inc()
	m.TTSBytes.Add(float64(bytes))
	m.TTSDuration.Observe(durationSeconds)
}

// RecordSTT records one transcription request
func (m *Metrics) RecordSTT(err error, durationSeconds float64) {
	if m == nil {
		return
	}
	m.STTRequests.WithLabelValues(statusLabel(err)).Inc()
	m.STTDuration.Observe(durationSeconds)
}

// RecordSTTRetry increments the retry counter
func (m *Metrics) RecordSTTRetry() {
	if m == nil {
		return
	}
	m.STTRetries.Inc()
}

// RecordStoreOperation records a mission store call
func (m *Metrics) RecordStoreOperation(operation string, err error, durationSeconds float64) {
	if m == nil {
		return
	}
	m.StoreOperations.WithLabelValues(operation, statusLabel(err)).Inc()
	m.StoreDuration.WithLabelValues(operation).Observe(durationSeconds)
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	if m == nil {
		return
	}
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}

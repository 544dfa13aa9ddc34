// Command speechmock is an offline stand-in for the speech provider. It serves
// the /speak and /listen endpoints used by the server with a synthetic tone
// and a canned transcript, so the game loop can run without an API key.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/radiomirchi/radio-mirchi/internal/audio"
)

const (
	defaultSampleRate = 24000
	maxUploadSize     = 10 << 20 // 10 MB
)

type listenResponse struct {
	Metadata listenMetadata `json:"metadata"`
	Results  listenResults  `json:"results"`
}

type listenMetadata struct {
	RequestID string  `json:"request_id"`
	Duration  float64 `json:"duration"`
	Created   string  `json:"created"`
}

type listenResults struct {
	Channels []listenChannel `json:"channels"`
}

type listenChannel struct {
	Alternatives []listenAlternative `json:"alternatives"`
}

type listenAlternative struct {
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence"`
}

type mockServer struct {
	transcript string
	perChar    time.Duration // tone length per character of text
	delay      time.Duration
	logger     *slog.Logger
}

func (s *mockServer) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /speak", s.handleSpeak)
	mux.HandleFunc("POST /listen", s.handleListen)
	return mux
}

func (s *mockServer) handleSpeak(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxUploadSize)).Decode(&req); err != nil || req.Text == "" {
		http.Error(w, `{"err_msg":"text is required"}`, http.StatusBadRequest)
		return
	}

	rate := defaultSampleRate
	if v := r.URL.Query().Get("sample_rate"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			http.Error(w, `{"err_msg":"invalid sample_rate"}`, http.StatusBadRequest)
			return
		}
		rate = parsed
	}

	// One tone per voice so different speakers are audible
	freq := 220.0
	if len(r.URL.Query().Get("model"))%2 == 1 {
		freq = 330.0
	}

	pcm := tone(rate, freq, time.Duration(len(req.Text))*s.perChar)

	s.logger.Info("Speak request",
		slog.String("voice", r.URL.Query().Get("model")),
		slog.Int("text_length", len(req.Text)),
		slog.Int("sample_rate", rate),
		slog.Int("audio_bytes", len(pcm)),
	)

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pcm)
}

func (s *mockServer) handleListen(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxUploadSize))
	if err != nil {
		http.Error(w, `{"err_msg":"error reading audio"}`, http.StatusBadRequest)
		return
	}

	info, err := audio.GetWAVInfo(data)
	if err != nil {
		http.Error(w, fmt.Sprintf(`{"err_msg":%q}`, err.Error()), http.StatusBadRequest)
		return
	}

	if s.delay > 0 {
		time.Sleep(s.delay)
	}

	resp := listenResponse{
		Metadata: listenMetadata{
			RequestID: uuid.NewString(),
			Duration:  info.Duration,
			Created:   time.Now().UTC().Format(time.RFC3339),
		},
		Results: listenResults{Channels: []listenChannel{{
			Alternatives: []listenAlternative{{Transcript: s.transcript, Confidence: 0.95}},
		}}},
	}

	s.logger.Info("Listen request",
		slog.String("request_id", resp.Metadata.RequestID),
		slog.Int("audio_bytes", len(data)),
		slog.Int("sample_rate", int(info.SampleRate)),
		slog.Float64("duration", resp.Metadata.Duration),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

// tone returns mono PCM16 of a sine wave at half amplitude
func tone(rate int, freq float64, d time.Duration) []byte {
	n := audio.SamplesFor(d, rate)
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = int16(math.Sin(2*math.Pi*freq*float64(i)/float64(rate)) * 16000)
	}
	return audio.SamplesToBytes(samples)
}

func main() {
	addr := flag.String("addr", ":9000", "Listen address")
	transcript := flag.String("transcript", "The station is lying to you.", "Text returned by /listen")
	perChar := flag.Duration("per-char", 60*time.Millisecond, "Synthesized audio length per character")
	delay := flag.Duration("delay", 200*time.Millisecond, "Simulated transcription latency")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	s := &mockServer{
		transcript: *transcript,
		perChar:    *perChar,
		delay:      *delay,
		logger:     logger,
	}

	logger.Info("Speech mock starting",
		slog.String("address", *addr),
		slog.String("base_url", "http://localhost"+*addr),
	)

	if err := http.ListenAndServe(*addr, s.routes()); err != nil {
		logger.Error("Server failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

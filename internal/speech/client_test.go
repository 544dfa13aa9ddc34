package speech

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radiomirchi/radio-mirchi/internal/metrics"
)

func newTestClient(t *testing.T, url string, retries int) *Client {
	t.Helper()
	c, err := NewClient(Config{
		BaseURL:       url,
		APIKey:        "dg-key",
		Timeout:       2 * time.Second,
		MaxRetries:    retries,
		MaxConcurrent: 2,
		VoiceSeed:     7,
	}, metrics.New(nil), nil)
	require.NoError(t, err)
	c.retryBase = time.Millisecond
	return c
}

const listenJSON = `{
	"metadata": {"request_id": "req-1", "duration": 1.5},
	"results": {"channels": [{"alternatives": [{"transcript": " the broadcast lies ", "confidence": 0.93}]}]}
}`

func TestNewClientValidation(t *testing.T) {
	tests := []struct {
		name   string
		config Config
	}{
		{"missing base url", Config{APIKey: "k"}},
		{"missing api key", Config{BaseURL: "http://x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewClient(tt.config, nil, nil)
			assert.Error(t, err)
		})
	}

	c, err := NewClient(Config{BaseURL: "http://x", APIKey: "k", MaxRetries: -1}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 24000, c.SampleRate())
	assert.Equal(t, "nova-2", c.config.STTModel)
	assert.Equal(t, "en-US", c.config.Language)
	assert.Equal(t, 3, c.config.MaxRetries)
}

func TestSpeak(t *testing.T) {
	pcm := strings.Repeat("\x01\x02", 600)
	var gotModel, gotText string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/speak", r.URL.Path)
		assert.Equal(t, "Token dg-key", r.Header.Get("Authorization"))
		assert.Equal(t, "linear16", r.URL.Query().Get("encoding"))
		assert.Equal(t, "24000", r.URL.Query().Get("sample_rate"))
		gotModel = r.URL.Query().Get("model")

		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotText = body["text"]

		w.Header().Set("Content-Type", "audio/l16")
		_, _ = io.WriteString(w, pcm)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL+"/v1", 0)

	stream, err := c.Speak(context.Background(), "  Good evening, citizens.  ", "male")
	require.NoError(t, err)
	data, err := io.ReadAll(stream)
	require.NoError(t, err)
	require.NoError(t, stream.Close())
	require.NoError(t, stream.Close())

	assert.Equal(t, pcm, string(data))
	assert.Equal(t, "Good evening, citizens.", gotText)
	assert.Contains(t, MaleVoices, gotModel)

	stats := c.GetStats()
	assert.Equal(t, uint64(1), stats.TTSRequests)
	assert.Equal(t, uint64(len(pcm)), stats.TTSBytes)
	assert.Zero(t, stats.TTSFailures)
}

func TestSpeakHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"err_msg":"bad voice"}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 0)

	_, err := c.Speak(context.Background(), "hello", "female")
	var statusErr *HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusBadRequest, statusErr.StatusCode)
	assert.Contains(t, statusErr.Body, "bad voice")
	assert.False(t, statusErr.Retryable())
	assert.Equal(t, uint64(1), c.GetStats().TTSFailures)
}

func TestSpeakEmptyText(t *testing.T) {
	c := newTestClient(t, "http://127.0.0.1:1", 0)

	_, err := c.Speak(context.Background(), "   ", "male")
	assert.Error(t, err)
}

func TestTranscribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/listen", r.URL.Path)
		assert.Equal(t, "nova-2", r.URL.Query().Get("model"))
		assert.Equal(t, "en-US", r.URL.Query().Get("language"))
		assert.Equal(t, "true", r.URL.Query().Get("smart_format"))
		assert.Equal(t, "audio/wav", r.Header.Get("Content-Type"))

		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "RIFFdata", string(body))

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, listenJSON)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 0)

	tr, err := c.Transcribe(context.Background(), []byte("RIFFdata"))
	require.NoError(t, err)
	assert.Equal(t, "the broadcast lies", tr.Text)
	assert.InDelta(t, 0.93, tr.Confidence, 1e-9)
	assert.InDelta(t, 1.5, tr.Duration, 1e-9)
	assert.Equal(t, "req-1", tr.RequestID)

	stats := c.GetStats()
	assert.Equal(t, uint64(1), stats.SuccessRequests)
	assert.InDelta(t, 100.0, stats.SuccessRate, 1e-9)
}

func TestTranscribeRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, listenJSON)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 3)

	tr, err := c.Transcribe(context.Background(), []byte("wav"))
	require.NoError(t, err)
	assert.Equal(t, "the broadcast lies", tr.Text)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, uint64(2), c.GetStats().TotalRetries)
}

func TestTranscribeNoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 3)

	_, err := c.Transcribe(context.Background(), []byte("wav"))
	var statusErr *HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusUnauthorized, statusErr.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, uint64(1), c.GetStats().FailedRequests)
}

func TestTranscribeGivesUp(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 2)

	_, err := c.Transcribe(context.Background(), []byte("wav"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Equal(t, int32(3), calls.Load())
}

func TestTranscribeEmpty(t *testing.T) {
	c := newTestClient(t, "http://127.0.0.1:1", 0)

	_, err := c.Transcribe(context.Background(), nil)
	assert.Error(t, err)
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"server error", &HTTPStatusError{StatusCode: 502}, true},
		{"rate limited", &HTTPStatusError{StatusCode: 429}, true},
		{"bad request", &HTTPStatusError{StatusCode: 400}, false},
		{"transport", &transportError{err: errors.New("connection reset")}, true},
		{"canceled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, true},
		{"parse", errors.New("failed to parse response JSON"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isRetryableError(tt.err))
		})
	}
}

func TestVoicePicker(t *testing.T) {
	p := NewVoicePicker(42)

	for i := 0; i < 20; i++ {
		assert.Contains(t, MaleVoices, p.Pick("male"))
		assert.Contains(t, MaleVoices, p.Pick("Male"))
		assert.Contains(t, FemaleVoices, p.Pick("female"))
		assert.Contains(t, FemaleVoices, p.Pick("unknown"))
	}

	assert.Len(t, MaleVoices, 16)
	assert.Len(t, FemaleVoices, 25)
}

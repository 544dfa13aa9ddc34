package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radiomirchi/radio-mirchi/internal/audio"
	"github.com/radiomirchi/radio-mirchi/internal/speech"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	s := &mockServer{
		transcript: "tune out",
		perChar:    10 * time.Millisecond,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	srv := httptest.NewServer(s.routes())
	t.Cleanup(srv.Close)
	return srv
}

func newSpeechClient(t *testing.T, baseURL string) *speech.Client {
	t.Helper()
	c, err := speech.NewClient(speech.Config{
		BaseURL:    baseURL,
		APIKey:     "test",
		SampleRate: 16000,
		Timeout:    5 * time.Second,
	}, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestSpeakReturnsTone(t *testing.T) {
	srv := newTestServer(t)
	c := newSpeechClient(t, srv.URL)

	stream, err := c.Speak(context.Background(), "hello", "male")
	require.NoError(t, err)
	defer stream.Close()

	pcm, err := io.ReadAll(stream)
	require.NoError(t, err)

	// 5 chars * 10ms at 16kHz, 2 bytes per sample
	assert.Equal(t, 800*2, len(pcm))
}

func TestTranscribeReturnsCannedText(t *testing.T) {
	srv := newTestServer(t)
	c := newSpeechClient(t, srv.URL)

	wav, err := audio.EncodeWAV(make([]byte, 16000), 16000)
	require.NoError(t, err)

	tr, err := c.Transcribe(context.Background(), wav)
	require.NoError(t, err)
	assert.Equal(t, "tune out", tr.Text)
	assert.InDelta(t, 0.5, tr.Duration, 0.001)
	assert.NotEmpty(t, tr.RequestID)
}

func TestMockRejectsBadInput(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		name string
		path string
		body string
	}{
		{"speak without text", "/speak", `{}`},
		{"speak bad rate", "/speak?sample_rate=abc", `{"text":"hi"}`},
		{"listen not wav", "/listen", "garbage"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(srv.URL+tt.path, "application/json", strings.NewReader(tt.body))
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

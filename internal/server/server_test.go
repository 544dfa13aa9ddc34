package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radiomirchi/radio-mirchi/internal/config"
	"github.com/radiomirchi/radio-mirchi/internal/game"
	"github.com/radiomirchi/radio-mirchi/internal/llm"
	"github.com/radiomirchi/radio-mirchi/internal/metrics"
	"github.com/radiomirchi/radio-mirchi/internal/mission"
	"github.com/radiomirchi/radio-mirchi/internal/speech"
)

const (
	readyID   = "11111111-1111-4111-8111-111111111111"
	pendingID = "22222222-2222-4222-8222-222222222222"
)

// fakeMissions serves both the API and the game sessions
type fakeMissions struct {
	mu        sync.Mutex
	missions  map[string]*mission.Mission
	createErr error
	listUser  string
	listLimit int
}

func newFakeMissions() *fakeMissions {
	return &fakeMissions{missions: map[string]*mission.Mission{
		readyID: {
			ID:     readyID,
			UserID: "alice",
			Topic:  "mandatory rain",
			Status: mission.StatusStage2,
			GenerationResult: &mission.GenerationResult{
				Summary:          "Rain is mandatory.",
				ProofSentences:   []string{"a", "b", "c"},
				Speakers:         []mission.Speaker{{Name: "Anchor Vance", Gender: "male"}},
				InitialListeners: 10000,
			},
			DialoguePrompt: "Show & Character Briefing",
		},
		pendingID: {ID: pendingID, Topic: "slow topic", Status: mission.StatusStage1},
	}}
}

func (f *fakeMissions) Create(ctx context.Context, topic, userID string) (*mission.Mission, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	topic, err := mission.ValidateTopic(topic)
	if err != nil {
		return nil, err
	}
	m := mission.New("33333333-3333-4333-8333-333333333333", userID, topic, time.Now())
	f.mu.Lock()
	f.missions[m.ID] = m
	f.mu.Unlock()
	return m.Clone(), nil
}

func (f *fakeMissions) Get(ctx context.Context, id string) (*mission.Mission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.missions[id]
	if !ok {
		return nil, mission.ErrNotFound
	}
	return m.Clone(), nil
}

func (f *fakeMissions) Status(ctx context.Context, id string) (mission.Status, error) {
	m, err := f.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return m.Status, nil
}

func (f *fakeMissions) List(ctx context.Context, userID string, limit int) ([]*mission.Mission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listUser, f.listLimit = userID, limit
	var out []*mission.Mission
	for _, m := range f.missions {
		if userID == "" || m.UserID == userID {
			out = append(out, m.Clone())
		}
	}
	return out, nil
}

func (f *fakeMissions) GeneratePropaganda(ctx context.Context, topic string) (*mission.Propaganda, error) {
	if _, err := mission.ValidateTopic(topic); err != nil {
		return nil, err
	}
	if topic == "explode" {
		return nil, &llm.ServiceError{Op: "generate_initial_propaganda", Msg: "generation failed", Err: errors.New("quota exceeded")}
	}
	return mission.NewPropaganda(f.missions[readyID].GenerationResult), nil
}

func (f *fakeMissions) ApplyAwakening(ctx context.Context, id string, change float64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.missions[id].ApplyAwakening(change), nil
}

type fakeSpeech struct{}

func (fakeSpeech) Speak(ctx context.Context, text, gender string) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(make([]byte, 1000))), nil
}

func (fakeSpeech) Transcribe(ctx context.Context, wav []byte) (*speech.Transcript, error) {
	return &speech.Transcript{Text: "spoken words"}, nil
}

func (fakeSpeech) GetStats() speech.ClientStats {
	return speech.ClientStats{TotalRequests: 3, SuccessRate: 100}
}

type testServer struct {
	*httptest.Server
	missions *fakeMissions
	games    *game.Manager
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cfg := config.Default()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.New(nil)

	fm := newFakeMissions()
	dialogue := llm.NewService(llm.NewMockProvider(), logger, m, 0)
	games := game.NewManager(logger, time.Minute, game.Deps{
		Missions: fm,
		Dialogue: dialogue,
		Speech:   fakeSpeech{},
	}, game.Config{ErrorBackoff: 10 * time.Millisecond}, m)

	h := NewHTTPServer(cfg, logger, fm, games, fakeSpeech{}, m)
	srv := httptest.NewServer(h.Handler())
	t.Cleanup(func() {
		games.Stop()
		srv.Close()
	})
	return &testServer{Server: srv, missions: fm, games: games}
}

func (ts *testServer) do(t *testing.T, method, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, ts.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(data) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(data, &out))
	}
	return resp, out
}

func TestCreateMission(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, http.MethodPost, "/api/v1/create_mission", `{"topic":" curfews ","user_id":"bob"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "33333333-3333-4333-8333-333333333333", body["id"])
	assert.Equal(t, "curfews", body["topic"])
	assert.Equal(t, "bob", body["user_id"])
	assert.Equal(t, "stage1", body["status"])
}

func TestCreateMissionErrors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		createErr  error
		wantStatus int
		wantDetail string
	}{
		{name: "invalid json", body: `{"topic":`, wantStatus: http.StatusBadRequest, wantDetail: "invalid request body"},
		{name: "empty topic", body: `{"topic":"  "}`, wantStatus: http.StatusBadRequest, wantDetail: "topic cannot be empty"},
		{name: "store failure", body: `{"topic":"x"}`, createErr: errors.New("disk full"), wantStatus: http.StatusInternalServerError, wantDetail: "disk full"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			ts.missions.createErr = tt.createErr

			resp, body := ts.do(t, http.MethodPost, "/api/v1/create_mission", tt.body)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.Contains(t, body["detail"], tt.wantDetail)
		})
	}
}

func TestMissionStatus(t *testing.T) {
	ts := newTestServer(t)
	ts.missions.missions["44444444-4444-4444-8444-444444444444"] = &mission.Mission{
		ID: "44444444-4444-4444-8444-444444444444", Status: mission.StatusFailed, Error: "model refused",
	}

	tests := []struct {
		id         string
		wantStatus int
		want       map[string]any
	}{
		{id: readyID, wantStatus: http.StatusOK, want: map[string]any{"mission_id": readyID, "status": "stage2"}},
		{id: pendingID, wantStatus: http.StatusOK, want: map[string]any{"mission_id": pendingID, "status": "stage1"}},
		{
			id:         "44444444-4444-4444-8444-444444444444",
			wantStatus: http.StatusOK,
			want:       map[string]any{"mission_id": "44444444-4444-4444-8444-444444444444", "status": "failed", "error": "model refused"},
		},
		{id: "nope", wantStatus: http.StatusNotFound, want: map[string]any{"detail": "Mission not found"}},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			resp, body := ts.do(t, http.MethodGet, "/api/v1/mission_status/"+tt.id, "")
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.Equal(t, tt.want, body)
		})
	}
}

func TestGetAndListMissions(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, http.MethodGet, "/api/v1/missions/"+readyID, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Show & Character Briefing", body["dialogue_generator_prompt"])

	resp, _ = ts.do(t, http.MethodGet, "/api/v1/missions/"+"missing", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = ts.do(t, http.MethodGet, "/api/v1/missions?user_id=alice&limit=5", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["count"])
	assert.Equal(t, "alice", ts.missions.listUser)
	assert.Equal(t, 5, ts.missions.listLimit)

	resp, body = ts.do(t, http.MethodGet, "/api/v1/missions?user_id=nobody", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []any{}, body["missions"])

	resp, _ = ts.do(t, http.MethodGet, "/api/v1/missions?limit=-1", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCreatePropaganda(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, http.MethodPost, "/api/v1/create_propaganda", `{"topic":"rain"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Rain is mandatory.", body["summary"])
	assert.Equal(t, float64(10000), body["initial_listeners"])
	assert.Equal(t, float64(0), body["awakened_listeners"])

	resp, body = ts.do(t, http.MethodPost, "/api/v1/create_propaganda", `{"topic":"explode"}`)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Contains(t, body["detail"], "quota exceeded")
}

func TestMonitoringEndpoints(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Welcome to the Radio Mirchi API", body["message"])

	resp, body = ts.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", body["status"])
	assert.Contains(t, body["components"], "speech")

	resp, body = ts.do(t, http.MethodGet, "/stats", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "sessions")

	resp, body = ts.do(t, http.MethodGet, "/sessions", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(0), body["total_sessions"])

	resp, _ = ts.do(t, http.MethodGet, "/unknown", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodDelete, "/health", "")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestConfigEndpointHidesKeys(t *testing.T) {
	ts := newTestServer(t)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/config", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(data), `"provider":"gemini"`)
	assert.NotContains(t, string(data), "api_key")
}

func dialWS(t *testing.T, ts *testServer, id string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws/" + id
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil reads frames until match accepts a text message
func readUntil(t *testing.T, conn *websocket.Conn, match func(map[string]any) bool) (map[string]any, int) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	binary := 0
	for {
		mt, data, err := conn.ReadMessage()
		require.NoError(t, err)
		if mt == websocket.BinaryMessage {
			binary++
			continue
		}
		var msg map[string]any
		require.NoError(t, json.Unmarshal(data, &msg))
		if match(msg) {
			return msg, binary
		}
	}
}

func TestWebSocketBroadcast(t *testing.T) {
	ts := newTestServer(t)
	conn := dialWS(t, ts, readyID)

	msg, _ := readUntil(t, conn, func(m map[string]any) bool { return m["type"] == "status" })
	assert.Equal(t, "live", msg["status"])

	msg, _ = readUntil(t, conn, func(m map[string]any) bool { return m["type"] == "dialogue" })
	assert.NotEmpty(t, msg["speaker"])
	assert.NotEmpty(t, msg["line"])

	_, binary := readUntil(t, conn, func(m map[string]any) bool { return m["type"] == "dialogue" })
	assert.Greater(t, binary, 0)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"user_dialogue":"the rain is a lie"}`)))
	msg, _ = readUntil(t, conn, func(m map[string]any) bool {
		return m["type"] == "listeners" && m["awakened_listeners_change"] != float64(0)
	})
	assert.Equal(t, float64(5), msg["awakened_listeners_change"])
	assert.Equal(t, float64(500), msg["awakened_listeners"])

	require.Eventually(t, func() bool {
		return ts.games.GetActiveSessionCount() == 1
	}, time.Second, 10*time.Millisecond)
}

func TestWebSocketInvalidMessage(t *testing.T) {
	ts := newTestServer(t)
	conn := dialWS(t, ts, readyID)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"dance"}`)))
	msg, _ := readUntil(t, conn, func(m map[string]any) bool { return m["type"] == "error" })
	assert.Contains(t, msg["error"], "unknown message type")
}

func TestWebSocketMissionNotReady(t *testing.T) {
	for _, id := range []string{pendingID, "unknown"} {
		t.Run(id, func(t *testing.T) {
			ts := newTestServer(t)
			conn := dialWS(t, ts, id)

			msg, _ := readUntil(t, conn, func(m map[string]any) bool { return true })
			assert.Equal(t, "error", msg["type"])
			assert.Equal(t, "Mission not ready.", msg["error"])

			_, _, err := conn.ReadMessage()
			var closeErr *websocket.CloseError
			require.ErrorAs(t, err, &closeErr)
			assert.Equal(t, websocket.ClosePolicyViolation, closeErr.Code)

			require.Eventually(t, func() bool {
				return ts.games.GetActiveSessionCount() == 0
			}, time.Second, 10*time.Millisecond)
		})
	}
}

func TestWebSocketDisconnectRemovesSession(t *testing.T) {
	ts := newTestServer(t)
	conn := dialWS(t, ts, readyID)
	readUntil(t, conn, func(m map[string]any) bool { return m["type"] == "dialogue" })

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool {
		return ts.games.GetActiveSessionCount() == 0
	}, 5*time.Second, 10*time.Millisecond, fmt.Sprintf("sessions: %+v", ts.games.GetStats()))
}

func TestCheckOrigin(t *testing.T) {
	cfg := config.Default()
	cfg.Server.AllowedOrigins = []string{"https://game.example"}
	h := &HTTPServer{config: cfg}

	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"https://game.example", true},
		{"http://api.local:8000", true},
		{"https://evil.example", false},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "http://api.local:8000/api/v1/ws/x", nil)
		if tt.origin != "" {
			r.Header.Set("Origin", tt.origin)
		}
		if got := h.checkOrigin(r); got != tt.want {
			t.Errorf("Expected checkOrigin(%q) = %v, got %v", tt.origin, tt.want, got)
		}
	}
}

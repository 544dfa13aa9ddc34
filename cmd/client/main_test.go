package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radiomirchi/radio-mirchi/internal/client"
	"github.com/radiomirchi/radio-mirchi/internal/mission"
	"github.com/radiomirchi/radio-mirchi/internal/protocol"
)

// syncBuffer is written by the UI from the session goroutines
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type fakeAPI struct {
	statusCalls map[string]*atomic.Int32
	statuses    map[string]client.MissionStatus
}

func newFakeAPI(t *testing.T) (*fakeAPI, *httptest.Server) {
	t.Helper()
	f := &fakeAPI{
		statusCalls: map[string]*atomic.Int32{
			"m-1": {},
			"m-2": {},
		},
		statuses: map[string]client.MissionStatus{
			"m-1": {MissionID: "m-1", Status: mission.StatusFailed, Error: "boom"},
			"m-2": {MissionID: "m-2", Status: mission.StatusStage2},
		},
	}

	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/create_mission", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Topic  string `json:"topic"`
			UserID string `json:"user_id"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		_ = json.NewEncoder(w).Encode(mission.Mission{ID: "m-1", Topic: req.Topic, UserID: req.UserID, Status: mission.StatusStage1})
	})
	mux.HandleFunc("GET /api/v1/mission_status/{id}", func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		s, ok := f.statuses[id]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"detail":"Mission not found"}`))
			return
		}
		f.statusCalls[id].Add(1)
		_ = json.NewEncoder(w).Encode(s)
	})
	mux.HandleFunc("GET /api/v1/ws/{id}", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		data, _ := protocol.EncodeServerMessage(protocol.Dialogue("Anchor", "Good evening."))
		_ = conn.WriteMessage(websocket.BinaryMessage, []byte{1, 0, 2, 0})
		_ = conn.WriteMessage(websocket.TextMessage, data)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	})
	mux.HandleFunc("GET /api/v1/missions", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"missions": []mission.Mission{{
				ID:                "m-2",
				Topic:             strings.Repeat("x", 50),
				Status:            mission.StatusStage2,
				AwakenedListeners: 10,
				GenerationResult:  &mission.GenerationResult{InitialListeners: 100},
			}},
			"count": 1,
		})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return f, srv
}

func newTestApp(t *testing.T, baseURL, script string) (*app, *syncBuffer) {
	t.Helper()
	api, err := client.NewAPIClient(baseURL, client.WithPollInterval(10*time.Millisecond))
	require.NoError(t, err)

	out := &syncBuffer{}
	return &app{
		api:   api,
		ui:    client.NewUI(out),
		input: client.NewLineReader(strings.NewReader(script)),
	}, out
}

func useDiscardSink(t *testing.T) {
	t.Helper()
	prev := sinkKind
	sinkKind = client.SinkDiscard
	t.Cleanup(func() { sinkKind = prev })
}

func TestMenuReconnectsToLastMission(t *testing.T) {
	useDiscardSink(t)
	f, srv := newFakeAPI(t)
	a, out := newTestApp(t, srv.URL, "1\nBirds are drones\nalice\n2\n4\n")

	require.NoError(t, a.menu(context.Background()))

	text := out.String()
	assert.Contains(t, text, "Mission created successfully! ID: m-1")
	assert.Equal(t, 2, strings.Count(text, "mission generation failed: boom"))
	assert.Equal(t, int32(2), f.statusCalls["m-1"].Load())
}

func TestMenuChoices(t *testing.T) {
	useDiscardSink(t)
	_, srv := newFakeAPI(t)
	a, out := newTestApp(t, srv.URL, "2\n9\n3\nmissing\n")

	// input ends without choosing Exit
	require.NoError(t, a.menu(context.Background()))

	text := out.String()
	assert.Contains(t, text, "No mission created yet.")
	assert.Contains(t, text, "Invalid choice.")
	assert.Contains(t, text, "Mission not found")
}

func TestMenuJoinsBroadcast(t *testing.T) {
	useDiscardSink(t)
	f, srv := newFakeAPI(t)
	a, out := newTestApp(t, srv.URL, "")

	// input stays open while connected so the server ends the session
	pr, pw := io.Pipe()
	a.input = client.NewLineReader(pr)
	go func() {
		_, _ = io.WriteString(pw, "3\nm-2\n")
		deadline := time.Now().Add(5 * time.Second)
		for !strings.Contains(out.String(), "Client shutdown complete.") && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
		pw.Close()
	}()

	require.NoError(t, a.menu(context.Background()))

	text := out.String()
	assert.Contains(t, text, "Stage 2 reached! Connecting to WebSocket...")
	assert.Contains(t, text, "Anchor: Good evening.")
	assert.Contains(t, text, "Client shutdown complete.")
	assert.Equal(t, int32(1), f.statusCalls["m-2"].Load())
}

func TestMissionTable(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	missions := []*mission.Mission{
		{
			ID:                "m-1",
			Topic:             "Short topic",
			Status:            mission.StatusStage2,
			AwakenedListeners: 250,
			GenerationResult:  &mission.GenerationResult{InitialListeners: 1000},
			CreatedAt:         created,
		},
		{ID: "m-2", Topic: strings.Repeat("a", 60), Status: mission.StatusStage1, CreatedAt: created},
	}

	rendered := missionTable(missions)
	assert.Contains(t, rendered, "ID")
	assert.Contains(t, rendered, "250/1000")
	assert.Contains(t, rendered, "stage1")
	assert.Contains(t, rendered, strings.Repeat("a", topicWidth-3)+"...")
	assert.NotContains(t, rendered, strings.Repeat("a", topicWidth+1))
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"short", "short"},
		{"abcdefghij", "abcdefghij"},
		{"abcdefghijk", "abcdefg..."},
		{"ääääääääääää", "äääääää..."},
	}
	for _, tt := range tests {
		if got := truncate(tt.in, 10); got != tt.want {
			t.Errorf("truncate(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRenderTableEmpty(t *testing.T) {
	if got := renderTable(nil, nil, nil); got != "" {
		t.Errorf("renderTable with no headers = %q, want empty", got)
	}
}

func TestListCommand(t *testing.T) {
	_, srv := newFakeAPI(t)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"list", "--server", srv.URL, "--limit", "5"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	require.NoError(t, rootCmd.ExecuteContext(context.Background()))
	assert.Contains(t, out.String(), "m-2")
	assert.Contains(t, out.String(), "10/100")
}

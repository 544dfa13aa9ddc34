package game

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"

	"github.com/radiomirchi/radio-mirchi/internal/llm"
	"github.com/radiomirchi/radio-mirchi/internal/mission"
	"github.com/radiomirchi/radio-mirchi/internal/protocol"
	"github.com/radiomirchi/radio-mirchi/internal/speech"
)

func readyMission(id string) *mission.Mission {
	return &mission.Mission{
		ID:     id,
		Topic:  "mandatory rain",
		Status: mission.StatusStage2,
		GenerationResult: &mission.GenerationResult{
			Summary:        "Rain is now mandatory.",
			ProofSentences: []string{"a", "b", "c"},
			Speakers: []mission.Speaker{
				{Name: "Anchor", Gender: "male"},
				{Name: "Reporter", Gender: "female"},
			},
			InitialListeners: 10000,
		},
		DialoguePrompt: "Show & Character Briefing",
	}
}

type fakeMissions struct {
	mu      sync.Mutex
	mission *mission.Mission
	err     error
	changes []float64
}

func (f *fakeMissions) Get(ctx context.Context, id string) (*mission.Mission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.mission == nil || f.mission.ID != id {
		return nil, mission.ErrNotFound
	}
	return f.mission.Clone(), nil
}

func (f *fakeMissions) ApplyAwakening(ctx context.Context, id string, change float64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.changes = append(f.changes, change)
	return f.mission.ApplyAwakening(change), nil
}

// fakeDialogue returns batches until limit, then blocks until the context ends
type fakeDialogue struct {
	mu         sync.Mutex
	limit      int
	change     float64
	err        error
	onGenerate func()
	requests   []llm.DialogueRequest
}

func (f *fakeDialogue) GenerateDialogue(ctx context.Context, req llm.DialogueRequest) (*mission.DialogueBatch, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	n := len(f.requests)
	hook := f.onGenerate
	err := f.err
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	if err != nil {
		return nil, err
	}
	if f.limit > 0 && n > f.limit {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	change := 0.0
	if req.UserDialogue != "" {
		change = f.change
	}
	return &mission.DialogueBatch{
		DialogueLines: []mission.DialogueLine{
			{SpeakerName: "Anchor", Line: "Good evening, citizens."},
			{SpeakerName: "Reporter", Line: "The rain is lovely today."},
		},
		AwakenedListenersChange: change,
	}, nil
}

func (f *fakeDialogue) Requests() []llm.DialogueRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]llm.DialogueRequest(nil), f.requests...)
}

type fakeSpeech struct {
	mu         sync.Mutex
	audioBytes int
	speakErr   error
	transcript string
	genders    []string
	wavs       [][]byte
}

func (f *fakeSpeech) Speak(ctx context.Context, text, gender string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.genders = append(f.genders, gender)
	if f.speakErr != nil {
		return nil, f.speakErr
	}
	return io.NopCloser(bytes.NewReader(make([]byte, f.audioBytes))), nil
}

func (f *fakeSpeech) Transcribe(ctx context.Context, wav []byte) (*speech.Transcript, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.wavs = append(f.wavs, wav)
	return &speech.Transcript{Text: f.transcript}, nil
}

func (f *fakeSpeech) Genders() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.genders...)
}

var errClosed = errors.New("connection closed")

type fakeSender struct {
	mu        sync.Mutex
	messages  []*protocol.ServerMessage
	chunks    [][]byte
	failAudio bool
}

func (f *fakeSender) SendMessage(msg *protocol.ServerMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, msg)
	return nil
}

func (f *fakeSender) SendAudio(pcm []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAudio {
		return errClosed
	}
	f.chunks = append(f.chunks, pcm)
	return nil
}

func (f *fakeSender) Messages(msgType string) []*protocol.ServerMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*protocol.ServerMessage
	for _, m := range f.messages {
		if m.Type == msgType {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeSender) All() []*protocol.ServerMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*protocol.ServerMessage(nil), f.messages...)
}

func (f *fakeSender) Chunks() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.chunks...)
}

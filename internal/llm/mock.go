package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// Schema names sent by Service
const (
	SchemaGenerationResult = "propaganda_generation_result"
	SchemaDialogueBatch    = "dialogue_batch"
)

// MockProvider answers without a network. Scripted Responses are returned in
// order; once they run out it produces deterministic content that satisfies
// the requested schema.
type MockProvider struct {
	mu        sync.Mutex
	responses []string
	err       error
	prompts   []Request
}

// NewMockProvider creates a mock that returns the given responses first
func NewMockProvider(responses ...string) *MockProvider {
	return &MockProvider{responses: responses}
}

// Name implements Provider
func (m *MockProvider) Name() string {
	return "mock"
}

// SetError makes every following call fail with err (nil clears it)
func (m *MockProvider) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Push appends scripted responses
func (m *MockProvider) Push(responses ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, responses...)
}

// Requests returns a copy of every request received
func (m *MockProvider) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.prompts...)
}

// Generate implements Provider
func (m *MockProvider) Generate(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.prompts = append(m.prompts, req)
	if m.err != nil {
		return "", m.err
	}
	if len(m.responses) > 0 {
		resp := m.responses[0]
		m.responses = m.responses[1:]
		return resp, nil
	}

	switch req.SchemaName {
	case SchemaGenerationResult:
		return mockGenerationResult(req.Prompt), nil
	case SchemaDialogueBatch:
		return mockDialogueBatch(req.Prompt, len(m.prompts)), nil
	default:
		return mockBriefing(req.Prompt), nil
	}
}

var (
	quotedTopic = regexp.MustCompile(`topic: "((?:[^"\\]|\\.)*)"`)
	hostsLine   = regexp.MustCompile(`(?m)^\*\*Hosts:\*\* (.+)$`)
)

func topicOf(prompt string) string {
	if m := quotedTopic.FindStringSubmatch(prompt); m != nil {
		return m[1]
	}
	return "the state"
}

func mockGenerationResult(prompt string) string {
	topic := topicOf(prompt)
	out := map[string]any{
		"summary": fmt.Sprintf("The Ministry of Broadcast presents the truth about %s. Every loyal citizen already agrees.", topic),
		"proof_sentences": []string{
			fmt.Sprintf("Official records confirm the benefits of %s.", topic),
			"Nine out of ten experts endorse the Ministry position.",
			"Dissenting voices have been shown to be foreign agitators.",
		},
		"speakers": []map[string]string{
			{"name": "Anchor Vance", "gender": "male"},
			{"name": "Correspondent Ilsa", "gender": "female"},
		},
		"initial_listeners": 10000,
	}
	data, _ := json.Marshal(out)
	return string(data)
}

func mockDialogueBatch(prompt string, call int) string {
	names := []string{"Host"}
	if m := hostsLine.FindStringSubmatch(prompt); m != nil {
		names = strings.Split(m[1], ", ")
	}

	change := 0.0
	if strings.Contains(prompt, "**The infiltrator just said:**") {
		change = 5
	}

	lines := make([]map[string]string, 0, 3)
	for i := 0; i < 3; i++ {
		lines = append(lines, map[string]string{
			"speaker_name": names[i%len(names)],
			"line":         fmt.Sprintf("Broadcast segment %d, line %d. All is well.", call, i+1),
		})
	}

	data, _ := json.Marshal(map[string]any{
		"dialogue_lines":            lines,
		"awakened_listeners_change": change,
	})
	return string(data)
}

func mockBriefing(prompt string) string {
	return fmt.Sprintf("Show & Character Briefing: a stern state broadcast about %s. The hosts are calm, loyal and quietly mocking of dissent.", topicOf(prompt))
}

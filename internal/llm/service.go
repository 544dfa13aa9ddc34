package llm

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/radiomirchi/radio-mirchi/internal/metrics"
	"github.com/radiomirchi/radio-mirchi/internal/mission"
)

// Operation names used in errors, logs and metrics
const (
	OpInitialPropaganda = "initial_propaganda"
	OpDialoguePrompt    = "dialogue_prompt"
	OpDialogue          = "dialogue"
)

// Service runs the two-stage content generation on top of a Provider
type Service struct {
	provider Provider
	logger   *slog.Logger
	metrics  *metrics.Metrics
	timeout  time.Duration
}

// NewService creates a generation service. A zero timeout leaves deadlines to
// the caller.
func NewService(provider Provider, logger *slog.Logger, m *metrics.Metrics, timeout time.Duration) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		provider: provider,
		logger:   logger.With(slog.String("component", "llm"), slog.String("provider", provider.Name())),
		metrics:  m,
		timeout:  timeout,
	}
}

// call runs one provider request with timeout, logging and metrics
func (s *Service) call(ctx context.Context, op string, req Request) (string, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	text, err := s.provider.Generate(ctx, req)
	elapsed := time.Since(start)
	s.metrics.RecordLLMRequest(op, err, elapsed.Seconds())

	if err != nil {
		s.logger.Warn("LLM request failed",
			slog.String("operation", op),
			slog.Duration("elapsed", elapsed),
			slog.String("error", err.Error()),
		)
		return "", err
	}

	s.logger.Debug("LLM request completed",
		slog.String("operation", op),
		slog.Duration("elapsed", elapsed),
		slog.Int("response_length", len(text)),
	)
	return text, nil
}

// GenerateInitialPropaganda produces the Stage1 content for a topic
func (s *Service) GenerateInitialPropaganda(ctx context.Context, topic string) (*mission.GenerationResult, error) {
	text, err := s.call(ctx, OpInitialPropaganda, Request{
		Prompt:     InitialPropagandaPrompt(topic),
		Schema:     GenerationResultSchema(),
		SchemaName: SchemaGenerationResult,
	})
	if err != nil {
		return nil, &ServiceError{Op: OpInitialPropaganda, Msg: "an unexpected error occurred during initial propaganda generation", Err: err}
	}

	var result mission.GenerationResult
	if err := decodeJSON(text, &result); err != nil {
		return nil, &ServiceError{Op: OpInitialPropaganda, Msg: "LLM did not return a valid result", Err: err}
	}
	if err := result.Validate(); err != nil {
		return nil, &ServiceError{Op: OpInitialPropaganda, Msg: "LLM did not return a valid result", Err: err}
	}

	return &result, nil
}

// GenerateDialoguePrompt produces the Stage2 show and character briefing
func (s *Service) GenerateDialoguePrompt(ctx context.Context, result *mission.GenerationResult, topic string) (string, error) {
	if err := result.Validate(); err != nil {
		return "", &ServiceError{Op: OpDialoguePrompt, Msg: "invalid stage1 result", Err: err}
	}

	text, err := s.call(ctx, OpDialoguePrompt, Request{Prompt: DialogueBriefingPrompt(result, topic)})
	if err != nil {
		return "", &ServiceError{Op: OpDialoguePrompt, Msg: "an unexpected error occurred during unified prompt generation", Err: err}
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", &ServiceError{Op: OpDialoguePrompt, Msg: "LLM returned an empty response for the unified dialogue prompt", Err: ErrEmptyResponse}
	}

	return text, nil
}

// GenerateDialogue produces the next batch of host lines. When the user said
// nothing the awakening change is always 0.
func (s *Service) GenerateDialogue(ctx context.Context, req DialogueRequest) (*mission.DialogueBatch, error) {
	if strings.TrimSpace(req.Briefing) == "" {
		return nil, &ServiceError{Op: OpDialogue, Msg: "missing show briefing", Err: ErrInvalidConfig}
	}
	if len(req.Speakers) == 0 {
		return nil, &ServiceError{Op: OpDialogue, Msg: "no speakers", Err: ErrInvalidConfig}
	}

	text, err := s.call(ctx, OpDialogue, Request{
		Prompt:     DialoguePrompt(req),
		Schema:     DialogueBatchSchema(),
		SchemaName: SchemaDialogueBatch,
	})
	if err != nil {
		return nil, &ServiceError{Op: OpDialogue, Msg: "an unexpected error occurred during dialogue generation", Err: err}
	}

	var batch mission.DialogueBatch
	if err := decodeJSON(text, &batch); err != nil {
		return nil, &ServiceError{Op: OpDialogue, Msg: "LLM did not return a valid dialogue batch", Err: err}
	}

	// Drop blank lines rather than failing the whole batch
	lines := batch.DialogueLines[:0]
	for _, l := range batch.DialogueLines {
		l.SpeakerName = strings.TrimSpace(l.SpeakerName)
		l.Line = strings.TrimSpace(l.Line)
		if l.Line != "" {
			lines = append(lines, l)
		}
	}
	batch.DialogueLines = lines

	if err := batch.Validate(); err != nil {
		return nil, &ServiceError{Op: OpDialogue, Msg: "LLM did not return a valid dialogue batch", Err: err}
	}

	if req.UserDialogue == "" {
		batch.AwakenedListenersChange = 0
	}

	return &batch, nil
}

// GeneratePropaganda runs Stage1 and returns the public propaganda view
func (s *Service) GeneratePropaganda(ctx context.Context, topic string) (*mission.Propaganda, error) {
	result, err := s.GenerateInitialPropaganda(ctx, topic)
	if err != nil {
		return nil, err
	}
	return mission.NewPropaganda(result), nil
}

// decodeJSON parses a model answer, tolerating a markdown code fence
func decodeJSON(text string, v any) error {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	}
	if text == "" {
		return ErrEmptyResponse
	}
	return json.Unmarshal([]byte(text), v)
}

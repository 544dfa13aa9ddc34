// Package missions runs the mission lifecycle: a mission is stored in stage1,
// generated in the background, and becomes playable in stage2.
package missions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/radiomirchi/radio-mirchi/internal/metrics"
	"github.com/radiomirchi/radio-mirchi/internal/mission"
	"github.com/radiomirchi/radio-mirchi/internal/store"
)

// Generator produces mission content. *llm.Service satisfies it.
type Generator interface {
	GenerateInitialPropaganda(ctx context.Context, topic string) (*mission.GenerationResult, error)
	GenerateDialoguePrompt(ctx context.Context, result *mission.GenerationResult, topic string) (string, error)
	GeneratePropaganda(ctx context.Context, topic string) (*mission.Propaganda, error)
}

// Service creates and tracks missions
type Service struct {
	store   store.Store
	gen     Generator
	logger  *slog.Logger
	metrics *metrics.Metrics

	newID func() string
	now   func() time.Time

	// background generation outlives the creating request
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// serializes read-modify-write of awakened listeners per process
	mu sync.Mutex
}

// NewService creates a mission service
func NewService(st store.Store, gen Generator, logger *slog.Logger, m *metrics.Metrics) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		store:   st,
		gen:     gen,
		logger:  logger.With(slog.String("component", "missions")),
		metrics: m,
		newID:   uuid.NewString,
		now:     time.Now,
		baseCtx: ctx,
		cancel:  cancel,
	}
}

// Create validates the topic, stores a stage1 mission and starts generation
// in the background. The returned mission is a snapshot in stage1.
func (s *Service) Create(ctx context.Context, topic, userID string) (*mission.Mission, error) {
	topic, err := mission.ValidateTopic(topic)
	if err != nil {
		return nil, err
	}

	m := mission.New(s.newID(), userID, topic, s.now())
	if err := s.store.Create(ctx, m); err != nil {
		return nil, fmt.Errorf("failed to store mission: %w", err)
	}

	s.metrics.RecordMissionCreated()
	s.logger.Info("Mission created",
		slog.String("mission_id", m.ID),
		slog.String("user_id", userID),
		slog.String("topic", topic),
	)

	s.wg.Add(1)
	go func(m *mission.Mission) {
		defer s.wg.Done()
		s.generate(s.baseCtx, m)
	}(m.Clone())

	return m, nil
}

// generate runs Stage1 then Stage2 and records the outcome
func (s *Service) generate(ctx context.Context, m *mission.Mission) {
	start := time.Now()
	logger := s.logger.With(slog.String("mission_id", m.ID))

	fail := func(stage string, err error) {
		logger.Error("Mission generation failed",
			slog.String("stage", stage),
			slog.String("error", err.Error()),
		)
		m.Status = mission.StatusFailed
		m.Error = err.Error()
		m.UpdatedAt = s.now().UTC()
		// the request context may be gone; use a fresh one for the final write
		writeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if uerr := s.store.Update(writeCtx, m); uerr != nil {
			logger.Error("Failed to record mission failure", slog.String("error", uerr.Error()))
		}
		s.metrics.RecordMissionCompleted(string(mission.StatusFailed), time.Since(start).Seconds())
	}

	result, err := s.gen.GenerateInitialPropaganda(ctx, m.Topic)
	if err != nil {
		fail(string(mission.StatusStage1), err)
		return
	}

	m.GenerationResult = result
	m.UpdatedAt = s.now().UTC()
	if err := s.store.Update(ctx, m); err != nil {
		fail(string(mission.StatusStage1), err)
		return
	}
	logger.Info("Stage1 complete",
		slog.Int("speakers", len(result.Speakers)),
		slog.Int("initial_listeners", result.InitialListeners),
	)

	prompt, err := s.gen.GenerateDialoguePrompt(ctx, result, m.Topic)
	if err != nil {
		fail(string(mission.StatusStage2), err)
		return
	}

	m.DialoguePrompt = prompt
	m.Status = mission.StatusStage2
	m.UpdatedAt = s.now().UTC()
	if err := s.store.Update(ctx, m); err != nil {
		fail(string(mission.StatusStage2), err)
		return
	}

	s.metrics.RecordMissionCompleted(string(mission.StatusStage2), time.Since(start).Seconds())
	logger.Info("Mission ready", slog.Duration("elapsed", time.Since(start)))
}

// Get loads a mission. Ids that are not UUIDs are reported as not found.
func (s *Service) Get(ctx context.Context, id string) (*mission.Mission, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: %s", mission.ErrNotFound, id)
	}
	return s.store.Get(ctx, id)
}

// Status returns the generation stage of a mission
func (s *Service) Status(ctx context.Context, id string) (mission.Status, error) {
	m, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return m.Status, nil
}

// List returns missions newest first
func (s *Service) List(ctx context.Context, userID string, limit int) ([]*mission.Mission, error) {
	return s.store.List(ctx, userID, limit)
}

// GeneratePropaganda runs Stage1 synchronously without storing anything
func (s *Service) GeneratePropaganda(ctx context.Context, topic string) (*mission.Propaganda, error) {
	topic, err := mission.ValidateTopic(topic)
	if err != nil {
		return nil, err
	}
	return s.gen.GeneratePropaganda(ctx, topic)
}

// ApplyAwakening moves the awakened listener count by changePercent and
// persists it. It returns the new count.
func (s *Service) ApplyAwakening(ctx context.Context, id string, changePercent float64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.store.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	if m.GenerationResult == nil {
		return 0, fmt.Errorf("%w: %s", mission.ErrNotReady, id)
	}

	before := m.AwakenedListeners
	awakened := m.ApplyAwakening(changePercent)
	if awakened == before {
		return awakened, nil
	}

	m.UpdatedAt = s.now().UTC()
	if err := s.store.Update(ctx, m); err != nil {
		return before, fmt.Errorf("failed to store awakened listeners: %w", err)
	}
	return awakened, nil
}

// Wait blocks until background generation has finished
func (s *Service) Wait() {
	s.wg.Wait()
}

// Shutdown cancels background generation and waits for it, up to ctx
func (s *Service) Shutdown(ctx context.Context) error {
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.New("timed out waiting for mission generation")
	}
}

package game

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/radiomirchi/radio-mirchi/internal/llm"
	"github.com/radiomirchi/radio-mirchi/internal/metrics"
	"github.com/radiomirchi/radio-mirchi/internal/mission"
	"github.com/radiomirchi/radio-mirchi/internal/protocol"
	"github.com/radiomirchi/radio-mirchi/internal/speech"
)

// UserSpeakerName labels the player's lines in the dialogue history
const UserSpeakerName = "Infiltrator"

// MissionSource loads missions and persists awakened listeners.
// *missions.Service satisfies it.
type MissionSource interface {
	Get(ctx context.Context, id string) (*mission.Mission, error)
	ApplyAwakening(ctx context.Context, id string, changePercent float64) (int, error)
}

// DialogueGenerator writes host dialogue. *llm.Service satisfies it.
type DialogueGenerator interface {
	GenerateDialogue(ctx context.Context, req llm.DialogueRequest) (*mission.DialogueBatch, error)
}

// SpeechService synthesizes and transcribes speech. *speech.Client satisfies it.
type SpeechService interface {
	Speak(ctx context.Context, text, gender string) (io.ReadCloser, error)
	Transcribe(ctx context.Context, wav []byte) (*speech.Transcript, error)
}

// Sender delivers frames to the connected player. Implementations must be
// safe for concurrent use.
type Sender interface {
	SendMessage(msg *protocol.ServerMessage) error
	SendAudio(pcm []byte) error
}

// ErrSendFailed wraps errors from the Sender; they end the session
var ErrSendFailed = errors.New("failed to send to client")

// Deps are the services a session uses
type Deps struct {
	Missions MissionSource
	Dialogue DialogueGenerator
	Speech   SpeechService
}

// Config holds session parameters
type Config struct {
	QueueLowWater int
	HistoryLimit  int
	ErrorBackoff  time.Duration
	AudioChunk    int // bytes per binary frame
	Voice         VoiceConfig
}

func (c Config) withDefaults() Config {
	if c.QueueLowWater <= 0 {
		c.QueueLowWater = 2
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 60
	}
	if c.ErrorBackoff <= 0 {
		c.ErrorBackoff = 5 * time.Second
	}
	if c.AudioChunk <= 0 {
		c.AudioChunk = 4096
	}
	c.Voice = c.Voice.withDefaults()
	return c
}

// Session is one live broadcast for one mission
type Session struct {
	MissionID string
	StartTime time.Time

	deps    Deps
	config  Config
	sender  Sender
	logger  *slog.Logger
	metrics *metrics.Metrics
	voice   *voicePipeline

	// cancel ends Run; done is closed when Run returns
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	// wake interrupts a backoff when the player speaks
	wake chan struct{}
	wg   sync.WaitGroup

	mu           sync.Mutex
	started      bool
	closed       bool
	briefing     string
	result       *mission.GenerationResult
	queue        []mission.DialogueLine
	history      []string
	pendingUser  []string
	userEpoch    uint64
	awakened     int
	lastActivity time.Time

	linesSpoken  uint64
	userMessages uint64
	batches      uint64
	errors       uint64
}

// SessionInfo is a monitoring snapshot of a session
type SessionInfo struct {
	MissionID         string        `json:"mission_id"`
	StartTime         time.Time     `json:"start_time"`
	LastActivity      time.Time     `json:"last_activity"`
	Duration          time.Duration `json:"duration"`
	QueuedLines       int           `json:"queued_lines"`
	HistoryLines      int           `json:"history_lines"`
	LinesSpoken       uint64        `json:"lines_spoken"`
	UserMessages      uint64        `json:"user_messages"`
	Batches           uint64        `json:"batches"`
	Errors            uint64        `json:"errors"`
	AwakenedListeners int           `json:"awakened_listeners"`
	Voice             VoiceStats    `json:"voice"`
}

// NewSession creates a session bound to ctx. Call Run to start it.
func NewSession(ctx context.Context, missionID string, sender Sender, deps Deps, config Config, logger *slog.Logger, m *metrics.Metrics) (*Session, error) {
	if sender == nil {
		return nil, errors.New("sender is required")
	}
	if deps.Missions == nil || deps.Dialogue == nil || deps.Speech == nil {
		return nil, errors.New("missions, dialogue and speech services are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	config = config.withDefaults()

	ctx, cancel := context.WithCancel(ctx)
	now := time.Now()
	s := &Session{
		MissionID:    missionID,
		StartTime:    now,
		deps:         deps,
		config:       config,
		sender:       sender,
		logger:       logger.With(slog.String("mission_id", missionID)),
		metrics:      m,
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
		wake:         make(chan struct{}, 1),
		lastActivity: now,
	}

	voice, err := newVoicePipeline(missionID, config.Voice, m)
	if err != nil {
		cancel()
		return nil, err
	}
	s.voice = voice
	return s, nil
}

// Run loads the mission and broadcasts until ctx ends, Stop is called or a
// send fails. It returns nil on a normal stop.
func (s *Session) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("session already running")
	}
	s.started = true
	s.mu.Unlock()

	defer close(s.done)
	defer s.drain()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	s.metrics.RecordSessionStarted()
	defer func() { s.metrics.RecordSessionEnded(time.Since(s.StartTime).Seconds()) }()

	m, err := s.deps.Missions.Get(ctx, s.MissionID)
	if err != nil || !m.Ready() {
		if sendErr := s.sender.SendMessage(protocol.Error("Mission not ready.")); sendErr != nil {
			s.logger.Debug("Failed to report mission not ready", slog.String("error", sendErr.Error()))
		}
		if err != nil && !errors.Is(err, mission.ErrNotFound) {
			return fmt.Errorf("load mission: %w", err)
		}
		return mission.ErrNotReady
	}

	s.mu.Lock()
	s.briefing = m.DialoguePrompt
	s.result = m.GenerationResult
	s.awakened = m.AwakenedListeners
	s.mu.Unlock()

	s.logger.Info("Game session starting",
		slog.String("topic", m.Topic),
		slog.Int("speakers", len(m.GenerationResult.Speakers)),
	)

	if err := s.send(protocol.Status("live")); err != nil {
		return err
	}
	if err := s.send(protocol.Listeners(m.AwakenedListeners, 0)); err != nil {
		return err
	}

	for ctx.Err() == nil {
		if s.queueLen() < s.config.QueueLowWater {
			if err := s.populate(ctx); err != nil {
				if isStop(ctx, err) {
					break
				}
				if errors.Is(err, ErrSendFailed) {
					return err
				}
				s.recordError("dialogue generation failed", err)
				s.backoff(ctx)
				continue
			}
		}

		line, ok := s.pop()
		if !ok {
			// nothing to say yet; wait rather than spin on the generator
			s.backoff(ctx)
			continue
		}

		if err := s.speak(ctx, line); err != nil {
			if isStop(ctx, err) {
				break
			}
			if errors.Is(err, ErrSendFailed) {
				s.logger.Info("Client disconnected, stopping session", slog.String("error", err.Error()))
				return err
			}
			s.recordError("failed to speak line", err)
			s.backoff(ctx)
		}
	}

	s.logger.Info("Game session stopped",
		slog.Duration("duration", time.Since(s.StartTime)),
		slog.Uint64("lines_spoken", s.GetInfo().LinesSpoken),
	)
	return nil
}

func isStop(ctx context.Context, err error) bool {
	return ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded))
}

func (s *Session) recordError(msg string, err error) {
	s.mu.Lock()
	s.errors++
	s.mu.Unlock()
	s.logger.Warn(msg, slog.String("error", err.Error()))
}

// backoff waits ErrorBackoff, returning early when the player speaks
func (s *Session) backoff(ctx context.Context) {
	t := time.NewTimer(s.config.ErrorBackoff)
	defer t.Stop()
	select {
	case <-t.C:
	case <-s.wake:
	case <-ctx.Done():
	}
}

func (s *Session) send(msg *protocol.ServerMessage) error {
	if err := s.sender.SendMessage(msg); err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	s.touch()
	return nil
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

func (s *Session) queueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *Session) pop() (mission.DialogueLine, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return mission.DialogueLine{}, false
	}
	line := s.queue[0]
	s.queue = s.queue[1:]
	return line, true
}

// appendHistoryLocked adds a line and keeps only the most recent HistoryLimit
func (s *Session) appendHistoryLocked(entry string) {
	s.history = append(s.history, entry)
	if over := len(s.history) - s.config.HistoryLimit; over > 0 {
		s.history = append([]string(nil), s.history[over:]...)
	}
}

// populate asks for the next batch, queues it and applies the awakening
// change for whatever the player said since the last batch
func (s *Session) populate(ctx context.Context) error {
	s.mu.Lock()
	history := make([]string, 0, len(s.history)+len(s.queue))
	history = append(history, s.history...)
	for _, q := range s.queue {
		history = append(history, q.SpeakerName+": "+q.Line)
	}
	consumed := len(s.pendingUser)
	userDialogue := strings.Join(s.pendingUser, " ")
	epoch := s.userEpoch
	req := llm.DialogueRequest{
		Briefing:     s.briefing,
		Speakers:     s.result.Speakers,
		History:      history,
		UserDialogue: userDialogue,
	}
	s.mu.Unlock()

	batch, err := s.deps.Dialogue.GenerateDialogue(ctx, req)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.batches++
	s.pendingUser = s.pendingUser[consumed:]
	if len(s.pendingUser) == 0 {
		// the wake for text this batch answered is spent
		select {
		case <-s.wake:
		default:
		}
	}
	if s.userEpoch == epoch {
		s.queue = append(s.queue, batch.DialogueLines...)
	} else {
		// the player spoke while this batch was written; the next one answers
		s.logger.Debug("Discarding stale dialogue batch", slog.Int("lines", len(batch.DialogueLines)))
	}
	s.mu.Unlock()

	if userDialogue == "" {
		return nil
	}

	s.metrics.RecordAwakeningChange(batch.AwakenedListenersChange)
	awakened, err := s.deps.Missions.ApplyAwakening(ctx, s.MissionID, batch.AwakenedListenersChange)
	if err != nil {
		s.recordError("failed to update awakened listeners", err)
		return nil
	}

	s.mu.Lock()
	s.awakened = awakened
	s.mu.Unlock()

	s.logger.Info("Awakened listeners updated",
		slog.Float64("change", batch.AwakenedListenersChange),
		slog.Int("awakened_listeners", awakened),
	)
	return s.send(protocol.Listeners(awakened, batch.AwakenedListenersChange))
}

// speak sends one line as text and then streams its speech
func (s *Session) speak(ctx context.Context, line mission.DialogueLine) error {
	s.mu.Lock()
	gender := s.result.SpeakerGender(line.SpeakerName)
	s.appendHistoryLocked(line.SpeakerName + ": " + line.Line)
	s.linesSpoken++
	s.mu.Unlock()

	s.metrics.RecordDialogueLine()
	s.logger.Debug("Speaking", slog.String("speaker", line.SpeakerName), slog.String("line", line.Line))

	if err := s.send(protocol.Dialogue(line.SpeakerName, line.Line)); err != nil {
		return err
	}

	stream, err := s.deps.Speech.Speak(ctx, line.Line, gender)
	if err != nil {
		return fmt.Errorf("text to speech: %w", err)
	}
	defer stream.Close()

	buf := make([]byte, s.config.AudioChunk)
	for {
		n, readErr := stream.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if err := s.sender.SendAudio(chunk); err != nil {
				return fmt.Errorf("%w: %v", ErrSendFailed, err)
			}
			s.touch()
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return fmt.Errorf("read speech stream: %w", readErr)
		}
	}
}

// HandleUserText records something the player said. Lines the hosts have
// not spoken yet are dropped so the next batch can react.
func (s *Session) HandleUserText(text, source string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	s.mu.Lock()
	s.pendingUser = append(s.pendingUser, text)
	s.appendHistoryLocked(UserSpeakerName + ": " + text)
	dropped := len(s.queue)
	s.queue = nil
	s.userEpoch++
	s.userMessages++
	s.lastActivity = time.Now()
	s.mu.Unlock()

	s.metrics.RecordUserMessage(source)
	s.logger.Info("User dialogue received",
		slog.String("source", source),
		slog.Int("length", len(text)),
		slog.Int("dropped_lines", dropped),
	)

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// HandleAudio feeds user voice PCM. Completed utterances are transcribed in
// the background and treated as user dialogue.
func (s *Session) HandleAudio(pcm []byte) {
	s.touch()
	for _, utt := range s.voice.write(pcm) {
		s.transcribe(utt)
	}
}

// HandleVoiceEnd closes any utterance in progress
func (s *Session) HandleVoiceEnd() {
	if utt := s.voice.flush(); utt != nil {
		s.transcribe(utt)
	}
}

// drain cancels the session and waits for pending transcriptions
func (s *Session) drain() {
	s.cancel()
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Session) transcribe(utt *utterance) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()

		text, err := s.voice.transcribe(s.ctx, s.deps.Speech, utt)
		if err != nil {
			if s.ctx.Err() == nil {
				s.recordError("transcription failed", err)
			}
			return
		}
		if text == "" {
			s.logger.Debug("Empty transcription", slog.String("utterance_id", utt.ID))
			return
		}

		if err := s.sender.SendMessage(protocol.Transcript(text)); err != nil {
			s.logger.Debug("Failed to send transcript", slog.String("error", err.Error()))
		}
		s.HandleUserText(text, "voice")
	}()
}

// Stop ends the session and waits for Run to return if it was started
func (s *Session) Stop() {
	s.cancel()
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if started {
		<-s.done
	}
}

// Done is closed when Run returns
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// LastActivity returns the time of the last frame in either direction
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// GetInfo returns a monitoring snapshot
func (s *Session) GetInfo() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionInfo{
		MissionID:         s.MissionID,
		StartTime:         s.StartTime,
		LastActivity:      s.lastActivity,
		Duration:          time.Since(s.StartTime),
		QueuedLines:       len(s.queue),
		HistoryLines:      len(s.history),
		LinesSpoken:       s.linesSpoken,
		UserMessages:      s.userMessages,
		Batches:           s.batches,
		Errors:            s.errors,
		AwakenedListeners: s.awakened,
		Voice:             s.voice.stats(),
	}
}

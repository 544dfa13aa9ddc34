package mission

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// Status is the generation stage of a mission
type Status string

const (
	// StatusStage1 means the initial content is still being generated
	StatusStage1 Status = "stage1"
	// StatusStage2 means the briefing exists and the live dialogue can start
	StatusStage2 Status = "stage2"
	// StatusFailed means generation stopped with an error
	StatusFailed Status = "failed"
)

// Generation limits enforced on LLM output
const (
	MinProofSentences = 3
	MaxProofSentences = 5
	MinSpeakers       = 1
	MaxSpeakers       = 4
	MinDialogueLines  = 1
	MaxDialogueLines  = 15
	MaxTopicLength    = 500
)

// Gender values recognised for voice selection
const (
	GenderMale   = "male"
	GenderFemale = "female"
)

var (
	ErrNotFound     = errors.New("mission not found")
	ErrInvalidTopic = errors.New("invalid mission topic")
	ErrNotReady     = errors.New("mission not ready")
)

// Speaker is a radio host
type Speaker struct {
	Name   string `json:"name"`
	Gender string `json:"gender"`
}

// IsMale reports whether the speaker should get a male voice.
// Anything other than "male" falls back to a female voice.
func (s Speaker) IsMale() bool {
	return strings.EqualFold(strings.TrimSpace(s.Gender), GenderMale)
}

// GenerationResult is the Stage1 structured output
type GenerationResult struct {
	Summary          string    `json:"summary"`
	ProofSentences   []string  `json:"proof_sentences"`
	Speakers         []Speaker `json:"speakers"`
	InitialListeners int       `json:"initial_listeners"`
}

// Validate checks the bounds the Stage1 prompt asks for
func (g *GenerationResult) Validate() error {
	if g == nil {
		return errors.New("generation result is nil")
	}
	if strings.TrimSpace(g.Summary) == "" {
		return errors.New("summary cannot be empty")
	}
	if n := len(g.ProofSentences); n < MinProofSentences || n > MaxProofSentences {
		return fmt.Errorf("proof_sentences must have %d-%d entries, got %d", MinProofSentences, MaxProofSentences, n)
	}
	for i, p := range g.ProofSentences {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("proof sentence %d is empty", i)
		}
	}
	if n := len(g.Speakers); n < MinSpeakers || n > MaxSpeakers {
		return fmt.Errorf("speakers must have %d-%d entries, got %d", MinSpeakers, MaxSpeakers, n)
	}
	for i, s := range g.Speakers {
		if strings.TrimSpace(s.Name) == "" {
			return fmt.Errorf("speaker %d has no name", i)
		}
	}
	if g.InitialListeners <= 0 {
		return fmt.Errorf("initial_listeners must be positive, got %d", g.InitialListeners)
	}
	return nil
}

// SpeakerGender returns the gender of the named speaker, "female" when unknown
func (g *GenerationResult) SpeakerGender(name string) string {
	if g != nil {
		for _, s := range g.Speakers {
			if s.Name == name {
				if s.IsMale() {
					return GenderMale
				}
				return GenderFemale
			}
		}
	}
	return GenderFemale
}

// DialogueLine is a single host line
type DialogueLine struct {
	SpeakerName string `json:"speaker_name"`
	Line        string `json:"line"`
}

// DialogueBatch is one structured dialogue generation
type DialogueBatch struct {
	DialogueLines           []DialogueLine `json:"dialogue_lines"`
	AwakenedListenersChange float64        `json:"awakened_listeners_change"`
}

// Validate checks the dialogue batch bounds
func (b *DialogueBatch) Validate() error {
	if b == nil {
		return errors.New("dialogue batch is nil")
	}
	if n := len(b.DialogueLines); n < MinDialogueLines || n > MaxDialogueLines {
		return fmt.Errorf("dialogue_lines must have %d-%d entries, got %d", MinDialogueLines, MaxDialogueLines, n)
	}
	for i, l := range b.DialogueLines {
		if strings.TrimSpace(l.Line) == "" {
			return fmt.Errorf("dialogue line %d is empty", i)
		}
	}
	if math.IsNaN(b.AwakenedListenersChange) || math.IsInf(b.AwakenedListenersChange, 0) {
		return errors.New("awakened_listeners_change must be a finite number")
	}
	return nil
}

// Mission is one generated propaganda scenario
type Mission struct {
	ID                string            `json:"id"`
	UserID            string            `json:"user_id"`
	Topic             string            `json:"topic"`
	Status            Status            `json:"status"`
	GenerationResult  *GenerationResult `json:"generation_result,omitempty"`
	DialoguePrompt    string            `json:"dialogue_generator_prompt,omitempty"`
	AwakenedListeners int               `json:"awakened_listeners"`
	Error             string            `json:"error,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// New creates a mission in the stage1 state
func New(id, userID, topic string, now time.Time) *Mission {
	return &Mission{
		ID:        id,
		UserID:    userID,
		Topic:     topic,
		Status:    StatusStage1,
		CreatedAt: now.UTC(),
		UpdatedAt: now.UTC(),
	}
}

// ValidateTopic trims and checks a user supplied topic
func ValidateTopic(topic string) (string, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return "", fmt.Errorf("%w: topic cannot be empty", ErrInvalidTopic)
	}
	if len(topic) > MaxTopicLength {
		return "", fmt.Errorf("%w: topic longer than %d characters", ErrInvalidTopic, MaxTopicLength)
	}
	return topic, nil
}

// Ready reports whether the live dialogue can start
func (m *Mission) Ready() bool {
	return m != nil && m.Status == StatusStage2 && m.GenerationResult != nil && strings.TrimSpace(m.DialoguePrompt) != ""
}

// InitialListeners returns the Stage1 listener count or 0
func (m *Mission) InitialListeners() int {
	if m == nil || m.GenerationResult == nil {
		return 0
	}
	return m.GenerationResult.InitialListeners
}

// ApplyAwakening moves the awakened listener count by a percentage of the
// initial audience. The result stays within [0, initial listeners].
func (m *Mission) ApplyAwakening(changePercent float64) int {
	initial := m.InitialListeners()
	// bounded before conversion so huge changes cannot overflow int
	limit := float64(initial)
	delta := math.Max(-limit, math.Min(limit, limit*changePercent/100))
	awakened := m.AwakenedListeners + int(math.Round(delta))
	if awakened < 0 {
		awakened = 0
	}
	if awakened > initial {
		awakened = initial
	}
	m.AwakenedListeners = awakened
	return awakened
}

// Clone returns a deep copy
func (m *Mission) Clone() *Mission {
	if m == nil {
		return nil
	}
	c := *m
	if m.GenerationResult != nil {
		g := *m.GenerationResult
		g.ProofSentences = append([]string(nil), m.GenerationResult.ProofSentences...)
		g.Speakers = append([]Speaker(nil), m.GenerationResult.Speakers...)
		c.GenerationResult = &g
	}
	return &c
}

// Propaganda is the synchronous create_propaganda response
type Propaganda struct {
	Summary           string    `json:"summary"`
	Speakers          []Speaker `json:"speakers"`
	InitialListeners  int       `json:"initial_listeners"`
	AwakenedListeners int       `json:"awakened_listeners"`
}

// NewPropaganda builds the response from a Stage1 result
func NewPropaganda(g *GenerationResult) *Propaganda {
	return &Propaganda{
		Summary:          g.Summary,
		Speakers:         append([]Speaker(nil), g.Speakers...),
		InitialListeners: g.InitialListeners,
	}
}

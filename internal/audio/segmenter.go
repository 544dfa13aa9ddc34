package audio

import (
	"fmt"
	"sync"
	"time"

	"github.com/radiomirchi/radio-mirchi/internal/vad"
)

// SegmentState represents the current state of utterance collection
type SegmentState int

const (
	StateIdle SegmentState = iota
	StateSpeech
	StateTrailingSilence
)

func (s SegmentState) String() string {
	switch s {
	case StateSpeech:
		return "speech"
	case StateTrailingSilence:
		return "trailing_silence"
	default:
		return "idle"
	}
}

// Utterance is one segmented piece of user speech ready for transcription
type Utterance struct {
	ID          string        `json:"id"`
	StartSample int64         `json:"start_sample"`
	EndSample   int64         `json:"end_sample"`
	Duration    time.Duration `json:"duration"`
	SampleRate  int           `json:"sample_rate"`
	Confidence  float32       `json:"confidence"`
	PCM         []byte        `json:"-"`
}

// SegmenterConfig contains the utterance boundaries
type SegmenterConfig struct {
	SampleRate   int
	MinSpeech    time.Duration
	MinSilence   time.Duration
	MaxUtterance time.Duration
}

// Segmenter turns per-window VAD decisions into utterances. Timing is measured
// in samples, so the result does not depend on how fast frames arrive.
type Segmenter struct {
	config SegmenterConfig
	prefix string

	minSpeech    int64
	minSilence   int64
	maxUtterance int64

	state          SegmentState
	start          int64
	lastVoiceEnd   int64
	speechSamples  int64
	silenceSamples int64
	confidenceSum  float32
	confidenceN    int

	utterances    uint64
	discarded     uint64
	totalDuration time.Duration

	mu sync.Mutex
}

// SegmenterStats represents segmenter statistics
type SegmenterStats struct {
	State          string  `json:"state"`
	Utterances     uint64  `json:"utterances"`
	Discarded      uint64  `json:"discarded"`
	AvgDurationSec float64 `json:"avg_duration_sec"`
}

// NewSegmenter creates a segmenter. The prefix is used in utterance IDs.
func NewSegmenter(prefix string, config SegmenterConfig) *Segmenter {
	return &Segmenter{
		config:       config,
		prefix:       prefix,
		minSpeech:    SamplesFor(config.MinSpeech, config.SampleRate),
		minSilence:   SamplesFor(config.MinSilence, config.SampleRate),
		maxUtterance: SamplesFor(config.MaxUtterance, config.SampleRate),
	}
}

// Process feeds one window and its VAD decision. It returns an utterance when
// trailing silence or the length limit closes one.
func (s *Segmenter) Process(window *Window, decision *vad.Decision, buf *Buffer) (*Utterance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := window.Len()

	switch s.state {
	case StateIdle:
		if !decision.Voice {
			return nil, nil
		}
		s.state = StateSpeech
		s.start = window.StartSample
		s.lastVoiceEnd = window.EndSample
		s.speechSamples = n
		s.addConfidence(decision.Confidence)

	case StateSpeech, StateTrailingSilence:
		s.addConfidence(decision.Confidence)
		if decision.Voice {
			s.state = StateSpeech
			s.lastVoiceEnd = window.EndSample
			s.speechSamples += n
			s.silenceSamples = 0
		} else {
			s.state = StateTrailingSilence
			s.silenceSamples += n
			if s.silenceSamples >= s.minSilence {
				return s.finish(buf, s.lastVoiceEnd)
			}
		}
	}

	if s.maxUtterance > 0 && window.EndSample-s.start >= s.maxUtterance {
		return s.finish(buf, window.EndSample)
	}

	return nil, nil
}

// Flush closes the utterance in progress, typically when the user signals the
// end of voice input. It returns nil when there is not enough speech.
func (s *Segmenter) Flush(buf *Buffer) (*Utterance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateIdle {
		return nil, nil
	}
	return s.finish(buf, s.lastVoiceEnd)
}

// finish extracts the utterance up to end and resets the state
func (s *Segmenter) finish(buf *Buffer, end int64) (*Utterance, error) {
	defer s.reset()

	if s.speechSamples < s.minSpeech {
		s.discarded++
		return nil, nil
	}

	pcm, err := buf.Segment(s.start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to extract utterance: %w", err)
	}

	u := &Utterance{
		ID:          fmt.Sprintf("%s_%d_%d", s.prefix, s.start, end),
		StartSample: s.start,
		EndSample:   end,
		Duration:    PCMDuration(len(pcm), s.config.SampleRate),
		SampleRate:  s.config.SampleRate,
		PCM:         pcm,
	}
	if s.confidenceN > 0 {
		u.Confidence = s.confidenceSum / float32(s.confidenceN)
	}

	s.utterances++
	s.totalDuration += u.Duration
	return u, nil
}

func (s *Segmenter) addConfidence(c float32) {
	s.confidenceSum += c
	s.confidenceN++
}

func (s *Segmenter) reset() {
	s.state = StateIdle
	s.start = 0
	s.lastVoiceEnd = 0
	s.speechSamples = 0
	s.silenceSamples = 0
	s.confidenceSum = 0
	s.confidenceN = 0
}

// State returns the current state
func (s *Segmenter) State() SegmentState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start returns the absolute start sample of the utterance in progress.
// Callers may trim the buffer up to this point.
func (s *Segmenter) Start() (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.start, s.state != StateIdle
}

// GetStats returns current segmenter statistics
func (s *Segmenter) GetStats() SegmenterStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	avg := float64(0)
	if s.utterances > 0 {
		avg = s.totalDuration.Seconds() / float64(s.utterances)
	}

	return SegmenterStats{
		State:          s.state.String(),
		Utterances:     s.utterances,
		Discarded:      s.discarded,
		AvgDurationSec: avg,
	}
}

package game

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/radiomirchi/radio-mirchi/internal/audio"
	"github.com/radiomirchi/radio-mirchi/internal/metrics"
	"github.com/radiomirchi/radio-mirchi/internal/vad"
)

// VoiceConfig controls user voice segmentation
type VoiceConfig struct {
	SampleRate   int
	Threshold    float32
	WindowSize   int
	MinSpeech    time.Duration
	MinSilence   time.Duration
	MaxUtterance time.Duration
}

func (c VoiceConfig) withDefaults() VoiceConfig {
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.Threshold <= 0 {
		c.Threshold = 0.5
	}
	if c.WindowSize <= 0 {
		c.WindowSize = 512
	}
	if c.MinSpeech <= 0 {
		c.MinSpeech = 250 * time.Millisecond
	}
	if c.MinSilence <= 0 {
		c.MinSilence = 700 * time.Millisecond
	}
	if c.MaxUtterance <= 0 {
		c.MaxUtterance = 15 * time.Second
	}
	return c
}

// VoiceStats summarizes the voice pipeline of a session
type VoiceStats struct {
	Buffer      audio.BufferStats    `json:"buffer"`
	VAD         vad.Stats            `json:"vad"`
	Segmenter   audio.SegmenterStats `json:"segmenter"`
	Transcribed uint64               `json:"transcribed"`
}

type utterance = audio.Utterance

// voicePipeline runs buffer -> VAD -> segmenter for one session
type voicePipeline struct {
	sampleRate int
	buffer     *audio.Buffer
	vad        *vad.Detector
	segmenter  *audio.Segmenter
	metrics    *metrics.Metrics

	transcribed uint64
	mu          sync.Mutex
}

func newVoicePipeline(prefix string, config VoiceConfig, m *metrics.Metrics) (*voicePipeline, error) {
	detector, err := vad.NewDetector(config.Threshold, config.WindowSize, config.SampleRate)
	if err != nil {
		return nil, fmt.Errorf("failed to create voice detector: %w", err)
	}
	return &voicePipeline{
		sampleRate: config.SampleRate,
		buffer:     audio.NewBuffer(config.SampleRate, config.WindowSize),
		vad:        detector,
		segmenter: audio.NewSegmenter(prefix, audio.SegmenterConfig{
			SampleRate:   config.SampleRate,
			MinSpeech:    config.MinSpeech,
			MinSilence:   config.MinSilence,
			MaxUtterance: config.MaxUtterance,
		}),
		metrics: m,
	}, nil
}

// write buffers PCM and returns any utterances it completes
func (v *voicePipeline) write(pcm []byte) []*utterance {
	v.mu.Lock()
	defer v.mu.Unlock()

	if _, err := v.buffer.Write(pcm); err != nil {
		return nil
	}

	var out []*utterance
	for {
		window, ok := v.buffer.NextWindow()
		if !ok {
			break
		}

		decision, err := v.vad.Detect(window.Samples)
		if err != nil {
			continue
		}
		v.metrics.RecordVADWindow(decision.Voice)

		utt, err := v.segmenter.Process(window, decision, v.buffer)
		if err == nil && utt != nil {
			v.metrics.RecordUtterance(utt.Duration.Seconds())
			out = append(out, utt)
		}
		v.trimLocked()
	}
	return out
}

// flush closes the utterance in progress
func (v *voicePipeline) flush() *utterance {
	v.mu.Lock()
	defer v.mu.Unlock()

	utt, err := v.segmenter.Flush(v.buffer)
	v.trimLocked()
	if err != nil || utt == nil {
		return nil
	}
	v.metrics.RecordUtterance(utt.Duration.Seconds())
	return utt
}

// trimLocked drops audio no open utterance can still need
func (v *voicePipeline) trimLocked() {
	if start, active := v.segmenter.Start(); active {
		v.buffer.Trim(start)
		return
	}
	v.buffer.Trim(v.buffer.Cursor())
}

func (v *voicePipeline) transcribe(ctx context.Context, svc SpeechService, utt *utterance) (string, error) {
	wav, err := audio.EncodeWAV(utt.PCM, v.sampleRate)
	if err != nil {
		return "", fmt.Errorf("failed to encode utterance: %w", err)
	}

	transcript, err := svc.Transcribe(ctx, wav)
	if err != nil {
		return "", err
	}

	v.mu.Lock()
	v.transcribed++
	v.mu.Unlock()

	return strings.TrimSpace(transcript.Text), nil
}

func (v *voicePipeline) stats() VoiceStats {
	v.mu.Lock()
	transcribed := v.transcribed
	v.mu.Unlock()

	return VoiceStats{
		Buffer:      v.buffer.GetStats(),
		VAD:         v.vad.GetStats(),
		Segmenter:   v.segmenter.GetStats(),
		Transcribed: transcribed,
	}
}

package vad

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// fullScaleRMS is the RMS energy mapped to level 1.0
const fullScaleRMS = 10000.0

// defaultSmoothing weighs the current window against the previous level
const defaultSmoothing = 0.5

// Decision is the verdict for one analysis window
type Decision struct {
	Level      float32 `json:"level"`      // smoothed energy in [0, 1]
	Voice      bool    `json:"voice"`      // Level reached the threshold
	Confidence float32 `json:"confidence"` // distance from the threshold, scaled to [0, 1]
	Window     uint64  `json:"window"`     // index of the window since creation
}

// Stats describes what a detector has seen
type Stats struct {
	Windows      uint64        `json:"windows"`
	VoiceWindows uint64        `json:"voice_windows"`
	VoiceRatio   float64       `json:"voice_ratio"`
	PeakLevel    float32       `json:"peak_level"`
	Threshold    float32       `json:"threshold"`
	Window       time.Duration `json:"window"`
}

// Detector classifies fixed-size PCM16 windows as voice or silence by their
// smoothed RMS energy. It is deterministic: the same input always yields the
// same decisions.
type Detector struct {
	threshold  float32
	windowSize int
	sampleRate int
	smoothing  float32

	mu           sync.Mutex
	level        float32
	windows      uint64
	voiceWindows uint64
	peak         float32
}

// NewDetector creates a detector for windows of windowSize samples
func NewDetector(threshold float32, windowSize, sampleRate int) (*Detector, error) {
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("threshold must be between 0 and 1, got %f", threshold)
	}
	if windowSize <= 0 {
		return nil, fmt.Errorf("window size must be positive, got %d", windowSize)
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	return &Detector{
		threshold:  threshold,
		windowSize: windowSize,
		sampleRate: sampleRate,
		smoothing:  defaultSmoothing,
	}, nil
}

// Detect classifies one window. samples must hold exactly one window.
func (d *Detector) Detect(samples []int16) (*Decision, error) {
	if len(samples) != d.windowSize {
		return nil, fmt.Errorf("expected %d samples, got %d", d.windowSize, len(samples))
	}

	energy := Energy(samples)

	d.mu.Lock()
	defer d.mu.Unlock()

	level := energy
	if d.windows > 0 {
		level = d.smoothing*energy + (1-d.smoothing)*d.level
	}
	d.level = level
	if level > d.peak {
		d.peak = level
	}

	decision := &Decision{
		Level:      level,
		Voice:      level >= d.threshold,
		Confidence: confidence(level, d.threshold),
		Window:     d.windows,
	}

	d.windows++
	if decision.Voice {
		d.voiceWindows++
	}
	return decision, nil
}

// confidence is 0 at the threshold and 1 at half a unit or more away
func confidence(level, threshold float32) float32 {
	c := 2 * math.Abs(float64(level-threshold))
	return float32(math.Min(c, 1))
}

// Energy returns the RMS energy of samples normalized to [0, 1]
func Energy(samples []int16) float32 {
	if len(samples) == 0 {
		return 0
	}

	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	rms := math.Sqrt(sum/float64(len(samples))) / fullScaleRMS
	return float32(math.Min(rms, 1))
}

// GetStats returns current detector statistics
func (d *Detector) GetStats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()

	var ratio float64
	if d.windows > 0 {
		ratio = float64(d.voiceWindows) / float64(d.windows)
	}

	return Stats{
		Windows:      d.windows,
		VoiceWindows: d.voiceWindows,
		VoiceRatio:   ratio,
		PeakLevel:    d.peak,
		Threshold:    d.threshold,
		Window:       time.Duration(d.windowSize) * time.Second / time.Duration(d.sampleRate),
	}
}

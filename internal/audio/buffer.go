package audio

import (
	"fmt"
	"sync"
	"time"
)

// Buffer accumulates inbound PCM16 mono voice and hands it out as fixed-size,
// non-overlapping analysis windows. Positions are absolute sample offsets from
// the first byte ever written, so they stay valid across trims.
type Buffer struct {
	sampleRate int
	windowSize int

	aligner *Aligner
	data    []byte
	base    int64 // absolute sample index of data[0]
	cursor  int64 // absolute sample index of the next window

	totalBytes uint64
	windows    uint64
	lastUpdate time.Time

	mu sync.RWMutex
}

// Window is one analysis window of samples
type Window struct {
	Samples     []int16
	StartSample int64
	EndSample   int64 // exclusive
	Timestamp   time.Time
}

// Len returns the number of samples in the window
func (w *Window) Len() int64 {
	return w.EndSample - w.StartSample
}

// BufferStats represents buffer statistics for monitoring
type BufferStats struct {
	SampleRate    int     `json:"sample_rate"`
	WindowSize    int     `json:"window_size"`
	TotalBytes    uint64  `json:"total_bytes"`
	Windows       uint64  `json:"windows"`
	BufferedBytes int     `json:"buffered_bytes"`
	PendingBytes  int     `json:"pending_bytes"`
	DurationSec   float64 `json:"duration_seconds"`
}

// NewBuffer creates a voice buffer
func NewBuffer(sampleRate, windowSize int) *Buffer {
	return &Buffer{
		sampleRate: sampleRate,
		windowSize: windowSize,
		aligner:    NewAligner(DefaultSampleWidth),
		data:       make([]byte, 0, sampleRate*4), // 2 seconds of 16-bit samples
		lastUpdate: time.Now(),
	}
}

// Write appends PCM bytes. Frames may split samples; the odd byte is kept
// until the next write.
func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.data = append(b.data, b.aligner.Write(p)...)
	b.totalBytes += uint64(len(p))
	b.lastUpdate = time.Now()
	return len(p), nil
}

// NextWindow returns the next complete window, or false when not enough audio
// has arrived yet
func (b *Buffer) NextWindow() (*Window, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	startByte := int(b.cursor-b.base) * 2
	endByte := startByte + b.windowSize*2
	if endByte > len(b.data) {
		return nil, false
	}

	w := &Window{
		Samples:     BytesToSamples(b.data[startByte:endByte]),
		StartSample: b.cursor,
		EndSample:   b.cursor + int64(b.windowSize),
		Timestamp:   time.Now(),
	}
	b.cursor = w.EndSample
	b.windows++
	return w, true
}

// AvailableWindows returns the number of complete windows not yet handed out
func (b *Buffer) AvailableWindows() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	remaining := len(b.data)/2 - int(b.cursor-b.base)
	return remaining / b.windowSize
}

// Segment copies the PCM bytes between two absolute sample offsets
func (b *Buffer) Segment(start, end int64) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	available := b.base + int64(len(b.data)/2)
	if start < b.base || end > available || start >= end {
		return nil, fmt.Errorf("invalid segment range: start=%d, end=%d, available=[%d,%d)",
			start, end, b.base, available)
	}

	startByte := int(start-b.base) * 2
	endByte := int(end-b.base) * 2
	segment := make([]byte, endByte-startByte)
	copy(segment, b.data[startByte:endByte])
	return segment, nil
}

// Trim discards audio before the given absolute sample offset. Audio that has
// not been handed out as a window is never discarded.
func (b *Buffer) Trim(before int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if before > b.cursor {
		before = b.cursor
	}
	if before <= b.base {
		return
	}

	drop := int(before-b.base) * 2
	n := copy(b.data, b.data[drop:])
	b.data = b.data[:n]
	b.base = before
}

// Reset drops all buffered audio but keeps absolute offsets increasing
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.base += int64(len(b.data) / 2)
	b.cursor = b.base
	b.data = b.data[:0]
	b.aligner.Flush()
}

// Cursor returns the absolute sample offset of the next window
func (b *Buffer) Cursor() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cursor
}

// Size returns the current number of buffered samples
func (b *Buffer) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.data) / 2
}

// SampleRate returns the buffer sample rate
func (b *Buffer) SampleRate() int {
	return b.sampleRate
}

// LastUpdate returns the time of the last write
func (b *Buffer) LastUpdate() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastUpdate
}

// GetStats returns current buffer statistics
func (b *Buffer) GetStats() BufferStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return BufferStats{
		SampleRate:    b.sampleRate,
		WindowSize:    b.windowSize,
		TotalBytes:    b.totalBytes,
		Windows:       b.windows,
		BufferedBytes: len(b.data),
		PendingBytes:  b.aligner.Pending(),
		DurationSec:   PCMDuration(len(b.data), b.sampleRate).Seconds(),
	}
}

package client

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/radiomirchi/radio-mirchi/internal/audio"
)

// Sink kinds accepted by OpenSink
const (
	SinkDevice  = "device"
	SinkWAV     = "wav"
	SinkDiscard = "none"
)

// OpenSink opens an output for PCM16 mono audio at sampleRate. path is only
// used by the WAV sink.
func OpenSink(kind string, sampleRate int, path string) (io.WriteCloser, error) {
	switch kind {
	case SinkDevice, "":
		return NewDeviceSink(sampleRate)
	case SinkWAV:
		return NewWAVSink(path, sampleRate)
	case SinkDiscard:
		return &DiscardSink{}, nil
	default:
		return nil, fmt.Errorf("unknown sink %q (want %s, %s or %s)", kind, SinkDevice, SinkWAV, SinkDiscard)
	}
}

// NewWAVSink writes the broadcast to a WAV file
func NewWAVSink(path string, sampleRate int) (io.WriteCloser, error) {
	if path == "" {
		return nil, errors.New("WAV sink needs an output path")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create WAV file: %w", err)
	}

	w, err := audio.NewWAVWriter(f, sampleRate)
	if err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

// DiscardSink drops audio and counts it
type DiscardSink struct {
	mu     sync.Mutex
	bytes  int
	closed bool
}

func (d *DiscardSink) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, errors.New("sink is closed")
	}
	d.bytes += len(p)
	return len(p), nil
}

func (d *DiscardSink) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return nil
}

// Bytes returns the number of bytes written
func (d *DiscardSink) Bytes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.bytes
}

// An oto context can only be created once per process
var (
	otoOnce    sync.Once
	otoContext *oto.Context
	otoRate    int
	otoErr     error
)

func deviceContext(sampleRate int) (*oto.Context, error) {
	otoOnce.Do(func() {
		ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   sampleRate,
			ChannelCount: 1,
			Format:       oto.FormatSignedInt16LE,
		})
		if err != nil {
			otoErr = fmt.Errorf("failed to open audio device: %w", err)
			return
		}
		<-ready
		otoContext, otoRate = ctx, sampleRate
	})
	if otoErr != nil {
		return nil, otoErr
	}
	if otoRate != sampleRate {
		return nil, fmt.Errorf("audio device already opened at %d Hz, cannot switch to %d Hz", otoRate, sampleRate)
	}
	return otoContext, nil
}

// drainPoll is how often Close checks whether the device has played out
const drainPoll = 10 * time.Millisecond

// DeviceSink plays audio on the default output device. Writes block until
// the device has taken the data, which paces the player in real time.
type DeviceSink struct {
	player     *oto.Player
	pw         *io.PipeWriter
	sampleRate int
	written    int64
	start      time.Time
	once       sync.Once
}

// NewDeviceSink opens the default output device
func NewDeviceSink(sampleRate int) (*DeviceSink, error) {
	ctx, err := deviceContext(sampleRate)
	if err != nil {
		return nil, err
	}

	pr, pw := io.Pipe()
	player := ctx.NewPlayer(pr)
	player.Play()

	return &DeviceSink{player: player, pw: pw, sampleRate: sampleRate, start: time.Now()}, nil
}

func (d *DeviceSink) Write(p []byte) (int, error) {
	n, err := d.pw.Write(p)
	d.written += int64(n)
	return n, err
}

// Close waits for queued audio to play out, then releases the player
func (d *DeviceSink) Close() error {
	var err error
	d.once.Do(func() {
		d.pw.Close()

		// never wait longer than the audio that was written
		deadline := d.start.Add(audio.PCMDuration(int(d.written), d.sampleRate) + time.Second)
		for d.player.IsPlaying() && d.player.BufferedSize() > 0 && time.Now().Before(deadline) {
			time.Sleep(drainPoll)
		}
		err = d.player.Close()
	})
	return err
}

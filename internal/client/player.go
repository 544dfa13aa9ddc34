package client

import (
	"errors"
	"io"
	"sync"

	"github.com/radiomirchi/radio-mirchi/internal/audio"
)

// DefaultPlayerQueue is the number of chunks buffered ahead of the sink
const DefaultPlayerQueue = 256

// ErrPlayerClosed is returned by Enqueue after Close
var ErrPlayerClosed = errors.New("player is closed")

// Player plays PCM16 chunks on one background goroutine. Chunks may split
// samples; only whole samples reach the sink. A failing write is reported
// and playback continues with the next chunk.
type Player struct {
	sink    io.WriteCloser
	chunks  chan []byte
	done    chan struct{}
	onError func(error)
	aligner *audio.Aligner

	mu     sync.RWMutex
	closed bool
	err    error

	statsMu     sync.Mutex
	chunksIn    uint64
	bytesPlayed uint64
	writeErrors uint64
}

// PlayerStats summarizes playback
type PlayerStats struct {
	Chunks      uint64 `json:"chunks"`
	BytesPlayed uint64 `json:"bytes_played"`
	WriteErrors uint64 `json:"write_errors"`
}

// NewPlayer starts a player writing to sink. onError may be nil.
func NewPlayer(sink io.WriteCloser, queueSize int, onError func(error)) *Player {
	if queueSize <= 0 {
		queueSize = DefaultPlayerQueue
	}
	p := &Player{
		sink:    sink,
		chunks:  make(chan []byte, queueSize),
		done:    make(chan struct{}),
		onError: onError,
		aligner: audio.NewAligner(audio.DefaultSampleWidth),
	}
	go p.run()
	return p
}

// Enqueue hands a chunk to the playback goroutine. It blocks while the queue
// is full.
func (p *Player) Enqueue(chunk []byte) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrPlayerClosed
	}
	if len(chunk) == 0 {
		return nil
	}
	p.chunks <- chunk
	return nil
}

// Close stops accepting chunks, plays what is queued, flushes the partial
// sample zero-padded and closes the sink. It returns the sink close error.
func (p *Player) Close() error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.chunks)
	}
	p.mu.Unlock()

	<-p.done
	return p.err
}

func (p *Player) run() {
	defer close(p.done)

	for chunk := range p.chunks {
		p.statsMu.Lock()
		p.chunksIn++
		p.statsMu.Unlock()

		p.write(p.aligner.Write(chunk))
	}

	p.write(p.aligner.Flush())
	p.err = p.sink.Close()
}

func (p *Player) write(pcm []byte) {
	if len(pcm) == 0 {
		return
	}

	n, err := p.sink.Write(pcm)

	p.statsMu.Lock()
	p.bytesPlayed += uint64(n)
	if err != nil {
		p.writeErrors++
	}
	p.statsMu.Unlock()

	if err != nil && p.onError != nil {
		p.onError(err)
	}
}

// GetStats returns playback statistics
func (p *Player) GetStats() PlayerStats {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	return PlayerStats{
		Chunks:      p.chunksIn,
		BytesPlayed: p.bytesPlayed,
		WriteErrors: p.writeErrors,
	}
}

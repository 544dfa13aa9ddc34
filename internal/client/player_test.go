package client

import (
	"bytes"
	"errors"
	"sync"
	"testing"
)

// recordingSink captures writes and can fail selected ones
type recordingSink struct {
	mu     sync.Mutex
	writes [][]byte
	failOn map[int]bool
	calls  int
	closed bool
}

func (s *recordingSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failOn[s.calls] {
		return 0, errors.New("device underrun")
	}
	s.writes = append(s.writes, append([]byte(nil), p...))
	return len(p), nil
}

func (s *recordingSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *recordingSink) all() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return bytes.Join(s.writes, nil)
}

func TestPlayerAlignsChunks(t *testing.T) {
	tests := []struct {
		name       string
		chunks     [][]byte
		wantWrites [][]byte
	}{
		{
			name:       "aligned",
			chunks:     [][]byte{{1, 2, 3, 4}},
			wantWrites: [][]byte{{1, 2, 3, 4}},
		},
		{
			name:       "split sample",
			chunks:     [][]byte{{1, 2, 3}, {4, 5, 6}},
			wantWrites: [][]byte{{1, 2}, {3, 4, 5, 6}},
		},
		{
			name:       "single bytes",
			chunks:     [][]byte{{1}, {2}, {3}},
			wantWrites: [][]byte{{1, 2}, {3, 0}},
		},
		{
			name:       "odd tail padded",
			chunks:     [][]byte{{1, 2, 3, 4, 5}},
			wantWrites: [][]byte{{1, 2, 3, 4}, {5, 0}},
		},
		{
			name:       "empty chunks skipped",
			chunks:     [][]byte{{}, {7, 8}, nil},
			wantWrites: [][]byte{{7, 8}},
		},
		{
			name: "nothing",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &recordingSink{}
			p := NewPlayer(sink, 4, nil)
			for _, c := range tt.chunks {
				if err := p.Enqueue(c); err != nil {
					t.Fatalf("Enqueue failed: %v", err)
				}
			}
			if err := p.Close(); err != nil {
				t.Fatalf("Close failed: %v", err)
			}

			if len(sink.writes) != len(tt.wantWrites) {
				t.Fatalf("Expected %d writes, got %d: %v", len(tt.wantWrites), len(sink.writes), sink.writes)
			}
			for i := range tt.wantWrites {
				if !bytes.Equal(sink.writes[i], tt.wantWrites[i]) {
					t.Errorf("Write %d: expected %v, got %v", i, tt.wantWrites[i], sink.writes[i])
				}
				if len(sink.writes[i])%2 != 0 {
					t.Errorf("Write %d is not sample aligned: %d bytes", i, len(sink.writes[i]))
				}
			}
			if !sink.closed {
				t.Error("Expected sink to be closed")
			}
		})
	}
}

func TestPlayerContinuesAfterWriteError(t *testing.T) {
	sink := &recordingSink{failOn: map[int]bool{2: true}}
	var reported []error
	p := NewPlayer(sink, 1, func(err error) { reported = append(reported, err) })

	for _, c := range [][]byte{{1, 2}, {3, 4}, {5, 6}} {
		if err := p.Enqueue(c); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if got := sink.all(); !bytes.Equal(got, []byte{1, 2, 5, 6}) {
		t.Errorf("Expected the failed chunk to be skipped, got %v", got)
	}
	if len(reported) != 1 {
		t.Errorf("Expected 1 reported error, got %d", len(reported))
	}

	stats := p.GetStats()
	if stats.Chunks != 3 || stats.BytesPlayed != 4 || stats.WriteErrors != 1 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestPlayerClose(t *testing.T) {
	sink := &recordingSink{}
	p := NewPlayer(sink, 0, nil)

	if err := p.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("Second Close failed: %v", err)
	}
	if err := p.Enqueue([]byte{1, 2}); !errors.Is(err, ErrPlayerClosed) {
		t.Errorf("Expected ErrPlayerClosed, got %v", err)
	}
}

func TestDiscardSink(t *testing.T) {
	d := &DiscardSink{}
	p := NewPlayer(d, 0, nil)
	_ = p.Enqueue([]byte{1, 2, 3})
	if err := p.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if d.Bytes() != 4 {
		t.Errorf("Expected 4 bytes, got %d", d.Bytes())
	}
	if _, err := d.Write([]byte{1}); err == nil {
		t.Error("Expected write after close to fail")
	}
}

package audio

// DefaultSampleWidth is the byte width of one PCM16 mono sample
const DefaultSampleWidth = 2

// Aligner cuts an arbitrary byte stream into whole samples. Bytes that do not
// complete a sample are held back until the next write. It is not safe for
// concurrent use.
type Aligner struct {
	width   int
	pending []byte
}

// NewAligner creates an aligner for the given sample width in bytes
func NewAligner(sampleWidth int) *Aligner {
	if sampleWidth <= 0 {
		sampleWidth = DefaultSampleWidth
	}
	return &Aligner{
		width:   sampleWidth,
		pending: make([]byte, 0, sampleWidth),
	}
}

// Write appends chunk to the pending bytes and returns the longest prefix
// whose length is a multiple of the sample width. The returned slice is owned
// by the caller. It returns nil when no whole sample is available.
func (a *Aligner) Write(chunk []byte) []byte {
	if len(chunk) == 0 {
		return nil
	}

	total := len(a.pending) + len(chunk)
	aligned := total - total%a.width
	if aligned == 0 {
		a.pending = append(a.pending, chunk...)
		return nil
	}

	out := make([]byte, aligned)
	n := copy(out, a.pending)
	copy(out[n:], chunk[:aligned-n])

	// Remainder is always shorter than one sample
	a.pending = append(a.pending[:0], chunk[aligned-n:]...)
	return out
}

// Flush returns the held back bytes zero-padded to one whole sample, or nil
// when nothing is pending. The aligner is empty afterwards.
func (a *Aligner) Flush() []byte {
	if len(a.pending) == 0 {
		return nil
	}

	out := make([]byte, a.width)
	copy(out, a.pending)
	a.pending = a.pending[:0]
	return out
}

// Pending returns the number of bytes waiting for a complete sample
func (a *Aligner) Pending() int {
	return len(a.pending)
}

// SampleWidth returns the configured sample width in bytes
func (a *Aligner) SampleWidth() int {
	return a.width
}

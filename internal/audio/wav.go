package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const wavHeaderSize = 44

// WAVHeader represents the canonical 44-byte header of a PCM WAV file
type WAVHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // File size - 8 bytes
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16  // Number of channels
	SampleRate    uint32  // Sample rate
	ByteRate      uint32  // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16  // NumChannels * BitsPerSample / 8
	BitsPerSample uint16  // Bits per sample
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // Number of bytes in the data
}

// newHeader builds a mono PCM16 header for dataSize bytes of audio
func newHeader(sampleRate int, dataSize uint32) WAVHeader {
	numChannels := uint16(1)
	bitsPerSample := uint16(16)
	return WAVHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1, // PCM
		NumChannels:   numChannels,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate) * uint32(numChannels) * uint32(bitsPerSample) / 8,
		BlockAlign:    numChannels * bitsPerSample / 8,
		BitsPerSample: bitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}
}

// EncodeWAV wraps mono PCM16 bytes in a WAV container
func EncodeWAV(pcm []byte, sampleRate int) ([]byte, error) {
	if len(pcm) == 0 {
		return nil, fmt.Errorf("cannot encode empty audio")
	}

	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("audio data length must be even (got %d bytes)", len(pcm))
	}

	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+len(pcm)))

	if err := binary.Write(buf, binary.LittleEndian, newHeader(sampleRate, uint32(len(pcm)))); err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}

	buf.Write(pcm)
	return buf.Bytes(), nil
}

// wavFormat is the parsed "fmt " chunk plus the location of the data chunk
type wavFormat struct {
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	BitsPerSample uint16
	DataOffset    int
	DataSize      uint32
}

// parseWAV walks the RIFF chunks. Files written by editors often carry LIST or
// fact chunks before the audio, so the data chunk is searched for.
func parseWAV(data []byte) (*wavFormat, error) {
	if len(data) < 12 {
		return nil, fmt.Errorf("WAV data too short: need at least %d bytes, got %d", wavHeaderSize, len(data))
	}

	if string(data[0:4]) != "RIFF" {
		return nil, fmt.Errorf("invalid WAV file: missing RIFF header")
	}

	if string(data[8:12]) != "WAVE" {
		return nil, fmt.Errorf("invalid WAV file: missing WAVE format")
	}

	var f wavFormat
	haveFmt := false
	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := binary.LittleEndian.Uint32(data[pos+4 : pos+8])
		body := pos + 8

		switch id {
		case "fmt ":
			if size < 16 || body+16 > len(data) {
				return nil, fmt.Errorf("invalid WAV file: short fmt chunk")
			}
			f.AudioFormat = binary.LittleEndian.Uint16(data[body:])
			f.NumChannels = binary.LittleEndian.Uint16(data[body+2:])
			f.SampleRate = binary.LittleEndian.Uint32(data[body+4:])
			f.BitsPerSample = binary.LittleEndian.Uint16(data[body+14:])
			haveFmt = true
		case "data":
			if !haveFmt {
				return nil, fmt.Errorf("invalid WAV file: missing fmt chunk")
			}
			f.DataOffset = body
			f.DataSize = size
			// Streaming writers leave the size unset
			if int(size) > len(data)-body || size == 0 {
				f.DataSize = uint32(len(data) - body)
			}
			return &f, nil
		}

		// Chunks are padded to even sizes
		pos = body + int(size) + int(size&1)
	}

	if !haveFmt {
		return nil, fmt.Errorf("invalid WAV file: missing fmt chunk")
	}
	return nil, fmt.Errorf("invalid WAV file: missing data chunk")
}

// DecodeWAV returns the mono PCM16 payload and sample rate of a WAV file
func DecodeWAV(data []byte) ([]byte, int, error) {
	f, err := parseWAV(data)
	if err != nil {
		return nil, 0, err
	}

	if f.AudioFormat != 1 {
		return nil, 0, fmt.Errorf("unsupported audio format: %d (only PCM is supported)", f.AudioFormat)
	}

	if f.BitsPerSample != 16 {
		return nil, 0, fmt.Errorf("unsupported bit depth: %d (only 16-bit is supported)", f.BitsPerSample)
	}

	if f.NumChannels != 1 {
		return nil, 0, fmt.Errorf("unsupported channel count: %d (only mono is supported)", f.NumChannels)
	}

	if f.DataSize < 2 {
		return nil, 0, fmt.Errorf("no audio data found")
	}

	size := int(f.DataSize) &^ 1
	pcm := make([]byte, size)
	copy(pcm, data[f.DataOffset:f.DataOffset+size])
	return pcm, int(f.SampleRate), nil
}

// ValidateWAV validates a WAV file format without copying the audio data
func ValidateWAV(data []byte) error {
	_, err := parseWAV(data)
	return err
}

// GetWAVDuration calculates the duration of a WAV file in seconds
func GetWAVDuration(data []byte) (float64, error) {
	info, err := GetWAVInfo(data)
	if err != nil {
		return 0, err
	}
	return info.Duration, nil
}

// WAVInfo holds basic information about a WAV file
type WAVInfo struct {
	SampleRate    uint32  `json:"sample_rate"`
	Channels      uint16  `json:"channels"`
	BitsPerSample uint16  `json:"bits_per_sample"`
	Duration      float64 `json:"duration_seconds"`
	DataSize      uint32  `json:"data_size_bytes"`
	NumSamples    uint32  `json:"num_samples"`
}

// GetWAVInfo extracts metadata from a WAV file
func GetWAVInfo(data []byte) (*WAVInfo, error) {
	f, err := parseWAV(data)
	if err != nil {
		return nil, err
	}

	if f.SampleRate == 0 {
		return nil, fmt.Errorf("invalid sample rate: 0")
	}

	if f.BitsPerSample == 0 || f.NumChannels == 0 {
		return nil, fmt.Errorf("invalid WAV format: %d channels, %d bits", f.NumChannels, f.BitsPerSample)
	}

	frameSize := uint32(f.BitsPerSample) / 8 * uint32(f.NumChannels)
	numSamples := f.DataSize / frameSize

	return &WAVInfo{
		SampleRate:    f.SampleRate,
		Channels:      f.NumChannels,
		BitsPerSample: f.BitsPerSample,
		Duration:      float64(numSamples) / float64(f.SampleRate),
		DataSize:      f.DataSize,
		NumSamples:    numSamples,
	}, nil
}

// WAVWriter streams mono PCM16 into a WAV file and fixes the header sizes on
// Close
type WAVWriter struct {
	w          io.WriteSeeker
	sampleRate int
	dataSize   uint32
	closed     bool
}

// NewWAVWriter writes a placeholder header and returns a writer for the audio
func NewWAVWriter(w io.WriteSeeker, sampleRate int) (*WAVWriter, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	if err := binary.Write(w, binary.LittleEndian, newHeader(sampleRate, 0)); err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}

	return &WAVWriter{w: w, sampleRate: sampleRate}, nil
}

// Write appends PCM bytes
func (ww *WAVWriter) Write(p []byte) (int, error) {
	if ww.closed {
		return 0, errors.New("wav writer is closed")
	}
	n, err := ww.w.Write(p)
	ww.dataSize += uint32(n)
	return n, err
}

// DataSize returns the number of audio bytes written so far
func (ww *WAVWriter) DataSize() uint32 {
	return ww.dataSize
}

// Close patches the RIFF and data sizes. If the underlying writer is an
// io.Closer it is closed as well.
func (ww *WAVWriter) Close() error {
	if ww.closed {
		return nil
	}
	ww.closed = true

	err := ww.patchHeader()
	if c, ok := ww.w.(io.Closer); ok {
		if cerr := c.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func (ww *WAVWriter) patchHeader() error {
	if _, err := ww.w.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek to WAV header: %w", err)
	}

	if err := binary.Write(ww.w, binary.LittleEndian, newHeader(ww.sampleRate, ww.dataSize)); err != nil {
		return fmt.Errorf("failed to rewrite WAV header: %w", err)
	}

	if _, err := ww.w.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("failed to seek to end: %w", err)
	}

	return nil
}

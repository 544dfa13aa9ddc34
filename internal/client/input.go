package client

import (
	"bufio"
	"context"
	"io"
	"strings"
)

// LineReader reads lines from an input on one goroutine so that prompts and
// live sessions can share stdin and still be cancelled
type LineReader struct {
	lines chan string
	err   error
}

// NewLineReader starts reading r
func NewLineReader(r io.Reader) *LineReader {
	lr := &LineReader{lines: make(chan string)}
	go func() {
		defer close(lr.lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			lr.lines <- scanner.Text()
		}
		lr.err = scanner.Err()
	}()
	return lr
}

// ReadLine returns the next line without its newline. It returns io.EOF when
// the input is exhausted.
func (lr *LineReader) ReadLine(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case line, ok := <-lr.lines:
		if !ok {
			if lr.err != nil {
				return "", lr.err
			}
			return "", io.EOF
		}
		return strings.TrimRight(line, "\r"), nil
	}
}

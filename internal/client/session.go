package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/radiomirchi/radio-mirchi/internal/audio"
	"github.com/radiomirchi/radio-mirchi/internal/protocol"
)

const (
	// ExitCommand ends the session
	ExitCommand = "exit"
	// VoiceCommand streams a WAV file as voice input: /voice path.wav
	VoiceCommand = "/voice"

	defaultVoiceRate  = 16000
	defaultVoiceFrame = 100 * time.Millisecond
	closeWait         = time.Second
)

// ErrConnection wraps failures to write to the server; they end the session
var ErrConnection = errors.New("connection error")

// SessionConfig configures a live session
type SessionConfig struct {
	URL             string
	VoiceSampleRate int
	VoiceFrame      time.Duration
	Dialer          *websocket.Dialer
}

// Session is one live broadcast connection
type Session struct {
	config SessionConfig
	conn   *websocket.Conn
	input  *LineReader
	ui     *UI
	player *Player

	closing   atomic.Bool
	closeOnce sync.Once
}

// RunSession connects to the broadcast and runs until the user types exit,
// the input ends, the server closes the connection or ctx is cancelled.
// Host audio goes to player; the caller owns and closes it.
func RunSession(ctx context.Context, config SessionConfig, input *LineReader, ui *UI, player *Player) error {
	if config.VoiceSampleRate <= 0 {
		config.VoiceSampleRate = defaultVoiceRate
	}
	if config.VoiceFrame <= 0 {
		config.VoiceFrame = defaultVoiceFrame
	}
	dialer := config.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	conn, resp, err := dialer.DialContext(ctx, config.URL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", config.URL, err)
	}

	s := &Session{config: config, conn: conn, input: input, ui: ui, player: player}
	ui.Success("WebSocket connection established.")
	ui.Info("Type to speak to the hosts, %q streams a WAV file, %q quits.", VoiceCommand+" file.wav", ExitCommand)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Whichever side finishes first closes the connection, which ends the other
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return s.receive()
	})
	g.Go(func() error {
		defer s.close()
		return s.send(gctx)
	})

	err = g.Wait()
	s.close()
	return err
}

// close sends a close frame once and closes the connection
func (s *Session) close() {
	s.closeOnce.Do(func() {
		s.closing.Store(true)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWait))
		_ = s.conn.Close()
	})
}

func (s *Session) receive() error {
	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			if !s.closing.Load() {
				var closeErr *websocket.CloseError
				if errors.As(err, &closeErr) {
					s.ui.Info("WebSocket connection closed by the server.")
				} else {
					s.ui.Error("Connection lost: %v", err)
				}
			}
			return nil
		}

		switch messageType {
		case websocket.BinaryMessage:
			if err := s.player.Enqueue(data); err != nil {
				return nil
			}
		case websocket.TextMessage:
			msg, err := protocol.ParseServerMessage(data)
			if err != nil {
				s.ui.Plain("%s", string(data))
				continue
			}
			s.ui.ServerMessage(msg)
		}
	}
}

func (s *Session) send(ctx context.Context) error {
	for {
		line, err := s.input.ReadLine(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to read input: %w", err)
		}

		line = strings.TrimSpace(line)
		switch {
		case line == "":
			continue
		case strings.EqualFold(line, ExitCommand):
			return nil
		case line == VoiceCommand || strings.HasPrefix(line, VoiceCommand+" "):
			path := strings.TrimSpace(strings.TrimPrefix(line, VoiceCommand))
			if err := s.sendVoice(ctx, path); err != nil {
				if errors.Is(err, ErrConnection) {
					return err
				}
				if ctx.Err() != nil {
					return nil
				}
				s.ui.Error("%v", err)
			}
		default:
			data, err := protocol.EncodeClientMessage(protocol.UserDialogue(line))
			if err != nil {
				return err
			}
			if err := s.write(websocket.TextMessage, data); err != nil {
				return err
			}
		}
	}
}

func (s *Session) write(messageType int, data []byte) error {
	if err := s.conn.WriteMessage(messageType, data); err != nil {
		if s.closing.Load() {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}
	return nil
}

// sendVoice streams a mono PCM16 WAV file in real time followed by voice_end
func (s *Session) sendVoice(ctx context.Context, path string) error {
	if path == "" {
		return fmt.Errorf("usage: %s file.wav", VoiceCommand)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read voice file: %w", err)
	}
	pcm, rate, err := audio.DecodeWAV(data)
	if err != nil {
		return fmt.Errorf("invalid voice file: %w", err)
	}
	if rate != s.config.VoiceSampleRate {
		return fmt.Errorf("voice file is %d Hz, the server expects %d Hz", rate, s.config.VoiceSampleRate)
	}

	frame := int(audio.SamplesFor(s.config.VoiceFrame, rate)) * audio.DefaultSampleWidth
	if frame <= 0 {
		frame = audio.DefaultSampleWidth
	}

	s.ui.Info("Sending %s of voice from %s", audio.PCMDuration(len(pcm), rate).Round(time.Millisecond), path)

	ticker := time.NewTicker(s.config.VoiceFrame)
	defer ticker.Stop()

	for off := 0; off < len(pcm); off += frame {
		end := min(off+frame, len(pcm))
		if err := s.write(websocket.BinaryMessage, pcm[off:end]); err != nil {
			return err
		}
		if end == len(pcm) {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}

	msg, err := protocol.EncodeClientMessage(protocol.VoiceEnd())
	if err != nil {
		return err
	}
	return s.write(websocket.TextMessage, msg)
}

package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Message types
const (
	// Client to server
	TypeUserDialogue = "user_dialogue"
	TypeVoiceEnd     = "voice_end"

	// Server to client
	TypeDialogue   = "dialogue"
	TypeListeners  = "listeners"
	TypeTranscript = "transcript"
	TypeStatus     = "status"
	TypeError      = "error"

	// TypeText marks a text frame that was not a JSON envelope
	TypeText = "text"
)

// DefaultMaxUserDialogue is the default limit on user dialogue length in characters
const DefaultMaxUserDialogue = 1000

var (
	ErrEmptyMessage    = errors.New("empty message")
	ErrUnknownType     = errors.New("unknown message type")
	ErrDialogueTooLong = errors.New("user dialogue too long")
)

// ClientMessage is a text frame sent by the client. The bare form
// {"user_dialogue": "..."} without a type is accepted.
type ClientMessage struct {
	Type         string `json:"type,omitempty"`
	UserDialogue string `json:"user_dialogue,omitempty"`
}

// ServerMessage is a text frame sent by the server
type ServerMessage struct {
	Type                    string   `json:"type"`
	Speaker                 string   `json:"speaker,omitempty"`
	Line                    string   `json:"line,omitempty"`
	AwakenedListeners       *int     `json:"awakened_listeners,omitempty"`
	AwakenedListenersChange *float64 `json:"awakened_listeners_change,omitempty"`
	Text                    string   `json:"text,omitempty"`
	Status                  string   `json:"status,omitempty"`
	Error                   string   `json:"error,omitempty"`
}

// ParseClientMessage decodes and validates a client text frame. maxLen <= 0
// uses DefaultMaxUserDialogue.
func ParseClientMessage(data []byte, maxLen int) (*ClientMessage, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, ErrEmptyMessage
	}

	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("invalid client message: %w", err)
	}

	if msg.Type == "" && msg.UserDialogue != "" {
		msg.Type = TypeUserDialogue
	}

	if err := ValidateClientMessage(&msg, maxLen); err != nil {
		return nil, err
	}

	return &msg, nil
}

// ValidateClientMessage checks a decoded client message and trims the dialogue
func ValidateClientMessage(msg *ClientMessage, maxLen int) error {
	if maxLen <= 0 {
		maxLen = DefaultMaxUserDialogue
	}

	switch msg.Type {
	case TypeUserDialogue:
		msg.UserDialogue = strings.TrimSpace(msg.UserDialogue)
		if msg.UserDialogue == "" {
			return fmt.Errorf("%w: user_dialogue is blank", ErrEmptyMessage)
		}
		if n := utf8.RuneCountInString(msg.UserDialogue); n > maxLen {
			return fmt.Errorf("%w: %d characters, limit %d", ErrDialogueTooLong, n, maxLen)
		}
	case TypeVoiceEnd:
	case "":
		return ErrEmptyMessage
	default:
		return fmt.Errorf("%w: %q", ErrUnknownType, msg.Type)
	}

	return nil
}

// EncodeClientMessage encodes a client message. User dialogue is sent in the
// bare form so older servers understand it.
func EncodeClientMessage(msg *ClientMessage) ([]byte, error) {
	if msg.Type == TypeUserDialogue {
		return json.Marshal(ClientMessage{UserDialogue: msg.UserDialogue})
	}
	return json.Marshal(msg)
}

// UserDialogue builds a user dialogue message
func UserDialogue(text string) *ClientMessage {
	return &ClientMessage{Type: TypeUserDialogue, UserDialogue: text}
}

// VoiceEnd builds an end-of-voice-input message
func VoiceEnd() *ClientMessage {
	return &ClientMessage{Type: TypeVoiceEnd}
}

// Dialogue builds a host line message
func Dialogue(speaker, line string) *ServerMessage {
	return &ServerMessage{Type: TypeDialogue, Speaker: speaker, Line: line}
}

// Listeners builds an awakened listeners update
func Listeners(awakened int, change float64) *ServerMessage {
	return &ServerMessage{
		Type:                    TypeListeners,
		AwakenedListeners:       &awakened,
		AwakenedListenersChange: &change,
	}
}

// Transcript builds a message echoing transcribed user voice
func Transcript(text string) *ServerMessage {
	return &ServerMessage{Type: TypeTranscript, Text: text}
}

// Status builds a session status message
func Status(status string) *ServerMessage {
	return &ServerMessage{Type: TypeStatus, Status: status}
}

// Error builds an error message
func Error(text string) *ServerMessage {
	return &ServerMessage{Type: TypeError, Error: text}
}

// EncodeServerMessage encodes a server message
func EncodeServerMessage(msg *ServerMessage) ([]byte, error) {
	if msg == nil || msg.Type == "" {
		return nil, fmt.Errorf("%w: server message has no type", ErrUnknownType)
	}
	return json.Marshal(msg)
}

// ParseServerMessage decodes a server text frame. Frames that are not JSON
// objects are returned as TypeText with the raw content.
func ParseServerMessage(data []byte) (*ServerMessage, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return nil, ErrEmptyMessage
	}

	if !strings.HasPrefix(trimmed, "{") {
		return &ServerMessage{Type: TypeText, Text: trimmed}, nil
	}

	var msg ServerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("invalid server message: %w", err)
	}

	if msg.Type == "" {
		return &ServerMessage{Type: TypeText, Text: trimmed}, nil
	}

	return &msg, nil
}

// String renders the message for console output
func (m *ServerMessage) String() string {
	switch m.Type {
	case TypeDialogue:
		return fmt.Sprintf("%s: %s", m.Speaker, m.Line)
	case TypeListeners:
		awakened := 0
		if m.AwakenedListeners != nil {
			awakened = *m.AwakenedListeners
		}
		return fmt.Sprintf("Awakened: %d", awakened)
	case TypeTranscript:
		return fmt.Sprintf("You: %s", m.Text)
	case TypeStatus:
		return fmt.Sprintf("Status: %s", m.Status)
	case TypeError:
		return fmt.Sprintf("Error: %s", m.Error)
	default:
		return m.Text
	}
}

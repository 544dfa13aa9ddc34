package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	LLM     LLMConfig     `yaml:"llm"`
	Speech  SpeechConfig  `yaml:"speech"`
	Store   StoreConfig   `yaml:"store"`
	Secrets SecretsConfig `yaml:"secrets"`
	Game    GameConfig    `yaml:"game"`
	Voice   VoiceConfig   `yaml:"voice"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig contains HTTP API server configuration
type ServerConfig struct {
	Host            string   `yaml:"host"`
	Port            int      `yaml:"port"`
	ReadTimeout     int      `yaml:"read_timeout"`     // seconds
	WriteTimeout    int      `yaml:"write_timeout"`    // seconds
	ShutdownTimeout int      `yaml:"shutdown_timeout"` // seconds
	AllowedOrigins  []string `yaml:"allowed_origins"`
}

// LLMConfig contains language model provider configuration
type LLMConfig struct {
	Provider     string  `yaml:"provider"` // gemini, openai, mock
	Model        string  `yaml:"model"`
	GoogleAPIKey string  `yaml:"google_api_key"`
	OpenAIAPIKey string  `yaml:"openai_api_key"`
	BaseURL      string  `yaml:"base_url"`
	Temperature  float64 `yaml:"temperature"`
	Timeout      int     `yaml:"timeout"` // seconds
}

// SpeechConfig contains TTS and STT provider configuration
type SpeechConfig struct {
	BaseURL       string `yaml:"base_url"`
	APIKey        string `yaml:"api_key"`
	SampleRate    int    `yaml:"sample_rate"`
	STTModel      string `yaml:"stt_model"`
	Language      string `yaml:"language"`
	Timeout       int    `yaml:"timeout"` // seconds
	MaxRetries    int    `yaml:"max_retries"`
	MaxConcurrent int    `yaml:"max_concurrent"`
}

// StoreConfig selects and configures mission persistence
type StoreConfig struct {
	Driver    string `yaml:"driver"` // sqlite, dynamodb
	Path      string `yaml:"path"`
	Table     string `yaml:"table"`
	UserIndex string `yaml:"user_index"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
}

// SecretsConfig enables API key lookup in AWS SSM Parameter Store
type SecretsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Prefix  string `yaml:"prefix"`
	Region  string `yaml:"region"`
}

// GameConfig contains live dialogue session parameters
type GameConfig struct {
	QueueLowWater      int `yaml:"queue_low_water"`
	HistoryLimit       int `yaml:"history_limit"`
	ErrorBackoff       int `yaml:"error_backoff"`        // seconds
	SessionIdleTimeout int `yaml:"session_idle_timeout"` // seconds
	MaxUserDialogue    int `yaml:"max_user_dialogue"`    // characters
}

// VoiceConfig contains user voice input processing parameters
type VoiceConfig struct {
	SampleRate         int     `yaml:"sample_rate"`
	Threshold          float32 `yaml:"threshold"`
	WindowSize         int     `yaml:"window_size"`          // samples
	MinSpeechDuration  float64 `yaml:"min_speech_duration"`  // seconds
	MinSilenceDuration float64 `yaml:"min_silence_duration"` // seconds
	MaxUtterance       float64 `yaml:"max_utterance"`        // seconds
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns the configuration used when no file overrides a value
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8000,
			ReadTimeout:     30,
			WriteTimeout:    60,
			ShutdownTimeout: 10,
		},
		LLM: LLMConfig{
			Provider:    "gemini",
			Model:       "gemini-1.5-flash-latest",
			Temperature: 0.9,
			Timeout:     60,
		},
		Speech: SpeechConfig{
			BaseURL:       "https://api.deepgram.com/v1",
			SampleRate:    24000,
			STTModel:      "nova-2",
			Language:      "en-US",
			Timeout:       30,
			MaxRetries:    3,
			MaxConcurrent: 4,
		},
		Store: StoreConfig{
			Driver:    "sqlite",
			Path:      "radio_mirchi.db",
			Table:     "radio-mirchi-missions",
			UserIndex: "user_id-index",
		},
		Secrets: SecretsConfig{
			Prefix: "/radio-mirchi",
		},
		Game: GameConfig{
			QueueLowWater:      2,
			HistoryLimit:       60,
			ErrorBackoff:       5,
			SessionIdleTimeout: 300,
			MaxUserDialogue:    1000,
		},
		Voice: VoiceConfig{
			SampleRate:         16000,
			Threshold:          0.5,
			WindowSize:         512,
			MinSpeechDuration:  0.3,
			MinSilenceDuration: 0.6,
			MaxUtterance:       15,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// LoadDotEnv loads variables from .env files into the process environment.
// Missing files are ignored.
func LoadDotEnv(paths ...string) {
	if len(paths) == 0 {
		_ = godotenv.Load()
		return
	}
	for _, p := range paths {
		_ = godotenv.Load(p)
	}
}

// Load reads the configuration file on top of the defaults, applies
// environment overrides and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	config := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := config.ApplyEnv(os.LookupEnv); err != nil {
		return nil, fmt.Errorf("environment overrides: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// ApplyEnv overrides values from environment variables
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("GOOGLE_API_KEY"); ok && v != "" {
		c.LLM.GoogleAPIKey = v
	}
	if v, ok := lookup("OPENAI_API_KEY"); ok && v != "" {
		c.LLM.OpenAIAPIKey = v
	}
	if v, ok := lookup("LLM_PROVIDER"); ok && v != "" {
		c.LLM.Provider = strings.ToLower(v)
	}
	if v, ok := lookup("DEEPGRAM_API_KEY"); ok && v != "" {
		c.Speech.APIKey = v
	}
	if v, ok := lookup("HOST"); ok && v != "" {
		c.Server.Host = v
	}
	if v, ok := lookup("PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PORT must be an integer, got %q", v)
		}
		c.Server.Port = port
	}
	if v, ok := lookup("STORE_PATH"); ok && v != "" {
		c.Store.Path = v
	}
	return nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.LLM.Validate(); err != nil {
		return fmt.Errorf("llm config: %w", err)
	}

	if err := c.Speech.Validate(); err != nil {
		return fmt.Errorf("speech config: %w", err)
	}

	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("store config: %w", err)
	}

	if err := c.Secrets.Validate(); err != nil {
		return fmt.Errorf("secrets config: %w", err)
	}

	if err := c.Game.Validate(); err != nil {
		return fmt.Errorf("game config: %w", err)
	}

	if err := c.Voice.Validate(); err != nil {
		return fmt.Errorf("voice config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// RequireCredentials checks that the selected providers have API keys.
// It runs after secrets resolution, so it is separate from Validate.
func (c *Config) RequireCredentials() error {
	switch c.LLM.Provider {
	case "gemini":
		if c.LLM.GoogleAPIKey == "" {
			return fmt.Errorf("GOOGLE_API_KEY is required for the gemini provider")
		}
	case "openai":
		if c.LLM.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required for the openai provider")
		}
	}
	if c.Speech.APIKey == "" {
		return fmt.Errorf("DEEPGRAM_API_KEY is required")
	}
	return nil
}

// Address returns host:port for the HTTP listener
func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", s.Port)
	}

	if s.Host == "" {
		return fmt.Errorf("host cannot be empty")
	}

	if s.ReadTimeout < 1 {
		return fmt.Errorf("read_timeout must be at least 1 second, got %d", s.ReadTimeout)
	}

	if s.WriteTimeout < 1 {
		return fmt.Errorf("write_timeout must be at least 1 second, got %d", s.WriteTimeout)
	}

	if s.ShutdownTimeout < 1 {
		return fmt.Errorf("shutdown_timeout must be at least 1 second, got %d", s.ShutdownTimeout)
	}

	return nil
}

// Validate validates LLM configuration
func (l *LLMConfig) Validate() error {
	validProviders := map[string]bool{"gemini": true, "openai": true, "mock": true}
	if !validProviders[l.Provider] {
		return fmt.Errorf("provider must be one of [gemini, openai, mock], got '%s'", l.Provider)
	}

	if l.Provider != "mock" && l.Model == "" {
		return fmt.Errorf("model cannot be empty")
	}

	if l.Temperature < 0 || l.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2, got %f", l.Temperature)
	}

	if l.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", l.Timeout)
	}

	return nil
}

// Validate validates speech configuration
func (s *SpeechConfig) Validate() error {
	if s.BaseURL == "" {
		return fmt.Errorf("base_url cannot be empty")
	}

	validRates := map[int]bool{8000: true, 16000: true, 24000: true, 48000: true}
	if !validRates[s.SampleRate] {
		return fmt.Errorf("sample_rate must be one of [8000, 16000, 24000, 48000], got %d", s.SampleRate)
	}

	if s.STTModel == "" {
		return fmt.Errorf("stt_model cannot be empty")
	}

	if s.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", s.Timeout)
	}

	if s.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", s.MaxRetries)
	}

	if s.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", s.MaxConcurrent)
	}

	return nil
}

// Validate validates store configuration
func (s *StoreConfig) Validate() error {
	switch s.Driver {
	case "sqlite":
		if s.Path == "" {
			return fmt.Errorf("path cannot be empty for the sqlite driver")
		}
	case "dynamodb":
		if s.Table == "" {
			return fmt.Errorf("table cannot be empty for the dynamodb driver")
		}
	default:
		return fmt.Errorf("driver must be 'sqlite' or 'dynamodb', got '%s'", s.Driver)
	}

	return nil
}

// Validate validates secrets configuration
func (s *SecretsConfig) Validate() error {
	if s.Enabled && !strings.HasPrefix(s.Prefix, "/") {
		return fmt.Errorf("prefix must start with '/', got '%s'", s.Prefix)
	}

	return nil
}

// Validate validates game configuration
func (g *GameConfig) Validate() error {
	if g.QueueLowWater < 1 {
		return fmt.Errorf("queue_low_water must be at least 1, got %d", g.QueueLowWater)
	}

	if g.HistoryLimit < 1 {
		return fmt.Errorf("history_limit must be at least 1, got %d", g.HistoryLimit)
	}

	if g.ErrorBackoff < 0 {
		return fmt.Errorf("error_backoff cannot be negative, got %d", g.ErrorBackoff)
	}

	if g.SessionIdleTimeout < 1 {
		return fmt.Errorf("session_idle_timeout must be at least 1 second, got %d", g.SessionIdleTimeout)
	}

	if g.MaxUserDialogue < 1 {
		return fmt.Errorf("max_user_dialogue must be at least 1, got %d", g.MaxUserDialogue)
	}

	return nil
}

// Validate validates voice input configuration
func (v *VoiceConfig) Validate() error {
	validRates := map[int]bool{8000: true, 16000: true}
	if !validRates[v.SampleRate] {
		return fmt.Errorf("sample_rate must be 8000 or 16000 Hz, got %d", v.SampleRate)
	}

	if v.Threshold < 0 || v.Threshold > 1 {
		return fmt.Errorf("threshold must be between 0 and 1, got %f", v.Threshold)
	}

	if v.WindowSize < 256 || v.WindowSize > 2048 {
		return fmt.Errorf("window_size must be between 256 and 2048 samples, got %d", v.WindowSize)
	}

	if v.MinSpeechDuration <= 0 {
		return fmt.Errorf("min_speech_duration must be positive, got %f", v.MinSpeechDuration)
	}

	if v.MinSilenceDuration <= 0 {
		return fmt.Errorf("min_silence_duration must be positive, got %f", v.MinSilenceDuration)
	}

	if v.MaxUtterance <= v.MinSpeechDuration {
		return fmt.Errorf("max_utterance (%f) must be greater than min_speech_duration (%f)",
			v.MaxUtterance, v.MinSpeechDuration)
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	// Output is stdout, stderr or a file path
	return nil
}

// GetReadTimeout returns the read timeout as a time.Duration
func (s *ServerConfig) GetReadTimeout() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// GetWriteTimeout returns the write timeout as a time.Duration
func (s *ServerConfig) GetWriteTimeout() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// GetShutdownTimeout returns the shutdown timeout as a time.Duration
func (s *ServerConfig) GetShutdownTimeout() time.Duration {
	return time.Duration(s.ShutdownTimeout) * time.Second
}

// GetTimeoutDuration returns the LLM request timeout as a time.Duration
func (l *LLMConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(l.Timeout) * time.Second
}

// GetTimeoutDuration returns the speech request timeout as a time.Duration
func (s *SpeechConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(s.Timeout) * time.Second
}

// GetErrorBackoff returns the pause after a failed dialogue step
func (g *GameConfig) GetErrorBackoff() time.Duration {
	return time.Duration(g.ErrorBackoff) * time.Second
}

// GetSessionIdleTimeout returns the idle session timeout as a time.Duration
func (g *GameConfig) GetSessionIdleTimeout() time.Duration {
	return time.Duration(g.SessionIdleTimeout) * time.Second
}

// GetMinSpeechDuration returns the minimum speech duration as a time.Duration
func (v *VoiceConfig) GetMinSpeechDuration() time.Duration {
	return time.Duration(v.MinSpeechDuration * float64(time.Second))
}

// GetMinSilenceDuration returns the minimum silence duration as a time.Duration
func (v *VoiceConfig) GetMinSilenceDuration() time.Duration {
	return time.Duration(v.MinSilenceDuration * float64(time.Second))
}

// GetMaxUtterance returns the maximum utterance length as a time.Duration
func (v *VoiceConfig) GetMaxUtterance() time.Duration {
	return time.Duration(v.MaxUtterance * float64(time.Second))
}

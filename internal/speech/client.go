package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/radiomirchi/radio-mirchi/internal/metrics"
)

// Client provides TTS and STT requests against the speech API
type Client struct {
	config     Config
	httpClient *http.Client
	semaphore  chan struct{} // Limits concurrent transcriptions
	voices     *VoicePicker
	metrics    *metrics.Metrics
	logger     *slog.Logger

	// retryBase is the first retry delay; later ones double up to 30s
	retryBase time.Duration

	// Statistics
	totalRequests   uint64
	successRequests uint64
	failedRequests  uint64
	totalRetries    uint64
	ttsRequests     uint64
	ttsFailures     uint64
	ttsBytes        uint64
	avgResponseTime time.Duration

	mu sync.RWMutex
}

// Config contains speech client configuration
type Config struct {
	BaseURL       string
	APIKey        string
	SampleRate    int // TTS output rate
	STTModel      string
	Language      string
	Timeout       time.Duration
	MaxRetries    int
	MaxConcurrent int
	VoiceSeed     int64
}

// Transcript is the result of one transcription
type Transcript struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Duration   float64 `json:"duration"`
	RequestID  string  `json:"request_id,omitempty"`
}

// ClientStats represents client statistics
type ClientStats struct {
	TotalRequests   uint64        `json:"total_requests"`
	SuccessRequests uint64        `json:"success_requests"`
	FailedRequests  uint64        `json:"failed_requests"`
	SuccessRate     float64       `json:"success_rate"`
	TotalRetries    uint64        `json:"total_retries"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
	ActiveRequests  int           `json:"active_requests"`
	TTSRequests     uint64        `json:"tts_requests"`
	TTSFailures     uint64        `json:"tts_failures"`
	TTSBytes        uint64        `json:"tts_bytes"`
}

// HTTPStatusError is returned for non-2xx responses
type HTTPStatusError struct {
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("HTTP error %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the request may succeed if repeated
func (e *HTTPStatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// transportError marks failures before a response arrived
type transportError struct {
	err error
}

func (e *transportError) Error() string { return "HTTP request failed: " + e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

// listenResponse is the subset of the prerecorded STT response we read
type listenResponse struct {
	Metadata struct {
		RequestID string  `json:"request_id"`
		Duration  float64 `json:"duration"`
	} `json:"metadata"`
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

// NewClient creates a new speech HTTP client
func NewClient(config Config, m *metrics.Metrics, logger *slog.Logger) (*Client, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("base URL cannot be empty")
	}
	if _, err := url.Parse(config.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	if config.APIKey == "" {
		return nil, fmt.Errorf("API key cannot be empty")
	}

	if config.SampleRate <= 0 {
		config.SampleRate = 24000
	}

	if config.STTModel == "" {
		config.STTModel = "nova-2"
	}

	if config.Language == "" {
		config.Language = "en-US"
	}

	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	if config.MaxRetries < 0 {
		config.MaxRetries = 3
	}

	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 10
	}

	if logger == nil {
		logger = slog.Default()
	}

	// Timeouts are applied per request through the context so that TTS
	// bodies can outlive NewRequest.
	httpClient := &http.Client{
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &Client{
		config:     config,
		httpClient: httpClient,
		semaphore:  make(chan struct{}, config.MaxConcurrent),
		voices:     NewVoicePicker(config.VoiceSeed),
		metrics:    m,
		logger:     logger.With(slog.String("component", "speech")),
		retryBase:  time.Second,
	}, nil
}

// SampleRate returns the TTS output sample rate
func (c *Client) SampleRate() int {
	return c.config.SampleRate
}

func (c *Client) endpoint(path string, params url.Values) string {
	return strings.TrimRight(c.config.BaseURL, "/") + "/" + path + "?" + params.Encode()
}

// Speak requests linear16 PCM for text with a random voice for gender. The
// caller must close the returned stream.
func (c *Client) Speak(ctx context.Context, text, gender string) (io.ReadCloser, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("text cannot be empty")
	}

	voice := c.voices.Pick(gender)
	params := url.Values{}
	params.Set("model", voice)
	params.Set("encoding", "linear16")
	params.Set("sample_rate", strconv.Itoa(c.config.SampleRate))
	params.Set("container", "none")

	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return nil, fmt.Errorf("failed to encode TTS payload: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, 2*c.config.Timeout)
	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.endpoint("speak", params), bytes.NewReader(payload))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Token "+c.config.APIKey)
	httpReq.Header.Set("User-Agent", "Radio-Mirchi/1.0")

	c.mu.Lock()
	c.ttsRequests++
	c.mu.Unlock()

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		cancel()
		c.recordTTSFailure(err, start)
		return nil, &transportError{err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		cancel()
		statusErr := &HTTPStatusError{StatusCode: resp.StatusCode, Body: string(body)}
		c.recordTTSFailure(statusErr, start)
		return nil, statusErr
	}

	c.logger.Debug("TTS stream started",
		slog.String("voice", voice),
		slog.Int("text_length", len(text)),
	)

	return &ttsStream{body: resp.Body, cancel: cancel, client: c, start: start}, nil
}

func (c *Client) recordTTSFailure(err error, start time.Time) {
	c.mu.Lock()
	c.ttsFailures++
	c.mu.Unlock()
	c.metrics.RecordTTS(err, 0, time.Since(start).Seconds())
	c.logger.Warn("TTS request failed", slog.String("error", err.Error()))
}

// ttsStream counts bytes and releases the request context on Close
type ttsStream struct {
	body   io.ReadCloser
	cancel context.CancelFunc
	client *Client
	start  time.Time
	n      int
	err    error
	once   sync.Once
}

func (s *ttsStream) Read(p []byte) (int, error) {
	n, err := s.body.Read(p)
	s.n += n
	if err != nil && err != io.EOF {
		s.err = err
	}
	return n, err
}

func (s *ttsStream) Close() error {
	var err error
	s.once.Do(func() {
		err = s.body.Close()
		s.cancel()

		s.client.mu.Lock()
		s.client.ttsBytes += uint64(s.n)
		if s.err != nil {
			s.client.ttsFailures++
		}
		s.client.mu.Unlock()
		s.client.metrics.RecordTTS(s.err, s.n, time.Since(s.start).Seconds())
	})
	return err
}

// Transcribe sends a WAV file for prerecorded transcription
func (c *Client) Transcribe(ctx context.Context, wav []byte) (*Transcript, error) {
	if len(wav) == 0 {
		return nil, fmt.Errorf("audio cannot be empty")
	}

	// Acquire semaphore for rate limiting
	select {
	case c.semaphore <- struct{}{}:
		defer func() { <-c.semaphore }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	startTime := time.Now()
	c.incrementTotalRequests()

	var lastErr error

	// Retry loop with exponential backoff
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			c.incrementTotalRetries()
			c.metrics.RecordSTTRetry()

			backoffTime := time.Duration(math.Pow(2, float64(attempt-1))) * c.retryBase
			if backoffTime > 30*time.Second {
				backoffTime = 30 * time.Second
			}

			select {
			case <-time.After(backoffTime):
			case <-ctx.Done():
				c.incrementFailedRequests()
				return nil, ctx.Err()
			}
		}

		transcript, err := c.doTranscribe(ctx, wav)
		if err == nil {
			c.incrementSuccessRequests()
			elapsed := time.Since(startTime)
			c.updateAvgResponseTime(elapsed)
			c.metrics.RecordSTT(nil, elapsed.Seconds())
			return transcript, nil
		}

		lastErr = err

		if !isRetryableError(err) || ctx.Err() != nil {
			break
		}
		c.logger.Warn("Transcription attempt failed",
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()),
		)
	}

	c.incrementFailedRequests()
	c.metrics.RecordSTT(lastErr, time.Since(startTime).Seconds())
	return nil, fmt.Errorf("transcription failed after %d attempts: %w", c.config.MaxRetries+1, lastErr)
}

// doTranscribe performs a single HTTP request to the listen endpoint
func (c *Client) doTranscribe(ctx context.Context, wav []byte) (*Transcript, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	params := url.Values{}
	params.Set("model", c.config.STTModel)
	params.Set("language", c.config.Language)
	params.Set("smart_format", "true")

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("listen", params), bytes.NewReader(wav))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "audio/wav")
	httpReq.Header.Set("Authorization", "Token "+c.config.APIKey)
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", "Radio-Mirchi/1.0")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &transportError{err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &transportError{err: fmt.Errorf("failed to read response body: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPStatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var parsed listenResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse response JSON: %w", err)
	}

	out := &Transcript{
		Duration:  parsed.Metadata.Duration,
		RequestID: parsed.Metadata.RequestID,
	}
	if len(parsed.Results.Channels) > 0 && len(parsed.Results.Channels[0].Alternatives) > 0 {
		alt := parsed.Results.Channels[0].Alternatives[0]
		out.Text = strings.TrimSpace(alt.Transcript)
		out.Confidence = alt.Confidence
	}
	return out, nil
}

// isRetryableError reports whether a failed attempt should be repeated
func isRetryableError(err error) bool {
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr.Retryable()
	}

	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var tErr *transportError
	return errors.As(err, &tErr)
}

// Statistics methods
func (c *Client) incrementTotalRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRequests++
}

func (c *Client) incrementSuccessRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.successRequests++
}

func (c *Client) incrementFailedRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failedRequests++
}

func (c *Client) incrementTotalRetries() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRetries++
}

func (c *Client) updateAvgResponseTime(responseTime time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Simple moving average
	if c.avgResponseTime == 0 {
		c.avgResponseTime = responseTime
	} else {
		c.avgResponseTime = (c.avgResponseTime + responseTime) / 2
	}
}

// GetStats returns current client statistics
func (c *Client) GetStats() ClientStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	successRate := float64(0)
	if c.totalRequests > 0 {
		successRate = float64(c.successRequests) / float64(c.totalRequests) * 100
	}

	return ClientStats{
		TotalRequests:   c.totalRequests,
		SuccessRequests: c.successRequests,
		FailedRequests:  c.failedRequests,
		SuccessRate:     successRate,
		TotalRetries:    c.totalRetries,
		AvgResponseTime: c.avgResponseTime,
		ActiveRequests:  len(c.semaphore),
		TTSRequests:     c.ttsRequests,
		TTSFailures:     c.ttsFailures,
		TTSBytes:        c.ttsBytes,
	}
}

// Close waits for in-flight transcriptions to finish
func (c *Client) Close() error {
	for i := 0; i < c.config.MaxConcurrent; i++ {
		c.semaphore <- struct{}{}
	}
	c.httpClient.CloseIdleConnections()
	return nil
}

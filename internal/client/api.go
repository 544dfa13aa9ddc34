package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/radiomirchi/radio-mirchi/internal/mission"
)

// DefaultPollInterval is the wait between mission status checks
const DefaultPollInterval = 2 * time.Second

// ErrMissionFailed is returned when generation ends in the failed state
var ErrMissionFailed = errors.New("mission generation failed")

// APIError is a non-2xx API response
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("API error %d", e.StatusCode)
	}
	return fmt.Sprintf("API error %d: %s", e.StatusCode, e.Detail)
}

// MissionStatus is the mission_status response
type MissionStatus struct {
	MissionID string         `json:"mission_id"`
	Status    mission.Status `json:"status"`
	Error     string         `json:"error,omitempty"`
}

// APIClient talks to the mission HTTP API
type APIClient struct {
	baseURL      *url.URL
	httpClient   *http.Client
	pollInterval time.Duration
}

// Option configures an APIClient
type Option func(*APIClient)

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(c *http.Client) Option {
	return func(a *APIClient) { a.httpClient = c }
}

// WithPollInterval sets the PollUntilReady interval
func WithPollInterval(d time.Duration) Option {
	return func(a *APIClient) { a.pollInterval = d }
}

// NewAPIClient creates a client for a server base URL such as
// http://localhost:8000
func NewAPIClient(baseURL string, opts ...Option) (*APIClient, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid server URL %q: scheme must be http or https", baseURL)
	}

	a := &APIClient{
		baseURL:      u,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		pollInterval: DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

func (a *APIClient) endpoint(path string) string {
	return a.baseURL.String() + "/api/v1" + path
}

// WebSocketURL returns the live broadcast URL for a mission
func (a *APIClient) WebSocketURL(missionID string) string {
	u := *a.baseURL
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/v1/ws/" + url.PathEscape(missionID)
	return u.String()
}

func (a *APIClient) do(ctx context.Context, method, endpoint string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var detail struct {
			Detail string `json:"detail"`
		}
		if json.Unmarshal(data, &detail) == nil && detail.Detail != "" {
			apiErr.Detail = detail.Detail
		} else {
			apiErr.Detail = strings.TrimSpace(string(data))
		}
		return apiErr
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}

// CreateMission asks the server to generate a new mission
func (a *APIClient) CreateMission(ctx context.Context, topic, userID string) (*mission.Mission, error) {
	var m mission.Mission
	body := map[string]string{"topic": topic, "user_id": userID}
	if err := a.do(ctx, http.MethodPost, a.endpoint("/create_mission"), body, &m); err != nil {
		return nil, err
	}
	if m.ID == "" {
		return nil, errors.New("mission ID not found in response")
	}
	return &m, nil
}

// MissionStatus returns the generation stage of a mission
func (a *APIClient) MissionStatus(ctx context.Context, missionID string) (*MissionStatus, error) {
	var s MissionStatus
	if err := a.do(ctx, http.MethodGet, a.endpoint("/mission_status/"+url.PathEscape(missionID)), nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// GetMission returns the full mission document
func (a *APIClient) GetMission(ctx context.Context, missionID string) (*mission.Mission, error) {
	var m mission.Mission
	if err := a.do(ctx, http.MethodGet, a.endpoint("/missions/"+url.PathEscape(missionID)), nil, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// ListMissions returns missions newest first. Empty userID lists all.
func (a *APIClient) ListMissions(ctx context.Context, userID string, limit int) ([]*mission.Mission, error) {
	q := url.Values{}
	if userID != "" {
		q.Set("user_id", userID)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	endpoint := a.endpoint("/missions")
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}

	var resp struct {
		Missions []*mission.Mission `json:"missions"`
	}
	if err := a.do(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Missions, nil
}

// PollUntilReady checks the mission status every poll interval until it
// reaches stage2. onStatus, if set, sees every status read. A failed mission
// returns ErrMissionFailed; a request error is returned at once.
func (a *APIClient) PollUntilReady(ctx context.Context, missionID string, onStatus func(*MissionStatus)) error {
	ticker := time.NewTicker(a.pollInterval)
	defer ticker.Stop()

	for {
		status, err := a.MissionStatus(ctx, missionID)
		if err != nil {
			return err
		}
		if onStatus != nil {
			onStatus(status)
		}

		switch status.Status {
		case mission.StatusStage2:
			return nil
		case mission.StatusFailed:
			if status.Error != "" {
				return fmt.Errorf("%w: %s", ErrMissionFailed, status.Error)
			}
			return ErrMissionFailed
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

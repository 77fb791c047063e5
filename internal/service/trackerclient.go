package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sethvargo/go-retry"
)

const (
	trackerRequestTimeout = 10 * time.Second
	trackerNotifyAttempts = 3
)

// TrackerActiveSession is one entry of a tracker's local active table,
// as reported by its agent API.
type TrackerActiveSession struct {
	SessionID    string    `json:"session_id"`
	FilePath     string    `json:"file_path"`
	Username     string    `json:"username"`
	LastActivity time.Time `json:"last_activity"`
}

type trackerHealth struct {
	Status    string `json:"status"`
	TrackerID string `json:"tracker_id"`
}

// TrackerClient talks to the tracker agents' local APIs. Tracker IDs
// are discovered from the agents' health endpoints and cached, since
// configuration only lists base URLs.
type TrackerClient struct {
	baseURLs []string
	client   *http.Client

	mu   sync.RWMutex
	byID map[string]string // trackerID -> baseURL
}

func NewTrackerClient(baseURLs []string) *TrackerClient {
	return &TrackerClient{
		baseURLs: baseURLs,
		client:   &http.Client{Timeout: trackerRequestTimeout},
		byID:     make(map[string]string),
	}
}

func (c *TrackerClient) BaseURLs() []string {
	return c.baseURLs
}

// ActiveSessions fetches one tracker's local active-session table.
func (c *TrackerClient) ActiveSessions(ctx context.Context, baseURL string) ([]TrackerActiveSession, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/api/agent/active-sessions", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch active sessions from %s: %w", baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch active sessions from %s: status %d", baseURL, resp.StatusCode)
	}

	var payload struct {
		Sessions []TrackerActiveSession `json:"sessions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode active sessions from %s: %w", baseURL, err)
	}
	return payload.Sessions, nil
}

// NotifyCommentCreated tells the originating tracker to retire its
// local session record. Retries briefly; the caller treats failure as
// non-fatal.
func (c *TrackerClient) NotifyCommentCreated(ctx context.Context, trackerID, sessionID string) error {
	baseURL, err := c.resolve(ctx, trackerID)
	if err != nil {
		return err
	}

	body, _ := json.Marshal(map[string]string{"session_id": sessionID})

	backoff := retry.WithMaxRetries(trackerNotifyAttempts, retry.NewExponential(500*time.Millisecond))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			baseURL+"/api/agent/comment-created", bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			return retry.RetryableError(err)
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body)

		if resp.StatusCode >= 500 {
			return retry.RetryableError(fmt.Errorf("tracker %s returned status %d", trackerID, resp.StatusCode))
		}
		if resp.StatusCode >= 400 {
			return fmt.Errorf("tracker %s returned status %d", trackerID, resp.StatusCode)
		}
		return nil
	})
}

// CloseSession asks a tracker to close one of its local sessions.
func (c *TrackerClient) CloseSession(ctx context.Context, baseURL, sessionID string) error {
	body, _ := json.Marshal(map[string]string{"session_id": sessionID})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		baseURL+"/api/agent/close-session", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return fmt.Errorf("tracker at %s returned status %d", baseURL, resp.StatusCode)
	}
	return nil
}

// TrackerID asks the agent at baseURL for its identity.
func (c *TrackerClient) TrackerID(ctx context.Context, baseURL string) (string, error) {
	health, err := c.health(ctx, baseURL)
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	c.byID[health.TrackerID] = baseURL
	c.mu.Unlock()
	return health.TrackerID, nil
}

// resolve maps a tracker ID to its base URL, probing health endpoints
// when the ID has not been seen yet.
func (c *TrackerClient) resolve(ctx context.Context, trackerID string) (string, error) {
	c.mu.RLock()
	baseURL, ok := c.byID[trackerID]
	c.mu.RUnlock()
	if ok {
		return baseURL, nil
	}

	for _, url := range c.baseURLs {
		health, err := c.health(ctx, url)
		if err != nil {
			log.Debug().Err(err).Str("url", url).Msg("tracker health probe failed")
			continue
		}
		c.mu.Lock()
		c.byID[health.TrackerID] = url
		c.mu.Unlock()
		if health.TrackerID == trackerID {
			return url, nil
		}
	}
	return "", fmt.Errorf("no configured tracker with id %q", trackerID)
}

func (c *TrackerClient) health(ctx context.Context, baseURL string) (*trackerHealth, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/api/agent/health", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("health check at %s: status %d", baseURL, resp.StatusCode)
	}
	var health trackerHealth
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return nil, err
	}
	return &health, nil
}

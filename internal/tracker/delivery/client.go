package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sethvargo/go-retry"

	"github.com/editwatch/session-server-go/internal/model"
)

const (
	requestTimeout = 10 * time.Second
	sendRetries    = 3
	sendRetryBase  = time.Second
)

// Client delivers tracker events to the authority. Delivery never
// blocks ingestion: after bounded retries a failed event lands in the
// disk queue, and queued events flush opportunistically after the
// next successful send.
type Client struct {
	authorityURL string
	trackerID    string
	http         *http.Client
	queue        *DiskQueue
}

func NewClient(authorityURL, trackerID string, queue *DiskQueue) *Client {
	return &Client{
		authorityURL: authorityURL,
		trackerID:    trackerID,
		http:         &http.Client{Timeout: requestTimeout},
		queue:        queue,
	}
}

// errRejected marks events the authority refused outright; queueing
// them would just replay the refusal forever.
var errRejected = errors.New("event rejected")

// Deliver sends one event, spilling to the disk queue when the
// authority stays unreachable. The tracker keeps working either way.
func (c *Client) Deliver(ctx context.Context, ev model.TrackerEvent) {
	if err := c.send(ctx, ev); err != nil {
		if errors.Is(err, errRejected) {
			log.Error().Err(err).
				Str("eventType", string(ev.EventType)).
				Str("filePath", ev.FilePath).
				Msg("event rejected by authority, dropping")
			return
		}
		log.Warn().Err(err).
			Str("eventType", string(ev.EventType)).
			Str("filePath", ev.FilePath).
			Msg("delivery failed, queuing event")
		if qErr := c.queue.Append(ev); qErr != nil {
			log.Error().Err(qErr).Msg("failed to queue event")
		}
		return
	}
	c.Flush(ctx)
}

// Flush retries everything in the disk queue, oldest first. Events
// that still fail go back into the queue in order.
func (c *Client) Flush(ctx context.Context) {
	events, err := c.queue.TakeAll()
	if err != nil {
		log.Error().Err(err).Msg("failed to read event queue")
		return
	}
	if len(events) == 0 {
		return
	}

	log.Info().Int("count", len(events)).Msg("flushing queued events")

	for i, ev := range events {
		err := c.send(ctx, ev)
		if err == nil {
			continue
		}
		if errors.Is(err, errRejected) {
			log.Error().Err(err).Str("filePath", ev.FilePath).Msg("dropping rejected queued event")
			continue
		}
		log.Warn().Err(err).Int("remaining", len(events)-i).Msg("flush interrupted")
		if qErr := c.queue.Requeue(events[i:]); qErr != nil {
			log.Error().Err(qErr).Msg("failed to requeue events")
		}
		return
	}
}

// Drain is the shutdown flush: one bounded attempt to empty the queue.
// Whatever does not make it stays on disk for the next start.
func (c *Client) Drain(timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	c.Flush(ctx)

	if n := c.queue.Len(); n > 0 {
		log.Info().Int("count", n).Msg("events left queued for next start")
	}
}

// Healthy probes the authority.
func (c *Client) Healthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.authorityURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

func (c *Client) send(ctx context.Context, ev model.TrackerEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	backoff := retry.WithMaxRetries(sendRetries, retry.NewExponential(sendRetryBase))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.authorityURL+"/api/events", bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Tracker-ID", c.trackerID)

		resp, err := c.http.Do(req)
		if err != nil {
			return retry.RetryableError(err)
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body)

		switch {
		case resp.StatusCode < 300:
			return nil
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return retry.RetryableError(fmt.Errorf("authority returned status %d", resp.StatusCode))
		default:
			// 4xx: the event is malformed, retrying cannot fix it.
			return fmt.Errorf("%w: status %d", errRejected, resp.StatusCode)
		}
	})
}

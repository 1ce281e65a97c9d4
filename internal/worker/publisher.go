package worker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"mlsrelay/internal/domain"
)

// Publisher pushes one task's payload to the external system. Errors wrapping
// domain.ErrTerminal dead-letter the task immediately; everything else is
// retried.
type Publisher interface {
	Publish(ctx context.Context, task domain.DeliveryTask) error
}

// ErrAccountDisconnected signals that the linked external account no longer
// exists; retrying can never succeed.
var ErrAccountDisconnected = fmt.Errorf("%w: linked account disconnected", domain.ErrTerminal)

// HTTPPublisher posts task payloads to a federation endpoint.
type HTTPPublisher struct {
	baseURL string
	client  *http.Client
}

func NewHTTPPublisher(baseURL string, client *http.Client) *HTTPPublisher {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPPublisher{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

func (p *HTTPPublisher) Publish(ctx context.Context, task domain.DeliveryTask) error {
	url := fmt.Sprintf("%s/outbox/%s", p.baseURL, task.Kind)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(task.Payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("publish %s: %w", task.Kind, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		// The remote says the target is gone for good.
		return fmt.Errorf("%w: remote returned %d", domain.ErrTerminal, resp.StatusCode)
	default:
		return fmt.Errorf("publish %s: remote returned %d", task.Kind, resp.StatusCode)
	}
}

package approval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Notification is the fire-and-forget payload handed to the external
// notification service. No return value is load-bearing for the workflow.
type Notification struct {
	EntityID string         `json:"entity_id"`
	Action   string         `json:"action"`
	Payload  map[string]any `json:"payload,omitempty"`
}

// Notifier dispatches notifications to an external collaborator. Dispatch
// failures are the caller's to log; they must never fail or retry within the
// owning transition.
type Notifier interface {
	Dispatch(ctx context.Context, n Notification) error
}

// HTTPNotifier posts notifications to a configured endpoint.
type HTTPNotifier struct {
	endpoint string
	client   *http.Client
}

// NewHTTPNotifier creates a notifier that posts to the given endpoint.
func NewHTTPNotifier(endpoint string, timeout time.Duration) *HTTPNotifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPNotifier{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

// Dispatch posts the notification as JSON. Any non-2xx response is an error.
func (n *HTTPNotifier) Dispatch(ctx context.Context, notification Notification) error {
	body, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("notifier: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notifier: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("notifier: dispatch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notifier: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// NopNotifier discards all notifications. Used when no endpoint is
// configured and in tests.
type NopNotifier struct{}

// Dispatch discards the notification.
func (NopNotifier) Dispatch(context.Context, Notification) error { return nil }

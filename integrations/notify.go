package integrations

import (
	"time"
)

// Event is a fire-and-forget notification about an engine state change.
type Event struct {
	Kind      string `json:"kind"` // release, task, submission
	ReleaseID string `json:"release_id"`
	Subject   string `json:"subject"`
	Message   string `json:"message"`
}

// Notifier delivers engine events to the notification system. Delivery
// failures are logged by callers and never roll back engine state.
type Notifier interface {
	Send(event Event) error
}

type notifyClient struct {
	*httpClient
}

// NewNotifyClient creates a webhook-backed notifier.
func NewNotifyClient(webhookURL string, timeout time.Duration) Notifier {
	return &notifyClient{newHTTPClient(webhookURL, "", timeout)}
}

func (c *notifyClient) Send(event Event) error {
	return c.doJSON("POST", "/", event, nil)
}

// NopNotifier is used when no notification webhook is configured.
type NopNotifier struct{}

func (NopNotifier) Send(Event) error { return nil }

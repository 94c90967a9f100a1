// Package publish delivers digest messages to the configured channel.
// Delivery is not idempotent at the channel level; the orchestrator only
// marks items POSTED after Send returns nil.
package publish

import (
	"context"
	"fmt"

	"github.com/avoronin/newsdigest/pkg/retry"
)

// Publisher delivers one text message to a channel.
type Publisher interface {
	Name() string
	Send(ctx context.Context, text string) error
}

// classifyStatus maps channel HTTP statuses onto the transient/permanent
// split shared with the summarizer call site. Rate limits and 5xx stay
// retryable; auth and malformed requests never succeed.
func classifyStatus(channel string, status int) error {
	err := fmt.Errorf("%s status %d", channel, status)
	switch status {
	case 400, 401, 403, 404:
		return retry.Permanent(err)
	default:
		return err
	}
}

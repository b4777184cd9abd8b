// Package notify defines the alert notification abstraction.
//
// Notification delivery is best-effort: a failed send is logged by the
// caller and the alert remains valid in the alert store.
package notify

import (
	"context"

	"github.com/kingsick/autotrader/internal/alert"
)

// Notifier delivers pending-alert notifications to a user channel.
// SendAlert must be idempotent on the alert ID.
type Notifier interface {
	SendAlert(ctx context.Context, channel string, a alert.Alert) error
}

// Interactive is implemented by notifiers that support an interactive
// approval UI: updating a sent message after the user acts on it and
// acknowledging callback queries.
type Interactive interface {
	Notifier

	// EditAfterAction rewrites a previously sent alert message to show
	// the outcome ("approved" or "rejected") with detail text.
	EditAfterAction(ctx context.Context, channel, messageRef, action, detail string) error

	// AnswerCallback acknowledges an interactive callback.
	AnswerCallback(ctx context.Context, callbackID, text string, showAlert bool) error
}

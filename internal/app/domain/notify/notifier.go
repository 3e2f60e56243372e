// Package notify delivers alerts and reminders to connected users and
// fans freshly created POIs out to every matching subscriber.
package notify

import (
	"context"

	"github.com/geowatch/geowatch/internal/app/models"
)

// Notifier delivers rendered notifications to a single recipient.
// Delivery is best effort: a failure affects only that recipient.
type Notifier interface {
	DeliverAlert(ctx context.Context, to models.Subscriber, alert models.Alert) error
	DeliverReminder(ctx context.Context, externalID, text string) error
}

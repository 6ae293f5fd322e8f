// Package notify records admin-facing announcements. Delivery is the audit
// log plus a Redis publish that other processes (the progress feed) can
// subscribe to.
package notify

import (
	"context"
	"reportbot/backend/internal/models"
	"time"

	log "github.com/sirupsen/logrus"
)

// Channel is the Redis channel announcements are published on.
const Channel = "reportbot:admin"

// Announcement is the published payload.
type Announcement struct {
	Event  string    `json:"event"`
	Detail string    `json:"detail"`
	At     time.Time `json:"at"`
}

type Store interface {
	AppendActivity(ctx context.Context, entry *models.ActivityLogEntry) error
	PublishAnnouncement(ctx context.Context, channel string, payload any) error
}

type Notifier struct {
	store   Store
	channel string
	now     func() time.Time
	sinks   []func(Announcement)
}

func NewNotifier(store Store) *Notifier {
	return &Notifier{store: store, channel: Channel, now: time.Now}
}

// AddSink delivers announcements in-process too. Used when there is no Redis
// to carry them to the feed. Not safe to call concurrently with Announce.
func (n *Notifier) AddSink(sink func(Announcement)) {
	n.sinks = append(n.sinks, sink)
}

// Announce never fails the caller: errors are logged and swallowed.
func (n *Notifier) Announce(ctx context.Context, event, detail string) {
	at := n.now()
	log.WithField("event", event).Infof("admin notification: %s", detail)

	if err := n.store.AppendActivity(ctx, &models.ActivityLogEntry{
		Action:    models.ActionAdminNotification,
		Detail:    event + ": " + detail,
		CreatedAt: at.UTC(),
	}); err != nil {
		log.WithError(err).Warn("failed to record admin notification")
	}

	a := Announcement{Event: event, Detail: detail, At: at}
	if err := n.store.PublishAnnouncement(ctx, n.channel, a); err != nil {
		log.WithError(err).Warn("failed to publish admin notification")
	}
	for _, sink := range n.sinks {
		sink(a)
	}
}

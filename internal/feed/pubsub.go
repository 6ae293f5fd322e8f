package feed

import (
	"context"
	"encoding/json"
	"reportbot/backend/internal/notify"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// StartPubSubListener relays admin announcements published on Redis by any
// bot process to this hub's subscribers.
func (h *Hub) StartPubSubListener(ctx context.Context, rdb *redis.Client, channel string) {
	if rdb == nil {
		return
	}
	go func() {
		pubsub := rdb.Subscribe(ctx, channel)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				h.relay(msg.Payload)
			}
		}
	}()
}

func (h *Hub) relay(payload string) {
	var a notify.Announcement
	if err := json.Unmarshal([]byte(payload), &a); err != nil {
		log.WithError(err).Warn("feed: bad announcement payload")
		return
	}
	h.Announce(a)
}

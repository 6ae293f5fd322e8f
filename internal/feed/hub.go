// Package feed streams submission progress and admin announcements to
// connected dashboards.
package feed

import (
	"context"
	"reportbot/backend/internal/conversation"
	"reportbot/backend/internal/notify"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	TypeProgress     = "progress"
	TypeAnnouncement = "announcement"
)

// Message is what subscribers receive.
type Message struct {
	Type         string                 `json:"type"`
	Progress     *conversation.Progress `json:"progress,omitempty"`
	Announcement *notify.Announcement   `json:"announcement,omitempty"`
	At           time.Time              `json:"at"`
}

// Hub fans messages out to registered clients. All client bookkeeping
// happens on the Run goroutine.
type Hub struct {
	Clients map[string]Client

	RegisterCh   chan Client
	UnregisterCh chan Client
	BroadcastCh  chan Message

	countCh chan chan int
	done    chan struct{}
}

func NewHub() *Hub {
	return &Hub{
		Clients:      make(map[string]Client),
		RegisterCh:   make(chan Client),
		UnregisterCh: make(chan Client),
		BroadcastCh:  make(chan Message, 256),
		countCh:      make(chan chan int),
		done:         make(chan struct{}),
	}
}

// Run processes registrations and broadcasts until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for id, c := range h.Clients {
				c.Close()
				delete(h.Clients, id)
			}
			return

		case c := <-h.RegisterCh:
			h.Clients[c.GetID()] = c
			log.Debugf("feed client %s registered", c.GetID())

		case c := <-h.UnregisterCh:
			if _, ok := h.Clients[c.GetID()]; ok {
				delete(h.Clients, c.GetID())
				c.Close()
				log.Debugf("feed client %s unregistered", c.GetID())
			}

		case msg := <-h.BroadcastCh:
			for id, c := range h.Clients {
				if !c.Wants(msg) {
					continue
				}
				select {
				case c.GetSendChannel() <- msg:
				default:
					// Slow consumer: drop it rather than stall everyone.
					delete(h.Clients, id)
					c.Close()
					log.Warnf("feed client %s dropped: send buffer full", id)
				}
			}

		case reply := <-h.countCh:
			reply <- len(h.Clients)
		}
	}
}

// Done is closed once Run has returned.
func (h *Hub) Done() <-chan struct{} { return h.done }

// Unregister removes c unless the hub has already stopped.
func (h *Hub) Unregister(c Client) {
	select {
	case h.UnregisterCh <- c:
	case <-h.done:
	}
}

// ClientCount asks the Run loop how many clients are registered.
func (h *Hub) ClientCount(ctx context.Context) int {
	reply := make(chan int, 1)
	select {
	case h.countCh <- reply:
	case <-h.done:
		return 0
	case <-ctx.Done():
		return 0
	}
	select {
	case n := <-reply:
		return n
	case <-ctx.Done():
		return 0
	}
}

// OnProgress implements conversation.ProgressObserver. It never blocks.
func (h *Hub) OnProgress(_ context.Context, p conversation.Progress) {
	h.publish(Message{Type: TypeProgress, Progress: &p, At: time.Now()})
}

// Announce forwards an admin announcement to subscribers.
func (h *Hub) Announce(a notify.Announcement) {
	h.publish(Message{Type: TypeAnnouncement, Announcement: &a, At: time.Now()})
}

func (h *Hub) publish(msg Message) {
	select {
	case h.BroadcastCh <- msg:
	default:
		log.Warnf("feed broadcast buffer full, dropping %s message", msg.Type)
	}
}

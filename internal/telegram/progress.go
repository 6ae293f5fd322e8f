package telegram

import (
	"context"
	"reportbot/backend/internal/conversation"
	"reportbot/backend/internal/localization"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	log "github.com/sirupsen/logrus"
)

const templateProgress = "submission_progress"

// minEditInterval keeps edits under Telegram's per-chat flood limits.
const minEditInterval = time.Second

type progressMessage struct {
	reportID  string
	messageID int
	lastEdit  time.Time
}

// ProgressTracker posts one progress message per submission and keeps
// editing it as attempts come in.
type ProgressTracker struct {
	api       Sender
	localizer *localization.Localizer
	language  func(int64) string
	now       func() time.Time

	mu       sync.Mutex
	messages map[int64]*progressMessage
}

func NewProgressTracker(api Sender, localizer *localization.Localizer, language func(int64) string) *ProgressTracker {
	return &ProgressTracker{
		api:       api,
		localizer: localizer,
		language:  language,
		now:       time.Now,
		messages:  make(map[int64]*progressMessage),
	}
}

// OnProgress implements conversation.ProgressObserver. The map lock is never
// held across a Telegram call; events for one identity arrive in order from
// the engine, so only different identities run here concurrently.
func (t *ProgressTracker) OnProgress(_ context.Context, p conversation.Progress) {
	now := t.now()
	done := p.Snapshot.Done()

	t.mu.Lock()
	current, ok := t.messages[p.Identity]
	if ok && current.reportID != p.ReportID {
		ok = false
	}
	var messageID int
	if ok {
		if !done && now.Sub(current.lastEdit) < minEditInterval {
			t.mu.Unlock()
			return
		}
		messageID = current.messageID
		current.lastEdit = now
		if done {
			delete(t.messages, p.Identity)
		}
	}
	t.mu.Unlock()

	text := t.localizer.Render(t.language(p.Identity), templateProgress, map[string]any{
		"percent":    int(p.Snapshot.Fraction() * 100),
		"attempt":    p.Snapshot.Attempt,
		"count":      p.Snapshot.Count,
		"successful": p.Snapshot.Successful,
		"failed":     p.Snapshot.Failed,
	})

	if ok {
		edit := tgbotapi.NewEditMessageText(p.Identity, messageID, text)
		if _, err := t.api.Send(edit); err != nil {
			log.WithField("user", p.Identity).Warnf("failed to edit progress message %d: %v", messageID, err)
		}
		return
	}

	sent, err := t.api.Send(tgbotapi.NewMessage(p.Identity, text))
	if err != nil {
		log.WithField("user", p.Identity).Warnf("failed to send progress message: %v", err)
		return
	}
	if done {
		return
	}
	t.mu.Lock()
	t.messages[p.Identity] = &progressMessage{reportID: p.ReportID, messageID: sent.MessageID, lastEdit: now}
	t.mu.Unlock()
}

// Package telegram handles the integration with the Telegram Bot API.
// It converts updates into conversation events, renders the engine's
// responses with the localizer and streams submission progress back to
// the user.
package telegram

import (
	"context"
	"fmt"
	"reportbot/backend/internal/conversation"
	"reportbot/backend/internal/localization"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	log "github.com/sirupsen/logrus"
)

// choicePrefix marks callback data that carries a plain option value.
const choicePrefix = "choice:"

const templateInternalError = "internal_error"

// Sender is the part of tgbotapi.BotAPI the service talks to.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Handler processes one conversation event.
type Handler interface {
	Handle(ctx context.Context, ev conversation.Event) (conversation.Response, error)
}

// BotService is responsible for receiving Telegram updates and routing them to the engine.
type BotService struct {
	BotAPI    *tgbotapi.BotAPI
	api       Sender
	Engine    Handler
	Localizer *localization.Localizer
	progress  *ProgressTracker
	queue     *userQueue

	langMu sync.RWMutex
	langs  map[int64]string
}

// NewBotService creates a new BotService instance.
func NewBotService(token string, engine Handler, localizer *localization.Localizer) (*BotService, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	bot.Debug = false
	log.Infof("✅ Authorized on account %s", bot.Self.UserName)

	s := newBotService(bot, engine, localizer)
	s.BotAPI = bot
	return s, nil
}

func newBotService(api Sender, engine Handler, localizer *localization.Localizer) *BotService {
	s := &BotService{
		api:       api,
		Engine:    engine,
		Localizer: localizer,
		langs:     make(map[int64]string),
		queue:     newUserQueue(),
	}
	s.progress = NewProgressTracker(api, localizer, s.language)
	return s
}

// Progress returns the observer that mirrors submissions into chat messages.
func (s *BotService) Progress() *ProgressTracker { return s.progress }

// Run is the main loop for receiving Telegram updates. Updates from one
// user are handled in arrival order; different users run in parallel.
func (s *BotService) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := s.BotAPI.GetUpdatesChan(u)

	defer s.queue.wait()

	for {
		select {
		case <-ctx.Done():
			s.BotAPI.StopReceivingUpdates()
			log.Info("Telegram bot stopped receiving updates")
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			s.dispatch(ctx, update)
		}
	}
}

// dispatch queues update behind any earlier update from the same sender.
func (s *BotService) dispatch(ctx context.Context, update tgbotapi.Update) {
	s.queue.push(senderID(update), func() { s.handleUpdate(ctx, update) })
}

func (s *BotService) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	if update.CallbackQuery != nil {
		// Respond to the callback query to remove the "loading" state
		callback := tgbotapi.NewCallback(update.CallbackQuery.ID, "")
		if _, err := s.api.Request(callback); err != nil {
			log.Warnf("failed to send callback response: %v", err)
		}
	}

	ev, chatID, lang, ok := toEvent(update)
	if !ok {
		return
	}
	s.rememberLanguage(ev.Identity, lang)

	resp, err := s.Engine.Handle(ctx, ev)
	if err != nil {
		log.WithFields(log.Fields{"user": ev.Identity, "kind": ev.Kind, "name": ev.Name}).Errorf("event failed: %v", err)
		msg := tgbotapi.NewMessage(chatID, s.Localizer.GetString(lang, templateInternalError))
		if _, err := s.api.Send(msg); err != nil {
			log.Errorf("Failed to send error message to %d: %v", chatID, err)
		}
		return
	}

	if _, err := s.api.Send(s.render(chatID, lang, resp)); err != nil {
		log.Errorf("Failed to send Telegram message to %d: %v", chatID, err)
	}
}

// toEvent turns an update into an engine event. Only private messages,
// shared contacts and callback buttons are understood.
func toEvent(update tgbotapi.Update) (ev conversation.Event, chatID int64, lang string, ok bool) {
	switch {
	case update.CallbackQuery != nil:
		cq := update.CallbackQuery
		if cq.From == nil {
			return ev, 0, "", false
		}
		ev = identityEvent(cq.From)
		if strings.HasPrefix(cq.Data, "/") {
			ev.Kind = conversation.KindCommand
			ev.Name, ev.Payload = splitCommand(cq.Data)
		} else {
			ev.Kind = conversation.KindChoice
			ev.Payload = strings.TrimPrefix(cq.Data, choicePrefix)
		}
		return ev, cq.From.ID, cq.From.LanguageCode, true

	case update.Message != nil:
		msg := update.Message
		if msg.From == nil || msg.Chat.ID == 0 {
			return ev, 0, "", false
		}
		ev = identityEvent(msg.From)
		switch {
		case msg.IsCommand():
			ev.Kind = conversation.KindCommand
			ev.Name = strings.ToLower(msg.Command())
			ev.Payload = strings.TrimSpace(msg.CommandArguments())
		case msg.Contact != nil:
			ev.Kind = conversation.KindText
			ev.Payload = contactPhone(msg.Contact.PhoneNumber)
		case msg.Text != "":
			ev.Kind = conversation.KindText
			ev.Payload = msg.Text
		default:
			return ev, 0, "", false
		}
		return ev, msg.Chat.ID, msg.From.LanguageCode, true
	}
	return ev, 0, "", false
}

func identityEvent(u *tgbotapi.User) conversation.Event {
	return conversation.Event{
		Identity:    u.ID,
		DisplayName: strings.TrimSpace(u.FirstName + " " + u.LastName),
		Username:    u.UserName,
	}
}

// splitCommand parses "/name args" as sent by a command button.
func splitCommand(data string) (string, string) {
	name, args, _ := strings.Cut(strings.TrimPrefix(data, "/"), " ")
	return strings.ToLower(name), strings.TrimSpace(args)
}

// Telegram omits the plus sign in shared contacts.
func contactPhone(phone string) string {
	phone = strings.TrimSpace(phone)
	if phone != "" && !strings.HasPrefix(phone, "+") {
		return "+" + phone
	}
	return phone
}

func (s *BotService) rememberLanguage(identity int64, lang string) {
	if lang == "" {
		return
	}
	s.langMu.Lock()
	s.langs[identity] = lang
	s.langMu.Unlock()
}

func (s *BotService) language(identity int64) string {
	s.langMu.RLock()
	defer s.langMu.RUnlock()
	if lang, ok := s.langs[identity]; ok {
		return lang
	}
	return localization.DefaultLanguage
}

// render builds the outgoing message for a response.
func (s *BotService) render(chatID int64, lang string, resp conversation.Response) tgbotapi.MessageConfig {
	msg := tgbotapi.NewMessage(chatID, s.Localizer.Render(lang, resp.Template, templateData(resp)))

	switch {
	case len(resp.Choices) > 0:
		msg.ReplyMarkup = s.keyboard(lang, resp.Choices)
	case resp.State == conversation.StateAwaitingPhone:
		kb := tgbotapi.NewOneTimeReplyKeyboard(
			tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButtonContact(s.Localizer.GetString(lang, "share_phone"))),
		)
		kb.ResizeKeyboard = true
		msg.ReplyMarkup = kb
	case resp.State == conversation.StateAwaitingOTP:
		msg.ReplyMarkup = tgbotapi.NewRemoveKeyboard(true)
	}
	return msg
}

func templateData(resp conversation.Response) map[string]any {
	data := make(map[string]any, len(resp.Data)+1)
	for k, v := range resp.Data {
		data[k] = v
	}
	if resp.Summary != nil {
		data["summary"] = resp.Summary
	}
	return data
}

// keyboard lays choices out two per row.
func (s *BotService) keyboard(lang string, choices []conversation.Choice) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	var row []tgbotapi.InlineKeyboardButton
	for _, c := range choices {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(s.Localizer.GetString(lang, c.Label), callbackData(c)))
		if len(row) == 2 {
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(row...))
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(row...))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func callbackData(c conversation.Choice) string {
	if strings.HasPrefix(c.Value, "/") {
		return c.Value
	}
	return fmt.Sprintf("%s%s", choicePrefix, c.Value)
}

package telegram

import (
	"context"
	"fmt"
	"sort"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"fleetbot/internal/dispatch"
	"fleetbot/internal/models"
)

// UpdateButton is the persistent reply-keyboard button that opens the menu.
const UpdateButton = "🔄 Update"

const helpText = `<b>Fleet update bot</b>

<b>Updating machines</b>
- /start or the Update button opens the server list
- pick a server, then a machine, then the update mode
- a force update asks for confirmation first
- "Update all" refreshes every machine of a server at once

Results arrive as a separate message; long output is sent as a file.
/status lists the configured servers.`

// Bot routes chat updates through the dispatcher.
type Bot struct {
	api        API
	dispatcher *dispatch.Dispatcher
	logger     zerolog.Logger
}

// NewBot builds the front end. api is usually a *tgbotapi.BotAPI.
func NewBot(api API, d *dispatch.Dispatcher, logger zerolog.Logger) *Bot {
	return &Bot{api: api, dispatcher: d, logger: logger}
}

// Run consumes updates until ctx is done or the channel closes.
func (b *Bot) Run(ctx context.Context, updates <-chan tgbotapi.Update) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case u, ok := <-updates:
			if !ok {
				return nil
			}
			b.HandleUpdate(u)
		}
	}
}

// HandleUpdate processes one update. Errors are logged; nothing here blocks on executions.
func (b *Bot) HandleUpdate(u tgbotapi.Update) {
	switch {
	case u.CallbackQuery != nil:
		b.handleCallback(u.CallbackQuery)
	case u.Message != nil:
		b.handleMessage(u.Message)
	}
}

func (b *Bot) handleMessage(m *tgbotapi.Message) {
	if m.From == nil || m.Chat == nil {
		return
	}
	log := b.logger.With().Int64("user", m.From.ID).Int64("chat", m.Chat.ID).Logger()

	cmd := ""
	if m.IsCommand() {
		cmd = m.Command()
	} else if strings.TrimSpace(m.Text) == UpdateButton {
		cmd = "menu"
	}

	switch cmd {
	case "start":
		if err := b.dispatcher.Gate.Check(m.From.ID); err == nil {
			greet := tgbotapi.NewMessage(m.Chat.ID, "Welcome! Use the button below or /help.")
			greet.ReplyMarkup = tgbotapi.NewReplyKeyboard(tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(UpdateButton)))
			b.send(log, greet)
		}
		b.openMenu(log, m.From.ID, m.Chat.ID)
	case "menu":
		b.openMenu(log, m.From.ID, m.Chat.ID)
	case "help":
		if b.denied(log, m.From.ID, m.Chat.ID) {
			return
		}
		b.sendHTML(log, m.Chat.ID, helpText)
	case "status":
		if b.denied(log, m.From.ID, m.Chat.ID) {
			return
		}
		b.sendHTML(log, m.Chat.ID, b.status())
	}
}

func (b *Bot) denied(log zerolog.Logger, user, chat int64) bool {
	err := b.dispatcher.Gate.Check(user)
	if err == nil {
		return false
	}
	log.Warn().Msg("command denied by access gate")
	b.send(log, tgbotapi.NewMessage(chat, "⛔ "+dispatch.Reason(err)))
	return true
}

// openMenu posts a fresh server list; older keyboards become stale.
func (b *Bot) openMenu(log zerolog.Logger, user, chat int64) {
	eff := b.dispatcher.Handle(dispatch.Event{User: user, Dest: chat, Token: dispatch.TokenMenu})
	if eff.Kind == dispatch.EffectReject {
		b.send(log, tgbotapi.NewMessage(chat, "⛔ "+eff.Reason))
		return
	}
	text, markup, err := b.screen(eff)
	if err != nil {
		log.Error().Err(err).Msg("render failed")
		return
	}
	msg := tgbotapi.NewMessage(chat, text)
	msg.ParseMode = tgbotapi.ModeHTML
	if len(markup.InlineKeyboard) > 0 {
		msg.ReplyMarkup = markup
	}
	b.send(log, msg)
}

func (b *Bot) handleCallback(q *tgbotapi.CallbackQuery) {
	if q.From == nil {
		return
	}
	chat := q.From.ID
	if q.Message != nil && q.Message.Chat != nil {
		chat = q.Message.Chat.ID
	}
	log := b.logger.With().Int64("user", q.From.ID).Int64("chat", chat).Str("token", q.Data).Logger()

	eff := b.dispatcher.Handle(dispatch.Event{User: q.From.ID, Dest: chat, Token: q.Data})
	switch eff.Kind {
	case dispatch.EffectReject:
		b.answer(log, tgbotapi.NewCallbackWithAlert(q.ID, eff.Reason))
		return
	case dispatch.EffectNoop:
		b.answer(log, tgbotapi.NewCallback(q.ID, ""))
		return
	}

	text, markup, err := b.screen(eff)
	if err != nil {
		log.Error().Err(err).Msg("render failed")
		b.answer(log, tgbotapi.NewCallbackWithAlert(q.ID, dispatch.Reason(err)))
		return
	}
	if q.Message != nil {
		edit := tgbotapi.NewEditMessageTextAndMarkup(chat, q.Message.MessageID, text, markup)
		edit.ParseMode = tgbotapi.ModeHTML
		b.send(log, edit)
	}

	if eff.Kind != dispatch.EffectExecute {
		b.answer(log, tgbotapi.NewCallback(q.ID, ""))
		return
	}
	b.answer(log, tgbotapi.NewCallback(q.ID, "Starting update..."))
	b.sendHTML(log, chat, LaunchNotice(eff.Job))
}

func (b *Bot) screen(eff dispatch.Effect) (string, tgbotapi.InlineKeyboardMarkup, error) {
	v, err := b.dispatcher.Router.View(eff.State)
	if err != nil {
		return "", tgbotapi.InlineKeyboardMarkup{}, err
	}
	text, markup := Render(v)
	return text, markup, nil
}

func (b *Bot) status() string {
	servers := b.dispatcher.Router.Registry().List()
	byLocation := map[string][]models.ServerDescriptor{}
	total := 0
	for _, s := range servers {
		byLocation[s.Location] = append(byLocation[s.Location], s)
		total += s.Machines
	}
	locations := make([]string, 0, len(byLocation))
	for l := range byLocation {
		locations = append(locations, l)
	}
	sort.Slice(locations, func(i, j int) bool {
		if locations[i] == "" || locations[j] == "" {
			return locations[j] == "" && locations[i] != ""
		}
		return locations[i] < locations[j]
	})

	var sb strings.Builder
	fmt.Fprintf(&sb, "📊 <b>Status</b>\nServers: %d\nMachines: %d\n", len(servers), total)
	for _, l := range locations {
		name := l
		if name == "" {
			name = "Unassigned"
		}
		sb.WriteString("\n<b>" + esc(name) + "</b>")
		for _, s := range byLocation[l] {
			fmt.Fprintf(&sb, "\n- %s: %d machines", esc(s.Name), s.Machines)
		}
	}
	return sb.String()
}

func (b *Bot) sendHTML(log zerolog.Logger, chat int64, text string) {
	msg := tgbotapi.NewMessage(chat, text)
	msg.ParseMode = tgbotapi.ModeHTML
	b.send(log, msg)
}

func (b *Bot) send(log zerolog.Logger, c tgbotapi.Chattable) {
	if _, err := b.api.Send(c); err != nil {
		// Re-rendering an unchanged screen is reported as an error by the API.
		if strings.Contains(err.Error(), "message is not modified") {
			return
		}
		log.Error().Err(err).Msg("telegram send failed")
	}
}

func (b *Bot) answer(log zerolog.Logger, c tgbotapi.CallbackConfig) {
	if _, err := b.api.Request(c); err != nil {
		log.Warn().Err(err).Msg("callback answer failed")
	}
}

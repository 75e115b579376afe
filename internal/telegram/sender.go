package telegram

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"fleetbot/internal/delivery"
)

// MaxText is the Bot API limit for one message, in characters.
const MaxText = 4096

// API is the subset of *tgbotapi.BotAPI the front end calls.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Sender delivers results through the Bot API.
type Sender struct {
	api API
}

// NewSender wraps api as a delivery.Sender.
func NewSender(api API) *Sender {
	return &Sender{api: api}
}

// SendMessage posts msg as HTML, in two parts when it does not fit one message.
func (s *Sender) SendMessage(ctx context.Context, dest int64, msg delivery.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, text := range FormatMessages(msg) {
		m := tgbotapi.NewMessage(dest, text)
		m.ParseMode = tgbotapi.ModeHTML
		if _, err := s.api.Send(m); err != nil {
			return fmt.Errorf("send message to %d: %w", dest, err)
		}
	}
	return nil
}

// SendDocument uploads the file at path. The file is read during the call.
func (s *Sender) SendDocument(ctx context.Context, dest int64, path, caption string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	doc := tgbotapi.NewDocument(dest, tgbotapi.FilePath(path))
	doc.Caption = caption
	if _, err := s.api.Send(doc); err != nil {
		return fmt.Errorf("send document to %d: %w", dest, err)
	}
	return nil
}

// TruncatedNote follows a body that is an excerpt of a longer output.
const TruncatedNote = "Output truncated."

// FormatMessages renders a result as HTML: bold title, header lines, body in <pre>.
// Telegram counts MaxText after markup is parsed, so only visible characters are
// budgeted. When header and body do not fit together the header goes out as its
// own message; the body is only cut if it alone exceeds MaxText.
func FormatMessages(msg delivery.Message) []string {
	icon := "✅"
	if msg.Failed {
		icon = "❌"
	}
	header := msg.Header
	if len(header) == 0 {
		header = []string{"Update finished"}
	}
	head := icon + " <b>" + esc(header[0]) + "</b>"
	for _, line := range header[1:] {
		head += "\n" + esc(line)
	}
	headLen := utf8.RuneCountInString(icon) + 1 + utf8.RuneCountInString(strings.Join(header, "\n"))

	body, truncated := msg.Body, msg.Truncated
	hasBody := strings.TrimSpace(body) != ""
	noteLen := 0
	if truncated {
		noteLen = 1 + utf8.RuneCountInString(TruncatedNote)
	}
	if hasBody && utf8.RuneCountInString(body)+noteLen > MaxText {
		truncated = true
		noteLen = 1 + utf8.RuneCountInString(TruncatedNote)
		body = delivery.Truncate(body, MaxText-noteLen)
	}

	var rest []string
	if hasBody {
		rest = append(rest, "<pre>"+esc(body)+"</pre>")
	}
	if truncated {
		rest = append(rest, "<i>"+TruncatedNote+"</i>")
	}
	if !hasBody || headLen+1+utf8.RuneCountInString(body)+noteLen <= MaxText {
		return []string{strings.Join(append([]string{head}, rest...), "\n")}
	}
	return []string{head, strings.Join(rest, "\n")}
}

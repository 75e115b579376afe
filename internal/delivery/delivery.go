// Package delivery routes an execution outcome back to the chat: a failure
// notice, an inline preformatted block, or a file when the output is large.
package delivery

import (
	"context"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"fleetbot/internal/models"
)

// DefaultInlineLimit is the inline size threshold, in characters.
const DefaultInlineLimit = 4000

// Kind says how an outcome was delivered.
type Kind string

const (
	KindFailure  Kind = "failure"
	KindInline   Kind = "inline"
	KindArtifact Kind = "artifact"
	KindFallback Kind = "fallback"
)

// Message is a presentation-neutral outbound text. The front end decides markup.
type Message struct {
	Failed bool
	Header []string // title lines
	Body   string   // shown preformatted
	// Truncated marks Body as an excerpt of a longer output.
	Truncated bool
}

// Sender is the chat side of delivery.
type Sender interface {
	SendMessage(ctx context.Context, dest int64, msg Message) error
	SendDocument(ctx context.Context, dest int64, path, caption string) error
}

// Title describes what was executed.
type Title struct {
	Server  string
	Machine int // 0 for whole-server runs
	Address string
	Mode    models.Mode
}

// TitleFor builds the title of a job.
func TitleFor(job models.Job) Title {
	return Title{Server: job.Server.Name, Machine: job.Machine, Address: job.Address, Mode: job.Mode}
}

// Lines renders the title block.
func (t Title) Lines() []string {
	lines := []string{"Server: " + t.Server}
	if t.Machine > 0 {
		m := "Machine: " + models.MachineLabel(t.Machine)
		if t.Address != "" {
			m += " (" + t.Address + ")"
		}
		lines = append(lines, m)
	} else {
		lines = append(lines, "Machine: all")
	}
	lines = append(lines, "Mode: "+string(t.Mode))
	return lines
}

// Caption is the single-line form used for documents.
func (t Title) Caption() string {
	return strings.Join(t.Lines(), " | ")
}

// Deliverer applies the size policy.
type Deliverer struct {
	sender Sender
	limit  int
	dir    string
	logger zerolog.Logger
}

// New returns a Deliverer. limit <= 0 means DefaultInlineLimit; dir "" means os.TempDir.
func New(sender Sender, limit int, dir string, logger zerolog.Logger) *Deliverer {
	if limit <= 0 {
		limit = DefaultInlineLimit
	}
	return &Deliverer{sender: sender, limit: limit, dir: dir, logger: logger}
}

// Deliver sends the outcome and reports how. An error means nothing reached the chat.
func (d *Deliverer) Deliver(ctx context.Context, dest int64, title Title, outcome models.Outcome) (Kind, error) {
	if !outcome.Succeeded {
		msg := Message{Failed: true, Header: failureHeader(title), Body: outcome.Output}
		return KindFailure, d.sender.SendMessage(ctx, dest, msg)
	}

	if utf8.RuneCountInString(outcome.Output) < d.limit {
		msg := Message{Header: title.Lines(), Body: outcome.Output}
		return KindInline, d.sender.SendMessage(ctx, dest, msg)
	}

	err := d.sendArtifact(ctx, dest, title, outcome.Output)
	if err == nil {
		return KindArtifact, nil
	}
	d.logger.Warn().Err(err).Int64("dest", dest).Str("server", title.Server).Msg("artifact delivery failed, sending truncated text")
	msg := Message{Header: title.Lines(), Body: Truncate(outcome.Output, d.limit), Truncated: true}
	return KindFallback, d.sender.SendMessage(ctx, dest, msg)
}

func failureHeader(t Title) []string {
	lines := []string{"Update failed on " + t.Server}
	if t.Machine > 0 {
		lines = append(lines, "Machine: "+models.MachineLabel(t.Machine))
	}
	return lines
}

// sendArtifact writes output to a temp file that is removed whatever happens.
func (d *Deliverer) sendArtifact(ctx context.Context, dest int64, title Title, output string) error {
	f, err := os.CreateTemp(d.dir, "fleet-output-*.txt")
	if err != nil {
		return fmt.Errorf("%w: create artifact: %v", models.ErrDelivery, err)
	}
	path := f.Name()
	defer os.Remove(path)

	if _, err := f.WriteString(output); err != nil {
		f.Close()
		return fmt.Errorf("%w: write artifact: %v", models.ErrDelivery, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: close artifact: %v", models.ErrDelivery, err)
	}
	if err := d.sender.SendDocument(ctx, dest, path, title.Caption()); err != nil {
		return fmt.Errorf("%w: %v", models.ErrDelivery, err)
	}
	return nil
}

// Truncate keeps the first n characters.
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}

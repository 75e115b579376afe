// Package events publishes execution outcomes to NATS for other consumers.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"fleetbot/internal/models"
)

// Event is the JSON body published per outcome.
type Event struct {
	ID         string    `json:"id"`
	Server     string    `json:"server"`
	ServerName string    `json:"server_name"`
	Machine    int       `json:"machine,omitempty"`
	Address    string    `json:"address,omitempty"`
	Mode       string    `json:"mode"`
	Succeeded  bool      `json:"succeeded"`
	DurationMS int64     `json:"duration_ms"`
	User       int64     `json:"user"`
	Time       time.Time `json:"time"`
}

// NewEvent flattens a job and its outcome.
func NewEvent(job models.Job, outcome models.Outcome, at time.Time) Event {
	return Event{
		ID:         job.ID,
		Server:     job.Server.ID,
		ServerName: job.Server.Name,
		Machine:    job.Machine,
		Address:    job.Address,
		Mode:       string(job.Mode),
		Succeeded:  outcome.Succeeded,
		DurationMS: outcome.Duration.Milliseconds(),
		User:       job.User,
		Time:       at.UTC(),
	}
}

// Publisher sends events. Implementations must not block for long.
type Publisher interface {
	Publish(ev Event) error
	Close()
}

// NATSPublisher publishes on a single subject and reconnects forever.
type NATSPublisher struct {
	nc      *nats.Conn
	subject string
}

// NewNATSPublisher connects to url.
func NewNATSPublisher(url, subject string, logger zerolog.Logger) (*NATSPublisher, error) {
	opts := []nats.Option{
		nats.Name("fleetbot"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", url, err)
	}
	return &NATSPublisher{nc: nc, subject: subject}, nil
}

// Publish marshals and publishes ev.
func (p *NATSPublisher) Publish(ev Event) error {
	if p.nc == nil || p.nc.IsClosed() {
		return fmt.Errorf("nats not connected")
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.nc.Publish(p.subject, payload)
}

// Close drains pending messages.
func (p *NATSPublisher) Close() {
	if p.nc != nil {
		_ = p.nc.Drain()
	}
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(Event) error { return nil }
func (Nop) Close()              {}

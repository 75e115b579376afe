package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"fleetbot/internal/audit"
	"fleetbot/internal/auth"
	"fleetbot/internal/config"
	"fleetbot/internal/delivery"
	"fleetbot/internal/dispatch"
	"fleetbot/internal/events"
	"fleetbot/internal/logging"
	"fleetbot/internal/metrics"
	"fleetbot/internal/models"
	"fleetbot/internal/navigation"
	"fleetbot/internal/registry"
	"fleetbot/internal/ssh"
	"fleetbot/internal/worker"
)

const shutdownTimeout = 30 * time.Second

// app holds everything built from one config.
type app struct {
	cfg        *config.Config
	registry   *registry.Registry
	metrics    *metrics.Metrics
	pool       *worker.Pool
	publisher  events.Publisher
	dispatcher *dispatch.Dispatcher
	logger     zerolog.Logger
}

// newApp wires registry, executor, pool, delivery and the optional sinks.
func newApp(cfg *config.Config, sender delivery.Sender, logger zerolog.Logger) (*app, error) {
	reg, err := registry.Load(cfg.Servers, logging.Component(logger, "registry"))
	if err != nil {
		return nil, err
	}
	client, err := ssh.NewClient(ssh.Options{
		ConnectTimeout: cfg.ConnectTimeoutDuration(),
		KnownHosts:     cfg.KnownHosts,
		Logger:         logging.Component(logger, "ssh"),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrConfig, err)
	}

	var auditLog *audit.Log
	if cfg.AuditLog != config.AuditDisabled {
		if auditLog, err = audit.Open(cfg.AuditLog); err != nil {
			return nil, fmt.Errorf("%w: audit log: %v", models.ErrConfig, err)
		}
	}

	var publisher events.Publisher = events.Nop{}
	if cfg.NATSURL != "" {
		p, err := events.NewNATSPublisher(cfg.NATSURL, cfg.NATSSubject, logging.Component(logger, "events"))
		if err != nil {
			// Events are best effort; the bot still works without them.
			logger.Warn().Err(err).Str("url", cfg.NATSURL).Msg("nats unavailable, execution events disabled")
		} else {
			publisher = p
		}
	}

	m := metrics.New()
	pool := worker.New(cfg.MaxConcurrent, logging.Component(logger, "worker"))
	d := &dispatch.Dispatcher{
		Gate:      auth.NewGate(cfg.AllowedUsers, logging.Component(logger, "gate")),
		Router:    dispatch.NewRouter(reg, cfg.ServersPerPage, cfg.MachinesPerPage),
		Store:     navigation.NewStore(),
		Pool:      pool,
		Executor:  client,
		Deliverer: delivery.New(sender, cfg.InlineLimit, cfg.ArtifactDir, logging.Component(logger, "delivery")),
		Script:    cfg.UpdateScript,
		Audit:     auditLog,
		Events:    publisher,
		Metrics:   m,
		Logger:    logging.Component(logger, "dispatch"),
	}
	return &app{
		cfg:        cfg,
		registry:   reg,
		metrics:    m,
		pool:       pool,
		publisher:  publisher,
		dispatcher: d,
		logger:     logger,
	}, nil
}

// close waits for in-flight executions, then releases the sinks.
func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.pool.Close(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("executions still running at shutdown were cancelled")
	}
	a.publisher.Close()
}

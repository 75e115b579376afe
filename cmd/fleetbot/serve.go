package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"fleetbot/internal/config"
	"fleetbot/internal/logging"
	"fleetbot/internal/server"
	"fleetbot/internal/telegram"
)

func newServeCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the chat bot (and the admin API when admin_addr is set)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, g, cmd)
		},
	}
}

func serve(ctx context.Context, g *globalFlags, cmd *cobra.Command) error {
	logger := g.logger(cmd)
	cfg, err := config.Load(g.configPath, os.LookupEnv, true)
	if err != nil {
		return err
	}

	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return fmt.Errorf("connect to telegram: %w", err)
	}
	logger.Info().Str("bot", bot.Self.UserName).Msg("telegram session ready")

	a, err := newApp(cfg, telegram.NewSender(bot), logger)
	if err != nil {
		return err
	}
	defer a.close()

	group, ctx := errgroup.WithContext(ctx)
	if cfg.AdminAddr != "" {
		admin := server.New(a.registry, a.metrics, cfg.AdminTokenHash, logging.Component(logger, "admin"))
		group.Go(func() error { return admin.Serve(ctx, cfg.AdminAddr) })
	}
	group.Go(func() error {
		u := tgbotapi.NewUpdate(0)
		u.Timeout = 60
		updates := bot.GetUpdatesChan(u)
		defer bot.StopReceivingUpdates()
		front := telegram.NewBot(bot, a.dispatcher, logging.Component(logger, "telegram"))
		logger.Info().
			Int("servers", a.registry.Len()).
			Int("max_concurrent", cfg.MaxConcurrent).
			Msg("bot started")
		return front.Run(ctx, updates)
	})

	err = group.Wait()
	logger.Info().Msg("shutting down, waiting for running executions")
	return err
}

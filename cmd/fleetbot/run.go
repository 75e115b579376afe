package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"fleetbot/internal/config"
	"fleetbot/internal/delivery"
	"fleetbot/internal/models"
	"fleetbot/internal/registry"
)

// consoleSender prints deliveries to a terminal instead of a chat.
type consoleSender struct {
	mu     sync.Mutex
	out    io.Writer
	failed bool
}

func (c *consoleSender) SendMessage(_ context.Context, _ int64, msg delivery.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failed = c.failed || msg.Failed
	fmt.Fprintln(c.out, strings.Join(msg.Header, "\n"))
	if msg.Body != "" {
		fmt.Fprintln(c.out, "---")
		fmt.Fprintln(c.out, msg.Body)
	}
	if msg.Truncated {
		fmt.Fprintln(c.out, "(output truncated)")
	}
	return nil
}

func (c *consoleSender) SendDocument(_ context.Context, _ int64, path, caption string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	fmt.Fprintln(c.out, caption)
	fmt.Fprintln(c.out, "---")
	_, err = io.Copy(c.out, f)
	return err
}

func newRunCmd(g *globalFlags) *cobra.Command {
	var (
		serverID string
		machine  int
		force    bool
		all      bool
	)
	cmd := &cobra.Command{
		Use:   "run --server ID (--machine N [--force] | --all)",
		Short: "Run one update from the terminal and print the result",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if all == (machine != 0) {
				return fmt.Errorf("exactly one of --machine or --all is required")
			}
			if force && all {
				return fmt.Errorf("--force applies to a single machine")
			}

			logger := g.logger(cmd)
			cfg, err := config.Load(g.configPath, os.LookupEnv, false)
			if err != nil {
				return err
			}
			out := &consoleSender{out: cmd.OutOrStdout()}
			a, err := newApp(cfg, out, logger)
			if err != nil {
				return err
			}
			defer a.close()

			server, ok := a.registry.Get(serverID)
			if !ok {
				return fmt.Errorf("%w: server %q is not configured", models.ErrUnknownAction, serverID)
			}
			job := models.Job{Server: server, Mode: models.ModeAll}
			if !all {
				addr, err := registry.Resolve(server, machine)
				if err != nil {
					return err
				}
				job.Machine, job.Address, job.Mode = machine, addr, models.ModeNormal
				if force {
					job.Mode = models.ModeForce
				}
			}

			if _, err := a.dispatcher.Launch(job); err != nil {
				return err
			}
			a.pool.Wait()
			if out.failed {
				return errExecutionFailed
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&serverID, "server", "", "server id")
	cmd.Flags().IntVar(&machine, "machine", 0, "1-based machine index")
	cmd.Flags().BoolVar(&force, "force", false, "force update")
	cmd.Flags().BoolVar(&all, "all", false, "update every machine of the server")
	_ = cmd.MarkFlagRequired("server")
	return cmd
}

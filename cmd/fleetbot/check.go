package main

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"fleetbot/internal/config"
	"fleetbot/internal/logging"
	"fleetbot/internal/registry"
)

func newCheckCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration and print the server registry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := g.logger(cmd)
			cfg, err := config.Load(g.configPath, os.LookupEnv, false)
			if err != nil {
				return err
			}
			reg, err := registry.Load(cfg.Servers, logging.Component(logger, "registry"))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tHOST\tUSER\tAUTH\tMACHINES\tADDRESSES\tLOCATION")
			for _, d := range reg.List() {
				first, _ := registry.Resolve(d, 1)
				last, _ := registry.Resolve(d, d.Machines)
				authKind := "password"
				if d.KeyPath != "" {
					authKind = "key"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s..%s\t%s\n",
					d.ID, d.Name, d.Addr(), d.User, authKind, strconv.Itoa(d.Machines), first, last, d.Location)
			}
			if err := tw.Flush(); err != nil {
				return err
			}

			fmt.Fprintf(out, "\nupdate script: %s\n", cfg.UpdateScript)
			if cfg.BotToken == "" {
				fmt.Fprintln(out, "warning: bot token is not set; serve will refuse to start")
			}
			if len(cfg.AllowedUsers) == 0 {
				fmt.Fprintln(out, "warning: allowed_users is empty; every chat user may run updates")
			}
			if cfg.KnownHosts == "" {
				fmt.Fprintln(out, "warning: known_hosts is not set; host keys are not verified")
			}
			return nil
		},
	}
}

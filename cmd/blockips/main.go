package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"blockips/constant"
	"blockips/internal/app"
	blockipsAPI "blockips/pkg/blockips-api"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	operatorID int64
	socketPath string
	httpURL    string
	timeout    time.Duration
)

func client() blockipsAPI.Client {
	if httpURL != "" {
		return blockipsAPI.NewHTTPClient(httpURL)
	}
	return blockipsAPI.NewSocketClient(socketPath)
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	rootCmd := &cobra.Command{
		Use:           "blockips",
		Short:         "Control the block-ips daemon",
		Version:       fmt.Sprintf("%s (%s)", constant.Version, constant.Commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().Int64Var(&operatorID, "operator", 0, "operator id sent to the daemon")
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", constant.SocketPath, "daemon UNIX socket")
	rootCmd.PersistentFlags().StringVar(&httpURL, "url", "", "daemon HTTP address instead of the socket, e.g. http://127.0.0.1:8089")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Minute, "request timeout")

	for _, kind := range app.CommandKinds() {
		rootCmd.AddCommand(commandCmd(kind))
	}
	rootCmd.AddCommand(stateCmd(), logsCmd(), reconcileCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var commandHelp = map[app.CommandKind]string{
	app.CommandUpdate:    "Fetch both blocklists and apply them",
	app.CommandDisable:   "Switch to the public resolver and stop enforcement",
	app.CommandEnable:    "Switch to the local resolver and start enforcement",
	app.CommandRestart:   "Restart the resolver and refresh the firewall rule",
	app.CommandStatus:    "Show host and protection status",
	app.CommandFetchLogs: "Show the latest run logs",
}

func commandCmd(kind app.CommandKind) *cobra.Command {
	return &cobra.Command{
		Use:   string(kind),
		Short: commandHelp[kind],
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			res, err := client().Execute(ctx, operatorID, string(kind))
			if err != nil {
				return fmt.Errorf("%s: %w", kind, err)
			}
			fmt.Print(res.Text)
			if !res.OK {
				return fmt.Errorf("%s failed: %s", kind, res.Error)
			}
			return nil
		},
	}
}

func stateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "state",
		Short: "Probe the protection state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			res, err := client().State(ctx, operatorID)
			if err != nil {
				return err
			}
			fmt.Printf("state: %s\n", res.State)
			fmt.Printf("resolver active: %t\nrule present: %t\nip updater active: %t\ndomain updater active: %t\nnameservers: %v\n",
				res.ResolverActive, res.BindingPresent, res.IPUpdaterActive, res.DomainUpdaterActive, res.Nameservers)
			if res.Error != "" {
				fmt.Printf("probe error: %s\n", res.Error)
			}
			return nil
		},
	}
}

func logsCmd() *cobra.Command {
	var (
		level string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show recent daemon log entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			res, err := client().Logs(ctx, operatorID, level, limit)
			if err != nil {
				return err
			}
			for _, e := range res.Logs {
				line := fmt.Sprintf("%s %-5s %s", e.Time.Format(time.DateTime), e.Level, e.Message)
				if e.Error != "" {
					line += ": " + e.Error
				}
				fmt.Println(line)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&level, "level", "", "only entries with this level")
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum number of entries")
	return cmd
}

// reconcileCmd runs a pipeline in this process. The periodic updater units
// call it directly.
func reconcileCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:       "reconcile {ips|domains}",
		Short:     "Run one reconciliation cycle without the daemon",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{app.PipelineIPs, app.PipelineDomains},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig(configPath)
			if err != nil {
				return err
			}
			app.SetupLogging(cfg.LogLevel)

			deps, err := app.NewSystemDeps(cfg, nil, zerolog.ConsoleWriter{Out: os.Stderr})
			if err != nil {
				return err
			}
			core := app.New(cfg, deps)

			var res *app.PipelineResult
			switch args[0] {
			case app.PipelineIPs:
				res, err = core.ReconcileIPs(cmd.Context())
			case app.PipelineDomains:
				res, err = core.ReconcileDomains(cmd.Context())
			default:
				return fmt.Errorf("unknown pipeline %q", args[0])
			}
			if res != nil {
				fmt.Println(res.Summary())
			}
			return err
		},
	}
	cmd.Flags().StringVar(&configPath, "config", constant.ConfigFile, "config file")
	return cmd
}

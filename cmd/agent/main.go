package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"tally.bridge/internal/agent"
	"tally.bridge/internal/core/logger"
)

var version = "dev"

type agentFlags struct {
	server    string
	clientID  string
	company   string
	interval  time.Duration
	logLevel  string
	logFormat string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &agentFlags{}
	hostname, _ := os.Hostname()

	rootCmd := &cobra.Command{
		Use:          "tally-agent",
		Short:        "On-premises agent that keeps a Tally desk connected to the bridge",
		SilenceUsage: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			logger.Init(logger.ParseLevel(flags.logLevel), flags.logFormat)
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flags.server, "server", envOr("AGENT_SERVER", "http://localhost:8080"), "bridge base URL")
	pf.StringVar(&flags.clientID, "client-id", envOr("AGENT_CLIENT_ID", hostname), "client id announced to the bridge")
	pf.StringVar(&flags.company, "company", os.Getenv("AGENT_COMPANY"), "Tally company name")
	pf.DurationVar(&flags.interval, "heartbeat", agent.DefaultHeartbeatInterval, "heartbeat interval")
	pf.StringVar(&flags.logLevel, "log-level", envOr("LOG_LEVEL", "info"), "debug, info, warn or error")
	pf.StringVar(&flags.logFormat, "log-format", envOr("LOG_FORMAT", "text"), "text or json")

	rootCmd.AddCommand(
		newRunCmd(flags),
		newPushCmd(flags),
		&cobra.Command{
			Use:   "version",
			Short: "Print the agent version",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintln(cmd.OutOrStdout(), version)
			},
		},
	)
	return rootCmd
}

func newAgent(flags *agentFlags) (*agent.Agent, error) {
	return agent.New(agent.Options{
		ServerURL:         flags.server,
		ClientID:          flags.clientID,
		CompanyName:       flags.company,
		Version:           version,
		HeartbeatInterval: flags.interval,
	})
}

func newRunCmd(flags *agentFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Register with the bridge and heartbeat until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newAgent(flags)
			if err != nil {
				return err
			}
			logger.Info("Starting Tally agent", "server", flags.server, "client_id", flags.clientID, "version", version)
			err = a.Run(cmd.Context())
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
}

func newPushCmd(flags *agentFlags) *cobra.Command {
	pushCmd := &cobra.Command{
		Use:   "push",
		Short: "Push a Tally XML export to the bridge",
	}

	pushCmd.AddCommand(
		&cobra.Command{
			Use:   "ledgers FILE",
			Short: "Push the LEDGER masters of an export",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()

				ledgers, err := agent.ParseLedgerExport(f)
				if err != nil {
					return err
				}
				a, err := newAgent(flags)
				if err != nil {
					return err
				}
				res, err := a.PushLedgers(cmd.Context(), ledgers)
				if err != nil {
					return err
				}
				return printResult(cmd, res)
			},
		},
		&cobra.Command{
			Use:   "companies FILE",
			Short: "Push the COMPANY masters of an export",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()

				companies, err := agent.ParseCompanyExport(f)
				if err != nil {
					return err
				}
				a, err := newAgent(flags)
				if err != nil {
					return err
				}
				res, err := a.PushCompanies(cmd.Context(), companies)
				if err != nil {
					return err
				}
				return printResult(cmd, res)
			},
		},
	)
	return pushCmd
}

func printResult(cmd *cobra.Command, res *agent.BatchResult) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

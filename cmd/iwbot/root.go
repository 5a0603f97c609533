package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/MimeLyc/iwbot/internal/backlog"
	"github.com/MimeLyc/iwbot/internal/config"
	"github.com/MimeLyc/iwbot/internal/turk"
	"github.com/MimeLyc/iwbot/pkg/log"
)

type rootFlags struct {
	dryRun   bool
	maxPages int
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:           "iwbot",
		Short:         "Replaces {{Не перекладено}} markers with links to translated articles",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().BoolVar(&flags.dryRun, "dry-run", false, "resolve and report, but never save pages")
	root.PersistentFlags().IntVar(&flags.maxPages, "max-pages", 0, "stop a pass after this many pages")

	root.AddCommand(
		newRunCmd(flags),
		newRecheckCmd(flags),
		newReportCmd(flags),
		newServeCmd(flags),
		newTurkCmd(),
	)
	return root
}

func loadConfig(flags *rootFlags) (*config.Config, func() error, error) {
	cfg, err := config.NewFromEnv(config.WithDryRun(flags.dryRun), config.WithMaxPages(flags.maxPages))
	if err != nil {
		return nil, nil, fmt.Errorf("load configuration: %w", err)
	}
	closeLog, err := setupLogging(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("set up logging: %w", err)
	}
	return cfg, closeLog, nil
}

// withApp loads configuration, wires the components and runs fn.
func withApp(cmd *cobra.Command, flags *rootFlags, fn func(a *app) error) error {
	cfg, closeLog, err := loadConfig(flags)
	if err != nil {
		return err
	}
	defer func() { _ = closeLog() }()

	a, err := buildApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Error("close: %v", err)
		}
	}()
	return fn(a)
}

// interrupted turns cancellation into a clean exit; the position is saved.
func interrupted(err error) error {
	if errors.Is(err, context.Canceled) {
		log.Info("Interrupted, progress saved")
		return nil
	}
	return err
}

func newRunCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the bulk pass, resuming from the saved position",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, flags, func(a *app) error {
				a.watchTurk(cmd.Context())
				return interrupted(a.driver.Run(cmd.Context()))
			})
		},
	}
}

func newRecheckCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "recheck",
		Short: "Re-resolve every page with recorded problems against a fresh cache",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, flags, func(a *app) error {
				a.watchTurk(cmd.Context())
				return interrupted(a.driver.Recheck(cmd.Context()))
			})
		},
	}
}

func newReportCmd(flags *rootFlags) *cobra.Command {
	var printOnly bool
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Publish the problem reports and request statistics from saved state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, flags, func(a *app) error {
				if printOnly {
					now := time.Now()
					out := cmd.OutOrStdout()
					fmt.Fprintln(out, a.driver.Ledger().Render("", now))
					for _, p := range a.driver.Ledger().Projects() {
						fmt.Fprintf(out, "\n<!-- %s -->\n%s\n", p.Name, a.driver.Ledger().Render(p.Name, now))
					}
					fmt.Fprintln(out)
					fmt.Fprintln(out, backlog.RenderStats(a.resolver.Counter().Top(a.cfg.Reports.StatsTop), now))
					return nil
				}
				if err := a.driver.PublishReports(cmd.Context()); err != nil {
					return err
				}
				return a.driver.PublishStats(cmd.Context())
			})
		},
	}
	cmd.Flags().BoolVar(&printOnly, "print", false, "print the tables instead of saving them")
	return cmd
}

func newTurkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "turk",
		Short: "Answer pending adjudication questions on the terminal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			// answering questions never edits the wiki
			cfg, closeLog, err := loadConfig(&rootFlags{dryRun: true})
			if err != nil {
				return err
			}
			defer func() { _ = closeLog() }()

			t, err := turk.Open(cfg.TurkPath())
			if err != nil {
				return err
			}
			if len(t.Pending()) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No pending questions")
				return nil
			}
			n, err := t.AskHuman(cmd.InOrStdin(), cmd.OutOrStdout())
			if err != nil {
				return err
			}
			if err := t.Save(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\nSaved %d answers\n", n)
			return nil
		},
	}
}

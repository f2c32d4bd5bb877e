package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fwextensions/sf-pools/internal/api"
	"github.com/fwextensions/sf-pools/internal/config"
	"github.com/fwextensions/sf-pools/internal/dataset"
	"github.com/fwextensions/sf-pools/internal/discovery"
	"github.com/fwextensions/sf-pools/internal/fetcher"
	"github.com/fwextensions/sf-pools/internal/metrics"
	"github.com/fwextensions/sf-pools/internal/pipeline"
	"github.com/fwextensions/sf-pools/internal/reconcile"
	"github.com/fwextensions/sf-pools/internal/scheduler"
	"github.com/fwextensions/sf-pools/internal/store"
)

var (
	cfg      *config.Config
	logLevel string
)

func main() {
	cfg = config.Load()

	rootCmd := &cobra.Command{
		Use:           "sfpools",
		Short:         "Build the San Francisco public pool schedule dataset",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "data directory (SFPOOLS_DATA_DIR)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", cfg.LogLevel, "debug, info, warn or error (LOG_LEVEL)")

	rootCmd.AddCommand(discoverCmd())
	rootCmd.AddCommand(fetchCmd())
	rootCmd.AddCommand(extractCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(changelogsCmd())
	rootCmd.AddCommand(runsCmd())
	rootCmd.AddCommand(serveCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		switch {
		case errors.Is(err, discovery.ErrStructuralDrift):
			fmt.Fprintln(os.Stderr, "the facility listing no longer matches the registry; update internal/registry/facilities.yaml")
		case errors.Is(err, pipeline.ErrLargeChange):
			fmt.Fprintln(os.Stderr, "review the changelog before publishing, or set NO_FAIL_ON_LARGE_CHANGE=1")
		}
		stop()
		os.Exit(1)
	}
}

func newLogger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func discoverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "discover",
		Short: "Find the current schedule document for every facility",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !fetcher.IsURL(cfg.ListingURL) {
				return fmt.Errorf("invalid listing URL: %q", cfg.ListingURL)
			}
			app, err := newApp(cmd.Context(), newLogger(), nil)
			if err != nil {
				return err
			}
			defer app.Close()

			sources, err := app.pipeline.Discover(cmd.Context())
			if err != nil {
				return err
			}

			for _, s := range sources {
				doc := s.DocumentURL
				if doc == "" {
					doc = "(no document found)"
				}
				fmt.Printf("%-12s %-36s %s\n", s.FacilityID, app.registry.DisplayName(s.FacilityID), doc)
			}
			return nil
		},
	}
}

func fetchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fetch",
		Short: "Download discovered documents, skipping unchanged ones",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context(), newLogger(), nil)
			if err != nil {
				return err
			}
			defer app.Close()

			report, err := app.pipeline.Fetch(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Printf("Downloaded: %d\n", len(report.Downloaded))
			fmt.Printf("Unchanged:  %d\n", len(report.Unchanged))
			if len(report.Failed) > 0 {
				fmt.Printf("Failed:     %s\n", strings.Join(report.Failed, ", "))
			}
			if len(report.NoDocument) > 0 {
				fmt.Printf("No document: %s\n", strings.Join(report.NoDocument, ", "))
			}
			return nil
		},
	}
}

func extractCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Extract and reconcile downloaded documents into the dataset",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context(), newLogger(), nil)
			if err != nil {
				return err
			}
			defer app.Close()

			report, err := app.pipeline.Extract(cmd.Context())
			printReport(report)
			return err
		},
	}
	addRunFlags(cmd)
	return cmd
}

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Discover, fetch and extract in one pass",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context(), newLogger(), nil)
			if err != nil {
				return err
			}
			defer app.Close()

			report, err := app.pipeline.Run(cmd.Context())
			printReport(report)
			return err
		},
	}
	addRunFlags(cmd)
	return cmd
}

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&cfg.ForceExtract, "force", cfg.ForceExtract, "re-extract even when the document is unchanged (FORCE_EXTRACT)")
	cmd.Flags().BoolVar(&cfg.FailOnLargeChange, "fail-on-large-change", cfg.FailOnLargeChange, "exit non-zero on major or wholesale changes (NO_FAIL_ON_LARGE_CHANGE)")
}

func printReport(r *pipeline.Report) {
	if r == nil {
		return
	}
	fmt.Printf("Run:       %s\n", r.RunID)
	fmt.Printf("Processed: %d\n", len(r.Processed))
	if len(r.Preserved) > 0 {
		fmt.Printf("Preserved: %s\n", strings.Join(r.Preserved, ", "))
	}
	if len(r.Failed) > 0 {
		fmt.Printf("Failed:    %s\n", strings.Join(r.Failed, ", "))
	}
	for _, name := range r.NeedsReview {
		fmt.Printf("Needs review: %s\n", name)
	}
	if r.Changelog == nil {
		return
	}
	if r.Changelog.Empty() {
		fmt.Println("No changes.")
		return
	}
	s := r.Changelog.Summary
	fmt.Printf("Severity:  %s (%d added, %d removed, %d modified)\n",
		r.Changelog.Severity, s.ProgramsAdded, s.ProgramsRemoved, s.ProgramsModified)
	for _, w := range r.Changelog.Warnings {
		fmt.Printf("  warning: %s\n", w)
	}
	if r.ChangelogFile != "" {
		fmt.Printf("Changelog: %s\n", r.ChangelogFile)
	}
}

func changelogsCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "changelogs [name]",
		Short: "List changelogs, or show one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ds := dataset.New(cfg.DataDir)

			if len(args) == 1 {
				cl, err := ds.ReadChangelog(args[0])
				if err != nil {
					return err
				}
				out, err := json.MarshalIndent(cl, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(out))
				return nil
			}

			names, err := ds.ListChangelogs()
			if err != nil {
				return err
			}
			if len(names) == 0 {
				fmt.Println("No changelogs yet. Use 'sfpools run' to build the dataset.")
				return nil
			}
			for i, n := range names {
				if i == limit {
					break
				}
				fmt.Println(n)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of changelogs to list")
	return cmd
}

func runsCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent pipeline runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := getStore()
			if err != nil {
				return err
			}
			defer s.Close()

			runs, err := s.ListRuns(limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Println("No runs yet.")
				return nil
			}

			for _, r := range runs {
				status := "running"
				if r.FinishedAt != nil {
					status = r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
				}
				fmt.Printf("%s  %s  %-9s processed=%d preserved=%d failed=%d  %s %s\n",
					r.ID[:8], r.StartedAt.In(reconcile.Pacific).Format("2006-01-02 15:04"), status,
					r.Processed, r.Preserved, r.Failed, r.Severity, r.ChangelogFile)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to show")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, schedule string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the dataset API, optionally running the pipeline on a schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := newLogger()
			m := metrics.New()

			app, err := newApp(ctx, logger, m)
			if err != nil {
				return err
			}
			// closed after the scheduler stops
			defer app.Close()

			if schedule != "" {
				sched := scheduler.NewService(reconcile.Pacific, 0, logger)
				next, err := sched.Schedule(ctx, schedule, func(ctx context.Context) error {
					_, err := app.pipeline.Run(ctx)
					return err
				})
				if err != nil {
					return err
				}
				sched.Start()
				defer sched.Stop()
				logger.Info("pipeline scheduled", "schedule", schedule, "next", next)
			}

			server := api.New(app.dataset, app.store, m.Handler(), addr, logger)
			return server.Run(ctx)
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", ":8080", "server address")
	cmd.Flags().StringVar(&schedule, "schedule", "", `cron schedule for pipeline runs, e.g. "0 6 * * *"`)
	return cmd
}

func getStore() (*store.Store, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return store.New(cfg.DatabasePath())
}

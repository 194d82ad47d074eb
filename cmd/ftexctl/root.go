package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/sahaib/ftex/internal/app"
	"github.com/sahaib/ftex/internal/config"
	"github.com/sahaib/ftex/internal/ingest"
	"github.com/sahaib/ftex/internal/pending"
	"github.com/sahaib/ftex/internal/service"
)

// Deps holds what the commands need from the outside world. Tests swap the
// writer and clock.
type Deps struct {
	LoadConfig func() (config.Config, error)
	Out        io.Writer
	Now        func() time.Time
}

func DefaultDeps() *Deps {
	return &Deps{
		LoadConfig: config.Load,
		Out:        os.Stdout,
		Now:        time.Now,
	}
}

type rootFlags struct {
	tickets     string
	databaseURL string
	cacheDir    string
	settings    string
	output      string
	logLevel    string
}

func NewRootCommand(deps *Deps) *cobra.Command {
	if deps == nil {
		deps = DefaultDeps()
	}
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:   "ftexctl",
		Short: "Operate the ticket intelligence cache",
		Long: `ftexctl analyzes support ticket threads and manages the derived intelligence
cache on disk.

Tickets come from --tickets (a JSON helpdesk export) or --database-url. Flags
override the matching environment variables (TICKETS_FILE, DATABASE_URL,
CACHE_DIR, SETTINGS_FILE).`,
		Example: `  # Analyze changed tickets and recompute metrics
  ftexctl analyze --tickets export.json

  # Reanalyze everything and call the enrichment service
  ftexctl analyze --force --enrich

  # Tickets not analyzed in the last day
  ftexctl stale --max-age 24h`,
		SilenceUsage: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&flags.tickets, "tickets", "", "Path to a JSON ticket export")
	pf.StringVar(&flags.databaseURL, "database-url", "", "PostgreSQL connection string")
	pf.StringVar(&flags.cacheDir, "cache-dir", "", "Cache directory")
	pf.StringVar(&flags.settings, "settings", "", "Settings YAML file")
	pf.StringVarP(&flags.output, "output", "o", "text", "Output format: text, json")
	pf.StringVar(&flags.logLevel, "log-level", "warn", "Log level")

	cmd.AddCommand(
		newAnalyzeCommand(deps, flags),
		newRecomputeCommand(deps, flags),
		newStatsCommand(deps, flags),
		newStaleCommand(deps, flags),
		newInvalidateCommand(deps, flags),
		newPendingCommand(deps, flags),
		newImportCommand(deps, flags),
	)
	return cmd
}

// openApp loads process config, applies flag overrides and wires the app.
func openApp(ctx context.Context, deps *Deps, flags *rootFlags) (*app.App, error) {
	cfg, err := deps.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if flags.tickets != "" {
		cfg.TicketsFile = flags.tickets
	}
	if flags.databaseURL != "" {
		cfg.DatabaseURL = flags.databaseURL
	}
	if flags.cacheDir != "" {
		cfg.CacheDir = flags.cacheDir
	}
	if flags.settings != "" {
		cfg.SettingsFile = flags.settings
	}

	level, err := zerolog.ParseLevel(flags.logLevel)
	if err != nil {
		level = zerolog.WarnLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).With().Timestamp().Str("service", "ftexctl").Logger()

	return app.New(ctx, cfg, prometheus.NewRegistry(), logger)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newAnalyzeCommand(deps *Deps, flags *rootFlags) *cobra.Command {
	var opts service.Options
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Analyze changed tickets, recompute metrics and rebuild entity profiles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, deps, flags)
			if err != nil {
				return err
			}
			defer a.Close()

			tickets, err := a.Source.Tickets(ctx)
			if err != nil {
				return err
			}
			summary, err := a.Processor.ProcessTickets(ctx, tickets, opts)
			if err != nil {
				return err
			}
			if flags.output == "json" {
				return printJSON(deps.Out, summary)
			}
			fmt.Fprintf(deps.Out, "Run %s\n", summary.RunID)
			keys := make([]string, 0, len(summary.Counts))
			for k := range summary.Counts {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Fprintf(deps.Out, "  %-18s %v\n", k+":", summary.Counts[k])
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&opts.Force, "force", false, "Reanalyze every ticket, not just changed ones")
	cmd.Flags().BoolVar(&opts.Enrich, "enrich", false, "Call the enrichment service for analyzed tickets")
	cmd.Flags().BoolVar(&opts.Categorize, "categorize", false, "Batch categorize tickets still without a category")
	return cmd
}

func newRecomputeCommand(deps *Deps, flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "recompute",
		Short: "Recompute dataset metrics from the cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, deps, flags)
			if err != nil {
				return err
			}
			defer a.Close()

			tickets, err := a.Source.Tickets(ctx)
			if err != nil {
				return err
			}
			a.Metrics.Recompute(tickets, a.Settings, a.Cache)
			d, _ := a.Metrics.Dashboard()
			if flags.output == "json" {
				return printJSON(deps.Out, d)
			}
			fmt.Fprintf(deps.Out, "Tickets: %d (open %d, resolved %d)\n", d.TotalTickets, d.OpenTickets, d.ResolvedTickets)
			fmt.Fprintf(deps.Out, "Agents: %d  Entities: %d\n", len(a.Metrics.Agents()), len(a.Metrics.Entities()))
			return nil
		},
	}
}

func newStatsCommand(deps *Deps, flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), deps, flags)
			if err != nil {
				return err
			}
			defer a.Close()

			stats := a.Cache.Stats()
			if flags.output == "json" {
				return printJSON(deps.Out, stats)
			}
			fmt.Fprintf(deps.Out, "Cache dir:       %s\n", stats.CacheDir)
			fmt.Fprintf(deps.Out, "Tickets cached:  %d\n", stats.TicketsCached)
			fmt.Fprintf(deps.Out, "Entities cached: %d\n", stats.EntitiesCached)
			if stats.LastUpdated != "" {
				fmt.Fprintf(deps.Out, "Last updated:    %s\n", stats.LastUpdated)
			}
			return nil
		},
	}
}

func newStaleCommand(deps *Deps, flags *rootFlags) *cobra.Command {
	var maxAge time.Duration
	cmd := &cobra.Command{
		Use:   "stale",
		Short: "List tickets whose cached record is missing or older than --max-age",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if maxAge <= 0 {
				return fmt.Errorf("--max-age must be positive")
			}
			ctx := cmd.Context()
			a, err := openApp(ctx, deps, flags)
			if err != nil {
				return err
			}
			defer a.Close()

			tickets, err := a.Source.Tickets(ctx)
			if err != nil {
				return err
			}
			ids := make([]int64, 0, len(tickets))
			for _, t := range tickets {
				ids = append(ids, t.ID)
			}
			stale := a.Cache.StaleIDs(ids, maxAge)
			if flags.output == "json" {
				return printJSON(deps.Out, map[string]any{"max_age": maxAge.String(), "stale": stale})
			}
			fmt.Fprintf(deps.Out, "%d of %d tickets stale (max age %s)\n", len(stale), len(ids), maxAge)
			for _, id := range stale {
				fmt.Fprintln(deps.Out, id)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&maxAge, "max-age", 24*time.Hour, "Maximum record age")
	return cmd
}

func newInvalidateCommand(deps *Deps, flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "invalidate <id>...",
		Short: "Drop cached records so the next analyze run recomputes them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context(), deps, flags)
			if err != nil {
				return err
			}
			defer a.Close()

			removed := 0
			for _, id := range ids {
				if a.Cache.Invalidate(id) {
					removed++
				}
			}
			fmt.Fprintf(deps.Out, "Invalidated %d of %d\n", removed, len(ids))
			return nil
		},
	}
}

func newPendingCommand(deps *Deps, flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "pending <id>",
		Short: "Show who a ticket is waiting on and for how long",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := openApp(ctx, deps, flags)
			if err != nil {
				return err
			}
			defer a.Close()

			t, err := ingest.Find(ctx, a.Source, ids[0])
			if err != nil {
				return err
			}
			st := pending.StatusFor(t, deps.Now().UTC())
			if flags.output == "json" {
				return printJSON(deps.Out, st)
			}
			fmt.Fprintf(deps.Out, "Ticket %d: waiting on %s for %s\n", t.ID, st.Party, pending.FormatWaiting(st.WaitingDuration))
			fmt.Fprintf(deps.Out, "  last message: %s\n", st.LastMessageRole)
			fmt.Fprintf(deps.Out, "  messages: %d (customer %d, agent %d, notes %d)\n", st.MessageCount, st.CustomerCount, st.AgentCount, st.NoteCount)
			return nil
		},
	}
}

func newImportCommand(deps *Deps, flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Load a JSON ticket export into the database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, deps, flags)
			if err != nil {
				return err
			}
			defer a.Close()
			if a.Store == nil {
				return fmt.Errorf("import needs --database-url or DATABASE_URL")
			}

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			tickets, err := ingest.Parse(f, a.EntityField)
			if err != nil {
				return err
			}
			n, err := a.Store.UpsertTickets(ctx, tickets)
			if err != nil {
				return err
			}
			fmt.Fprintf(deps.Out, "Imported %d tickets\n", n)
			return nil
		},
	}
}

func parseIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid ticket id %q", arg)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/studyforge/studyplanner/config"
	"github.com/studyforge/studyplanner/internal/bootstrap"
	"github.com/studyforge/studyplanner/pkg/logger"
	"github.com/studyforge/studyplanner/pkg/timeutil"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// rootFlags are shared by every subcommand.
type rootFlags struct {
	envFiles []string
	logLevel string
}

func newRootCmd() *cobra.Command {
	var flags rootFlags

	root := &cobra.Command{
		Use:           "studyplanner",
		Short:         "Adaptive study plans with XP, streaks, quests and badges",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringSliceVar(&flags.envFiles, "env-file", []string{".env"}, ".env files to load before reading the environment")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "override LOG_LEVEL")

	root.AddCommand(newMigrateCmd(&flags))
	root.AddCommand(newPlanCmd(&flags))
	root.AddCommand(newRecordCmd(&flags))
	root.AddCommand(newProgressCmd(&flags))
	root.AddCommand(newNotifyCmd(&flags))
	root.AddCommand(newStatusCmd(&flags))
	return root
}

// loadConfig reads .env files and the environment.
func loadConfig(flags *rootFlags) (*config.Config, *logger.Logger, error) {
	if err := config.LoadDotEnv(flags.envFiles...); err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if flags.logLevel != "" {
		cfg.Observability.LogLevel = flags.logLevel
	}

	log := logger.New(logger.Options{
		Level:     logger.ParseLevel(cfg.Observability.LogLevel),
		Format:    cfg.Observability.LogFormat,
		AddCaller: cfg.IsDevelopment(),
		Output:    os.Stderr,
	})
	return cfg, log.With(logger.String("app", cfg.App.Name)), nil
}

// loadApp builds the application. The caller must call Close.
func loadApp(ctx context.Context, flags *rootFlags) (*bootstrap.App, error) {
	cfg, log, err := loadConfig(flags)
	if err != nil {
		return nil, err
	}
	app, err := bootstrap.New(ctx, cfg, log)
	if err != nil {
		_ = log.Sync()
		return nil, err
	}
	return app, nil
}

func closeApp(app *bootstrap.App) {
	app.Close()
	_ = app.Log.Sync()
}

func newMigrateCmd(flags *rootFlags) *cobra.Command {
	var rollback, status bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			app, err := loadApp(ctx, flags)
			if err != nil {
				return err
			}
			defer closeApp(app)

			if app.DB == nil {
				return fmt.Errorf("migrate: DATABASE_URL or DB_HOST is not set")
			}
			out := cmd.OutOrStdout()

			switch {
			case status:
				return printMigrationStatus(ctx, app, out)
			case rollback:
				if err := app.Rollback(ctx); err != nil {
					return err
				}
				_, _ = fmt.Fprintln(out, "rolled back last migration")
				return nil
			}

			n, err := app.Migrate(ctx)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(out, "applied %d migration(s)\n", n)
			return nil
		},
	}
	cmd.Flags().BoolVar(&rollback, "rollback", false, "roll back the last applied migration")
	cmd.Flags().BoolVar(&status, "status", false, "print migration status")
	return cmd
}

func printMigrationStatus(ctx context.Context, app *bootstrap.App, out io.Writer) error {
	statuses, err := app.MigrationStatus(ctx)
	if err != nil {
		return err
	}
	for _, s := range statuses {
		mark := "pending"
		if s.IsApplied {
			mark = "applied"
		}
		_, _ = fmt.Fprintf(out, "%3d  %-28s %s\n", s.Version, s.Name, mark)
	}
	return nil
}

func newStatusCmd(flags *rootFlags) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Check storage, cache and AI provider, list feature flags",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			app, err := loadApp(ctx, flags)
			if err != nil {
				return err
			}
			defer closeApp(app)

			st, err := app.Status(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return printJSON(out, st)
			}

			_, _ = fmt.Fprintf(out, "storage:  %s\n", st.Storage)
			if db := st.Database; db != nil {
				if db.Healthy {
					_, _ = fmt.Fprintf(out, "database: ok in %s, %d/%d conns in use\n", db.PingLatency.Round(time.Microsecond), db.AcquiredConns, db.MaxConns)
				} else {
					_, _ = fmt.Fprintf(out, "database: %s\n", db.Error)
				}
			}
			_, _ = fmt.Fprintf(out, "redis:    %s\n", st.Redis)
			_, _ = fmt.Fprintf(out, "ai:       %s (enabled=%t", st.AIProvider, st.AIEnabled)
			if st.AIBreaker != "" {
				_, _ = fmt.Fprintf(out, ", breaker %s", st.AIBreaker)
			}
			if c := st.AICounts; c != nil {
				_, _ = fmt.Fprintf(out, ", %d calls, %d failed, %d failing in a row", c.Requests, c.TotalFailures, c.ConsecutiveFailures)
			}
			_, _ = fmt.Fprintln(out, ")")
			for _, f := range st.Features {
				_, _ = fmt.Fprintf(out, "  %-24s enabled=%-5t rollout=%d%%\n", f.Name, f.Enabled, f.RolloutPercent)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

// ══════════════════════════════════════════════════════════════════════════════
// OUTPUT HELPERS
// ══════════════════════════════════════════════════════════════════════════════

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parseDate accepts 2006-01-02 or RFC 3339. Empty means today.
func parseDate(s string, loc *time.Location) (time.Time, error) {
	if s == "" {
		return timeutil.StartOfDay(time.Now(), loc), nil
	}
	if t, err := timeutil.ParseDayKey(s, loc); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: want YYYY-MM-DD or RFC 3339", s)
	}
	return t, nil
}

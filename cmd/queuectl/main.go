// Command queuectl is the job queue CLI.
//
// Subcommands:
//
//	enqueue      — add a job to the queue from a JSON string or file
//	list         — list jobs, optionally filtered by state
//	status       — per-state counts, stop flag, and active worker count
//	worker       — start/stop worker loops, requeue stale claims
//	dlq          — inspect and retry dead-lettered jobs
//	config       — get/set the shared queue tunables
//	migrate      — run pending database migrations and exit
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	// Automatically sets GOMEMLIMIT from the cgroup memory limit so that
	// long-running worker processes trigger the Go GC before the OOM killer
	// fires in containers.
	_ "github.com/KimMachineGun/automemlimit"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"github.com/Ridhi-215/queuectl/internal/config"
	"github.com/Ridhi-215/queuectl/internal/queue"
	"github.com/Ridhi-215/queuectl/internal/store"
	"github.com/Ridhi-215/queuectl/internal/worker"
	"github.com/Ridhi-215/queuectl/migrations"
)

func main() {
	root := &cobra.Command{
		Use:   "queuectl",
		Short: "queuectl — durable job queue with retries and a dead-letter queue",
		// Silence default error printing; we print it ourselves with slog.
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	root.AddCommand(
		enqueueCmd(),
		listCmd(),
		statusCmd(),
		workerCmd(),
		dlqCmd(),
		configCmd(),
		migrateCmd(),
	)

	if err := root.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

// withStore loads config, sets up logging and the connection pool, and hands
// a ready Store to fn. Every data-touching subcommand goes through here.
func withStore(cmd *cobra.Command, fn func(ctx context.Context, cfg *config.Config, s *store.Store) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	slog.SetDefault(newLogger(cfg))

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	db, err := newPool(ctx, cfg)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer db.Close()

	return fn(ctx, cfg, store.New(db))
}

// ── enqueue ───────────────────────────────────────────────────────────────────

func enqueueCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "enqueue [job-json]",
		Short: "Add a job to the queue from a JSON string or --file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var raw []byte
			switch {
			case file != "":
				b, err := os.ReadFile(file)
				if err != nil {
					return fmt.Errorf("read job file: %w", err)
				}
				raw = b
			case len(args) == 1:
				raw = []byte(args[0])
			default:
				return errors.New("provide a JSON string argument or --file")
			}

			return withStore(cmd, func(ctx context.Context, _ *config.Config, s *store.Store) error {
				job, err := queue.Enqueue(ctx, s, raw)
				if err != nil {
					return err
				}
				fmt.Printf("Job enqueued: id=%s state=%s max_retries=%d\n",
					job.ID, job.State, job.MaxRetries)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "path to a JSON file describing the job")
	return cmd
}

// ── list / status ─────────────────────────────────────────────────────────────

func listCmd() *cobra.Command {
	var stateFlag string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, oldest first, optionally filtered by state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd, func(ctx context.Context, _ *config.Config, s *store.Store) error {
				var state *store.State
				if stateFlag != "" {
					st, err := parseState(stateFlag)
					if err != nil {
						return err
					}
					state = &st
				}
				jobs, err := s.ListJobs(ctx, state, limit)
				if err != nil {
					return err
				}
				if len(jobs) == 0 {
					fmt.Println("No jobs found.")
					return nil
				}
				for _, j := range jobs {
					fmt.Printf("%s  state=%s attempts=%d max_retries=%d created_at=%s command=%s\n",
						j.ID, j.State, j.Attempts, j.MaxRetries,
						j.CreatedAt.UTC().Format(time.RFC3339), j.Command)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&stateFlag, "state", "", "filter by job state")
	cmd.Flags().IntVar(&limit, "limit", 100, "max number of jobs to list")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show per-state job counts and the worker stop flag",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd, func(ctx context.Context, _ *config.Config, s *store.Store) error {
				sum, err := queue.Status(ctx, s)
				if err != nil {
					return err
				}
				fmt.Println("Job counts:")
				for _, st := range store.States {
					fmt.Printf("  %-10s %d\n", st, sum.Counts[st])
				}
				fmt.Printf("workers:stop flag = %s\n", sum.StopFlag)
				fmt.Printf("active workers    = %d\n", sum.ActiveWorkers)
				return nil
			})
		},
	}
}

// ── worker ────────────────────────────────────────────────────────────────────

func workerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Manage worker loops",
	}
	cmd.AddCommand(workerStartCmd(), workerStopCmd(), workerRequeueStaleCmd())
	return cmd
}

func workerStartCmd() *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start worker loops and block until they exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if count < 1 {
				return errors.New("--count must be at least 1")
			}
			return withStore(cmd, func(ctx context.Context, cfg *config.Config, s *store.Store) error {
				slog.Info("starting workers", "count", count, "poll_interval", cfg.PollInterval)
				pool := worker.NewPool(s, count, cfg.PollInterval)
				return pool.Run(ctx, cfg.ShutdownGrace)
			})
		},
	}
	cmd.Flags().IntVar(&count, "count", 1, "number of workers to start")
	return cmd
}

func workerStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Signal all workers to stop after their current job",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd, func(ctx context.Context, _ *config.Config, s *store.Store) error {
				if err := s.SetSetting(ctx, store.KeyWorkersStop, "1"); err != nil {
					return err
				}
				fmt.Println("Signaled workers to stop (set config workers:stop = 1).")
				return nil
			})
		},
	}
}

func workerRequeueStaleCmd() *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "requeue-stale",
		Short: "Reset processing jobs abandoned by crashed workers back to pending",
		Long: `Reset processing jobs abandoned by crashed workers back to pending.

A worker that dies mid-execution leaves its job in the processing state with
a stale lock. Nothing reclaims such jobs automatically; this command is the
explicit remediation. Check 'status' for active workers before running it —
a job processing for a long time under a live worker is not stale.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd, func(ctx context.Context, _ *config.Config, s *store.Store) error {
				n, err := s.RequeueStale(ctx, olderThan)
				if err != nil {
					return err
				}
				fmt.Printf("Requeued %d stale job(s).\n", n)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 10*time.Minute,
		"how long a job must have been processing to count as stale")
	return cmd
}

// ── dlq ───────────────────────────────────────────────────────────────────────

func dlqCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dlq",
		Short: "Dead-letter queue operations",
	}
	cmd.AddCommand(dlqListCmd(), dlqRetryCmd())
	return cmd
}

func dlqListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List dead jobs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd, func(ctx context.Context, _ *config.Config, s *store.Store) error {
				jobs, err := s.ListDead(ctx, limit)
				if err != nil {
					return err
				}
				if len(jobs) == 0 {
					fmt.Println("DLQ empty.")
					return nil
				}
				for _, j := range jobs {
					lastError := ""
					if j.LastError != nil {
						lastError = *j.LastError
					}
					fmt.Printf("%s  attempts=%d last_error=%s\n", j.ID, j.Attempts, lastError)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 100, "max DLQ jobs to show")
	return cmd
}

func dlqRetryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry <job-id>",
		Short: "Move a dead job back to pending with attempts reset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, _ *config.Config, s *store.Store) error {
				job, err := s.RetryDead(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Printf("Retried job %s: state=%s attempts=%d\n",
					job.ID, job.State, job.Attempts)
				return nil
			})
		},
	}
}

// ── config ────────────────────────────────────────────────────────────────────

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Get or set shared queue tunables",
	}
	cmd.AddCommand(configGetCmd(), configSetCmd())
	return cmd
}

func configGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Print a config value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateSettingKey(args[0]); err != nil {
				return err
			}
			return withStore(cmd, func(ctx context.Context, _ *config.Config, s *store.Store) error {
				v, err := s.GetSetting(ctx, args[0], "")
				if err != nil {
					return err
				}
				fmt.Printf("%s = %s\n", args[0], v)
				return nil
			})
		},
	}
}

func configSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a config value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, value := args[0], args[1]
			if err := validateSetting(key, value); err != nil {
				return err
			}
			return withStore(cmd, func(ctx context.Context, _ *config.Config, s *store.Store) error {
				if err := s.SetSetting(ctx, key, value); err != nil {
					return err
				}
				fmt.Printf("Set config %s = %s\n", key, value)
				return nil
			})
		},
	}
}

func validateSettingKey(key string) error {
	for _, k := range store.KnownSettings {
		if key == k {
			return nil
		}
	}
	return fmt.Errorf("unknown config key %q (known: %v)", key, store.KnownSettings)
}

// validateSetting rejects values that would break a worker reading them:
// a silently ignored bad tunable is worse than an error at set time.
func validateSetting(key, value string) error {
	if err := validateSettingKey(key); err != nil {
		return err
	}
	switch key {
	case store.KeyBackoffBase:
		if n, err := strconv.Atoi(value); err != nil || n < 1 {
			return fmt.Errorf("%s must be an integer >= 1", key)
		}
	case store.KeyDefaultMaxRetries:
		if n, err := strconv.Atoi(value); err != nil || n < 0 {
			return fmt.Errorf("%s must be a non-negative integer", key)
		}
	case store.KeyJobTimeoutSeconds:
		if n, err := strconv.Atoi(value); err != nil || n < 0 {
			return fmt.Errorf("%s must be a non-negative integer (0 = unlimited)", key)
		}
	case store.KeyWorkersStop:
		if value != "0" && value != "1" {
			return fmt.Errorf("%s must be \"0\" or \"1\"", key)
		}
	}
	return nil
}

// ── migrate ───────────────────────────────────────────────────────────────────

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run pending database migrations and exit",
		RunE:  runMigrate,
	}
}

func runMigrate(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	slog.SetDefault(newLogger(cfg))

	slog.Info("running migrations")

	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}

	// golang-migrate requires a *sql.DB. Use pgx's stdlib adapter so the same
	// driver is used project-wide. No pooling needed here — this is a one-shot
	// migration run.
	connCfg, err := pgx.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("parse db url: %w", err)
	}
	db := stdlib.OpenDB(*connCfg)
	defer db.Close() //nolint:errcheck

	driver, err := migratepg.WithInstance(db, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("migrate init: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}

	version, _, _ := m.Version() //nolint:errcheck
	slog.Info("migrations complete", "version", version)
	return nil
}

// ── helpers ───────────────────────────────────────────────────────────────────

func parseState(s string) (store.State, error) {
	for _, st := range store.States {
		if store.State(s) == st {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown state %q (known: %v)", s, store.States)
}

// newPool creates and validates a pgxpool. Retries a few times with linear
// backoff to handle startup races where Postgres is not immediately ready.
func newPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	poolCfg.MaxConns = cfg.DBMaxConns
	poolCfg.MaxConnIdleTime = cfg.DBMaxConnIdleTime

	var (
		db      *pgxpool.Pool
		connErr error
	)
	for attempt := 1; attempt <= 5; attempt++ {
		db, connErr = pgxpool.NewWithConfig(ctx, poolCfg)
		if connErr == nil {
			if connErr = db.Ping(ctx); connErr == nil {
				return db, nil
			}
			db.Close()
		}
		slog.Warn("database not ready, retrying", "attempt", attempt, "error", connErr)
		// time.NewTimer (not time.After) to avoid leaking the timer if ctx
		// is cancelled before the timer fires.
		timer := time.NewTimer(time.Duration(attempt) * time.Second)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	return nil, fmt.Errorf("database unavailable after retries: %w", connErr)
}

// newLogger creates a slog.Logger based on the configured log level and format.
func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

package main

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strconv"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/triage/internal/config"
	"github.com/ehr/triage/internal/domain/triage"
	"github.com/ehr/triage/internal/platform/db"
	"github.com/ehr/triage/migrations"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "triage-server",
		Short: "Hospital triage admission and queueing server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(capacityCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the triage API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, migrationsFS(dir, cfg), logger)
			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "", "Path to migrations directory (default: embedded migrations)")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, migrationsFS(dir, cfg), logger)
			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "", "Path to migrations directory (default: embedded migrations)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func capacityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "capacity",
		Short: "Inspect or change stored department capacity",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the stored capacity table",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCapacityStore(func(ctx context.Context, store triage.CapacityStore, logger zerolog.Logger) error {
				caps, err := triage.LoadCapacities(ctx, store, logger)
				if err != nil {
					return err
				}
				printCapacities(caps)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set <department> <capacity>",
		Short: "Change one department's stored capacity",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("capacity must be an integer: %w", err)
			}
			return withCapacityStore(func(ctx context.Context, store triage.CapacityStore, logger zerolog.Logger) error {
				change, err := setStoredCapacity(ctx, store, logger, args[0], n)
				if err != nil {
					return err
				}
				fmt.Printf("%s: %d -> %d\n", change.Department, change.OldCapacity, change.NewCapacity)
				return nil
			})
		},
	})

	return cmd
}

// setStoredCapacity validates and writes one capacity change without a
// running server. A live server picks the value up on its next start.
func setStoredCapacity(ctx context.Context, store triage.CapacityStore, logger zerolog.Logger, department string, n int) (triage.CapacityChange, error) {
	caps, err := triage.LoadCapacities(ctx, store, logger)
	if err != nil {
		return triage.CapacityChange{}, err
	}
	reg, err := triage.NewRegistry(caps)
	if err != nil {
		return triage.CapacityChange{}, err
	}
	change, err := reg.SetCapacity(department, n)
	if err != nil {
		return triage.CapacityChange{}, err
	}
	if err := store.Save(ctx, reg.Capacities()); err != nil {
		return triage.CapacityChange{}, fmt.Errorf("save department capacity: %w", err)
	}
	return change, nil
}

func printCapacities(caps map[string]int) {
	names := make([]string, 0, len(caps))
	for name := range caps {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Printf("%-24s %s\n", "DEPARTMENT", "CAPACITY")
	for _, name := range names {
		fmt.Printf("%-24s %d\n", name, caps[name])
	}
}

func withCapacityStore(fn func(context.Context, triage.CapacityStore, zerolog.Logger) error) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := context.Background()
	var pool *pgxpool.Pool
	if cfg.ResolvedCapacityStore() == config.StorePostgres {
		pool, err = openPool(ctx, cfg)
		if err != nil {
			return err
		}
		defer pool.Close()
	}

	store, err := newCapacityStore(cfg, pool)
	if err != nil {
		return err
	}
	return fn(ctx, store, logger)
}

func loadConfig() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	if err := cfg.Validate(); err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("invalid config: %w", err)
	}
	return cfg, newLogger(cfg), nil
}

// newLogger builds a JSON logger, or a console logger in development. An
// unparseable LOG_LEVEL falls back to info.
func newLogger(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	return logger.Level(level)
}

func openPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	return db.NewPool(ctx, db.PoolConfig{
		URL:      cfg.DatabaseURL,
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
	})
}

// migrationsFS prefers an explicit --dir, then MIGRATIONS_DIR, then the
// migrations compiled into the binary.
func migrationsFS(dir string, cfg *config.Config) fs.FS {
	if dir == "" {
		dir = cfg.MigrationsDir
	}
	if dir == "" {
		return migrations.FS
	}
	return os.DirFS(dir)
}

func newCapacityStore(cfg *config.Config, pool *pgxpool.Pool) (triage.CapacityStore, error) {
	switch cfg.ResolvedCapacityStore() {
	case config.StoreFile:
		return triage.NewFileCapacityStore(cfg.CapacityFile), nil
	case config.StoreMemory:
		return triage.NewMemoryCapacityStore(nil), nil
	case config.StorePostgres:
		if pool == nil {
			return nil, fmt.Errorf("capacity store %q needs a database pool", config.StorePostgres)
		}
		return triage.NewCapacityStorePG(pool), nil
	default:
		return nil, fmt.Errorf("unknown capacity store %q", cfg.CapacityStore)
	}
}

func newHistoryStore(cfg *config.Config, pool *pgxpool.Pool) (triage.HistoryRepository, error) {
	switch cfg.ResolvedHistoryStore() {
	case config.StoreMemory:
		return triage.NewMemoryHistory(), nil
	case config.StorePostgres:
		if pool == nil {
			return nil, fmt.Errorf("history store %q needs a database pool", config.StorePostgres)
		}
		return triage.NewHistoryRepoPG(pool), nil
	default:
		return nil, fmt.Errorf("unknown history store %q", cfg.HistoryStore)
	}
}

// Command shiftsync serves the shift-cell sync engine and offers operator commands against its store.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/fang"
	"github.com/google/uuid"
	"github.com/hylla/shiftsync/internal/adapters/storage/postgres"
	"github.com/hylla/shiftsync/internal/adapters/storage/sqlite"
	"github.com/hylla/shiftsync/internal/app"
	"github.com/hylla/shiftsync/internal/config"
	"github.com/hylla/shiftsync/internal/platform"
	"github.com/spf13/cobra"
)

// version is stamped at build time.
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := fang.Execute(ctx, newRootCmd(os.Stdout, os.Stderr), fang.WithVersion(version))
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// run executes one command line without fang styling; tests drive the CLI through it.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	root.SilenceErrors = true
	return root.ExecuteContext(ctx)
}

// rootOptions carries the persistent flags shared by every subcommand.
type rootOptions struct {
	configPath string
	envPath    string
	dbPath     string
	devMode    bool
	quiet      bool
	jsonOutput bool

	stdout io.Writer
	stderr io.Writer
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}
	opts := &rootOptions{stdout: stdout, stderr: stderr}
	devDefault := version == "dev"
	if envDev, ok := parseBoolEnv("SHIFTSYNC_DEV_MODE"); ok {
		devDefault = envDev
	}

	cmd := &cobra.Command{
		Use:          "shiftsync",
		Short:        "Collaborative shift-schedule cell sync",
		Version:      version,
		SilenceUsage: true,
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "path to config TOML (default: platform config dir, or $SHIFTSYNC_CONFIG)")
	flags.StringVar(&opts.envPath, "env-file", "", "path to a dotenv file loaded before config (default: next to the config)")
	flags.StringVar(&opts.dbPath, "db", "", "path to the sqlite database (overrides config)")
	flags.BoolVar(&opts.devMode, "dev", devDefault, "use dev mode paths (shiftsync-dev)")
	flags.BoolVar(&opts.quiet, "quiet", false, "suppress console logs")
	flags.BoolVar(&opts.jsonOutput, "json", false, "print command results as JSON instead of tables")

	cmd.AddCommand(
		newPathsCmd(opts),
		newServeCmd(opts),
		newGridCmd(opts),
		newOpsCmd(opts),
		newPlanCmd(opts),
		newSnapshotCmd(opts),
	)
	return cmd
}

// runtimeEnv is the resolved configuration and logging for one command.
type runtimeEnv struct {
	paths      platform.Paths
	configPath string
	defaults   config.Config
	cfg        config.Config
	logger     *runtimeLogger
}

// Close releases the logger sinks.
func (e *runtimeEnv) Close() {
	if e == nil || e.logger == nil {
		return
	}
	if err := e.logger.Close(); err != nil {
		e.logger.Warn("close runtime log sink failed", "err", err)
	}
}

// resolve loads dotenv, config, and logging in that order; env vars win over the TOML file.
func (o *rootOptions) resolve(command string) (*runtimeEnv, error) {
	paths, err := platform.DefaultPathsWithOptions(platform.Options{AppName: platform.AppName, DevMode: o.devMode})
	if err != nil {
		return nil, err
	}

	envPath := strings.TrimSpace(o.envPath)
	if envPath == "" {
		envPath = paths.EnvPath
	}
	if err := config.LoadDotEnv(envPath); err != nil {
		return nil, err
	}

	configPath := strings.TrimSpace(o.configPath)
	if configPath == "" {
		if envConfig := strings.TrimSpace(os.Getenv("SHIFTSYNC_CONFIG")); envConfig != "" {
			configPath = envConfig
		} else {
			configPath = paths.ConfigPath
		}
	}

	defaults := config.Default(paths.DBPath)
	cfg, err := config.Load(configPath, defaults)
	if err != nil {
		return nil, fmt.Errorf("load config %q: %w", configPath, err)
	}
	if dbPath := strings.TrimSpace(o.dbPath); dbPath != "" {
		cfg.Database.Driver = config.DriverSQLite
		cfg.Database.Path = dbPath
	}

	logger, err := newRuntimeLogger(o.stderr, platform.AppName, o.devMode, cfg.Logging, time.Now)
	if err != nil {
		return nil, fmt.Errorf("configure runtime logger: %w", err)
	}
	if o.quiet {
		logger.SetConsoleEnabled(false)
	}
	logger.Debug("runtime paths resolved", "command", command, "config_path", configPath, "env_path", envPath, "data_dir", paths.DataDir)
	logger.Info("configuration loaded", "command", command, "driver", cfg.Database.Driver, "log_level", cfg.Logging.Level)
	if devPath := logger.DevLogPath(); devPath != "" {
		logger.Info("dev file logging enabled", "path", devPath)
	}
	return &runtimeEnv{
		paths:      paths,
		configPath: configPath,
		defaults:   defaults,
		cfg:        cfg,
		logger:     logger,
	}, nil
}

// repository is a storage backend the CLI can close.
type repository interface {
	app.Repository
	Close() error
}

// openRepository opens the backend named by the config.
func openRepository(ctx context.Context, cfg config.Config, logger *runtimeLogger) (repository, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Database.Driver)) {
	case "", config.DriverSQLite:
		logger.Info("opening sqlite repository", "db_path", cfg.Database.Path)
		repo, err := sqlite.Open(cfg.Database.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite repository: %w", err)
		}
		return repo, nil
	case config.DriverPostgres:
		logger.Info("opening postgres repository")
		repo, err := postgres.Open(ctx, cfg.Database.DSN, postgres.Options{})
		if err != nil {
			return nil, fmt.Errorf("open postgres repository: %w", err)
		}
		return repo, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}
}

// newService builds the engine from config; recorder may be nil.
func newService(repo app.Repository, cfg config.Config, logger app.Logger, recorder app.Recorder) *app.Service {
	return app.NewService(repo, uuid.NewString, nil, app.ServiceConfig{
		AllowedValues:   cfg.Cells.AllowedValues,
		LockTTL:         cfg.Locks.TTL.Std(),
		DefaultOpsLimit: cfg.Feed.DefaultOpsLimit,
		MaxOpsLimit:     cfg.Feed.MaxOpsLimit,
		PollInterval:    cfg.Feed.PollInterval.Std(),
		StreamBatchSize: cfg.Feed.StreamBatchSize,
		Logger:          logger,
		Recorder:        recorder,
	})
}

// withService resolves config, opens storage, and hands a ready service to fn.
func (o *rootOptions) withService(ctx context.Context, command string, fn func(*runtimeEnv, *app.Service) error) error {
	env, err := o.resolve(command)
	if err != nil {
		return err
	}
	defer env.Close()

	repo, err := openRepository(ctx, env.cfg, env.logger)
	if err != nil {
		env.logger.Error("repository open failed", "err", err)
		return err
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			env.logger.Warn("repository close failed", "err", closeErr)
		}
	}()

	env.logger.Info("command flow start", "command", command)
	if err := fn(env, newService(repo, env.cfg, env.logger, nil)); err != nil {
		env.logger.Error("command flow failed", "command", command, "err", err)
		return err
	}
	env.logger.Info("command flow complete", "command", command)
	return nil
}

func newPathsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "paths",
		Short: "Print resolved config and data paths",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			paths, err := platform.DefaultPathsWithOptions(platform.Options{AppName: platform.AppName, DevMode: opts.devMode})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "app: %s\n", platform.AppName)
			_, _ = fmt.Fprintf(out, "dev_mode: %t\n", opts.devMode)
			_, _ = fmt.Fprintf(out, "config: %s\n", paths.ConfigPath)
			_, _ = fmt.Fprintf(out, "env: %s\n", paths.EnvPath)
			_, _ = fmt.Fprintf(out, "data_dir: %s\n", paths.DataDir)
			_, _ = fmt.Fprintf(out, "db: %s\n", paths.DBPath)
			return nil
		},
	}
}

// parseBoolEnv reads one boolean env var; ok is false when unset or unparsable.
func parseBoolEnv(name string) (bool, bool) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}

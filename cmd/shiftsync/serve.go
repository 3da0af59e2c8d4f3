package main

import (
	"context"
	"fmt"

	"github.com/hylla/shiftsync/internal/adapters/metrics"
	"github.com/hylla/shiftsync/internal/adapters/ratelimit"
	serveradapter "github.com/hylla/shiftsync/internal/adapters/server"
	servercommon "github.com/hylla/shiftsync/internal/adapters/server/common"
	"github.com/hylla/shiftsync/internal/adapters/server/httpapi"
	"github.com/hylla/shiftsync/internal/app"
	"github.com/hylla/shiftsync/internal/config"
	"github.com/hylla/shiftsync/internal/domain"
	"github.com/spf13/cobra"
)

// serveCommandRunner starts the HTTP+MCP serve flow; tests replace it.
var serveCommandRunner = func(ctx context.Context, cfg serveradapter.Config, deps serveradapter.Dependencies) error {
	return serveradapter.Run(ctx, cfg, deps)
}

// serveOptions are flag overrides for the server section of the config.
type serveOptions struct {
	httpBind    string
	apiEndpoint string
	mcpEndpoint string
	noWatch     bool
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	var serveOpts serveOptions
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API, change feed, and MCP endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := opts.resolve("serve")
			if err != nil {
				return err
			}
			defer env.Close()

			if cmd.Flags().Changed("http") {
				env.cfg.Server.HTTPBind = serveOpts.httpBind
			}
			if cmd.Flags().Changed("api-endpoint") {
				env.cfg.Server.APIEndpoint = serveOpts.apiEndpoint
			}
			if cmd.Flags().Changed("mcp-endpoint") {
				env.cfg.Server.MCPEndpoint = serveOpts.mcpEndpoint
			}
			if err := runServe(cmd.Context(), env, !serveOpts.noWatch); err != nil {
				env.logger.Error("command flow failed", "command", "serve", "err", err)
				return fmt.Errorf("run serve command: %w", err)
			}
			env.logger.Info("command flow complete", "command", "serve")
			return nil
		},
	}
	cmd.Flags().StringVar(&serveOpts.httpBind, "http", "", "HTTP listen address (overrides server.http_bind)")
	cmd.Flags().StringVar(&serveOpts.apiEndpoint, "api-endpoint", "", "HTTP API base endpoint (overrides server.api_endpoint)")
	cmd.Flags().StringVar(&serveOpts.mcpEndpoint, "mcp-endpoint", "", "MCP endpoint (overrides server.mcp_endpoint)")
	cmd.Flags().BoolVar(&serveOpts.noWatch, "no-watch", false, "do not reload allowed values when the config file changes")
	return cmd
}

// runServe wires storage, metrics, rate limiting, and config reload into one server run.
func runServe(ctx context.Context, env *runtimeEnv, watch bool) error {
	cfg := env.cfg
	logger := env.logger

	repo, err := openRepository(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			logger.Warn("repository close failed", "err", closeErr)
		}
	}()

	recorder := metrics.NewRecorder()
	svc := newService(repo, cfg, logger, recorder)
	adapter := servercommon.NewAppServiceAdapter(svc)

	var limiter httpapi.WriteLimiter
	if cfg.RateLimit.PerSecond > 0 {
		writeLimiter, err := ratelimit.New(ratelimit.Config{
			PerSecond: int(cfg.RateLimit.PerSecond),
			Store:     cfg.RateLimit.Store,
			RedisURL:  cfg.RateLimit.RedisURL,
		})
		if err != nil {
			return fmt.Errorf("configure write rate limit: %w", err)
		}
		defer func() {
			if closeErr := writeLimiter.Close(); closeErr != nil {
				logger.Warn("rate limiter close failed", "err", closeErr)
			}
		}()
		limiter = writeLimiter
		logger.Info("write rate limit enabled", "per_second", cfg.RateLimit.PerSecond, "store", cfg.RateLimit.Store)
	}

	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if watch {
		go watchAllowedValues(serveCtx, env, svc)
	}

	logger.Info("serve starting", "http_bind", cfg.Server.HTTPBind, "api_endpoint", cfg.Server.APIEndpoint, "mcp_endpoint", cfg.Server.MCPEndpoint)
	return serveCommandRunner(serveCtx, serveradapter.Config{
		HTTPBind:       cfg.Server.HTTPBind,
		APIEndpoint:    cfg.Server.APIEndpoint,
		MCPEndpoint:    cfg.Server.MCPEndpoint,
		ServerName:     "shiftsync",
		ServerVersion:  version,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Stream: httpapi.Config{
			PingInterval: cfg.Feed.PingInterval.Std(),
			MaxSession:   cfg.Feed.MaxSession.Std(),
		},
	}, serveradapter.Dependencies{
		Cells:     adapter,
		Locks:     adapter,
		Feed:      adapter,
		Snapshots: adapter,
		Reconcile: adapter,
		Limiter:   limiter,
		Ready:     adapter,
		Metrics:   recorder.Handler(),
		Logger:    logger,
	})
}

// watchAllowedValues applies allowed-value edits from the config file to the running service.
// Other settings need a restart.
func watchAllowedValues(ctx context.Context, env *runtimeEnv, svc *app.Service) {
	err := config.Watch(ctx, env.configPath, env.defaults, func(next config.Config, err error) {
		if err != nil {
			env.logger.Warn("config reload rejected", "config_path", env.configPath, "err", err)
			return
		}
		svc.SetAllowedValues(domain.NewValueSet(next.Cells.AllowedValues))
		env.logger.Info("allowed values reloaded", "config_path", env.configPath, "values", next.Cells.AllowedValues)
	})
	if err != nil {
		env.logger.Warn("config watch unavailable", "config_path", env.configPath, "err", err)
	}
}

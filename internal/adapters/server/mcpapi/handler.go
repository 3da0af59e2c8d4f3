// Package mcpapi provides a stateless MCP streamable-HTTP adapter.
package mcpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/hylla/shiftsync/internal/adapters/server/common"
	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
)

// Config captures MCP transport configuration.
type Config struct {
	ServerName    string
	ServerVersion string
	EndpointPath  string
}

// Services bundles the app-facing contracts exposed as tools; nil optional services register no tools.
type Services struct {
	Cells     common.CellService
	Locks     common.LockService
	Feed      common.FeedService
	Snapshots common.SnapshotService
	Reconcile common.ReconcileService
}

// Handler wraps one stateless MCP streamable HTTP handler.
type Handler struct {
	httpHandler http.Handler
}

// NewHandler builds one stateless MCP adapter with cell tools and optional lock, feed, snapshot, and reconcile tools.
func NewHandler(cfg Config, services Services) (*Handler, error) {
	if services.Cells == nil {
		return nil, fmt.Errorf("cell service is required")
	}
	cfg = normalizeConfig(cfg)

	mcpSrv := mcpserver.NewMCPServer(
		cfg.ServerName,
		cfg.ServerVersion,
		mcpserver.WithToolCapabilities(false),
	)
	registerCellTools(mcpSrv, services.Cells)
	if services.Locks != nil {
		registerLockTool(mcpSrv, services.Locks)
	}
	if services.Feed != nil {
		registerFeedTool(mcpSrv, services.Feed)
	}
	if services.Snapshots != nil {
		registerSnapshotTools(mcpSrv, services.Snapshots)
	}
	if services.Reconcile != nil {
		registerReconcileTool(mcpSrv, services.Reconcile)
	}

	streamable := mcpserver.NewStreamableHTTPServer(
		mcpSrv,
		mcpserver.WithEndpointPath(cfg.EndpointPath),
		mcpserver.WithStateLess(true),
	)
	return &Handler{httpHandler: streamable}, nil
}

// ServeHTTP handles one MCP streamable HTTP request.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.httpHandler == nil {
		http.Error(w, "mcp handler unavailable", http.StatusServiceUnavailable)
		return
	}
	h.httpHandler.ServeHTTP(w, r)
}

// normalizeConfig applies deterministic defaults to MCP adapter config.
func normalizeConfig(cfg Config) Config {
	cfg.ServerName = strings.TrimSpace(cfg.ServerName)
	if cfg.ServerName == "" {
		cfg.ServerName = "shiftsync"
	}
	cfg.ServerVersion = strings.TrimSpace(cfg.ServerVersion)
	if cfg.ServerVersion == "" {
		cfg.ServerVersion = "dev"
	}
	cfg.EndpointPath = strings.TrimSpace(cfg.EndpointPath)
	if cfg.EndpointPath == "" {
		cfg.EndpointPath = "/mcp"
	}
	if !strings.HasPrefix(cfg.EndpointPath, "/") {
		cfg.EndpointPath = "/" + cfg.EndpointPath
	}
	cfg.EndpointPath = "/" + strings.Trim(cfg.EndpointPath, "/")
	return cfg
}

// registerCellTools registers the `shiftsync.get_cell`, `shiftsync.get_grid`, and `shiftsync.write_cell` tools.
func registerCellTools(srv *mcpserver.MCPServer, cells common.CellService) {
	srv.AddTool(
		mcp.NewTool(
			"shiftsync.get_cell",
			mcp.WithDescription("Read one cell; an unwritten cell reports a null value at version 0."),
			mcp.WithString("team", mcp.Required(), mcp.Description("Team identifier")),
			mcp.WithString("day", mcp.Required(), mcp.Description("Calendar day (YYYY-MM-DD)")),
			mcp.WithString("employee", mcp.Required(), mcp.Description("Employee identifier")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			key, errResult := requireCellKey(req)
			if errResult != nil {
				return errResult, nil
			}
			cell, err := cells.GetCell(ctx, common.GetCellRequest{Team: key.team, Day: key.day, Employee: key.employee})
			if err != nil {
				return toolResultFromError(err), nil
			}
			result, err := mcp.NewToolResultJSON(cell)
			if err != nil {
				return nil, fmt.Errorf("encode get_cell result: %w", err)
			}
			return result, nil
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"shiftsync.get_grid",
			mcp.WithDescription("Read every written cell and active lock of one team/day with the live version."),
			mcp.WithString("team", mcp.Required(), mcp.Description("Team identifier")),
			mcp.WithString("day", mcp.Required(), mcp.Description("Calendar day (YYYY-MM-DD)")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			team, err := req.RequireString("team")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			day, err := req.RequireString("day")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			grid, err := cells.GetGrid(ctx, common.GetGridRequest{Team: team, Day: day})
			if err != nil {
				return toolResultFromError(err), nil
			}
			result, err := mcp.NewToolResultJSON(grid)
			if err != nil {
				return nil, fmt.Errorf("encode get_grid result: %w", err)
			}
			return result, nil
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"shiftsync.write_cell",
			mcp.WithDescription("Write one cell against the version it was read at. A stale base version returns a conflict, not an error."),
			mcp.WithString("team", mcp.Required(), mcp.Description("Team identifier")),
			mcp.WithString("day", mcp.Required(), mcp.Description("Calendar day (YYYY-MM-DD)")),
			mcp.WithString("employee", mcp.Required(), mcp.Description("Employee identifier")),
			mcp.WithString("value", mcp.Description("Shift code; empty clears the cell")),
			mcp.WithNumber("base_cell_version", mcp.Required(), mcp.Description("Cell version the value was chosen against")),
			mcp.WithString("client_id", mcp.Required(), mcp.Description("Stable writer identifier")),
			mcp.WithNumber("client_seq", mcp.Required(), mcp.Description("Per-writer sequence number; retries reuse it")),
			mcp.WithString("actor", mcp.Required(), mcp.Description("User recorded on the operation")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			var args struct {
				Team            string `json:"team"`
				Day             string `json:"day"`
				Employee        string `json:"employee"`
				Value           string `json:"value"`
				BaseCellVersion int64  `json:"base_cell_version"`
				ClientID        string `json:"client_id"`
				ClientSeq       int64  `json:"client_seq"`
				Actor           string `json:"actor"`
			}
			if err := req.BindArguments(&args); err != nil {
				return invalidRequestToolResult(err), nil
			}
			written, err := cells.WriteCell(ctx, common.WriteCellRequest{
				Team:            args.Team,
				Day:             args.Day,
				Employee:        args.Employee,
				Value:           args.Value,
				BaseCellVersion: args.BaseCellVersion,
				ClientID:        args.ClientID,
				ClientSeq:       args.ClientSeq,
				Actor:           args.Actor,
			})
			if err != nil {
				return toolResultFromError(err), nil
			}
			result, err := mcp.NewToolResultJSON(written)
			if err != nil {
				return nil, fmt.Errorf("encode write_cell result: %w", err)
			}
			return result, nil
		},
	)
}

// registerLockTool registers the `shiftsync.lock_cell` tool.
func registerLockTool(srv *mcpserver.MCPServer, locks common.LockService) {
	srv.AddTool(
		mcp.NewTool(
			"shiftsync.lock_cell",
			mcp.WithDescription("Acquire, renew, or release an advisory editing lock. Locks never block writes."),
			mcp.WithString("team", mcp.Required(), mcp.Description("Team identifier")),
			mcp.WithString("day", mcp.Required(), mcp.Description("Calendar day (YYYY-MM-DD)")),
			mcp.WithString("employee", mcp.Required(), mcp.Description("Employee identifier")),
			mcp.WithString("action", mcp.Required(), mcp.Description("Lock action"), mcp.Enum("acquire", "renew", "release")),
			mcp.WithString("actor", mcp.Required(), mcp.Description("User taking the action")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			key, errResult := requireCellKey(req)
			if errResult != nil {
				return errResult, nil
			}
			action, err := req.RequireString("action")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			actor, err := req.RequireString("actor")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			lock, err := locks.Lock(ctx, common.LockRequest{
				Team:     key.team,
				Day:      key.day,
				Employee: key.employee,
				Action:   action,
				Actor:    actor,
			})
			if err != nil && !errors.Is(err, common.ErrLockNotHeld) {
				return toolResultFromError(err), nil
			}
			result, encodeErr := mcp.NewToolResultJSON(lock)
			if encodeErr != nil {
				return nil, fmt.Errorf("encode lock_cell result: %w", encodeErr)
			}
			// A failed renew still reports the current holder.
			result.IsError = err != nil
			return result, nil
		},
	)
}

// registerFeedTool registers the `shiftsync.list_ops` catch-up tool.
func registerFeedTool(srv *mcpserver.MCPServer, feed common.FeedService) {
	srv.AddTool(
		mcp.NewTool(
			"shiftsync.list_ops",
			mcp.WithDescription("List logged operations after a sequence watermark in ascending order."),
			mcp.WithString("team", mcp.Required(), mcp.Description("Team identifier")),
			mcp.WithString("day", mcp.Description("Optional calendar day filter (YYYY-MM-DD)")),
			mcp.WithNumber("since", mcp.Description("Return operations with a greater sequence number")),
			mcp.WithNumber("limit", mcp.Description("Maximum rows to return")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			var args struct {
				Team  string `json:"team"`
				Day   string `json:"day"`
				Since int64  `json:"since"`
				Limit int    `json:"limit"`
			}
			if err := req.BindArguments(&args); err != nil {
				return invalidRequestToolResult(err), nil
			}
			if strings.TrimSpace(args.Team) == "" {
				return mcp.NewToolResultError(`invalid_request: required argument "team" not found`), nil
			}
			page, err := feed.ListOps(ctx, common.ListOpsRequest{
				Team:  args.Team,
				Day:   args.Day,
				Since: args.Since,
				Limit: args.Limit,
			})
			if err != nil {
				return toolResultFromError(err), nil
			}
			result, err := mcp.NewToolResultJSON(page)
			if err != nil {
				return nil, fmt.Errorf("encode list_ops result: %w", err)
			}
			return result, nil
		},
	)
}

// cellKeyArgs holds the three required cell coordinates.
type cellKeyArgs struct {
	team     string
	day      string
	employee string
}

// requireCellKey reads team, day, and employee or returns the tool error to send.
func requireCellKey(req mcp.CallToolRequest) (cellKeyArgs, *mcp.CallToolResult) {
	team, err := req.RequireString("team")
	if err != nil {
		return cellKeyArgs{}, mcp.NewToolResultError(err.Error())
	}
	day, err := req.RequireString("day")
	if err != nil {
		return cellKeyArgs{}, mcp.NewToolResultError(err.Error())
	}
	employee, err := req.RequireString("employee")
	if err != nil {
		return cellKeyArgs{}, mcp.NewToolResultError(err.Error())
	}
	return cellKeyArgs{team: team, day: day, employee: employee}, nil
}

// toolResultFromError maps service errors into MCP-visible tool errors.
func toolResultFromError(err error) *mcp.CallToolResult {
	switch {
	case err == nil:
		return mcp.NewToolResultError("unknown error")
	case errors.Is(err, common.ErrDisallowedValue):
		return mcp.NewToolResultError("disallowed_value: " + err.Error())
	case errors.Is(err, common.ErrRateLimited):
		return mcp.NewToolResultError("rate_limited: " + err.Error())
	case errors.Is(err, common.ErrLockNotHeld):
		return mcp.NewToolResultError("lock_not_held: " + err.Error())
	case errors.Is(err, common.ErrInvalidRequest):
		return mcp.NewToolResultError("invalid_request: " + err.Error())
	case errors.Is(err, common.ErrNotFound):
		return mcp.NewToolResultError("not_found: " + err.Error())
	default:
		return mcp.NewToolResultError("internal_error: " + err.Error())
	}
}

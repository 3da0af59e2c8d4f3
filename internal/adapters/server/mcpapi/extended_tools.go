package mcpapi

import (
	"context"
	"fmt"
	"strings"

	"github.com/hylla/shiftsync/internal/adapters/server/common"
	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
)

// registerSnapshotTools registers snapshot create, list, and restore tools.
func registerSnapshotTools(srv *mcpserver.MCPServer, snapshots common.SnapshotService) {
	srv.AddTool(
		mcp.NewTool(
			"shiftsync.create_snapshot",
			mcp.WithDescription("Capture every written cell of one team/day."),
			mcp.WithString("team", mcp.Required(), mcp.Description("Team identifier")),
			mcp.WithString("day", mcp.Required(), mcp.Description("Calendar day (YYYY-MM-DD)")),
			mcp.WithString("actor", mcp.Required(), mcp.Description("User recorded as the creator")),
			mcp.WithString("note", mcp.Description("Optional note")),
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
			actor, err := req.RequireString("actor")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			snapshot, err := snapshots.CreateSnapshot(ctx, common.CreateSnapshotRequest{
				Team:  team,
				Day:   day,
				Actor: actor,
				Note:  req.GetString("note", ""),
			})
			if err != nil {
				return toolResultFromError(err), nil
			}
			result, err := mcp.NewToolResultJSON(snapshot)
			if err != nil {
				return nil, fmt.Errorf("encode create_snapshot result: %w", err)
			}
			return result, nil
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"shiftsync.list_snapshots",
			mcp.WithDescription("List snapshots of one team/day, newest first."),
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
			rows, err := snapshots.ListSnapshots(ctx, common.ListSnapshotsRequest{Team: team, Day: day})
			if err != nil {
				return toolResultFromError(err), nil
			}
			result, err := mcp.NewToolResultJSON(map[string]any{
				"snapshots": rows,
			})
			if err != nil {
				return nil, fmt.Errorf("encode list_snapshots result: %w", err)
			}
			return result, nil
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"shiftsync.restore_snapshot",
			mcp.WithDescription("Replay one snapshot through reconciliation; cells written after the capture are cleared."),
			mcp.WithString("snapshot_id", mcp.Required(), mcp.Description("Snapshot identifier")),
			mcp.WithString("actor", mcp.Required(), mcp.Description("User recorded on the restore operations")),
			mcp.WithString("client_id", mcp.Description("Optional writer identifier; reuse it to make reruns idempotent")),
			mcp.WithBoolean("dry_run", mcp.Description("Report the plan without writing")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			snapshotID, err := req.RequireString("snapshot_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			actor, err := req.RequireString("actor")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			restored, err := snapshots.RestoreSnapshot(ctx, common.RestoreSnapshotRequest{
				ID:       snapshotID,
				Actor:    actor,
				ClientID: req.GetString("client_id", ""),
				DryRun:   req.GetBool("dry_run", false),
			})
			if err != nil {
				return toolResultFromError(err), nil
			}
			result, err := mcp.NewToolResultJSON(restored)
			if err != nil {
				return nil, fmt.Errorf("encode restore_snapshot result: %w", err)
			}
			return result, nil
		},
	)
}

// registerReconcileTool registers the `shiftsync.reconcile` bulk tool.
func registerReconcileTool(srv *mcpserver.MCPServer, reconcile common.ReconcileService) {
	srv.AddTool(
		mcp.NewTool(
			"shiftsync.reconcile",
			mcp.WithDescription("Bring a team's cells to a target state, writing only cells that differ."),
			mcp.WithString("team", mcp.Required(), mcp.Description("Team identifier")),
			mcp.WithString("actor", mcp.Required(), mcp.Description("User recorded on the operations")),
			mcp.WithString("client_id", mcp.Description("Optional writer identifier; reuse it to make reruns idempotent")),
			mcp.WithArray("cells", mcp.Required(), mcp.Description("Target cells as {day, employee, value} objects")),
			mcp.WithArray("days", mcp.Description("Extra days to compare"), mcp.WithStringItems()),
			mcp.WithBoolean("clear_missing", mcp.Description("Clear written cells in range that cells does not mention")),
			mcp.WithBoolean("dry_run", mcp.Description("Report the plan without writing")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			var args struct {
				Team         string              `json:"team"`
				Actor        string              `json:"actor"`
				ClientID     string              `json:"client_id"`
				Cells        []common.CellTarget `json:"cells"`
				Days         []string            `json:"days"`
				ClearMissing bool                `json:"clear_missing"`
				DryRun       bool                `json:"dry_run"`
			}
			if err := req.BindArguments(&args); err != nil {
				return invalidRequestToolResult(err), nil
			}
			if strings.TrimSpace(args.Team) == "" {
				return mcp.NewToolResultError(`invalid_request: required argument "team" not found`), nil
			}
			if strings.TrimSpace(args.Actor) == "" {
				return mcp.NewToolResultError(`invalid_request: required argument "actor" not found`), nil
			}
			reconciled, err := reconcile.Reconcile(ctx, common.ReconcileRequest{
				Team:         args.Team,
				Actor:        args.Actor,
				ClientID:     args.ClientID,
				Cells:        append([]common.CellTarget(nil), args.Cells...),
				Days:         append([]string(nil), args.Days...),
				ClearMissing: args.ClearMissing,
				DryRun:       args.DryRun,
			})
			if err != nil {
				return toolResultFromError(err), nil
			}
			result, err := mcp.NewToolResultJSON(reconciled)
			if err != nil {
				return nil, fmt.Errorf("encode reconcile result: %w", err)
			}
			return result, nil
		},
	)
}

// invalidRequestToolResult wraps argument-binding failures as deterministic tool errors.
func invalidRequestToolResult(err error) *mcp.CallToolResult {
	if err == nil {
		return mcp.NewToolResultError("invalid_request: malformed arguments")
	}
	return mcp.NewToolResultError("invalid_request: " + err.Error())
}

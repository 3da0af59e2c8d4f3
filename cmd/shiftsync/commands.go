package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	servercommon "github.com/hylla/shiftsync/internal/adapters/server/common"
	"github.com/hylla/shiftsync/internal/app"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("62"))
)

func newGridCmd(opts *rootOptions) *cobra.Command {
	var req servercommon.GetGridRequest
	cmd := &cobra.Command{
		Use:   "grid",
		Short: "Show every cell and active lock of one team/day",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withService(cmd.Context(), "grid", func(_ *runtimeEnv, svc *app.Service) error {
				grid, err := servercommon.NewAppServiceAdapter(svc).GetGrid(cmd.Context(), req)
				if err != nil {
					return err
				}
				if opts.jsonOutput {
					return writeJSON(cmd.OutOrStdout(), grid)
				}
				lockedBy := make(map[string]string, len(grid.Locks))
				for _, lock := range grid.Locks {
					lockedBy[lock.Employee] = lock.LockedBy
				}
				rows := make([][]string, 0, len(grid.Cells))
				for _, cell := range grid.Cells {
					rows = append(rows, []string{
						cell.Employee,
						valueOrDash(cell.Value),
						strconv.FormatInt(cell.Version, 10),
						dashIfEmpty(cell.UpdatedBy),
						dashIfEmpty(lockedBy[cell.Employee]),
					})
				}
				if err := renderTable(cmd.OutOrStdout(), []string{"EMPLOYEE", "VALUE", "VERSION", "UPDATED BY", "LOCKED BY"}, rows); err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "live version: %d\n", grid.LiveVersion)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&req.Team, "team", "", "team identifier")
	cmd.Flags().StringVar(&req.Day, "day", "", "schedule day (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("team")
	_ = cmd.MarkFlagRequired("day")
	return cmd
}

func newOpsCmd(opts *rootOptions) *cobra.Command {
	var req servercommon.ListOpsRequest
	cmd := &cobra.Command{
		Use:   "ops",
		Short: "List operation log entries after a sequence number",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withService(cmd.Context(), "ops", func(_ *runtimeEnv, svc *app.Service) error {
				page, err := servercommon.NewAppServiceAdapter(svc).ListOps(cmd.Context(), req)
				if err != nil {
					return err
				}
				if opts.jsonOutput {
					return writeJSON(cmd.OutOrStdout(), page)
				}
				rows := make([][]string, 0, len(page.Ops))
				for _, op := range page.Ops {
					rows = append(rows, []string{
						strconv.FormatInt(op.Seq, 10),
						op.Day,
						op.Employee,
						dashIfEmpty(op.FromValue) + " → " + dashIfEmpty(op.ToValue),
						fmt.Sprintf("%d→%d", op.BaseCellVersion, op.ResultingCellVersion),
						op.Actor,
						op.ClientID + "#" + strconv.FormatInt(op.ClientSeq, 10),
						op.CreatedAt.UTC().Format(time.RFC3339),
					})
				}
				if err := renderTable(cmd.OutOrStdout(), []string{"SEQ", "DAY", "EMPLOYEE", "CHANGE", "VERSION", "ACTOR", "CLIENT", "AT"}, rows); err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "next since: %d\n", page.NextSince)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&req.Team, "team", "", "team identifier")
	cmd.Flags().StringVar(&req.Day, "day", "", "restrict to one day (YYYY-MM-DD)")
	cmd.Flags().Int64Var(&req.Since, "since", 0, "return operations with a greater sequence number")
	cmd.Flags().IntVar(&req.Limit, "limit", 0, "page size (0 uses the configured default)")
	_ = cmd.MarkFlagRequired("team")
	return cmd
}

func newPlanCmd(opts *rootOptions) *cobra.Command {
	var (
		path     string
		actor    string
		clientID string
		dryRun   bool
	)
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Reconcile cells against a YAML plan file",
		Long: "Reads a plan with team, actor, cells, and optional days/clear_missing, then submits only the\n" +
			"cells that differ. Rerunning the same plan with the same client_id is a no-op.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req, err := readPlanFile(path)
			if err != nil {
				return err
			}
			if actor != "" {
				req.Actor = actor
			}
			if clientID != "" {
				req.ClientID = clientID
			}
			req.DryRun = dryRun
			return opts.withService(cmd.Context(), "plan", func(_ *runtimeEnv, svc *app.Service) error {
				result, err := servercommon.NewAppServiceAdapter(svc).Reconcile(cmd.Context(), req)
				if err != nil {
					return err
				}
				return printReconcile(cmd.OutOrStdout(), opts.jsonOutput, result)
			})
		},
	}
	cmd.Flags().StringVarP(&path, "file", "f", "", "plan YAML file ('-' for stdin)")
	cmd.Flags().StringVar(&actor, "actor", "", "override the plan actor")
	cmd.Flags().StringVar(&clientID, "client-id", "", "override the plan client id")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "show the changes without writing")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

// readPlanFile decodes one plan; unknown keys are rejected so typos do not silently drop cells.
func readPlanFile(path string) (servercommon.ReconcileRequest, error) {
	var in io.Reader
	if path == "-" {
		in = os.Stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return servercommon.ReconcileRequest{}, fmt.Errorf("open plan file: %w", err)
		}
		defer f.Close()
		in = f
	}
	dec := yaml.NewDecoder(in)
	dec.KnownFields(true)
	var req servercommon.ReconcileRequest
	if err := dec.Decode(&req); err != nil {
		return servercommon.ReconcileRequest{}, fmt.Errorf("decode plan %q: %w", path, err)
	}
	return req, nil
}

func newSnapshotCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Capture, list, and restore team/day snapshots",
	}
	cmd.AddCommand(newSnapshotCreateCmd(opts), newSnapshotListCmd(opts), newSnapshotRestoreCmd(opts))
	return cmd
}

func newSnapshotCreateCmd(opts *rootOptions) *cobra.Command {
	var req servercommon.CreateSnapshotRequest
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Capture every written cell of one team/day",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withService(cmd.Context(), "snapshot create", func(_ *runtimeEnv, svc *app.Service) error {
				snapshot, err := servercommon.NewAppServiceAdapter(svc).CreateSnapshot(cmd.Context(), req)
				if err != nil {
					return err
				}
				if opts.jsonOutput {
					return writeJSON(cmd.OutOrStdout(), snapshot)
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "snapshot %s captured %d cells\n", snapshot.ID, len(snapshot.Cells))
				return err
			})
		},
	}
	cmd.Flags().StringVar(&req.Team, "team", "", "team identifier")
	cmd.Flags().StringVar(&req.Day, "day", "", "schedule day (YYYY-MM-DD)")
	cmd.Flags().StringVar(&req.Actor, "actor", "", "who is capturing")
	cmd.Flags().StringVar(&req.Note, "note", "", "free-form note")
	_ = cmd.MarkFlagRequired("team")
	_ = cmd.MarkFlagRequired("day")
	_ = cmd.MarkFlagRequired("actor")
	return cmd
}

func newSnapshotListCmd(opts *rootOptions) *cobra.Command {
	var req servercommon.ListSnapshotsRequest
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List snapshots of one team/day, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withService(cmd.Context(), "snapshot list", func(_ *runtimeEnv, svc *app.Service) error {
				snapshots, err := servercommon.NewAppServiceAdapter(svc).ListSnapshots(cmd.Context(), req)
				if err != nil {
					return err
				}
				if opts.jsonOutput {
					return writeJSON(cmd.OutOrStdout(), snapshots)
				}
				rows := make([][]string, 0, len(snapshots))
				for _, snapshot := range snapshots {
					rows = append(rows, []string{
						snapshot.ID,
						snapshot.CreatedAt.UTC().Format(time.RFC3339),
						snapshot.CreatedBy,
						strconv.Itoa(len(snapshot.Cells)),
						dashIfEmpty(snapshot.Note),
					})
				}
				return renderTable(cmd.OutOrStdout(), []string{"ID", "CREATED", "BY", "CELLS", "NOTE"}, rows)
			})
		},
	}
	cmd.Flags().StringVar(&req.Team, "team", "", "team identifier")
	cmd.Flags().StringVar(&req.Day, "day", "", "schedule day (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("team")
	_ = cmd.MarkFlagRequired("day")
	return cmd
}

func newSnapshotRestoreCmd(opts *rootOptions) *cobra.Command {
	var req servercommon.RestoreSnapshotRequest
	cmd := &cobra.Command{
		Use:   "restore <snapshot-id>",
		Short: "Write a snapshot back through the normal write path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.ID = args[0]
			return opts.withService(cmd.Context(), "snapshot restore", func(_ *runtimeEnv, svc *app.Service) error {
				result, err := servercommon.NewAppServiceAdapter(svc).RestoreSnapshot(cmd.Context(), req)
				if err != nil {
					return err
				}
				return printReconcile(cmd.OutOrStdout(), opts.jsonOutput, result)
			})
		},
	}
	cmd.Flags().StringVar(&req.Actor, "actor", "", "who is restoring")
	cmd.Flags().StringVar(&req.ClientID, "client-id", "", "client id for the restore writes (default: generated)")
	cmd.Flags().BoolVar(&req.DryRun, "dry-run", false, "show the changes without writing")
	_ = cmd.MarkFlagRequired("actor")
	return cmd
}

// printReconcile renders one reconcile result as a change table plus a summary line.
func printReconcile(w io.Writer, asJSON bool, result servercommon.ReconcileResult) error {
	if asJSON {
		return writeJSON(w, result)
	}
	rows := make([][]string, 0, len(result.Changes))
	for _, change := range result.Changes {
		rows = append(rows, []string{
			change.Day,
			change.Employee,
			dashIfEmpty(change.From),
			dashIfEmpty(change.To),
			strconv.FormatInt(change.BaseVersion, 10),
			changeStatus(change),
		})
	}
	if err := renderTable(w, []string{"DAY", "EMPLOYEE", "FROM", "TO", "BASE", "STATUS"}, rows); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "client %s: applied=%d conflicts=%d unchanged=%d dry_run=%t\n",
		result.ClientID, result.Applied, result.Conflicts, result.Unchanged, result.DryRun)
	return err
}

func changeStatus(change servercommon.ReconcileChange) string {
	switch {
	case change.Result == nil:
		return "planned"
	case change.Result.Applied:
		return "applied"
	case change.Result.Conflict:
		return "conflict"
	default:
		return "rejected"
	}
}

func renderTable(w io.Writer, headers []string, rows [][]string) error {
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(borderStyle).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	_, err := fmt.Fprintln(w, t.Render())
	return err
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func valueOrDash(v *string) string {
	if v == nil {
		return "-"
	}
	return dashIfEmpty(*v)
}

func dashIfEmpty(v string) string {
	if strings.TrimSpace(v) == "" {
		return "-"
	}
	return v
}

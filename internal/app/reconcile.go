package app

import (
	"cmp"
	"context"
	"fmt"
	"hash/fnv"
	"slices"
	"strconv"
	"strings"

	"github.com/hylla/shiftsync/internal/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// CellTarget is one desired (day, employee) value in a bulk plan.
type CellTarget struct {
	Day      string
	Employee string
	Value    string
}

// ReconcileInput holds input values for one bulk restore or import.
type ReconcileInput struct {
	Team     string
	Actor    string
	ClientID string
	Cells    []CellTarget
	// Days widens the compared range beyond the days named by Cells.
	Days []string
	// ClearMissing clears written cells in range that Cells does not mention.
	ClearMissing bool
	DryRun       bool
}

// ReconcileChange is one cell whose target differs from its current value.
type ReconcileChange struct {
	Key         domain.CellKey
	From        string
	To          string
	BaseVersion int64
	ClientSeq   int64
	Result      *domain.WriteResult
}

// ReconcileResult summarizes one bulk reconciliation.
type ReconcileResult struct {
	Team      string
	ClientID  string
	DryRun    bool
	Changes   []ReconcileChange
	Unchanged int
	Applied   int
	Conflicts int
}

// Reconcile diffs a target against current cells and submits only changed cells through Submit.
// Client sequence numbers derive from the cell, its base version and its target value, so rerunning
// an unchanged plan under the same ClientID is idempotent while an edited plan gets fresh keys.
func (s *Service) Reconcile(ctx context.Context, in ReconcileInput) (ReconcileResult, error) {
	ctx, span := s.tracer.Start(ctx, "shiftsync.reconcile", trace.WithAttributes(
		attribute.String("shiftsync.team", in.Team),
		attribute.Int("shiftsync.targets", len(in.Cells)),
		attribute.Bool("shiftsync.dry_run", in.DryRun),
	))
	defer span.End()

	team := domain.NormalizeIdentifier(in.Team)
	if team == "" {
		return ReconcileResult{}, domain.ErrInvalidTeam
	}
	actor := domain.NormalizeIdentifier(in.Actor)
	if actor == "" {
		return ReconcileResult{}, domain.ErrInvalidActor
	}
	clientID := strings.TrimSpace(in.ClientID)
	if clientID == "" {
		clientID = "reconcile-" + s.idGen()
	}

	targets, days, err := s.normalizeTargets(team, in.Cells, in.Days)
	if err != nil {
		return ReconcileResult{}, err
	}

	result := ReconcileResult{Team: team, ClientID: clientID, DryRun: in.DryRun}
	for _, day := range days {
		cells, err := s.repo.ListCells(ctx, team, day)
		if err != nil {
			return ReconcileResult{}, fmt.Errorf("list cells for %s: %w", day, err)
		}
		current := make(map[domain.CellKey]domain.Cell, len(cells))
		for _, cell := range cells {
			current[cell.Key] = cell
		}
		for key, value := range targets {
			if key.Day != day {
				continue
			}
			cell, ok := current[key]
			if !ok {
				cell = domain.EmptyCell(key)
			}
			if cell.Value == value {
				result.Unchanged++
				continue
			}
			result.Changes = append(result.Changes, ReconcileChange{Key: key, From: cell.Value, To: value, BaseVersion: cell.Version})
		}
		if !in.ClearMissing {
			continue
		}
		for key, cell := range current {
			if _, ok := targets[key]; ok || cell.Value == domain.ClearValue {
				continue
			}
			result.Changes = append(result.Changes, ReconcileChange{Key: key, From: cell.Value, To: domain.ClearValue, BaseVersion: cell.Version})
		}
	}
	slices.SortFunc(result.Changes, func(a, b ReconcileChange) int {
		return cmp.Or(cmp.Compare(a.Key.Day, b.Key.Day), cmp.Compare(a.Key.Employee, b.Key.Employee))
	})
	for i := range result.Changes {
		result.Changes[i].ClientSeq = reconcileClientSeq(result.Changes[i])
	}
	if in.DryRun {
		return result, nil
	}

	for i := range result.Changes {
		change := &result.Changes[i]
		written, err := s.Submit(ctx, WriteInput{
			Team:            team,
			Day:             change.Key.Day,
			Employee:        change.Key.Employee,
			Value:           change.To,
			BaseCellVersion: change.BaseVersion,
			ClientID:        clientID,
			ClientSeq:       change.ClientSeq,
			Actor:           actor,
		})
		if err != nil {
			return result, fmt.Errorf("reconcile %s: %w", change.Key, err)
		}
		change.Result = &written
		if landed(*change, written) {
			result.Applied++
		} else {
			result.Conflicts++
		}
	}
	s.logger.Info("reconcile complete", "team", team, "client_id", clientID, "changes", len(result.Changes), "applied", result.Applied, "conflicts", result.Conflicts, "unchanged", result.Unchanged)
	return result, nil
}

// normalizeTargets validates every target before any write and returns the sorted day range.
func (s *Service) normalizeTargets(team string, cells []CellTarget, extraDays []string) (map[domain.CellKey]string, []string, error) {
	allowed := s.AllowedValues()
	targets := make(map[domain.CellKey]string, len(cells))
	daySet := map[string]struct{}{}
	for idx, target := range cells {
		key, err := domain.NewCellKey(team, target.Day, target.Employee)
		if err != nil {
			return nil, nil, fmt.Errorf("cells[%d]: %w", idx, err)
		}
		value, err := allowed.Check(target.Value)
		if err != nil {
			return nil, nil, fmt.Errorf("cells[%d] value %q: %w", idx, target.Value, err)
		}
		if existing, ok := targets[key]; ok && existing != value {
			return nil, nil, fmt.Errorf("cells[%d] %s: %w", idx, key, ErrDuplicateCell)
		}
		targets[key] = value
		daySet[key.Day] = struct{}{}
	}
	for _, day := range extraDays {
		day = strings.TrimSpace(day)
		if err := domain.ValidateDay(day); err != nil {
			return nil, nil, fmt.Errorf("days %q: %w", day, err)
		}
		daySet[day] = struct{}{}
	}
	if len(daySet) == 0 {
		return nil, nil, domain.ErrInvalidTargetRange
	}
	days := make([]string, 0, len(daySet))
	for day := range daySet {
		days = append(days, day)
	}
	slices.Sort(days)
	return targets, days, nil
}

// landed reports whether a write result actually moved the cell to the planned value.
// A replayed result recorded for a different target counts as a conflict.
func landed(change ReconcileChange, written domain.WriteResult) bool {
	return written.Applied && written.Value == change.To && written.Version == change.BaseVersion+1
}

// reconcileClientSeq derives a stable, non-negative client sequence for one planned change.
func reconcileClientSeq(change ReconcileChange) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(change.Key.Day))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(change.Key.Employee))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(strconv.FormatInt(change.BaseVersion, 10)))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(change.To))
	return int64(h.Sum64() >> 1)
}

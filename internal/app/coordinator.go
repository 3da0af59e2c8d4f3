package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/hylla/shiftsync/internal/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// WriteInput holds input values for one cell write submission.
type WriteInput struct {
	Team            string
	Day             string
	Employee        string
	Value           string
	BaseCellVersion int64
	ClientID        string
	ClientSeq       int64
	Actor           string
}

// Submit validates, deduplicates, and applies one write as a single atomic unit.
// A stale base version is reported as a conflict result, never as an error.
func (s *Service) Submit(ctx context.Context, in WriteInput) (domain.WriteResult, error) {
	started := s.clock()
	ctx, span := s.tracer.Start(ctx, "shiftsync.submit", trace.WithAttributes(
		attribute.String("shiftsync.team", in.Team),
		attribute.String("shiftsync.day", in.Day),
		attribute.String("shiftsync.employee", in.Employee),
		attribute.String("shiftsync.client_id", in.ClientID),
		attribute.Int64("shiftsync.client_seq", in.ClientSeq),
	))
	defer span.End()

	intent, err := domain.NewWriteIntent(
		domain.CellKey{Team: in.Team, Day: in.Day, Employee: in.Employee},
		in.Value,
		in.BaseCellVersion,
		in.ClientID,
		in.ClientSeq,
		in.Actor,
		s.AllowedValues(),
	)
	if err != nil {
		s.recorder.ObserveWrite(WriteOutcomeRejected, s.clock().Sub(started))
		span.SetStatus(codes.Error, err.Error())
		return domain.WriteResult{}, err
	}

	var result domain.WriteResult
	err = s.repo.WithinWriteTx(ctx, intent.Key.Team, func(tx WriteTx) error {
		applied, applyErr := s.applyWrite(ctx, tx, intent)
		if applyErr != nil {
			return applyErr
		}
		result = applied
		return nil
	})
	elapsed := s.clock().Sub(started)
	if err != nil {
		s.recorder.ObserveWrite(WriteOutcomeFailed, elapsed)
		span.RecordError(err)
		span.SetStatus(codes.Error, "write unit failed")
		s.logger.Error("cell write failed", "cell", intent.Key.String(), "client_id", intent.ClientID, "client_seq", intent.ClientSeq, "err", err)
		return domain.WriteResult{}, fmt.Errorf("submit write %s: %w", intent.Key, err)
	}

	switch {
	case result.Duplicate:
		s.recorder.ObserveWrite(WriteOutcomeDuplicate, elapsed)
		s.logger.Debug("duplicate write answered from log", "cell", intent.Key.String(), "client_id", intent.ClientID, "client_seq", intent.ClientSeq, "seq", result.ServerSequence)
	case result.Conflict():
		s.recorder.ObserveWrite(WriteOutcomeConflict, elapsed)
		s.logger.Info("cell write conflict", "cell", intent.Key.String(), "actor", intent.Actor, "base_version", intent.BaseCellVersion, "current_version", result.CurrentVersion)
	default:
		s.recorder.ObserveWrite(WriteOutcomeApplied, elapsed)
		s.logger.Info("cell write applied", "cell", intent.Key.String(), "actor", intent.Actor, "value", result.Value, "version", result.Version, "seq", result.ServerSequence)
	}
	span.SetAttributes(
		attribute.Bool("shiftsync.applied", result.Applied),
		attribute.Int64("shiftsync.seq", result.ServerSequence),
	)
	return result, nil
}

// applyWrite runs the idempotency check, compare-and-swap, and log append inside one write unit.
func (s *Service) applyWrite(ctx context.Context, tx WriteTx, intent domain.WriteIntent) (domain.WriteResult, error) {
	prior, err := tx.FindOperation(ctx, intent.IdempotencyKey())
	switch {
	case err == nil:
		if prior.Key != intent.Key || prior.ToValue != intent.Value {
			s.logger.Warn("idempotency key reused with a different payload", "client_id", intent.ClientID, "client_seq", intent.ClientSeq, "logged_cell", prior.Key.String(), "submitted_cell", intent.Key.String())
		}
		result := domain.AppliedResultFromOperation(prior)
		result.Duplicate = true
		return result, nil
	case !errors.Is(err, ErrNotFound):
		return domain.WriteResult{}, fmt.Errorf("lookup idempotency key: %w", err)
	}

	current, err := tx.GetCell(ctx, intent.Key)
	if errors.Is(err, ErrNotFound) {
		current = domain.EmptyCell(intent.Key)
	} else if err != nil {
		return domain.WriteResult{}, fmt.Errorf("read cell: %w", err)
	}
	if intent.BaseCellVersion != current.Version {
		return domain.ConflictResult(current.Version), nil
	}

	now := s.clock().UTC()
	next := domain.Cell{
		Key:       intent.Key,
		Value:     intent.Value,
		Version:   current.Version + 1,
		UpdatedAt: now,
		UpdatedBy: intent.Actor,
	}
	swapped, err := tx.CompareAndSwapCell(ctx, next, current.Version)
	if err != nil {
		return domain.WriteResult{}, fmt.Errorf("swap cell: %w", err)
	}
	if !swapped {
		return domain.ConflictResult(current.Version), nil
	}

	op, err := tx.AppendOperation(ctx, domain.Operation{
		Key:                  intent.Key,
		FromValue:            current.Value,
		ToValue:              intent.Value,
		BaseCellVersion:      current.Version,
		ResultingCellVersion: next.Version,
		Actor:                intent.Actor,
		ClientID:             intent.ClientID,
		ClientSeq:            intent.ClientSeq,
		CreatedAt:            now,
	})
	if err != nil {
		return domain.WriteResult{}, fmt.Errorf("append operation: %w", err)
	}
	return domain.AppliedResultFromOperation(op), nil
}

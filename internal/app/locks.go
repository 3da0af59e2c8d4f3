package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hylla/shiftsync/internal/domain"
)

// LockInput holds input values for one soft-lock transition.
type LockInput struct {
	Team     string
	Day      string
	Employee string
	Action   string
	Actor    string
}

// Lock dispatches one acquire, renew, or release request.
func (s *Service) Lock(ctx context.Context, in LockInput) (domain.LockResult, error) {
	action, err := domain.ParseLockAction(in.Action)
	if err != nil {
		return domain.LockResult{}, err
	}
	switch action {
	case domain.LockActionAcquire:
		return s.AcquireLock(ctx, in.Team, in.Day, in.Employee, in.Actor)
	case domain.LockActionRenew:
		return s.RenewLock(ctx, in.Team, in.Day, in.Employee, in.Actor)
	default:
		return s.ReleaseLock(ctx, in.Team, in.Day, in.Employee, in.Actor)
	}
}

// AcquireLock always grants the lock; Risk reports an unexpired lock taken over from another actor.
func (s *Service) AcquireLock(ctx context.Context, team, day, employee, actor string) (domain.LockResult, error) {
	key, who, err := lockTarget(team, day, employee, actor)
	if err != nil {
		return domain.LockResult{}, err
	}
	now := s.clock().UTC()
	until := now.Add(s.lockTTL)
	previous, hadPrevious, err := s.repo.SwapLock(ctx, domain.SoftLock{
		Key:       key,
		LockedBy:  who,
		LockUntil: until,
	})
	if err != nil {
		return domain.LockResult{}, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	risk := hadPrevious && previous.ActiveAt(now) && previous.LockedBy != who
	if risk {
		s.logger.Info("soft lock taken over", "cell", key.String(), "actor", who, "previous_holder", previous.LockedBy)
	}
	s.recorder.ObserveLock(domain.LockActionAcquire, true, risk)
	return domain.LockResult{
		Locked:    true,
		LockUntil: until,
		LockedBy:  who,
		Risk:      risk,
	}, nil
}

// RenewLock extends a lock held by actor; any other state fails with ErrLockNotHeld.
func (s *Service) RenewLock(ctx context.Context, team, day, employee, actor string) (domain.LockResult, error) {
	key, who, err := lockTarget(team, day, employee, actor)
	if err != nil {
		return domain.LockResult{}, err
	}
	now := s.clock().UTC()
	until := now.Add(s.lockTTL)
	renewed, err := s.repo.RenewLock(ctx, key, who, now, until)
	if err != nil {
		return domain.LockResult{}, fmt.Errorf("renew lock %s: %w", key, err)
	}
	s.recorder.ObserveLock(domain.LockActionRenew, renewed, false)
	if renewed {
		return domain.LockResult{
			Locked:    true,
			LockUntil: until,
			LockedBy:  who,
		}, nil
	}
	result, err := s.currentHolder(ctx, key, now)
	if err != nil {
		return domain.LockResult{}, err
	}
	return result, ErrLockNotHeld
}

// ReleaseLock deletes a lock held by actor or already expired; otherwise it is a no-op.
func (s *Service) ReleaseLock(ctx context.Context, team, day, employee, actor string) (domain.LockResult, error) {
	key, who, err := lockTarget(team, day, employee, actor)
	if err != nil {
		return domain.LockResult{}, err
	}
	now := s.clock().UTC()
	released, err := s.repo.ReleaseLock(ctx, key, who, now)
	if err != nil {
		return domain.LockResult{}, fmt.Errorf("release lock %s: %w", key, err)
	}
	s.recorder.ObserveLock(domain.LockActionRelease, false, false)
	if released {
		return domain.LockResult{}, nil
	}
	return s.currentHolder(ctx, key, now)
}

// currentHolder reports the unexpired holder of a lock the caller does not own.
func (s *Service) currentHolder(ctx context.Context, key domain.CellKey, now time.Time) (domain.LockResult, error) {
	lock, err := s.repo.GetLock(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return domain.LockResult{}, nil
	}
	if err != nil {
		return domain.LockResult{}, fmt.Errorf("read lock %s: %w", key, err)
	}
	if !lock.ActiveAt(now) {
		return domain.LockResult{}, nil
	}
	return domain.LockResult{
		LockUntil: lock.LockUntil,
		LockedBy:  lock.LockedBy,
	}, nil
}

// lockTarget validates one lock key and actor.
func lockTarget(team, day, employee, actor string) (domain.CellKey, string, error) {
	key, err := domain.NewCellKey(team, day, employee)
	if err != nil {
		return domain.CellKey{}, "", err
	}
	who := domain.NormalizeIdentifier(actor)
	if who == "" {
		return domain.CellKey{}, "", domain.ErrInvalidActor
	}
	return key, who, nil
}

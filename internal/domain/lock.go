package domain

import (
	"strings"
	"time"
)

// LockAction selects one soft-lock transition.
type LockAction string

// LockAction values.
const (
	LockActionAcquire LockAction = "acquire"
	LockActionRenew   LockAction = "renew"
	LockActionRelease LockAction = "release"
)

// ParseLockAction normalizes one lock action name.
func ParseLockAction(raw string) (LockAction, error) {
	switch action := LockAction(strings.ToLower(strings.TrimSpace(raw))); action {
	case LockActionAcquire, LockActionRenew, LockActionRelease:
		return action, nil
	default:
		return "", ErrInvalidLockAction
	}
}

// SoftLock is an advisory, TTL-bounded claim on one cell.
type SoftLock struct {
	Key       CellKey
	LockedBy  string
	LockUntil time.Time
}

// ActiveAt reports whether the lock is unexpired at now.
func (l SoftLock) ActiveAt(now time.Time) bool {
	return l.LockedBy != "" && now.Before(l.LockUntil)
}

// HeldBy reports whether who holds an unexpired lock at now.
func (l SoftLock) HeldBy(who string, now time.Time) bool {
	return l.ActiveAt(now) && l.LockedBy == who
}

// LockResult is the caller-facing outcome of one lock transition.
type LockResult struct {
	Locked    bool
	LockUntil time.Time
	LockedBy  string
	Risk      bool
}

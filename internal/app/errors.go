package app

import "errors"

// ErrNotFound and related errors describe validation and runtime failures.
var (
	ErrNotFound      = errors.New("not found")
	ErrLockNotHeld   = errors.New("lock not held")
	ErrDuplicateCell = errors.New("duplicate target cell")
)

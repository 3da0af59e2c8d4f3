package domain

import "errors"

var (
	ErrInvalidTeam        = errors.New("invalid team")
	ErrInvalidDay         = errors.New("invalid day")
	ErrInvalidEmployee    = errors.New("invalid employee")
	ErrInvalidActor       = errors.New("invalid actor")
	ErrInvalidClientID    = errors.New("invalid client id")
	ErrInvalidClientSeq   = errors.New("invalid client seq")
	ErrInvalidVersion     = errors.New("invalid version")
	ErrDisallowedValue    = errors.New("disallowed value")
	ErrInvalidLockAction  = errors.New("invalid lock action")
	ErrInvalidSnapshotID  = errors.New("invalid snapshot id")
	ErrInvalidTargetRange = errors.New("invalid target range")
)

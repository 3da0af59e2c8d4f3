package domain

import (
	"strings"
	"time"
)

// IdempotencyKey identifies one client submission within a team.
type IdempotencyKey struct {
	Team      string
	ClientID  string
	ClientSeq int64
}

// Validate reports whether the key can be used for duplicate detection.
func (k IdempotencyKey) Validate() error {
	if !validIdentifier(k.Team) {
		return ErrInvalidTeam
	}
	if !validIdentifier(k.ClientID) {
		return ErrInvalidClientID
	}
	if k.ClientSeq < 0 {
		return ErrInvalidClientSeq
	}
	return nil
}

// Operation is one accepted, immutable entry in a team's operation log.
type Operation struct {
	Seq                  int64
	Key                  CellKey
	FromValue            string
	ToValue              string
	BaseCellVersion      int64
	ResultingCellVersion int64
	Conflict             bool
	Actor                string
	ClientID             string
	ClientSeq            int64
	CreatedAt            time.Time
}

// IdempotencyKey returns the client key recorded on the operation.
func (o Operation) IdempotencyKey() IdempotencyKey {
	return IdempotencyKey{
		Team:      o.Key.Team,
		ClientID:  o.ClientID,
		ClientSeq: o.ClientSeq,
	}
}

// WriteIntent is one validated request to change a cell value.
type WriteIntent struct {
	Key             CellKey
	Value           string
	BaseCellVersion int64
	ClientID        string
	ClientSeq       int64
	Actor           string
}

// NewWriteIntent normalizes and validates one write submission against the allowed values.
func NewWriteIntent(key CellKey, value string, baseVersion int64, clientID string, clientSeq int64, actor string, allowed ValueSet) (WriteIntent, error) {
	key, err := NewCellKey(key.Team, key.Day, key.Employee)
	if err != nil {
		return WriteIntent{}, err
	}
	normalizedValue, err := allowed.Check(value)
	if err != nil {
		return WriteIntent{}, err
	}
	if baseVersion < 0 {
		return WriteIntent{}, ErrInvalidVersion
	}
	intent := WriteIntent{
		Key:             key,
		Value:           normalizedValue,
		BaseCellVersion: baseVersion,
		ClientID:        strings.TrimSpace(clientID),
		ClientSeq:       clientSeq,
		Actor:           NormalizeIdentifier(actor),
	}
	if err := intent.IdempotencyKey().Validate(); err != nil {
		return WriteIntent{}, err
	}
	if !validIdentifier(intent.Actor) {
		return WriteIntent{}, ErrInvalidActor
	}
	return intent, nil
}

// IdempotencyKey returns the duplicate-detection key of the intent.
func (w WriteIntent) IdempotencyKey() IdempotencyKey {
	return IdempotencyKey{
		Team:      w.Key.Team,
		ClientID:  w.ClientID,
		ClientSeq: w.ClientSeq,
	}
}

// ConflictReason is the reason reported for a rejected compare-and-swap.
const ConflictReason = "conflict"

// WriteResult is the outcome of one coordinated write.
type WriteResult struct {
	Applied        bool
	Reason         string
	Value          string
	Version        int64
	CurrentVersion int64
	ServerSequence int64
	Actor          string
	// Duplicate marks results answered from the log; it never changes the reply shape.
	Duplicate bool
}

// Conflict reports whether the write lost the compare-and-swap.
func (r WriteResult) Conflict() bool {
	return !r.Applied && r.Reason == ConflictReason
}

// AppliedResultFromOperation rebuilds the original reply for one logged operation.
func AppliedResultFromOperation(op Operation) WriteResult {
	return WriteResult{
		Applied:        true,
		Value:          op.ToValue,
		Version:        op.ResultingCellVersion,
		ServerSequence: op.Seq,
		Actor:          op.Actor,
	}
}

// ConflictResult builds the reply for a stale base version.
func ConflictResult(currentVersion int64) WriteResult {
	return WriteResult{
		Applied:        false,
		Reason:         ConflictReason,
		CurrentVersion: currentVersion,
	}
}

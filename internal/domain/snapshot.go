package domain

import (
	"strings"
	"time"
)

// Snapshot captures every written cell of one team/day at a point in time.
type Snapshot struct {
	ID        string
	Team      string
	Day       string
	Note      string
	CreatedBy string
	CreatedAt time.Time
	Cells     []SnapshotCell
}

// SnapshotCell is one captured cell value.
type SnapshotCell struct {
	Employee string `json:"employee"`
	Value    string `json:"value"`
	Version  int64  `json:"version"`
}

// NewSnapshot builds one snapshot from the current cells of a team/day.
func NewSnapshot(id, team, day, note, createdBy string, cells []Cell, now time.Time) (Snapshot, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Snapshot{}, ErrInvalidSnapshotID
	}
	team = NormalizeIdentifier(team)
	if !validIdentifier(team) {
		return Snapshot{}, ErrInvalidTeam
	}
	if err := ValidateDay(day); err != nil {
		return Snapshot{}, err
	}
	createdBy = NormalizeIdentifier(createdBy)
	if !validIdentifier(createdBy) {
		return Snapshot{}, ErrInvalidActor
	}
	captured := make([]SnapshotCell, 0, len(cells))
	for _, cell := range cells {
		if !cell.Exists() {
			continue
		}
		captured = append(captured, SnapshotCell{
			Employee: cell.Key.Employee,
			Value:    cell.Value,
			Version:  cell.Version,
		})
	}
	return Snapshot{
		ID:        id,
		Team:      team,
		Day:       strings.TrimSpace(day),
		Note:      strings.TrimSpace(note),
		CreatedBy: createdBy,
		CreatedAt: now.UTC(),
		Cells:     captured,
	}, nil
}

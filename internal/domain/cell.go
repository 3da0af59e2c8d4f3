package domain

import (
	"strings"
	"time"
)

// DayLayout is the canonical calendar-day format for cell keys.
const DayLayout = "2006-01-02"

// maxIdentifierLength bounds team, employee, actor, and client identifiers.
const maxIdentifierLength = 128

// CellKey identifies one (team, day, employee) grid cell.
type CellKey struct {
	Team     string
	Day      string
	Employee string
}

// NewCellKey trims and validates one cell identity.
func NewCellKey(team, day, employee string) (CellKey, error) {
	key := CellKey{
		Team:     NormalizeIdentifier(team),
		Day:      strings.TrimSpace(day),
		Employee: NormalizeIdentifier(employee),
	}
	if err := key.Validate(); err != nil {
		return CellKey{}, err
	}
	return key, nil
}

// Validate reports whether the key names a well-formed cell.
func (k CellKey) Validate() error {
	if !validIdentifier(k.Team) {
		return ErrInvalidTeam
	}
	if err := ValidateDay(k.Day); err != nil {
		return err
	}
	if !validIdentifier(k.Employee) {
		return ErrInvalidEmployee
	}
	return nil
}

// String renders the key for logs.
func (k CellKey) String() string {
	return k.Team + "/" + k.Day + "/" + k.Employee
}

// Cell stores the authoritative value and version of one grid cell.
type Cell struct {
	Key       CellKey
	Value     string
	Version   int64
	UpdatedAt time.Time
	UpdatedBy string
}

// EmptyCell returns the never-written state of one cell.
func EmptyCell(key CellKey) Cell {
	return Cell{Key: key}
}

// Exists reports whether the cell has ever been written.
func (c Cell) Exists() bool {
	return c.Version > 0
}

// ValidateDay validates one YYYY-MM-DD calendar day.
func ValidateDay(day string) error {
	day = strings.TrimSpace(day)
	if len(day) != len(DayLayout) {
		return ErrInvalidDay
	}
	if _, err := time.Parse(DayLayout, day); err != nil {
		return ErrInvalidDay
	}
	return nil
}

// NormalizeIdentifier trims and NFC-normalizes one identifier.
func NormalizeIdentifier(raw string) string {
	return normalizeText(raw)
}

// validIdentifier reports whether one normalized identifier is usable as a key part.
func validIdentifier(id string) bool {
	if id == "" || len(id) > maxIdentifierLength {
		return false
	}
	return !strings.ContainsAny(id, "\x00\n\r")
}

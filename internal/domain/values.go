package domain

import (
	"slices"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// ClearValue is the empty cell value used to clear an assignment.
const ClearValue = ""

// ValueSet is the server-enforced set of allowed shift codes.
type ValueSet struct {
	values []string
	index  map[string]struct{}
}

// DefaultAllowedValues returns the stock shift codes.
func DefaultAllowedValues() []string {
	return []string{"白", "中1", "中2", "夜", "休"}
}

// NewValueSet normalizes and deduplicates one allowed-value list.
func NewValueSet(values []string) ValueSet {
	set := ValueSet{index: map[string]struct{}{}}
	for _, raw := range values {
		value := NormalizeValue(raw)
		if value == ClearValue {
			continue
		}
		if _, ok := set.index[value]; ok {
			continue
		}
		set.index[value] = struct{}{}
		set.values = append(set.values, value)
	}
	return set
}

// Values returns the allowed codes in configured order, excluding the clear value.
func (s ValueSet) Values() []string {
	return slices.Clone(s.values)
}

// Allows reports whether one normalized value may be written.
func (s ValueSet) Allows(value string) bool {
	if value == ClearValue {
		return true
	}
	_, ok := s.index[value]
	return ok
}

// Check normalizes one candidate value and rejects it when not allowed.
func (s ValueSet) Check(raw string) (string, error) {
	value := NormalizeValue(raw)
	if !s.Allows(value) {
		return "", ErrDisallowedValue
	}
	return value, nil
}

// NormalizeValue trims and NFC-normalizes one cell value.
func NormalizeValue(raw string) string {
	return normalizeText(raw)
}

// normalizeText applies the shared trim + NFC normalization.
func normalizeText(raw string) string {
	return norm.NFC.String(strings.TrimSpace(raw))
}

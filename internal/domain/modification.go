package domain

import (
	"fmt"
	"strings"
)

// Modification is the kind of mutation a change record was produced for.
type Modification string

const (
	ModificationCreate Modification = "create"
	ModificationUpdate Modification = "update"
	ModificationDelete Modification = "delete"
)

// Valid reports whether m is one of the known modification kinds.
func (m Modification) Valid() bool {
	switch m {
	case ModificationCreate, ModificationUpdate, ModificationDelete:
		return true
	}
	return false
}

// ParseModification parses a case-insensitive modification name.
func ParseModification(value string) (Modification, error) {
	m := Modification(strings.ToLower(strings.TrimSpace(value)))
	if !m.Valid() {
		return "", fmt.Errorf("unknown modification %q", value)
	}
	return m, nil
}

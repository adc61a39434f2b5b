// Package filter implements the named color remaps applied after tone adjustment.
package filter

import (
	"fmt"
	"strings"

	"github.com/MeKo-Tech/imagex/internal/types"
)

// Kind selects one color filter. Exactly one is active at a time.
type Kind string

const (
	None      Kind = "none"
	Grayscale Kind = "grayscale"
	Sepia     Kind = "sepia"
	Invert    Kind = "invert"
)

// Kinds lists every supported filter in display order.
func Kinds() []Kind {
	return []Kind{None, Grayscale, Sepia, Invert}
}

// ParseKind resolves a filter name. The empty string selects None.
func ParseKind(s string) (Kind, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if name == "" {
		return None, nil
	}
	k := Kind(name)
	if !k.Valid() {
		return "", fmt.Errorf("unknown filter %q: %w", s, types.ErrInvalidParameter)
	}
	return k, nil
}

// Valid reports whether k names a supported filter.
func (k Kind) Valid() bool {
	switch k {
	case None, Grayscale, Sepia, Invert:
		return true
	default:
		return false
	}
}

func (k Kind) String() string { return string(k) }

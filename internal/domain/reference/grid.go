// Package reference models the versioned reference grids consulted by the
// rule evaluators and the rules that select exactly one grid per loan.
package reference

import (
	"fmt"
	"time"

	"github.com/loanpurchase/backend/internal/domain/loan"
	"github.com/loanpurchase/backend/internal/domain/shared"
)

// Kind is the logical name of a reference grid
type Kind string

const (
	KindUnderwriting Kind = "underwriting"
	KindComap        Kind = "comap"
	KindComapNotes   Kind = "comap_notes"
	KindPricing      Kind = "pricing"
	KindTypeMapping  Kind = "type_mapping"
)

// IsValid checks if the kind is declared
func (k Kind) IsValid() bool {
	switch k {
	case KindUnderwriting, KindComap, KindComapNotes, KindPricing, KindTypeMapping:
		return true
	}
	return false
}

// Variant distinguishes date-conditional editions of the same grid
type Variant string

const (
	VariantBase         Variant = "base"
	VariantIntermediate Variant = "intermediate"
	VariantLateA        Variant = "late_a"
	VariantLateB        Variant = "late_b"
)

// IsValid checks if the variant is declared
func (v Variant) IsValid() bool {
	switch v {
	case VariantBase, VariantIntermediate, VariantLateA, VariantLateB:
		return true
	}
	return false
}

// Header identifies one version of a grid and the half-open range of
// submit dates [EffectiveFrom, EffectiveTo) it applies to. A zero bound is
// unbounded on that side.
type Header struct {
	Kind          Kind         `json:"kind"`
	Program       loan.Program `json:"program,omitempty"`
	Variant       Variant      `json:"variant"`
	Version       string       `json:"version"`
	EffectiveFrom time.Time    `json:"effective_from"`
	EffectiveTo   time.Time    `json:"effective_to"`
}

// Covers reports whether the date falls inside the effective range
func (h Header) Covers(d time.Time) bool {
	if !h.EffectiveFrom.IsZero() && d.Before(h.EffectiveFrom) {
		return false
	}
	if !h.EffectiveTo.IsZero() && !d.Before(h.EffectiveTo) {
		return false
	}
	return true
}

// Overlaps reports whether two effective ranges share at least one date
func (h Header) Overlaps(o Header) bool {
	startsBeforeOtherEnds := o.EffectiveTo.IsZero() || h.EffectiveFrom.IsZero() || h.EffectiveFrom.Before(o.EffectiveTo)
	otherStartsBeforeEnd := h.EffectiveTo.IsZero() || o.EffectiveFrom.IsZero() || o.EffectiveFrom.Before(h.EffectiveTo)
	return startsBeforeOtherEnds && otherStartsBeforeEnd
}

// Slot is the (kind, program, variant) triple versions are grouped under
func (h Header) Slot() string {
	return fmt.Sprintf("%s/%s/%s", h.Kind, h.Program, h.Variant)
}

// String renders the header for error messages and the run manifest
func (h Header) String() string {
	return fmt.Sprintf("%s@%s[%s,%s)", h.Slot(), h.Version, boundString(h.EffectiveFrom), boundString(h.EffectiveTo))
}

func (h Header) validate() error {
	if !h.Kind.IsValid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidGrid, h.Kind)
	}
	if !h.Variant.IsValid() {
		return fmt.Errorf("%w: %s: unknown variant %q", ErrInvalidGrid, h.Kind, h.Variant)
	}
	if h.Variant != VariantBase && h.Kind != KindComap {
		return fmt.Errorf("%w: %s: only comap grids carry date variants", ErrInvalidGrid, h.Slot())
	}
	if h.Version == "" {
		return fmt.Errorf("%w: %s: version is required", ErrInvalidGrid, h.Slot())
	}
	if !h.EffectiveFrom.IsZero() && !h.EffectiveTo.IsZero() && !h.EffectiveFrom.Before(h.EffectiveTo) {
		return fmt.Errorf("%w: %s: effective range is empty", ErrInvalidGrid, h)
	}
	switch h.Kind {
	case KindTypeMapping:
		if h.Program != "" {
			return fmt.Errorf("%w: type mapping is not program specific", ErrInvalidGrid)
		}
	case KindComapNotes:
		if h.Program != loan.ProgramNotes {
			return fmt.Errorf("%w: comap_notes grid must use program notes", ErrInvalidGrid)
		}
	case KindComap:
		if !h.Program.IsOrigin() {
			return fmt.Errorf("%w: comap grid program %q is not an origin program", ErrInvalidGrid, h.Program)
		}
	default:
		if !h.Program.IsValid() {
			return fmt.Errorf("%w: %s: unknown program %q", ErrInvalidGrid, h.Kind, h.Program)
		}
	}
	return nil
}

func boundString(t time.Time) string {
	if t.IsZero() {
		return "*"
	}
	return shared.FormatDate(t)
}

// Grid is a tagged reference grid. Every concrete grid validates its own
// declared schema.
type Grid interface {
	Meta() Header
	Validate() error
}

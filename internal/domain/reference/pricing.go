package reference

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// PricingRow holds the price model coefficients for an inclusive term range
type PricingRow struct {
	MinTerm           int
	MaxTerm           int
	BasePrice         decimal.Decimal
	BaseRate          decimal.Decimal
	RateMultiplier    decimal.Decimal
	PromoCostPerMonth decimal.Decimal
	FeePassthrough    decimal.Decimal
}

// PricingGrid holds the purchase-price model per term band
type PricingGrid struct {
	Header
	Rows []PricingRow
}

// Meta implements Grid
func (g *PricingGrid) Meta() Header { return g.Header }

// Validate implements Grid
func (g *PricingGrid) Validate() error {
	if err := g.Header.validate(); err != nil {
		return err
	}
	if len(g.Rows) == 0 {
		return fmt.Errorf("%w: %s: no rows", ErrInvalidGrid, g.Header)
	}
	rows := append([]PricingRow(nil), g.Rows...)
	sort.Slice(rows, func(i, j int) bool { return rows[i].MinTerm < rows[j].MinTerm })
	for i, r := range rows {
		if r.MinTerm <= 0 || r.MinTerm > r.MaxTerm {
			return fmt.Errorf("%w: %s: invalid term range %d-%d", ErrInvalidGrid, g.Header, r.MinTerm, r.MaxTerm)
		}
		if !r.BasePrice.IsPositive() {
			return fmt.Errorf("%w: %s: base_price must be > 0", ErrInvalidGrid, g.Header)
		}
		if i > 0 && r.MinTerm <= rows[i-1].MaxTerm {
			return fmt.Errorf("%w: %s: term ranges %d-%d and %d-%d overlap",
				ErrInvalidGrid, g.Header, rows[i-1].MinTerm, rows[i-1].MaxTerm, r.MinTerm, r.MaxTerm)
		}
	}
	return nil
}

// RowFor returns the row whose term range contains the term
func (g *PricingGrid) RowFor(term int) (PricingRow, bool) {
	for _, r := range g.Rows {
		if term >= r.MinTerm && term <= r.MaxTerm {
			return r, true
		}
	}
	return PricingRow{}, false
}

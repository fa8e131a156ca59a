package reference

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// Term band columns of a compliance-matrix grid. The high bands are optional
// and only consulted when present.
var (
	RequiredTermBands = []int{120, 180}
	OptionalTermBands = []int{240, 300}
)

// ComapRow is one credit-score band of a compliance matrix. Cells maps a
// term band (in months) to the maximum eligible balance.
type ComapRow struct {
	MinScore int
	MaxScore int
	Cells    map[int]decimal.Decimal
}

// Contains reports whether the score falls in the row's band
func (r ComapRow) Contains(score int) bool {
	return score >= r.MinScore && score <= r.MaxScore
}

// ComapGrid is a credit-score band by term band matrix of balance ceilings
type ComapGrid struct {
	Header
	TermBands []int
	Rows      []ComapRow
}

// Meta implements Grid
func (g *ComapGrid) Meta() Header { return g.Header }

// Validate implements Grid
func (g *ComapGrid) Validate() error {
	if err := g.Header.validate(); err != nil {
		return err
	}
	present := make(map[int]bool, len(g.TermBands))
	for _, b := range g.TermBands {
		if !isDeclaredBand(b) {
			return fmt.Errorf("%w: %s: undeclared column term_%d", ErrInvalidGrid, g.Header, b)
		}
		if present[b] {
			return fmt.Errorf("%w: %s: duplicate column term_%d", ErrInvalidGrid, g.Header, b)
		}
		present[b] = true
	}
	for _, b := range RequiredTermBands {
		if !present[b] {
			return fmt.Errorf("%w: %s: missing column term_%d", ErrInvalidGrid, g.Header, b)
		}
	}
	if len(g.Rows) == 0 {
		return fmt.Errorf("%w: %s: no rows", ErrInvalidGrid, g.Header)
	}
	for i, r := range g.Rows {
		if r.MinScore > r.MaxScore {
			return fmt.Errorf("%w: %s row %d: score band %d-%d is inverted", ErrInvalidGrid, g.Header, i+1, r.MinScore, r.MaxScore)
		}
		for band, v := range r.Cells {
			if !present[band] {
				return fmt.Errorf("%w: %s row %d: cell for absent column term_%d", ErrInvalidGrid, g.Header, i+1, band)
			}
			if v.IsNegative() {
				return fmt.Errorf("%w: %s row %d: negative ceiling in term_%d", ErrInvalidGrid, g.Header, i+1, band)
			}
		}
	}
	return checkBands(g.Header, scoreBands(g.Rows))
}

// RowFor returns the score band containing the credit score
func (g *ComapGrid) RowFor(score int) (ComapRow, bool) {
	for _, r := range g.Rows {
		if r.Contains(score) {
			return r, true
		}
	}
	return ComapRow{}, false
}

// BandFor returns the smallest present term band that is at least the term
func (g *ComapGrid) BandFor(term int) (int, bool) {
	bands := append([]int(nil), g.TermBands...)
	sort.Ints(bands)
	for _, b := range bands {
		if b >= term {
			return b, true
		}
	}
	return 0, false
}

// NotesBand is one credit-score band of the notes compliance grid. A zero
// MaxBalance means the band carries no balance ceiling.
type NotesBand struct {
	MinScore   int
	MaxScore   int
	Eligible   bool
	MaxBalance decimal.Decimal
}

// NotesComapGrid is the restructured-loan compliance grid keyed by score band
type NotesComapGrid struct {
	Header
	Bands []NotesBand
}

// Meta implements Grid
func (g *NotesComapGrid) Meta() Header { return g.Header }

// Validate implements Grid
func (g *NotesComapGrid) Validate() error {
	if err := g.Header.validate(); err != nil {
		return err
	}
	if len(g.Bands) == 0 {
		return fmt.Errorf("%w: %s: no bands", ErrInvalidGrid, g.Header)
	}
	ranges := make([][2]int, 0, len(g.Bands))
	for i, b := range g.Bands {
		if b.MinScore > b.MaxScore {
			return fmt.Errorf("%w: %s band %d: score band %d-%d is inverted", ErrInvalidGrid, g.Header, i+1, b.MinScore, b.MaxScore)
		}
		if b.MaxBalance.IsNegative() {
			return fmt.Errorf("%w: %s band %d: negative max_balance", ErrInvalidGrid, g.Header, i+1)
		}
		ranges = append(ranges, [2]int{b.MinScore, b.MaxScore})
	}
	return checkBands(g.Header, ranges)
}

// BandFor returns the band containing the credit score
func (g *NotesComapGrid) BandFor(score int) (NotesBand, bool) {
	for _, b := range g.Bands {
		if score >= b.MinScore && score <= b.MaxScore {
			return b, true
		}
	}
	return NotesBand{}, false
}

func isDeclaredBand(b int) bool {
	for _, d := range RequiredTermBands {
		if d == b {
			return true
		}
	}
	for _, d := range OptionalTermBands {
		if d == b {
			return true
		}
	}
	return false
}

func scoreBands(rows []ComapRow) [][2]int {
	out := make([][2]int, 0, len(rows))
	for _, r := range rows {
		out = append(out, [2]int{r.MinScore, r.MaxScore})
	}
	return out
}

// checkBands fails when two inclusive score ranges share a score
func checkBands(h Header, ranges [][2]int) error {
	sorted := append([][2]int(nil), ranges...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i][0] < sorted[j][0] })
	for i := 1; i < len(sorted); i++ {
		if sorted[i][0] <= sorted[i-1][1] {
			return fmt.Errorf("%w: %s: score bands %d-%d and %d-%d overlap",
				ErrInvalidGrid, h, sorted[i-1][0], sorted[i-1][1], sorted[i][0], sorted[i][1])
		}
	}
	return nil
}

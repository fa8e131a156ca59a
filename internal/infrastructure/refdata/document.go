// Package refdata provides reference-grid sources: YAML grid files on disk
// and an in-memory source for tests and embedded defaults.
package refdata

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/loanpurchase/backend/internal/domain/loan"
	"github.com/loanpurchase/backend/internal/domain/reference"
	"github.com/loanpurchase/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Document is the on-disk form of one grid version. Rows are loosely typed
// columns that are checked against the declared schema of the kind.
type Document struct {
	Kind          string              `yaml:"kind"`
	Program       string              `yaml:"program,omitempty"`
	Variant       string              `yaml:"variant,omitempty"`
	Version       string              `yaml:"version"`
	EffectiveFrom string              `yaml:"effective_from,omitempty"`
	EffectiveTo   string              `yaml:"effective_to,omitempty"`
	Rows          []map[string]string `yaml:"rows"`
}

const termColumnPrefix = "term_"

// schemas declares the required and optional columns of each grid kind
var schemas = map[reference.Kind]struct {
	required []string
	optional []string
}{
	reference.KindUnderwriting: {
		required: []string{"loan_type", "min_income", "min_credit_score", "max_approval", "max_dti"},
	},
	reference.KindComap: {
		required: []string{"min_score", "max_score"},
	},
	reference.KindComapNotes: {
		required: []string{"min_score", "max_score", "eligible"},
		optional: []string{"max_balance"},
	},
	reference.KindPricing: {
		required: []string{"min_term", "max_term", "base_price", "base_rate", "rate_multiplier", "promo_cost_per_month", "fee_passthrough"},
	},
	reference.KindTypeMapping: {
		required: []string{"product_code", "loan_type", "program", "mapped_type"},
	},
}

// ParseDocuments decodes every YAML document in the input
func ParseDocuments(input []byte) ([]Document, error) {
	dec := yaml.NewDecoder(bytes.NewReader(input))
	var docs []Document
	for {
		var doc Document
		err := dec.Decode(&doc)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: decode yaml: %v", reference.ErrInvalidGrid, err)
		}
		if doc.Kind == "" && len(doc.Rows) == 0 {
			continue
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// Grid converts the document into a typed, validated grid
func (d Document) Grid() (reference.Grid, error) {
	h, err := d.header()
	if err != nil {
		return nil, err
	}
	if err := d.checkColumns(h); err != nil {
		return nil, err
	}

	var g reference.Grid
	switch h.Kind {
	case reference.KindUnderwriting:
		g, err = d.underwriting(h)
	case reference.KindComap:
		g, err = d.comap(h)
	case reference.KindComapNotes:
		g, err = d.notesComap(h)
	case reference.KindPricing:
		g, err = d.pricing(h)
	case reference.KindTypeMapping:
		g, err = d.typeMapping(h)
	}
	if err != nil {
		return nil, err
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

func (d Document) header() (reference.Header, error) {
	h := reference.Header{
		Kind:    reference.Kind(strings.TrimSpace(d.Kind)),
		Program: loan.Program(strings.TrimSpace(d.Program)),
		Variant: reference.Variant(strings.TrimSpace(d.Variant)),
		Version: strings.TrimSpace(d.Version),
	}
	if h.Variant == "" {
		h.Variant = reference.VariantBase
	}
	if _, ok := schemas[h.Kind]; !ok {
		return h, fmt.Errorf("%w: unknown kind %q", reference.ErrInvalidGrid, d.Kind)
	}
	var err error
	if h.EffectiveFrom, err = parseBound(d.EffectiveFrom); err != nil {
		return h, fmt.Errorf("%w: %s: effective_from: %v", reference.ErrInvalidGrid, h.Slot(), err)
	}
	if h.EffectiveTo, err = parseBound(d.EffectiveTo); err != nil {
		return h, fmt.Errorf("%w: %s: effective_to: %v", reference.ErrInvalidGrid, h.Slot(), err)
	}
	return h, nil
}

func (d Document) checkColumns(h reference.Header) error {
	schema := schemas[h.Kind]
	allowed := make(map[string]bool)
	for _, c := range schema.required {
		allowed[c] = true
	}
	for _, c := range schema.optional {
		allowed[c] = true
	}
	for i, row := range d.Rows {
		for _, c := range schema.required {
			if _, ok := row[c]; !ok {
				return fmt.Errorf("%w: %s row %d: missing column %s", reference.ErrInvalidGrid, h.Slot(), i+1, c)
			}
		}
		for c := range row {
			if allowed[c] || (h.Kind == reference.KindComap && strings.HasPrefix(c, termColumnPrefix)) {
				continue
			}
			return fmt.Errorf("%w: %s row %d: unknown column %s", reference.ErrInvalidGrid, h.Slot(), i+1, c)
		}
	}
	return nil
}

func (d Document) underwriting(h reference.Header) (reference.Grid, error) {
	g := &reference.UnderwritingGrid{Header: h}
	for i, row := range d.Rows {
		c := cells{h: h, row: row, line: i + 1}
		g.Rows = append(g.Rows, reference.UnderwritingRow{
			LoanType:       strings.TrimSpace(row["loan_type"]),
			MinIncome:      c.decimalAt("min_income"),
			MinCreditScore: c.intAt("min_credit_score"),
			MaxApproval:    c.decimalAt("max_approval"),
			MaxDTI:         c.decimalAt("max_dti"),
		})
		if c.err != nil {
			return nil, c.err
		}
	}
	return g, nil
}

func (d Document) comap(h reference.Header) (reference.Grid, error) {
	g := &reference.ComapGrid{Header: h}
	present := map[int]bool{}
	for i, row := range d.Rows {
		c := cells{h: h, row: row, line: i + 1}
		r := reference.ComapRow{
			MinScore: c.intAt("min_score"),
			MaxScore: c.intAt("max_score"),
			Cells:    map[int]decimal.Decimal{},
		}
		for col, raw := range row {
			if !strings.HasPrefix(col, termColumnPrefix) {
				continue
			}
			band, err := strconv.Atoi(strings.TrimPrefix(col, termColumnPrefix))
			if err != nil {
				return nil, fmt.Errorf("%w: %s: malformed column %s", reference.ErrInvalidGrid, h.Slot(), col)
			}
			present[band] = true
			if strings.TrimSpace(raw) == "" {
				continue
			}
			r.Cells[band] = c.decimalAt(col)
		}
		if c.err != nil {
			return nil, c.err
		}
		g.Rows = append(g.Rows, r)
	}
	for band := range present {
		g.TermBands = append(g.TermBands, band)
	}
	sort.Ints(g.TermBands)
	return g, nil
}

func (d Document) notesComap(h reference.Header) (reference.Grid, error) {
	g := &reference.NotesComapGrid{Header: h}
	for i, row := range d.Rows {
		c := cells{h: h, row: row, line: i + 1}
		b := reference.NotesBand{
			MinScore: c.intAt("min_score"),
			MaxScore: c.intAt("max_score"),
			Eligible: c.boolAt("eligible"),
		}
		if strings.TrimSpace(row["max_balance"]) != "" {
			b.MaxBalance = c.decimalAt("max_balance")
		}
		if c.err != nil {
			return nil, c.err
		}
		g.Bands = append(g.Bands, b)
	}
	return g, nil
}

func (d Document) pricing(h reference.Header) (reference.Grid, error) {
	g := &reference.PricingGrid{Header: h}
	for i, row := range d.Rows {
		c := cells{h: h, row: row, line: i + 1}
		g.Rows = append(g.Rows, reference.PricingRow{
			MinTerm:           c.intAt("min_term"),
			MaxTerm:           c.intAt("max_term"),
			BasePrice:         c.decimalAt("base_price"),
			BaseRate:          c.decimalAt("base_rate"),
			RateMultiplier:    c.decimalAt("rate_multiplier"),
			PromoCostPerMonth: c.decimalAt("promo_cost_per_month"),
			FeePassthrough:    c.decimalAt("fee_passthrough"),
		})
		if c.err != nil {
			return nil, c.err
		}
	}
	return g, nil
}

func (d Document) typeMapping(h reference.Header) (reference.Grid, error) {
	g := &reference.TypeMapping{Header: h}
	for _, row := range d.Rows {
		g.Entries = append(g.Entries, reference.MappingEntry{
			ProductCode: strings.TrimSpace(row["product_code"]),
			SourceType:  strings.TrimSpace(row["loan_type"]),
			Program:     loan.Program(strings.TrimSpace(row["program"])),
			LoanType:    loan.LoanType(strings.TrimSpace(row["mapped_type"])),
		})
	}
	return g, nil
}

// cells parses typed values out of one row, keeping the first error
type cells struct {
	h    reference.Header
	row  map[string]string
	line int
	err  error
}

func (c *cells) fail(col, raw string, cause error) {
	if c.err == nil {
		c.err = fmt.Errorf("%w: %s row %d: column %s: invalid value %q: %v", reference.ErrInvalidGrid, c.h.Slot(), c.line, col, raw, cause)
	}
}

func (c *cells) decimalAt(col string) decimal.Decimal {
	raw := strings.TrimSpace(c.row[col])
	v, err := decimal.NewFromString(raw)
	if err != nil {
		c.fail(col, raw, err)
	}
	return v
}

func (c *cells) intAt(col string) int {
	raw := strings.TrimSpace(c.row[col])
	v, err := strconv.Atoi(raw)
	if err != nil {
		c.fail(col, raw, err)
	}
	return v
}

func (c *cells) boolAt(col string) bool {
	raw := strings.TrimSpace(c.row[col])
	v, err := strconv.ParseBool(raw)
	if err != nil {
		c.fail(col, raw, err)
	}
	return v
}

func parseBound(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	return shared.ParseDate(raw)
}

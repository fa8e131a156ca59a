// Package normalize turns raw loan tapes into the canonical record batch.
// Rows that cannot be normalized are excluded and reported as data-quality
// exceptions; only structural problems abort.
package normalize

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/loanpurchase/backend/internal/domain/loan"
	"github.com/loanpurchase/backend/internal/domain/reference"
	csvimport "github.com/loanpurchase/backend/internal/infrastructure/import"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Notes suffixes encoding a note conversion in the loan type column
var notesSuffixes = []string{"_notes", " - notes"}

// Result is the normalized batch plus every excluded row
type Result struct {
	Batch      *loan.Batch
	Exceptions []loan.Exception
	RowsRead   int
}

// Normalizer maps the three tape formats onto loan.Record
type Normalizer struct {
	schemas   map[loan.SourceFormat]SourceSchema
	processor *csvimport.Processor
	validate  *validator.Validate
	logger    *zap.Logger
}

// New creates a Normalizer
func New(logger *zap.Logger, opts ...csvimport.ProcessorOption) *Normalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Normalizer{
		schemas:   Schemas(),
		processor: csvimport.NewProcessor(opts...),
		validate:  newRecordValidator(),
		logger:    logger.Named("normalize"),
	}
}

// Normalize reads every partition of a raw batch and joins it against the
// type mapping. Partitions are processed in a fixed order so duplicate
// resolution does not depend on delivery order.
func (n *Normalizer) Normalize(ctx context.Context, raw *loan.RawBatch, mapping *reference.TypeMapping) (*Result, error) {
	if raw == nil || len(raw.Partitions) == 0 {
		return nil, fmt.Errorf("%w: batch has no partitions", csvimport.ErrMalformedSource)
	}
	if mapping == nil {
		return nil, errors.New("normalize: type mapping is required")
	}

	result := &Result{Batch: &loan.Batch{}}
	firstSeen := make(map[string]string)

	for _, part := range orderedPartitions(raw.Partitions) {
		schema, ok := n.schemas[part.Format]
		if !ok {
			return nil, fmt.Errorf("%w: partition %s: unknown source format %q", csvimport.ErrMalformedSource, part.Name, part.Format)
		}

		tape, err := n.processor.Read(ctx, part.Data, schema.tape(part.Name))
		if err != nil {
			return nil, err
		}
		result.RowsRead += tape.TotalRows

		sellerByLine := make(map[int]string, len(tape.Rejected))
		for _, row := range tape.Rejected {
			sellerByLine[row.Line] = row.Get(ColSellerLoanNumber)
		}
		for _, rowErr := range tape.Errors.Errors() {
			result.Exceptions = append(result.Exceptions, exception(part, sellerByLine[rowErr.Line], rowErr))
		}

		for _, row := range tape.Rows {
			rec, rowErrs := n.build(row, schema, part, mapping)
			if len(rowErrs) > 0 {
				for _, rowErr := range rowErrs {
					result.Exceptions = append(result.Exceptions, exception(part, row.Get(ColSellerLoanNumber), rowErr))
				}
				continue
			}

			where := fmt.Sprintf("%s line %d", part.Name, row.Line)
			if first, dup := firstSeen[rec.SellerLoanNumber]; dup {
				result.Exceptions = append(result.Exceptions, exception(part, rec.SellerLoanNumber,
					csvimport.NewRowErrorWithValue(row.Line, ColSellerLoanNumber, csvimport.ErrCodeDuplicateKey,
						fmt.Sprintf("duplicate seller loan number, first seen at %s", first), rec.SellerLoanNumber)))
				continue
			}
			firstSeen[rec.SellerLoanNumber] = where
			result.Batch.Records = append(result.Batch.Records, rec)
		}

		n.logger.Debug("Partition normalized",
			zap.String("partition", part.Name),
			zap.String("format", string(part.Format)),
			zap.Bool("carried_over", part.CarriedOver),
			zap.Int("rows", tape.TotalRows),
			zap.Int("row_errors", tape.Errors.Count()),
		)
	}

	sort.Slice(result.Batch.Records, func(i, j int) bool {
		return result.Batch.Records[i].SellerLoanNumber < result.Batch.Records[j].SellerLoanNumber
	})

	for _, e := range result.Exceptions {
		n.logger.Debug("Row excluded",
			zap.String("source", e.Source),
			zap.Int("line", e.Line),
			zap.String("seller_loan_number", e.SellerLoanNumber),
			zap.String("column", e.Column),
			zap.String("code", e.Code),
		)
	}

	return result, nil
}

// build maps one field-validated row onto a record
func (n *Normalizer) build(row *csvimport.Row, schema SourceSchema, part loan.RawPartition, mapping *reference.TypeMapping) (*loan.Record, []csvimport.RowError) {
	cells := rowCells{row: row, layout: schema.DateLayout}

	rawType := row.Get(ColLoanType)
	sourceType, suffixed := StripNotesSuffix(rawType)
	productCode := row.Get(ColProductCode)
	entry, ok := mapping.Lookup(productCode, sourceType)
	if !ok {
		key := reference.MappingKey(productCode, sourceType)
		return nil, []csvimport.RowError{csvimport.NewRowErrorWithValue(row.Line, ColLoanType, csvimport.ErrCodeUnmappedProduct,
			fmt.Sprintf("no type mapping for key %s", key), rawType)}
	}

	restructured := schema.Restructured || suffixed
	program := entry.Program
	if restructured {
		program = loan.ProgramNotes
	}

	rec := &loan.Record{
		SellerLoanNumber: row.Get(ColSellerLoanNumber),
		Program:          program,
		OriginProgram:    entry.Program,
		LoanType:         entry.LoanType,
		Restructured:     restructured,
		OriginalBalance:  cells.decimalAt(ColOriginalBalance),
		ItemizedFees:     cells.decimalAt(ColItemizedFees),
		CreditScore:      cells.intAt(ColCreditScore),
		TermMonths:       cells.intAt(ColTermMonths),
		SubmitDate:       cells.dateAt(ColSubmitDate),
		PurchaseDate:     cells.dateAt(ColPurchaseDate),
		LenderPrice:      cells.decimalAt(ColLenderPrice).Mul(schema.PriceScale),
		DealerFee:        cells.decimalAt(ColDealerFee),
		APR:              cells.decimalAt(ColAPR),
		PromoTermMonths:  cells.intAt(ColPromoTermMonths),
		Jurisdiction:     strings.ToUpper(row.Get(ColJurisdiction)),
		Repurchase:       cells.boolAt(ColRepurchase),
		NewProgram:       cells.boolAt(ColNewProgram),
		AnnualIncome:     cells.decimalAt(ColAnnualIncome),
		DebtToIncome:     cells.decimalAt(ColDebtToIncome),
		MonthlyPayment:   cells.decimalAt(ColMonthlyPayment),
		SourceFormat:     part.Format,
		CarriedOver:      part.CarriedOver,
		SourceLine:       row.Line,
	}

	if err := n.validate.Struct(rec); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return nil, []csvimport.RowError{csvimport.NewRowError(row.Line, "", csvimport.ErrCodeValidation, err.Error())}
		}
		out := make([]csvimport.RowError, 0, len(fieldErrs))
		for _, fe := range fieldErrs {
			out = append(out, csvimport.NewRowErrorWithValue(row.Line, fe.Field(), csvimport.ErrCodeValidation,
				validationMessage(fe), fmt.Sprint(fe.Value())))
		}
		return nil, out
	}

	return rec, nil
}

// StripNotesSuffix removes the note-conversion suffix from a source loan type
// and reports whether one was present
func StripNotesSuffix(sourceType string) (string, bool) {
	trimmed := strings.TrimSpace(sourceType)
	lower := strings.ToLower(trimmed)
	for _, suffix := range notesSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return strings.TrimSpace(trimmed[:len(trimmed)-len(suffix)]), true
		}
	}
	return trimmed, false
}

func exception(part loan.RawPartition, seller string, e csvimport.RowError) loan.Exception {
	return loan.Exception{
		SellerLoanNumber: seller,
		SourceFormat:     part.Format,
		Source:           part.Name,
		Line:             e.Line,
		Column:           e.Column,
		Code:             e.Code,
		Message:          e.Message,
		Value:            e.Value,
	}
}

// orderedPartitions sorts partitions by format, new before carried-over,
// then name
func orderedPartitions(parts []loan.RawPartition) []loan.RawPartition {
	rank := make(map[loan.SourceFormat]int)
	for i, f := range loan.AllSourceFormats() {
		rank[f] = i
	}
	out := append([]loan.RawPartition(nil), parts...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if rank[a.Format] != rank[b.Format] {
			return rank[a.Format] < rank[b.Format]
		}
		if a.CarriedOver != b.CarriedOver {
			return !a.CarriedOver
		}
		return a.Name < b.Name
	})
	return out
}

// rowCells reads typed values out of a row that already passed field
// validation; absent optional columns read as zero
type rowCells struct {
	row    *csvimport.Row
	layout string
}

func (c rowCells) decimalAt(col string) decimal.Decimal {
	d, err := csvimport.ParseDecimal(c.row.Get(col))
	if err != nil {
		return decimal.Zero
	}
	return d
}

func (c rowCells) intAt(col string) int {
	v, _ := strconv.Atoi(c.row.Get(col))
	return v
}

func (c rowCells) dateAt(col string) time.Time {
	t, _ := time.Parse(c.layout, c.row.Get(col))
	return t
}

func (c rowCells) boolAt(col string) bool {
	b, _ := csvimport.ParseBool(c.row.Get(col))
	return b
}

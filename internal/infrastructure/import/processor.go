package csvimport

import (
	"context"
	"fmt"
	"io"
	"strings"
)

// Schema declares the header aliases and column rules of one tape layout
type Schema struct {
	Name    string
	Aliases map[string]string
	Rules   []FieldRule
}

// Tape is the result of reading one tape: the rows that passed field
// validation, the rows that did not, and every row error found along the way
type Tape struct {
	Name      string
	Headers   []string
	Rows      []*Row
	Rejected  []*Row
	TotalRows int
	Errors    *ErrorCollection
}

// Processor reads tapes against a schema
type Processor struct {
	maxRows    int
	parserOpts []ParserOption
}

// ProcessorOption is a functional option for Processor
type ProcessorOption func(*Processor)

// WithMaxRows caps the number of data rows in a tape
func WithMaxRows(rows int) ProcessorOption {
	return func(p *Processor) {
		p.maxRows = rows
	}
}

// WithParserOptions passes options through to every CSVParser
func WithParserOptions(opts ...ParserOption) ProcessorOption {
	return func(p *Processor) {
		p.parserOpts = append(p.parserOpts, opts...)
	}
}

// NewProcessor creates a tape processor
func NewProcessor(opts ...ProcessorOption) *Processor {
	p := &Processor{
		maxRows: 500000,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Read parses a tape and validates each row against the schema. Structural
// problems (unreadable CSV, missing header, absent required columns) are
// returned as errors; row problems are collected on the Tape.
func (p *Processor) Read(ctx context.Context, data []byte, schema Schema) (*Tape, error) {
	opts := append([]ParserOption{WithHeaderAliases(schema.Aliases)}, p.parserOpts...)
	parser, err := ParseFromBytes(data, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", schema.Name, err)
	}
	if err := parser.ParseHeader(); err != nil {
		return nil, fmt.Errorf("%s: %w", schema.Name, err)
	}
	if missing := parser.MissingHeaders(RequiredColumns(schema.Rules)); len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s: %s", ErrMissingColumn, schema.Name, strings.Join(missing, ", "))
	}

	validator := NewFieldValidator(schema.Rules)
	tape := &Tape{
		Name:    schema.Name,
		Headers: parser.Headers(),
		Errors:  validator.Errors(),
	}
	width := len(tape.Headers)

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		row, err := parser.ReadRow()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", schema.Name, err)
		}
		if row.IsEmpty() {
			continue
		}

		tape.TotalRows++
		if tape.TotalRows > p.maxRows {
			return nil, fmt.Errorf("%s: %w: limit is %d", schema.Name, ErrTooManyRows, p.maxRows)
		}

		if row.FieldCount != width {
			tape.Errors.Add(NewRowError(row.Line, "", ErrCodeFieldCount,
				fmt.Sprintf("expected %d fields, found %d", width, row.FieldCount)))
			tape.Rejected = append(tape.Rejected, row)
			continue
		}
		if validator.ValidateRow(row) {
			tape.Rows = append(tape.Rows, row)
		} else {
			tape.Rejected = append(tape.Rejected, row)
		}
	}

	return tape, nil
}

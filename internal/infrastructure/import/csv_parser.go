package csvimport

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

// CSVParser reads a loan tape. It strips a UTF-8 BOM, rejects non UTF-8
// content, and maps each data row onto the canonical column names of the
// header row.
type CSVParser struct {
	delimiter  rune
	lazyQuotes bool
	trimSpace  bool
	aliases    map[string]string
	headerMap  map[string]int
	headers    []string
	currentRow int
	totalRows  int
	reader     *csv.Reader
	bufReader  *bufio.Reader
}

// ParserOption is a functional option for CSVParser configuration
type ParserOption func(*CSVParser)

// WithDelimiter sets the field delimiter (default is comma)
func WithDelimiter(d rune) ParserOption {
	return func(p *CSVParser) {
		p.delimiter = d
	}
}

// WithLazyQuotes enables lazy quote handling
func WithLazyQuotes(lazy bool) ParserOption {
	return func(p *CSVParser) {
		p.lazyQuotes = lazy
	}
}

// WithTrimSpace enables trimming of leading/trailing spaces from fields
func WithTrimSpace(trim bool) ParserOption {
	return func(p *CSVParser) {
		p.trimSpace = trim
	}
}

// WithHeaderAliases renames source headers to canonical column names.
// Keys are matched case-insensitively; unknown headers are kept as-is.
func WithHeaderAliases(aliases map[string]string) ParserOption {
	return func(p *CSVParser) {
		p.aliases = make(map[string]string, len(aliases))
		for raw, canonical := range aliases {
			p.aliases[strings.ToLower(strings.TrimSpace(raw))] = canonical
		}
	}
}

// NewCSVParser creates a new CSV parser from a reader
func NewCSVParser(r io.Reader, opts ...ParserOption) (*CSVParser, error) {
	parser := &CSVParser{
		delimiter:  ',',
		lazyQuotes: true,
		trimSpace:  true,
		headerMap:  make(map[string]int),
	}

	for _, opt := range opts {
		opt(parser)
	}

	parser.bufReader = bufio.NewReader(r)

	content, err := parser.bufReader.Peek(3)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("%w: %v", ErrMalformedSource, err)
	}

	// UTF-8 BOM: 0xEF, 0xBB, 0xBF
	if len(content) >= 3 && content[0] == 0xEF && content[1] == 0xBB && content[2] == 0xBF {
		_, _ = parser.bufReader.Discard(3)
	}

	if err := validateUTF8(parser.bufReader); err != nil {
		return nil, err
	}

	parser.reader = csv.NewReader(parser.bufReader)
	parser.reader.Comma = parser.delimiter
	parser.reader.LazyQuotes = parser.lazyQuotes
	parser.reader.TrimLeadingSpace = parser.trimSpace
	parser.reader.FieldsPerRecord = -1 // field count is checked per row

	return parser, nil
}

// validateUTF8 checks the leading chunk of the tape for valid UTF-8
func validateUTF8(r *bufio.Reader) error {
	const checkSize = 4096
	content, err := r.Peek(checkSize)
	if err != nil && err != io.EOF {
		return fmt.Errorf("%w: %v", ErrMalformedSource, err)
	}

	if len(bytes.TrimSpace(content)) == 0 {
		return ErrEmptyFile
	}

	// A full peek can end in the middle of a multi-byte rune.
	if len(content) == checkSize {
		for i := 0; i < utf8.UTFMax-1 && !utf8.Valid(content); i++ {
			content = content[:len(content)-1]
		}
	}
	if !utf8.Valid(content) {
		return ErrInvalidEncoding
	}

	return nil
}

// ParseHeader reads the header row and resolves canonical column names
func (p *CSVParser) ParseHeader() error {
	record, err := p.reader.Read()
	if err == io.EOF {
		return ErrMissingHeader
	}
	if err != nil {
		return fmt.Errorf("%w: header: %v", ErrMalformedSource, err)
	}

	p.headers = make([]string, len(record))
	for i, h := range record {
		header := p.canonical(h)
		if header == "" {
			return fmt.Errorf("%w: header column %d is blank", ErrMalformedSource, i+1)
		}
		if first, dup := p.headerMap[header]; dup {
			return fmt.Errorf("%w: column %q appears at positions %d and %d", ErrMalformedSource, header, first+1, i+1)
		}
		p.headers[i] = header
		p.headerMap[header] = i
	}

	if len(p.headers) == 0 {
		return ErrMissingHeader
	}

	p.currentRow = 1

	return nil
}

func (p *CSVParser) canonical(raw string) string {
	header := raw
	if p.trimSpace {
		header = strings.TrimSpace(header)
	}
	if p.aliases != nil {
		if alias, ok := p.aliases[strings.ToLower(header)]; ok {
			return alias
		}
	}
	return header
}

// Headers returns the canonical header names in file order
func (p *CSVParser) Headers() []string {
	return p.headers
}

// HasHeader checks if a canonical column exists
func (p *CSVParser) HasHeader(name string) bool {
	_, ok := p.headerMap[name]
	return ok
}

// Row is one data row of a tape
type Row struct {
	Line       int
	Data       map[string]string
	FieldCount int
}

// Get returns the value for a canonical column
func (r *Row) Get(column string) string {
	return r.Data[column]
}

// IsEmpty returns true if the row has no non-empty values
func (r *Row) IsEmpty() bool {
	for _, v := range r.Data {
		if v != "" {
			return false
		}
	}
	return true
}

// ReadRow reads the next row. Read failures of the underlying CSV stream
// are structural and wrap ErrMalformedSource.
func (p *CSVParser) ReadRow() (*Row, error) {
	record, err := p.reader.Read()
	if err == io.EOF {
		return nil, io.EOF
	}
	p.currentRow++
	if err != nil {
		return nil, fmt.Errorf("%w: line %d: %v", ErrMalformedSource, p.currentRow, err)
	}
	p.totalRows++

	row := &Row{
		Line:       p.currentRow,
		Data:       make(map[string]string, len(p.headers)),
		FieldCount: len(record),
	}
	for i, header := range p.headers {
		value := ""
		if i < len(record) {
			value = record[i]
			if p.trimSpace {
				value = strings.TrimSpace(value)
			}
		}
		row.Data[header] = value
	}

	return row, nil
}

// CurrentRow returns the current line number (header is line 1)
func (p *CSVParser) CurrentRow() int {
	return p.currentRow
}

// TotalRows returns the total number of data rows read
func (p *CSVParser) TotalRows() int {
	return p.totalRows
}

// ParseFromBytes creates a parser from a byte slice
func ParseFromBytes(data []byte, opts ...ParserOption) (*CSVParser, error) {
	return NewCSVParser(bytes.NewReader(data), opts...)
}

// MissingHeaders returns the required columns absent from the header row
func (p *CSVParser) MissingHeaders(required []string) []string {
	var missing []string
	for _, h := range required {
		if !p.HasHeader(h) {
			missing = append(missing, h)
		}
	}
	return missing
}

package csvimport

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Row-level exception codes. They end up in the exception log verbatim.
const (
	ErrCodeFieldCount      = "ERR_TAPE_FIELD_COUNT"
	ErrCodeRequiredField   = "ERR_TAPE_REQUIRED_FIELD"
	ErrCodeInvalidType     = "ERR_TAPE_INVALID_TYPE"
	ErrCodeInvalidLength   = "ERR_TAPE_INVALID_LENGTH"
	ErrCodeInvalidRange    = "ERR_TAPE_INVALID_RANGE"
	ErrCodePatternMismatch = "ERR_TAPE_PATTERN_MISMATCH"
	ErrCodeInvalidValue    = "ERR_TAPE_INVALID_VALUE"
	ErrCodeDuplicateKey    = "ERR_TAPE_DUPLICATE_KEY"
	ErrCodeUnmappedProduct = "ERR_TAPE_UNMAPPED_PRODUCT"
	ErrCodeValidation      = "ERR_TAPE_VALIDATION"
)

// Structural errors. Any of these aborts the whole tape.
var (
	// ErrMalformedSource is returned when a tape cannot be read as CSV
	ErrMalformedSource = errors.New("malformed batch source")

	// ErrMissingColumn is returned when a declared column is absent from the header
	ErrMissingColumn = errors.New("required column missing")

	// ErrEmptyFile is returned when the tape has no content
	ErrEmptyFile = fmt.Errorf("%w: file is empty", ErrMalformedSource)

	// ErrInvalidEncoding is returned when the tape is not UTF-8
	ErrInvalidEncoding = fmt.Errorf("%w: invalid file encoding", ErrMalformedSource)

	// ErrMissingHeader is returned when the tape has no header row
	ErrMissingHeader = fmt.Errorf("%w: missing header row", ErrMalformedSource)

	// ErrTooManyRows is returned when a tape exceeds the processor's row cap
	ErrTooManyRows = fmt.Errorf("%w: too many rows", ErrMalformedSource)
)

// RowError is a problem with one column of one data row
type RowError struct {
	Line    int    `json:"line"`
	Column  string `json:"column"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Value   string `json:"value,omitempty"`
}

// Error implements the error interface
func (e RowError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("line %d, column '%s': %s", e.Line, e.Column, e.Message)
	}
	return fmt.Sprintf("line %d: %s", e.Line, e.Message)
}

// NewRowError creates a new RowError
func NewRowError(line int, column, code, message string) RowError {
	return RowError{
		Line:    line,
		Column:  column,
		Code:    code,
		Message: message,
	}
}

// NewRowErrorWithValue creates a new RowError carrying the offending value
func NewRowErrorWithValue(line int, column, code, message, value string) RowError {
	return RowError{
		Line:    line,
		Column:  column,
		Code:    code,
		Message: message,
		Value:   value,
	}
}

// ErrorCollection accumulates row errors in the order they were found.
// Unlike an upload preview it keeps every error: the exception log is a
// complete audit record.
type ErrorCollection struct {
	errors []RowError
	lines  map[int]struct{}
}

// NewErrorCollection creates an empty ErrorCollection
func NewErrorCollection() *ErrorCollection {
	return &ErrorCollection{lines: make(map[int]struct{})}
}

// Add adds an error to the collection
func (ec *ErrorCollection) Add(err RowError) {
	ec.errors = append(ec.errors, err)
	ec.lines[err.Line] = struct{}{}
}

// AddRequiredError adds a required field error
func (ec *ErrorCollection) AddRequiredError(line int, column string) {
	ec.Add(NewRowError(line, column, ErrCodeRequiredField, fmt.Sprintf("field '%s' is required", column)))
}

// AddTypeError adds a type validation error
func (ec *ErrorCollection) AddTypeError(line int, column, expectedType, value string) {
	ec.Add(NewRowErrorWithValue(line, column, ErrCodeInvalidType,
		fmt.Sprintf("expected %s", expectedType), value))
}

// AddLengthError adds a length validation error
func (ec *ErrorCollection) AddLengthError(line int, column, value string, minLen, maxLen int) {
	msg := fmt.Sprintf("length must be between %d and %d", minLen, maxLen)
	if minLen == 0 {
		msg = fmt.Sprintf("length must be at most %d", maxLen)
	}
	if maxLen == 0 {
		msg = fmt.Sprintf("length must be at least %d", minLen)
	}
	ec.Add(NewRowErrorWithValue(line, column, ErrCodeInvalidLength, msg, value))
}

// AddRangeError adds a range validation error
func (ec *ErrorCollection) AddRangeError(line int, column, value, bound string) {
	ec.Add(NewRowErrorWithValue(line, column, ErrCodeInvalidRange,
		fmt.Sprintf("value must be %s", bound), value))
}

// AddPatternError adds a pattern mismatch error
func (ec *ErrorCollection) AddPatternError(line int, column, description, value string) {
	ec.Add(NewRowErrorWithValue(line, column, ErrCodePatternMismatch,
		fmt.Sprintf("value is not a valid %s", description), value))
}

// Errors returns the collected errors
func (ec *ErrorCollection) Errors() []RowError {
	return ec.errors
}

// Count returns the number of collected errors
func (ec *ErrorCollection) Count() int {
	return len(ec.errors)
}

// HasErrors returns true if there are any errors
func (ec *ErrorCollection) HasErrors() bool {
	return len(ec.errors) > 0
}

// HasLine reports whether any error was recorded against a line
func (ec *ErrorCollection) HasLine(line int) bool {
	_, ok := ec.lines[line]
	return ok
}

// ErrorSummary returns the number of errors per code
func (ec *ErrorCollection) ErrorSummary() map[string]int {
	summary := make(map[string]int)
	for _, err := range ec.errors {
		summary[err.Code]++
	}
	return summary
}

// String returns a string representation of all errors
func (ec *ErrorCollection) String() string {
	if !ec.HasErrors() {
		return "no errors"
	}

	codes := make([]string, 0)
	for code := range ec.ErrorSummary() {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d error(s) found (%s):\n", len(ec.errors), strings.Join(codes, ", ")))
	for _, err := range ec.errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}

	return sb.String()
}

package reference

import (
	"fmt"
	"strings"

	"github.com/loanpurchase/backend/internal/domain/loan"
)

// MappingEntry maps a source product code and loan type to a program
type MappingEntry struct {
	ProductCode string
	SourceType  string
	Program     loan.Program
	LoanType    loan.LoanType
}

// Key returns the join key of the entry
func (e MappingEntry) Key() string {
	return MappingKey(e.ProductCode, e.SourceType)
}

// MappingKey generates the join key `PRODUCTCODE|loan_type`
func MappingKey(productCode, sourceType string) string {
	return strings.ToUpper(strings.TrimSpace(productCode)) + "|" + strings.ToLower(strings.TrimSpace(sourceType))
}

// TypeMapping joins source product codes to program and loan type
type TypeMapping struct {
	Header
	Entries []MappingEntry

	index map[string]MappingEntry
}

// Meta implements Grid
func (m *TypeMapping) Meta() Header { return m.Header }

// Validate implements Grid and builds the lookup index
func (m *TypeMapping) Validate() error {
	if err := m.Header.validate(); err != nil {
		return err
	}
	if len(m.Entries) == 0 {
		return fmt.Errorf("%w: %s: no entries", ErrInvalidGrid, m.Header)
	}
	index := make(map[string]MappingEntry, len(m.Entries))
	for i, e := range m.Entries {
		if e.ProductCode == "" || e.SourceType == "" {
			return fmt.Errorf("%w: type mapping entry %d: product_code and loan_type are required", ErrInvalidGrid, i+1)
		}
		if !e.Program.IsOrigin() {
			return fmt.Errorf("%w: type mapping entry %d: program %q is not an origin program", ErrInvalidGrid, i+1, e.Program)
		}
		if !e.LoanType.IsValid() {
			return fmt.Errorf("%w: type mapping entry %d: unknown loan type %q", ErrInvalidGrid, i+1, e.LoanType)
		}
		key := e.Key()
		if _, dup := index[key]; dup {
			return fmt.Errorf("%w: type mapping: duplicate key %s", ErrInvalidGrid, key)
		}
		index[key] = e
	}
	m.index = index
	return nil
}

// Lookup resolves a join key
func (m *TypeMapping) Lookup(productCode, sourceType string) (MappingEntry, bool) {
	e, ok := m.index[MappingKey(productCode, sourceType)]
	return e, ok
}

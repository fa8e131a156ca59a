package csvimport

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// FieldType represents the expected type of a column
type FieldType string

const (
	TypeString  FieldType = "string"
	TypeInt     FieldType = "int"
	TypeDecimal FieldType = "decimal"
	TypeDate    FieldType = "date"
	TypeBool    FieldType = "bool"
)

// FieldRule defines how one tape column is checked
type FieldRule struct {
	Column       string
	Type         FieldType
	Required     bool
	OptionalCol  bool
	MinLength    int
	MaxLength    int
	MinValue     *decimal.Decimal
	MaxValue     *decimal.Decimal
	Pattern      *regexp.Regexp
	PatternDesc  string
	DateFormat   string
	CustomFunc   func(value string) error
	AllowedValue []string
}

// FieldRuleBuilder helps build field rules fluently
type FieldRuleBuilder struct {
	rule FieldRule
}

// Field creates a new field rule builder
func Field(column string) *FieldRuleBuilder {
	return &FieldRuleBuilder{
		rule: FieldRule{
			Column:     column,
			Type:       TypeString,
			DateFormat: "2006-01-02",
		},
	}
}

// Required marks the value as mandatory
func (b *FieldRuleBuilder) Required() *FieldRuleBuilder {
	b.rule.Required = true
	return b
}

// OptionalColumn allows the column to be absent from the header row
func (b *FieldRuleBuilder) OptionalColumn() *FieldRuleBuilder {
	b.rule.OptionalCol = true
	return b
}

// Int sets the field type to integer
func (b *FieldRuleBuilder) Int() *FieldRuleBuilder {
	b.rule.Type = TypeInt
	return b
}

// Decimal sets the field type to decimal
func (b *FieldRuleBuilder) Decimal() *FieldRuleBuilder {
	b.rule.Type = TypeDecimal
	return b
}

// Date sets the field type to date with the given layout
func (b *FieldRuleBuilder) Date(layout string) *FieldRuleBuilder {
	b.rule.Type = TypeDate
	if layout != "" {
		b.rule.DateFormat = layout
	}
	return b
}

// Bool sets the field type to boolean
func (b *FieldRuleBuilder) Bool() *FieldRuleBuilder {
	b.rule.Type = TypeBool
	return b
}

// Length sets the minimum and maximum length
func (b *FieldRuleBuilder) Length(min, max int) *FieldRuleBuilder {
	b.rule.MinLength = min
	b.rule.MaxLength = max
	return b
}

// MinValue sets the minimum numeric value
func (b *FieldRuleBuilder) MinValue(v decimal.Decimal) *FieldRuleBuilder {
	b.rule.MinValue = &v
	return b
}

// Range sets both min and max values
func (b *FieldRuleBuilder) Range(min, max decimal.Decimal) *FieldRuleBuilder {
	b.rule.MinValue = &min
	b.rule.MaxValue = &max
	return b
}

// Pattern sets a regex pattern for validation
func (b *FieldRuleBuilder) Pattern(pattern, description string) *FieldRuleBuilder {
	b.rule.Pattern = regexp.MustCompile(pattern)
	b.rule.PatternDesc = description
	return b
}

// OneOf restricts the value to a case-insensitive closed set
func (b *FieldRuleBuilder) OneOf(values ...string) *FieldRuleBuilder {
	b.rule.AllowedValue = values
	return b
}

// Custom sets a custom validation function
func (b *FieldRuleBuilder) Custom(fn func(value string) error) *FieldRuleBuilder {
	b.rule.CustomFunc = fn
	return b
}

// Build returns the built field rule
func (b *FieldRuleBuilder) Build() FieldRule {
	return b.rule
}

// RequiredColumns returns the columns that must appear in the header row
func RequiredColumns(rules []FieldRule) []string {
	cols := make([]string, 0, len(rules))
	for _, r := range rules {
		if !r.OptionalCol {
			cols = append(cols, r.Column)
		}
	}
	return cols
}

// FieldValidator validates row values according to rules. Rules are applied
// in declaration order so errors come out in a stable order.
type FieldValidator struct {
	rules  []FieldRule
	errors *ErrorCollection
}

// NewFieldValidator creates a new field validator
func NewFieldValidator(rules []FieldRule) *FieldValidator {
	return &FieldValidator{
		rules:  rules,
		errors: NewErrorCollection(),
	}
}

// ValidateRow validates all ruled columns of a row and reports whether it is clean
func (v *FieldValidator) ValidateRow(row *Row) bool {
	before := v.errors.Count()

	for _, rule := range v.rules {
		value, present := row.Data[rule.Column]
		if !present && rule.OptionalCol {
			continue
		}

		if value == "" {
			if rule.Required {
				v.errors.AddRequiredError(row.Line, rule.Column)
			}
			continue
		}

		if err := validateType(value, rule.Type, rule.DateFormat); err != nil {
			v.errors.AddTypeError(row.Line, rule.Column, typeDescription(rule), value)
			continue
		}

		if rule.MaxLength > 0 && len(value) > rule.MaxLength {
			v.errors.AddLengthError(row.Line, rule.Column, value, rule.MinLength, rule.MaxLength)
		}
		if rule.MinLength > 0 && len(value) < rule.MinLength {
			v.errors.AddLengthError(row.Line, rule.Column, value, rule.MinLength, rule.MaxLength)
		}

		if rule.Type == TypeInt || rule.Type == TypeDecimal {
			if bound, ok := checkRange(value, rule.MinValue, rule.MaxValue); !ok {
				v.errors.AddRangeError(row.Line, rule.Column, value, bound)
			}
		}

		if rule.Pattern != nil && !rule.Pattern.MatchString(value) {
			v.errors.AddPatternError(row.Line, rule.Column, rule.PatternDesc, value)
		}

		if len(rule.AllowedValue) > 0 && !containsFold(rule.AllowedValue, value) {
			v.errors.Add(NewRowErrorWithValue(row.Line, rule.Column, ErrCodeInvalidValue,
				fmt.Sprintf("value must be one of %s", strings.Join(rule.AllowedValue, ", ")), value))
		}

		if rule.CustomFunc != nil {
			if err := rule.CustomFunc(value); err != nil {
				v.errors.Add(NewRowErrorWithValue(row.Line, rule.Column, ErrCodeInvalidValue, err.Error(), value))
			}
		}
	}

	return v.errors.Count() == before
}

// Errors returns the error collection
func (v *FieldValidator) Errors() *ErrorCollection {
	return v.errors
}

func typeDescription(rule FieldRule) string {
	if rule.Type == TypeDate {
		return fmt.Sprintf("date (%s)", rule.DateFormat)
	}
	return string(rule.Type)
}

// validateType validates a value against expected type
func validateType(value string, fieldType FieldType, dateFormat string) error {
	switch fieldType {
	case TypeInt:
		_, err := strconv.Atoi(value)
		return err
	case TypeDecimal:
		_, err := ParseDecimal(value)
		return err
	case TypeDate:
		_, err := time.Parse(dateFormat, value)
		return err
	case TypeBool:
		_, err := ParseBool(value)
		return err
	}
	return nil
}

// checkRange validates a numeric value against min/max and returns the
// violated bound description
func checkRange(value string, min, max *decimal.Decimal) (string, bool) {
	d, err := ParseDecimal(value)
	if err != nil {
		return "numeric", false
	}
	if min != nil && d.LessThan(*min) {
		return fmt.Sprintf(">= %s", min.String()), false
	}
	if max != nil && d.GreaterThan(*max) {
		return fmt.Sprintf("<= %s", max.String()), false
	}
	return "", true
}

func containsFold(values []string, v string) bool {
	for _, candidate := range values {
		if strings.EqualFold(candidate, v) {
			return true
		}
	}
	return false
}

// ParseDecimal parses a tape number, tolerating thousands separators and a
// leading currency sign
func ParseDecimal(value string) (decimal.Decimal, error) {
	cleaned := strings.ReplaceAll(strings.TrimSpace(value), ",", "")
	cleaned = strings.TrimPrefix(cleaned, "$")
	return decimal.NewFromString(cleaned)
}

// ParseBool parses the boolean spellings found on tapes
func ParseBool(value string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "1", "yes", "y", "t":
		return true, nil
	case "false", "0", "no", "n", "f":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean value: %s", value)
}

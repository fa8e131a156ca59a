package csvimport

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFieldRuleBuilder(t *testing.T) {
	min := decimal.NewFromInt(300)
	max := decimal.NewFromInt(850)

	rule := Field("credit_score").Required().Int().Range(min, max).Build()
	assert.Equal(t, "credit_score", rule.Column)
	assert.True(t, rule.Required)
	assert.Equal(t, TypeInt, rule.Type)
	assert.Equal(t, &min, rule.MinValue)
	assert.Equal(t, &max, rule.MaxValue)

	date := Field("submit_date").Date("01/02/2006").Build()
	assert.Equal(t, TypeDate, date.Type)
	assert.Equal(t, "01/02/2006", date.DateFormat)

	fees := Field("itemized_fees").Decimal().OptionalColumn().Build()
	assert.True(t, fees.OptionalCol)
	assert.Equal(t, "2006-01-02", fees.DateFormat)
}

func TestRequiredColumns(t *testing.T) {
	rules := []FieldRule{
		Field("a").Required().Build(),
		Field("b").OptionalColumn().Build(),
		Field("c").Build(),
	}
	assert.Equal(t, []string{"a", "c"}, RequiredColumns(rules))
}

func row(line int, data map[string]string) *Row {
	return &Row{Line: line, Data: data, FieldCount: len(data)}
}

func TestFieldValidator_ValidateRow(t *testing.T) {
	rules := []FieldRule{
		Field("seller_loan_number").Required().Length(1, 12).Build(),
		Field("credit_score").Required().Int().Range(decimal.NewFromInt(300), decimal.NewFromInt(850)).Build(),
		Field("apr").Required().Decimal().MinValue(decimal.Zero).Build(),
		Field("submit_date").Required().Date("01/02/2006").Build(),
		Field("jurisdiction").Required().Pattern(`^[A-Za-z]{2}$`, "state code").Build(),
		Field("repurchase").Bool().Build(),
		Field("loan_type").Required().OneOf("standard", "hybrid").Build(),
		Field("itemized_fees").Decimal().OptionalColumn().Build(),
		Field("memo").Custom(func(v string) error {
			if v == "bad" {
				return errors.New("memo rejected")
			}
			return nil
		}).Build(),
	}

	t.Run("Clean row", func(t *testing.T) {
		v := NewFieldValidator(rules)
		ok := v.ValidateRow(row(2, map[string]string{
			"seller_loan_number": "L-1",
			"credit_score":       "710",
			"apr":                "0.0899",
			"submit_date":        "10/02/2025",
			"jurisdiction":       "TX",
			"repurchase":         "N",
			"loan_type":          "Standard",
			"memo":               "",
		}))

		assert.True(t, ok)
		assert.False(t, v.Errors().HasErrors())
	})

	t.Run("Every failing column is reported in rule order", func(t *testing.T) {
		v := NewFieldValidator(rules)
		ok := v.ValidateRow(row(3, map[string]string{
			"seller_loan_number": "",
			"credit_score":       "900",
			"apr":                "abc",
			"submit_date":        "2025-10-02",
			"jurisdiction":       "Texas",
			"repurchase":         "maybe",
			"loan_type":          "balloon",
			"itemized_fees":      "1,250.00",
			"memo":               "bad",
		}))

		require.False(t, ok)
		errs := v.Errors().Errors()
		require.Len(t, errs, 8)
		codes := make([]string, 0, len(errs))
		columns := make([]string, 0, len(errs))
		for _, e := range errs {
			assert.Equal(t, 3, e.Line)
			codes = append(codes, e.Code)
			columns = append(columns, e.Column)
		}
		assert.Equal(t, []string{
			"seller_loan_number", "credit_score", "apr", "submit_date",
			"jurisdiction", "repurchase", "loan_type", "memo",
		}, columns)
		assert.Equal(t, []string{
			ErrCodeRequiredField, ErrCodeInvalidRange, ErrCodeInvalidType, ErrCodeInvalidType,
			ErrCodePatternMismatch, ErrCodeInvalidType, ErrCodeInvalidValue, ErrCodeInvalidValue,
		}, codes)
		assert.Equal(t, "expected date (01/02/2006)", errs[3].Message)
		assert.Equal(t, "memo rejected", errs[7].Message)
	})

	t.Run("Length bounds", func(t *testing.T) {
		v := NewFieldValidator(rules[:1])
		assert.False(t, v.ValidateRow(row(4, map[string]string{"seller_loan_number": "L-0000000000001"})))
		assert.Equal(t, ErrCodeInvalidLength, v.Errors().Errors()[0].Code)
	})
}

func TestParseDecimal(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"60000", "60000", true},
		{"$60,000.50", "60000.5", true},
		{" 101.99 ", "101.99", true},
		{"n/a", "", false},
	}
	for _, tt := range tests {
		d, err := ParseDecimal(tt.in)
		if !tt.ok {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, d.String())
	}
}

func TestParseBool(t *testing.T) {
	for _, in := range []string{"true", "Y", "yes", "1", "T"} {
		b, err := ParseBool(in)
		require.NoError(t, err)
		assert.True(t, b, in)
	}
	for _, in := range []string{"false", "n", "NO", "0", "f"} {
		b, err := ParseBool(in)
		require.NoError(t, err)
		assert.False(t, b, in)
	}
	_, err := ParseBool("maybe")
	assert.Error(t, err)
}

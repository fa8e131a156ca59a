package normalize

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// newRecordValidator returns a validator that reports json field names and
// compares decimals numerically
func newRecordValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})
	return v
}

// validationMessage returns a readable message for a failed struct tag
func validationMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "value is required"
	case "gt":
		return "must be greater than " + e.Param()
	case "gte":
		return "must be at least " + e.Param()
	case "lte":
		return "must be at most " + e.Param()
	case "len":
		return "must be exactly " + e.Param() + " characters"
	case "max":
		return "must be at most " + e.Param() + " characters"
	case "alpha":
		return "must contain letters only"
	case "oneof":
		return "must be one of: " + e.Param()
	default:
		return fmt.Sprintf("failed %s validation", e.Tag())
	}
}

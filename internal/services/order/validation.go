package order

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"restaurant-orders/internal/apperr"
	"restaurant-orders/internal/models"
)

// Validator checks order request bodies and reports every failing field.
type Validator struct {
	validate *validator.Validate
}

func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())

	// field names in errors follow the JSON body
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})
	v.RegisterStructValidation(validateLineItem, models.LineItem{})

	return &Validator{validate: v}
}

// validateLineItem checks that guest shares do not exceed the item quantity.
func validateLineItem(sl validator.StructLevel) {
	item := sl.Current().Interface().(models.LineItem)
	allocated := 0
	for _, g := range item.Customers {
		allocated += g.Quantity
	}
	if allocated > item.Quantity {
		sl.ReportError(item.Customers, "customer", "Customers", "allocation", "")
	}
}

// ValidateOrderRequest validates a create or update body.
func (v *Validator) ValidateOrderRequest(req *models.OrderRequest) error {
	return v.check("order.Validate", req)
}

func (v *Validator) ValidateStatusUpdate(req *models.StatusUpdateRequest) error {
	return v.check("order.ValidateStatus", req)
}

func (v *Validator) check(op string, s interface{}) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return apperr.Validation(op, err.Error())
	}

	fields := make([]apperr.FieldError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, apperr.FieldError{
			Field:   fieldPath(fe.Namespace()),
			Message: fieldMessage(fe),
		})
	}
	return apperr.Validation(op, "invalid request body", fields...)
}

// fieldPath drops the struct name from "OrderRequest.items[0].quantity".
func fieldPath(ns string) string {
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_without", "required_if":
		return "is required"
	case "excluded_with":
		return "item and combo are mutually exclusive"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "min":
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("must contain at least %s entries", fe.Param())
		}
		return "must be at least " + fe.Param()
	case "max":
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("must contain at most %s entries", fe.Param())
		}
		return "must be at most " + fe.Param()
	case "gte":
		return "must be greater than or equal to " + fe.Param()
	case "allocation":
		return "guest quantities exceed the item quantity"
	default:
		return "failed " + fe.Tag() + " check"
	}
}

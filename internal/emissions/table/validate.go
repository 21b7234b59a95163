package table

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// validate is the shared row validator; field errors are reported by column name.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		return f.Tag.Get("csv")
	})
	return v
}

// eventRow holds the structurally checked fields of one events record.
type eventRow struct {
	ID            string  `csv:"id" validate:"required"`
	SiteID        string  `csv:"site_id" validate:"required"`
	DetectionType string  `csv:"detection_type"`
	Rate          float64 `csv:"est_ch4_kgph" validate:"gte=0"`
	Confidence    float64 `csv:"confidence" validate:"gte=0,lte=1"`
	Lat           float64 `csv:"lat" validate:"gte=-90,lte=90"`
	Lon           float64 `csv:"lon" validate:"gte=-180,lte=180"`
	Status        string  `csv:"status" validate:"oneof=NEW INVESTIGATING REPORTED"`
}

func (r *eventRow) validate() error {
	err := validate.Struct(r)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fieldMessage(fe))
	}
	return errors.New(strings.Join(msgs, "; "))
}

func fieldMessage(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "gte":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed %q check", field, fe.Tag())
	}
}

package httpx

import (
	"errors"
	"net/http"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

var identifierRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:-]{0,127}$`)

var messages = map[string]string{
	"required":   "is required",
	"min":        "must have at least %s items",
	"max":        "must have at most %s items",
	"oneof":      "must be one of: %s",
	"identifier": "must be 1-128 letters, digits or . _ : -",
}

// Validator is an echo.Validator over go-playground/validator with the
// "identifier" tag registered for patient ids and order labels.
type Validator struct {
	v *validator.Validate
}

func NewValidator() *Validator {
	v := validator.New()
	v.RegisterValidation("identifier", func(fl validator.FieldLevel) bool {
		return identifierRe.MatchString(fl.Field().String())
	})
	// Report JSON names rather than Go field names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Validator{v: v}
}

// Validate checks a bound request struct and returns a 400 naming every
// failing field.
func (cv *Validator) Validate(i interface{}) error {
	if err := cv.v.Struct(i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, FormatValidationErrors(err)).SetInternal(err)
	}
	return nil
}

// Var validates a single value, such as a path parameter, against tag.
func (cv *Validator) Var(name string, value interface{}, tag string) error {
	if err := cv.v.Var(value, tag); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return echo.NewHTTPError(http.StatusBadRequest, name+" "+message(verrs[0])).SetInternal(err)
		}
		return echo.NewHTTPError(http.StatusBadRequest, name+" is invalid").SetInternal(err)
	}
	return nil
}

// FormatValidationErrors renders validator errors as "field message" pairs
// joined by ", ".
func FormatValidationErrors(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	out := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, fieldPath(fe)+" "+message(fe))
	}
	return strings.Join(out, ", ")
}

// fieldPath drops the root struct name: "evaluateRequest.signs[0].kind"
// becomes "signs[0].kind".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func message(fe validator.FieldError) string {
	msg, ok := messages[fe.Tag()]
	if !ok {
		return "is invalid"
	}
	if strings.Contains(msg, "%s") {
		param := fe.Param()
		if fe.Tag() == "oneof" {
			param = strings.Join(strings.Fields(param), ", ")
		}
		msg = strings.Replace(msg, "%s", param, 1)
	}
	return msg
}

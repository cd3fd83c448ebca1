package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

func init() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	}
}

// formatBindingError turns gin binding failures into a short English detail
// that names fields by their JSON keys.
func formatBindingError(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, io.EOF) {
		return "request body is empty"
	}

	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return fmt.Sprintf("invalid JSON at byte offset %d", syntaxErr.Offset)
	}
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return fmt.Sprintf("field '%s' should be of type %s", typeErr.Field, typeErr.Type.String())
	}
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		out := make([]string, 0, len(validationErrs))
		for _, fe := range validationErrs {
			out = append(out, formatFieldError(fe))
		}
		return strings.Join(out, ", ")
	}
	return err.Error()
}

func formatFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("field '%s' is required", fe.Field())
	case "min":
		return fmt.Sprintf("field '%s' must be at least %s", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("field '%s' must be at most %s", fe.Field(), fe.Param())
	case "oneof":
		return fmt.Sprintf("field '%s' must be one of %s", fe.Field(), fe.Param())
	}
	return fmt.Sprintf("field '%s' failed validation for '%s'", fe.Field(), fe.Tag())
}

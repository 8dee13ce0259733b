package validate

import (
	"github.com/go-playground/validator/v10"
)

var v = validator.New()

// Struct validates a request body against its `validate` tags.
func Struct(i any) error {
	return v.Struct(i)
}

package config

import (
	"strings"

	"github.com/go-playground/validator/v10"
)

func NewValidator() *validator.Validate {
	v := validator.New()

	_ = v.RegisterValidation("contextpath", func(fl validator.FieldLevel) bool {
		return ValidContextPath(fl.Field().String())
	})

	return v
}

// ValidContextPath accepts "/" or a path like "/qr" or "/api/qr": leading
// slash, no trailing slash, no empty or dot segments.
func ValidContextPath(p string) bool {
	if p == "/" {
		return true
	}
	if !strings.HasPrefix(p, "/") || strings.HasSuffix(p, "/") {
		return false
	}
	for _, seg := range strings.Split(p[1:], "/") {
		if seg == "" || seg == "." || seg == ".." || strings.ContainsAny(seg, " ?#") {
			return false
		}
	}
	return true
}

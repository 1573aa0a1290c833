package models

import (
	"github.com/go-playground/validator/v10"
)

// RegisterCustomValidations adds the domain validation tags used by the
// request binding layer. The API server registers these against gin's
// validator engine at startup.
func RegisterCustomValidations(v *validator.Validate) error {
	if err := v.RegisterValidation("platform", validatePlatform); err != nil {
		return err
	}
	return v.RegisterValidation("release_kind", validateReleaseKind)
}

func validatePlatform(fl validator.FieldLevel) bool {
	switch Platform(fl.Field().String()) {
	case PlatformAndroid, PlatformIOS:
		return true
	}
	return false
}

func validateReleaseKind(fl validator.FieldLevel) bool {
	switch ReleaseKind(fl.Field().String()) {
	case KindPlanned, KindHotfix, KindMajor:
		return true
	}
	return false
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// validate is the shared validator instance. validator.Validate caches
// struct metadata and is safe for concurrent use.
var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())
	_ = validate.RegisterValidation("resourceid", func(fl validator.FieldLevel) bool {
		return ValidateID(fl.Field().String()) == nil
	})
}

// Validator returns the shared validator instance.
func Validator() *validator.Validate {
	return validate
}

// Value validates v according to its `validate` struct tags.
//
// # Description
//
// Structs and pointers to structs are validated directly. Slices and
// arrays of structs are validated element by element. Any other kind
// (maps, scalars, raw JSON) carries no tags and is accepted as-is.
//
// # Outputs
//
//   - error: validator.ValidationErrors describing the first failing
//     element, or nil.
func Value(v any) error {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Struct:
		return validate.Struct(rv.Interface())
	case reflect.Slice, reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			if err := Value(rv.Index(i).Interface()); err != nil {
				return err
			}
		}
	}
	return nil
}

// Describe turns a validation error into a short message suitable for
// users, e.g. "Validation failed: Name is required, Latitude must be a
// valid latitude". Other errors are returned by their own message.
func Describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, describeField(fe))
	}
	return "Validation failed: " + strings.Join(parts, ", ")
}

func describeField(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_without":
		return fe.Field() + " is required"
	case "max":
		return fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param())
	case "latitude", "longitude":
		return fmt.Sprintf("%s must be a valid %s", fe.Field(), fe.Tag())
	case "datetime":
		return fmt.Sprintf("%s must be a date in the form %s", fe.Field(), fe.Param())
	case "resourceid":
		return fe.Field() + " is not a valid id"
	default:
		return fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
	}
}

// Tandem - Accountability Partnership Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tandem

// Package validation provides struct validation using
// go-playground/validator v10: a thread-safe singleton instance with
// custom validators for Tandem preference fields.
//
// Custom validators:
//   - iana_tz: value parses with time.LoadLocation
//   - tagset: slice of non-empty lowercase tag tokens, at most 20
//   - comm_style: one of DIRECT|SUPPORTIVE|BALANCED|ANALYTICAL
//   - exp_level: one of BEGINNER|INTERMEDIATE|ADVANCED
package validation

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/tomtom215/tandem/internal/models"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// maxTags bounds the size of any tag set.
const maxTags = 20

// ValidationError is a single field validation failure.
type ValidationError struct {
	field   string
	tag     string
	param   string
	message string
}

// Field returns the struct field that failed validation.
func (e *ValidationError) Field() string { return e.field }

// Tag returns the validation tag that failed.
func (e *ValidationError) Tag() string { return e.tag }

// Error returns a human-readable message.
func (e *ValidationError) Error() string { return e.message }

// StructError is a collection of field validation failures.
type StructError struct {
	errors []ValidationError
}

// Errors returns the individual field failures.
func (se *StructError) Errors() []ValidationError { return se.errors }

// Error implements the error interface with a combined message.
func (se *StructError) Error() string {
	if len(se.errors) == 0 {
		return "validation failed"
	}
	messages := make([]string, len(se.errors))
	for i, err := range se.errors {
		messages[i] = err.message
	}
	return strings.Join(messages, "; ")
}

// GetValidator returns the singleton validator instance, registering the
// Tandem custom validators on first use.
func GetValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())

		// Registration only fails for empty tag names; these are constants.
		_ = validate.RegisterValidation("iana_tz", validateIANATimezone)
		_ = validate.RegisterValidation("tagset", validateTagSet)
		_ = validate.RegisterValidation("comm_style", validateCommStyle)
		_ = validate.RegisterValidation("exp_level", validateExpLevel)
	})
	return validate
}

// validateIANATimezone accepts values that resolve via time.LoadLocation.
// Plain "UTC" is allowed; empty strings are handled by required.
func validateIANATimezone(fl validator.FieldLevel) bool {
	name := fl.Field().String()
	if name == "" {
		return false
	}
	_, err := time.LoadLocation(name)
	return err == nil
}

// validateTagSet accepts slices of at most maxTags non-empty lowercase
// tokens without internal whitespace.
func validateTagSet(fl validator.FieldLevel) bool {
	tags, ok := fl.Field().Interface().([]string)
	if !ok {
		return false
	}
	if len(tags) > maxTags {
		return false
	}
	for _, tag := range tags {
		if tag == "" || tag != strings.ToLower(tag) || strings.ContainsAny(tag, " \t\n") {
			return false
		}
	}
	return true
}

func validateCommStyle(fl validator.FieldLevel) bool {
	return models.CommunicationStyle(fl.Field().String()).Valid()
}

func validateExpLevel(fl validator.FieldLevel) bool {
	return models.ExperienceLevel(fl.Field().String()).Valid()
}

// ValidateStruct validates a struct using the singleton validator.
// Returns nil on success or a *StructError describing every failed field.
func ValidateStruct(s interface{}) *StructError {
	err := GetValidator().Struct(s)
	if err == nil {
		return nil
	}

	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return &StructError{errors: []ValidationError{{
			field:   "unknown",
			tag:     "unknown",
			message: err.Error(),
		}}}
	}

	fieldErrors := make([]ValidationError, len(validationErrs))
	for i, fieldErr := range validationErrs {
		fieldErrors[i] = ValidationError{
			field:   fieldErr.Field(),
			tag:     fieldErr.Tag(),
			param:   fieldErr.Param(),
			message: fmt.Sprintf("%s failed %s validation", fieldErr.Field(), fieldErr.Tag()),
		}
	}
	return &StructError{errors: fieldErrors}
}

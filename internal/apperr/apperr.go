// Package apperr defines the error kinds shared by the weather, location and
// detection services. Components wrap one of the sentinels with %w so the HTTP
// layer can pick a status code with errors.Is.
package apperr

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrValidation marks missing or malformed caller input.
	ErrValidation = errors.New("validation error")
	// ErrNotFound marks an unknown record, an unresolvable place or a missing default location.
	ErrNotFound = errors.New("not found")
	// ErrServiceTimeout marks an upstream call that exceeded its deadline.
	ErrServiceTimeout = errors.New("service timeout")
	// ErrServiceError marks an upstream non-success response or transport failure.
	ErrServiceError = errors.New("service error")
)

// Category is a stable label for error classification in metrics.
type Category string

const (
	CategoryValidation Category = "validation"
	CategoryNotFound   Category = "not_found"
	CategoryTimeout    Category = "timeout"
	CategoryUpstream   Category = "upstream"
	CategoryNetwork    Category = "network"
	CategoryParsing    Category = "parsing"
	CategoryStorage    Category = "storage"
	CategoryUnknown    Category = "unknown"
)

// Categorize maps an error to a Category. Sentinels win over message heuristics.
func Categorize(err error) Category {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, ErrValidation):
		return CategoryValidation
	case errors.Is(err, ErrNotFound):
		return CategoryNotFound
	case errors.Is(err, ErrServiceTimeout), errors.Is(err, context.DeadlineExceeded):
		return CategoryTimeout
	}

	msg := err.Error()
	if errors.Is(err, ErrServiceError) {
		if strings.Contains(msg, "connection") || strings.Contains(msg, "network") {
			return CategoryNetwork
		}
		if strings.Contains(msg, "decode") || strings.Contains(msg, "parse") {
			return CategoryParsing
		}
		return CategoryUpstream
	}
	if strings.Contains(msg, "sql") || strings.Contains(msg, "database") {
		return CategoryStorage
	}
	return CategoryUnknown
}

// Package errors derives low-cardinality error classes for metric tags and log fields.
package errors

import (
	"context"
	goerrors "errors"
	"reflect"
	"strings"
)

// Classed is implemented by errors that know their own metric class.
type Classed interface {
	ErrorClass() string
}

// Classify returns a normalized error class suitable for tagging metrics and logs.
// Errors implementing Classed win, then context errors, then the innermost concrete type
// rendered snake_case-ish.
func Classify(err error) string {
	if err == nil {
		return ""
	}
	var classed Classed
	if goerrors.As(err, &classed) {
		if c := classed.ErrorClass(); c != "" {
			return c
		}
	}
	switch {
	case goerrors.Is(err, context.DeadlineExceeded):
		return "deadline_exceeded"
	case goerrors.Is(err, context.Canceled):
		return "canceled"
	}

	for {
		unwrapped := goerrors.Unwrap(err)
		if unwrapped == nil {
			break
		}
		err = unwrapped
	}

	t := reflect.TypeOf(err)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil {
		return "unknown"
	}
	name := strings.ToLower(strings.ReplaceAll(t.String(), ".", "_"))
	if name == "" {
		return "unknown"
	}
	return name
}

// Package errors derives low-cardinality error labels for metrics and logs.
package errors

import (
	"context"
	goerrors "errors"
	"reflect"
	"strings"

	apperrors "github.com/lanterna/lanterna-api/internal/errors"
)

// Classify returns a normalized error label suitable for tagging metrics/logs.
// Application errors report their code; anything else reports the innermost concrete type in snake_case-ish form.
func Classify(err error) string {
	if err == nil {
		return ""
	}
	if goerrors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	if code := apperrors.GetCode(err); code != "" {
		return string(code)
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

	name := strings.ToLower(strings.ReplaceAll(t.String(), "*", ""))
	name = strings.ReplaceAll(name, ".", "_")
	if name == "" {
		return "unknown"
	}
	return name
}

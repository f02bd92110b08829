package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	apperrors "github.com/lanterna/lanterna-api/internal/errors"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil", err: nil, want: ""},
		{name: "deadline", err: fmt.Errorf("check: %w", context.DeadlineExceeded), want: "timeout"},
		{name: "app error", err: apperrors.New(apperrors.ErrCodeRLS, "denied"), want: "rls"},
		{name: "plain", err: errors.New("boom"), want: "errors_errorstring"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Fatalf("Classify() = %q, want %q", got, tt.want)
			}
		})
	}
}

package errors

import (
	"errors"
	"fmt"
	"testing"

	domainauth "github.com/lanterna/lanterna-api/internal/domain/auth"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *AppError
		want string
	}{
		{
			name: "error without cause",
			err:  &AppError{Code: ErrCodeNotFound, Message: "resource not found"},
			want: "resource not found",
		},
		{
			name: "error with cause",
			err: &AppError{
				Code:    ErrCodeInternal,
				Message: "failed to process",
				Cause:   errors.New("underlying error"),
			},
			want: "failed to process: underlying error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("AppError.Error() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	cause := errors.New("underlying error")
	err := Wrap(cause, ErrCodeInternal, "wrapped error")

	if !errors.Is(err, cause) {
		t.Errorf("errors.Is(%v, cause) = false", err)
	}
}

func TestAppError_IsDomainSentinel(t *testing.T) {
	tests := []struct {
		code   ErrorCode
		target error
	}{
		{ErrCodeRLS, domainauth.ErrRLS},
		{ErrCodeProfileNotFound, domainauth.ErrProfileNotFound},
		{ErrCodeTimeout, domainauth.ErrDatabase},
		{ErrCodeAccessDenied, domainauth.ErrAccessDenied},
	}
	for _, tt := range tests {
		err := fmt.Errorf("check admin: %w", New(tt.code, "x"))
		if !errors.Is(err, tt.target) {
			t.Errorf("code %s should match %v", tt.code, tt.target)
		}
	}

	if errors.Is(New(ErrCodeValidation, "bad"), domainauth.ErrDatabase) {
		t.Error("validation must not match database sentinel")
	}
}

func TestWrap_Nil(t *testing.T) {
	if Wrap(nil, ErrCodeInternal, "x") != nil {
		t.Error("Wrap(nil) should return nil")
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorCode
	}{
		{nil, ""},
		{New(ErrCodeRLS, "denied"), ErrCodeRLS},
		{fmt.Errorf("lookup: %w", domainauth.ErrSessionNotFound), ErrCodeNoSession},
		{domainauth.ErrInvalidCredentials, ErrCodeInvalidCredentials},
		{errors.New("boom"), ErrCodeInternal},
	}
	for _, tt := range tests {
		if got := Classify(tt.err); got != tt.want {
			t.Errorf("Classify(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestGetField(t *testing.T) {
	if GetField(ValidationField("email", "required")) != "email" {
		t.Error("expected field email")
	}
	if GetField(errors.New("plain")) != "" {
		t.Error("expected empty field for plain error")
	}
}

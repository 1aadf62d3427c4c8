package errors_test

import (
	"errors"
	"fmt"
	"testing"

	. "nodeo/pkg/errors"
)

func TestErrorCode_Message(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want string
	}{
		{Success, "Success"},
		{InvalidParams, "Invalid parameters"},
		{LanguageNotSupported, "Programming language not supported"},
		{JudgeQueueFull, "Judge queue is full, please try again later"},
		{ErrorCode(99999), "Unknown error"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.code.Message(); got != tt.want {
				t.Errorf("Message() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestErrorCode_HTTPStatus(t *testing.T) {
	tests := []struct {
		code       ErrorCode
		wantStatus int
	}{
		{Success, 200},
		{InvalidParams, 400},
		{ValidationFailed, 400},
		{TestCaseInvalid, 400},
		{RunNotFound, 404},
		{CodeTooLarge, 413},
		{LanguageNotSupported, 422},
		{JudgeQueueFull, 429},
		{ServiceUnavailable, 503},
		{JudgeSystemError, 500},
	}

	for _, tt := range tests {
		t.Run(tt.code.Message(), func(t *testing.T) {
			if got := tt.code.HTTPStatus(); got != tt.wantStatus {
				t.Errorf("HTTPStatus() = %v, want %v", got, tt.wantStatus)
			}
		})
	}
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrapf(cause, CacheError, "store status failed")

	if err.Error() != "store status failed" {
		t.Fatalf("unexpected message: %s", err.Error())
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected wrapped cause to be reachable")
	}
	if Wrap(nil, CacheError) != nil {
		t.Fatalf("expected nil wrap to return nil")
	}
}

func TestGetCodeThroughFmtWrap(t *testing.T) {
	inner := UnsupportedLanguage("cobol")
	outer := fmt.Errorf("dispatch: %w", inner)

	if got := GetCode(outer); got != LanguageNotSupported {
		t.Fatalf("expected LanguageNotSupported, got %d", got)
	}
	if !Is(outer, LanguageNotSupported) {
		t.Fatalf("expected Is to see the wrapped code")
	}
	if GetCode(errors.New("plain")) != InternalServerError {
		t.Fatalf("expected plain errors to map to InternalServerError")
	}
	if GetCode(nil) != Success {
		t.Fatalf("expected nil to map to Success")
	}
}

func TestValidationErrorDetails(t *testing.T) {
	err := ValidationError("run_id", "required")
	if err.Code != ValidationFailed {
		t.Fatalf("unexpected code: %d", err.Code)
	}
	if err.Details["field"] != "run_id" || err.Details["reason"] != "required" {
		t.Fatalf("unexpected details: %v", err.Details)
	}
}

func TestWrapDoesNotMutateOriginal(t *testing.T) {
	orig := New(RunNotFound).WithDetail("run_id", "r1")
	wrapped := Wrap(orig, DatabaseError).WithDetail("table", "run_history")

	if orig.Code != RunNotFound || len(orig.Details) != 1 {
		t.Fatalf("original changed: %+v", orig)
	}
	if wrapped.Code != DatabaseError || wrapped.Details["run_id"] != "r1" || wrapped.Message != orig.Message {
		t.Fatalf("unexpected wrapped error: %+v", wrapped)
	}
	if GetError(errors.New("plain")).Code != InternalServerError {
		t.Fatalf("plain errors become InternalServerError")
	}
}

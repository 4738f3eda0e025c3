package schema

import (
	"errors"
	"strings"
	"testing"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr error
		text    string
		hasTS   bool
	}{
		{"text and timestamp", `{"text":"hello","timestamp":100}`, nil, "hello", true},
		{"text only", `{"text":"hello"}`, nil, "hello", false},
		{"float timestamp", `{"text":"hi","timestamp":1700000000.25}`, nil, "hi", true},
		{"empty body", ``, ErrEmptyBody, "", false},
		{"whitespace body", "  \n", ErrEmptyBody, "", false},
		{"null body", `null`, ErrEmptyBody, "", false},
		{"not json", `text=hello`, ErrMalformedBody, "", false},
		{"wrong type", `{"text":42}`, ErrMalformedBody, "", false},
		{"missing text", `{"timestamp":1}`, ErrMissingText, "", false},
		{"empty text", `{"text":""}`, ErrMissingText, "", false},
		{"null text", `{"text":null}`, ErrMissingText, "", false},
	}

	v := New(0)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := v.Decode(strings.NewReader(tt.body))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				var verr *ValidationError
				if !errors.As(err, &verr) {
					t.Errorf("expected *ValidationError, got %T", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if *req.Text != tt.text {
				t.Errorf("expected text %q, got %q", tt.text, *req.Text)
			}
			if (req.Timestamp != nil) != tt.hasTS {
				t.Errorf("expected timestamp present=%v, got %v", tt.hasTS, req.Timestamp)
			}
		})
	}
}

func TestDecode_BodyLimit(t *testing.T) {
	v := New(16)

	if _, err := v.Decode(strings.NewReader(`{"text":"fits"}`)); err != nil {
		t.Fatalf("expected a body under the limit to fit, got %v", err)
	}

	_, err := v.Decode(strings.NewReader(`{"text":"does not fit"}`))
	if !errors.Is(err, ErrBodyTooLarge) {
		t.Fatalf("expected %v, got %v", ErrBodyTooLarge, err)
	}
	if errors.Is(err, ErrMalformedBody) {
		t.Error("an oversized body must not be reported as malformed")
	}
}

func TestReason(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&ValidationError{Reason: ErrEmptyBody}, "empty_body"},
		{&ValidationError{Field: "text", Reason: ErrMissingText}, "missing_text"},
		{&ValidationError{Reason: ErrMalformedBody}, "malformed_body"},
		{&ValidationError{Reason: ErrBodyTooLarge}, "body_too_large"},
		{errors.New("x"), "other"},
	}
	for _, tt := range tests {
		if got := Reason(tt.err); got != tt.want {
			t.Errorf("Reason(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestValidationError_Message(t *testing.T) {
	err := &ValidationError{Field: "text", Reason: ErrMissingText}
	if err.Error() != "text: text field is required" {
		t.Errorf("unexpected message %q", err.Error())
	}
}

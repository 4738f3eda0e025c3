// Package schema validates payloads arriving at the ingestion endpoint.
package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"speech-relay-service/internal/models"
)

// Sentinel validation errors.
var (
	ErrEmptyBody     = errors.New("no data provided")
	ErrMalformedBody = errors.New("request body is not valid JSON")
	ErrMissingText   = errors.New("text field is required")
	ErrBodyTooLarge  = errors.New("request body too large")
)

// ValidationError is a client error. It is never retried.
type ValidationError struct {
	Field  string
	Reason error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason.Error()
	}
	return fmt.Sprintf("%s: %v", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return e.Reason
}

// Validator decodes and checks ingestion requests.
type Validator struct {
	maxBytes int64
}

// New creates a validator that reads at most maxBytes of a request body.
// maxBytes <= 0 selects 1 MiB.
func New(maxBytes int64) *Validator {
	if maxBytes <= 0 {
		maxBytes = 1 << 20
	}
	return &Validator{maxBytes: maxBytes}
}

// Decode parses an ingestion request body and validates it.
func (v *Validator) Decode(r io.Reader) (models.IngestRequest, error) {
	var req models.IngestRequest

	data, err := io.ReadAll(io.LimitReader(r, v.maxBytes+1))
	if err != nil {
		return req, &ValidationError{Reason: fmt.Errorf("%w: %v", ErrMalformedBody, err)}
	}
	if int64(len(data)) > v.maxBytes {
		return req, &ValidationError{Reason: ErrBodyTooLarge}
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return req, &ValidationError{Reason: ErrEmptyBody}
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return req, &ValidationError{Reason: fmt.Errorf("%w: %v", ErrMalformedBody, err)}
	}
	return req, v.Validate(req)
}

// Validate checks a decoded request.
func (v *Validator) Validate(req models.IngestRequest) error {
	if req.Text == nil || *req.Text == "" {
		return &ValidationError{Field: "text", Reason: ErrMissingText}
	}
	return nil
}

// Reason returns a short metric label for a validation error.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrEmptyBody):
		return "empty_body"
	case errors.Is(err, ErrMalformedBody):
		return "malformed_body"
	case errors.Is(err, ErrMissingText):
		return "missing_text"
	case errors.Is(err, ErrBodyTooLarge):
		return "body_too_large"
	default:
		return "other"
	}
}

package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrDocumentNotFound  = errors.New("literature not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrTemporary         = errors.New("temporary failure")
	ErrAlreadyClassified = errors.New("literature already classified")

	ErrTransport            = errors.New("model transport failure")
	ErrServiceRejected      = errors.New("model service rejected request")
	ErrEmptyResponse        = errors.New("model returned empty response")
	ErrExtraction           = errors.New("content extraction failed")
	ErrClassificationDecode = errors.New("classification decode failed")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// ModelError is returned by the model client for every failed call.
// Kind is one of ErrTransport, ErrServiceRejected or ErrEmptyResponse.
type ModelError struct {
	Operation  string
	Kind       error
	StatusCode int
	Body       string
	Err        error
}

func (e *ModelError) Error() string {
	if e == nil {
		return "model error"
	}
	var b strings.Builder
	b.WriteString("llm ")
	b.WriteString(e.Operation)
	b.WriteString(": ")
	if e.Kind != nil {
		b.WriteString(e.Kind.Error())
	} else {
		b.WriteString("failure")
	}
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if body := strings.TrimSpace(e.Body); body != "" {
		b.WriteString(": ")
		b.WriteString(body)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ModelError) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// IsServiceRejection reports whether the model service answered with a
// non-success response, as opposed to the call never completing.
func (e *ModelError) IsServiceRejection() bool {
	return e != nil && errors.Is(e.Kind, ErrServiceRejected)
}

// ClassificationDecodeError keeps the raw model reply for diagnostics.
type ClassificationDecodeError struct {
	Raw string
	Err error
}

func (e *ClassificationDecodeError) Error() string {
	if e == nil || e.Err == nil {
		return ErrClassificationDecode.Error()
	}
	return fmt.Sprintf("%s: %v", ErrClassificationDecode.Error(), e.Err)
}

func (e *ClassificationDecodeError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrClassificationDecode}
	}
	return []error{ErrClassificationDecode, e.Err}
}

package utils

import (
	"errors"
	"sort"
	"strings"
)

var ErrorRecordNotFound = errors.New("record not found")

const InvalidDataMessage = "The given data was invalid."

// FieldErrors collects messages per field. Several fields (and several
// messages per field) may fail at once.
type FieldErrors map[string][]string

func (f FieldErrors) Add(field string, message string) {
	f[field] = append(f[field], message)
}

func (f FieldErrors) HasErrors() bool {
	return len(f) > 0
}

// Has reports whether field already failed, so dependent checks can be skipped.
func (f FieldErrors) Has(field string) bool {
	_, ok := f[field]
	return ok
}

// Err returns nil when nothing failed.
func (f FieldErrors) Err() error {
	if !f.HasErrors() {
		return nil
	}
	return &ValidationError{Message: InvalidDataMessage, Fields: f}
}

func (f FieldErrors) String() string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+strings.Join(f[k], " "))
	}
	return strings.Join(parts, "; ")
}

// NotFoundError covers malformed ids as well as missing or soft-deleted rows.
type NotFoundError struct {
	Resource string
	Id       string
}

func (e *NotFoundError) Error() string {
	if e.Resource == "" {
		return "Not Found"
	}
	return e.Resource + " " + e.Id + " not found"
}

func NewNotFound(resource string, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, Id: id}
}

type ValidationError struct {
	Message string
	Fields  FieldErrors
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return e.Message
	}
	return e.Fields.String()
}

// NewFieldError is a ValidationError with a single field message.
func NewFieldError(field string, message string) *ValidationError {
	fields := FieldErrors{}
	fields.Add(field, message)
	return &ValidationError{Message: InvalidDataMessage, Fields: fields}
}

// TransitionError is a ValidationError raised for an illegal status change.
type TransitionError struct {
	ValidationError
	From string
	To   string
}

func (e *TransitionError) Unwrap() error {
	return &e.ValidationError
}

func NewTransitionError(field string, message string, from string, to string) *TransitionError {
	fields := FieldErrors{}
	fields.Add(field, message)
	return &TransitionError{
		ValidationError: ValidationError{Message: InvalidDataMessage, Fields: fields},
		From:            from,
		To:              to,
	}
}

// UnprocessableError is returned when a supplied foreign id does not resolve.
type UnprocessableError struct {
	Message string
	Fields  FieldErrors
}

func (e *UnprocessableError) Error() string {
	return e.Fields.String()
}

func NewUnprocessable(field string, message string) *UnprocessableError {
	fields := FieldErrors{}
	fields.Add(field, message)
	return &UnprocessableError{Message: InvalidDataMessage, Fields: fields}
}

// InternalError wraps a datastore failure. Public is what the caller sees.
type InternalError struct {
	Public string
	Cause  error
}

func (e *InternalError) Error() string {
	if e.Cause == nil {
		return e.Public
	}
	return e.Public + ": " + e.Cause.Error()
}

func (e *InternalError) Unwrap() error {
	return e.Cause
}

func NewInternal(public string, cause error) *InternalError {
	if public == "" {
		public = "Internal server error"
	}
	return &InternalError{Public: public, Cause: cause}
}

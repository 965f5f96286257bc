// Package apperr defines the error kinds surfaced by the prediction pipeline.
package apperr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidMode
	KindMissingField
	KindInvalidFieldValue
	KindInferenceError
	KindStartupLoadError
)

func (k Kind) String() string {
	switch k {
	case KindInvalidMode:
		return "InvalidMode"
	case KindMissingField:
		return "MissingField"
	case KindInvalidFieldValue:
		return "InvalidFieldValue"
	case KindInferenceError:
		return "InferenceError"
	case KindStartupLoadError:
		return "StartupLoadError"
	default:
		return "Unknown"
	}
}

// IsClientError reports whether the kind is caused by the request payload.
func (k Kind) IsClientError() bool {
	return k == KindInvalidMode || k == KindMissingField || k == KindInvalidFieldValue
}

// Error carries a kind plus the field context needed to build a client message.
type Error struct {
	Kind  Kind
	Field string
	Value interface{}
	Msg   string
	Err   error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindMissingField:
		return fmt.Sprintf("field required: %s", e.Field)
	case KindInvalidFieldValue:
		return fmt.Sprintf("invalid value for %s: %s (must be 0 or 1)", e.Field, formatValue(e.Value))
	case KindInferenceError:
		return fmt.Sprintf("prediction error: %v", e.Err)
	}
	if e.Msg != "" && e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	if e.Msg != "" {
		return e.Msg
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func InvalidMode(mode string) *Error {
	return &Error{
		Kind:  KindInvalidMode,
		Value: mode,
		Msg:   fmt.Sprintf("invalid mode %q: must be one of webOut, webIn", mode),
	}
}

func MissingField(field string) *Error {
	return &Error{Kind: KindMissingField, Field: field}
}

func InvalidFieldValue(field string, value interface{}) *Error {
	return &Error{Kind: KindInvalidFieldValue, Field: field, Value: value}
}

func Inference(err error) *Error {
	return &Error{Kind: KindInferenceError, Err: err}
}

func StartupLoad(msg string, err error) *Error {
	return &Error{Kind: KindStartupLoadError, Msg: msg, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindUnknown
}

func formatValue(v interface{}) string {
	switch value := v.(type) {
	case nil:
		return "null"
	case string:
		return fmt.Sprintf("%q", value)
	default:
		return fmt.Sprintf("%v", value)
	}
}

package alttext

import (
	"github.com/soypete/alttext/pkg/vision"
)

// ErrorKind classifies a describe failure.
type ErrorKind string

const (
	KindNotAnImage          ErrorKind = "not_an_image"
	KindUnsupportedAnimated ErrorKind = "unsupported_animated"
	KindUnsupportedFormat   ErrorKind = "unsupported_format"
	KindUnreadableSource    ErrorKind = "unreadable_source"
	KindGenerationFailed    ErrorKind = "generation_failed"
	KindPersistFailed       ErrorKind = "persist_failed"
)

// DescribeError is returned by Describer. Generation is set only for
// KindGenerationFailed and carries the client's classification unchanged.
type DescribeError struct {
	Kind       ErrorKind
	Generation vision.ErrorKind
	Message    string
	Err        error
}

// Sentinels for errors.Is. A sentinel matches any DescribeError of the same
// kind; ErrGenerationFailed matches every generation sub-kind.
var (
	ErrNotAnImage          = &DescribeError{Kind: KindNotAnImage}
	ErrUnsupportedAnimated = &DescribeError{Kind: KindUnsupportedAnimated}
	ErrUnsupportedFormat   = &DescribeError{Kind: KindUnsupportedFormat}
	ErrUnreadableSource    = &DescribeError{Kind: KindUnreadableSource}
	ErrGenerationFailed    = &DescribeError{Kind: KindGenerationFailed}
	ErrPersistFailed       = &DescribeError{Kind: KindPersistFailed}
)

func (e *DescribeError) Error() string {
	msg := string(e.Kind)
	if e.Generation != "" {
		msg += " (" + string(e.Generation) + ")"
	}
	switch {
	case e.Message != "":
		msg += ": " + e.Message
	case e.Err != nil:
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DescribeError) Unwrap() error {
	return e.Err
}

// Is matches sentinels by kind.
func (e *DescribeError) Is(target error) bool {
	t, ok := target.(*DescribeError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Generation == "" || t.Generation == e.Generation)
}

// Retryable reports whether running the same work again may succeed.
// Transport failures and failed saves are retryable.
func (e *DescribeError) Retryable() bool {
	switch e.Kind {
	case KindPersistFailed:
		return true
	case KindGenerationFailed:
		return e.Generation == vision.ErrorTransport
	}
	return false
}

func newError(kind ErrorKind, err error, message string) *DescribeError {
	return &DescribeError{Kind: kind, Message: message, Err: err}
}

func generationError(gerr *vision.GenerationError) *DescribeError {
	return &DescribeError{
		Kind:       KindGenerationFailed,
		Generation: gerr.Kind,
		Message:    gerr.Message,
		Err:        gerr,
	}
}

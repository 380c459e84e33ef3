package vision

import "fmt"

// ErrorKind classifies a failed generation.
type ErrorKind string

const (
	// ErrorTransport covers connection failures, timeouts and vendor 5xx
	// responses without an error body.
	ErrorTransport ErrorKind = "transport"
	// ErrorVendorRejected means the vendor answered with an error.
	ErrorVendorRejected ErrorKind = "vendor_rejected"
	// ErrorMalformedResponse means the body could not be decoded.
	ErrorMalformedResponse ErrorKind = "malformed_response"
	// ErrorEmptyOutput means the response held no non-blank text.
	ErrorEmptyOutput ErrorKind = "empty_output"
)

// GenerationError is the failure side of a Result.
type GenerationError struct {
	Kind       ErrorKind
	Message    string
	StatusCode int
}

func (e *GenerationError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s (HTTP %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Retryable reports whether a later attempt may succeed without changes.
func (e *GenerationError) Retryable() bool {
	return e != nil && e.Kind == ErrorTransport
}

// Result holds either generated text or a *GenerationError, never both.
// The zero Result is a failure with an empty output.
type Result struct {
	text string
	err  *GenerationError
}

// Success returns a successful Result.
func Success(text string) Result {
	if text == "" {
		return Failure(ErrorEmptyOutput, "model returned no text")
	}
	return Result{text: text}
}

// Failure returns a failed Result.
func Failure(kind ErrorKind, message string) Result {
	return Result{err: &GenerationError{Kind: kind, Message: message}}
}

func failureWithStatus(kind ErrorKind, message string, status int) Result {
	return Result{err: &GenerationError{Kind: kind, Message: message, StatusCode: status}}
}

// OK reports whether the result carries text.
func (r Result) OK() bool {
	return r.err == nil && r.text != ""
}

// Text returns the generated text and whether the result is a success.
func (r Result) Text() (string, bool) {
	return r.text, r.OK()
}

// Err returns the failure, or nil on success.
func (r Result) Err() *GenerationError {
	if r.OK() {
		return nil
	}
	if r.err == nil {
		return &GenerationError{Kind: ErrorEmptyOutput, Message: "model returned no text"}
	}
	return r.err
}

// Unpack converts the result into the conventional (value, error) pair.
func (r Result) Unpack() (string, error) {
	if gerr := r.Err(); gerr != nil {
		return "", gerr
	}
	return r.text, nil
}

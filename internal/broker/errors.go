package broker

// providerRejectedError signals that submission itself failed. Never
// retried; no job is left pending when it is returned.
type providerRejectedError struct{ msg string }

func (e providerRejectedError) Error() string { return "provider rejected submission: " + e.msg }

// ErrProviderRejected constructs a providerRejectedError.
func ErrProviderRejected(msg string) error { return providerRejectedError{msg: msg} }

// IsProviderRejected reports whether err indicates a rejected submission (return 422).
func IsProviderRejected(err error) bool {
	_, ok := err.(providerRejectedError)
	return ok
}

// providerTransientError signals a network/5xx failure during polling.
// The poll loop retries it silently up to the overall deadline.
type providerTransientError struct{ err error }

func (e providerTransientError) Error() string { return "provider transient error: " + e.err.Error() }
func (e providerTransientError) Unwrap() error { return e.err }

// ErrProviderTransient wraps a retryable provider error.
func ErrProviderTransient(err error) error { return providerTransientError{err: err} }

// IsProviderTransient reports whether err is retryable within the poll loop.
func IsProviderTransient(err error) bool {
	_, ok := err.(providerTransientError)
	return ok
}

// generationFailedError carries the provider's terminal failure message.
type generationFailedError struct{ msg string }

func (e generationFailedError) Error() string { return "generation failed: " + e.msg }

// ErrGenerationFailed constructs a generationFailedError.
func ErrGenerationFailed(msg string) error { return generationFailedError{msg: msg} }

// Message returns the provider-supplied failure message.
func (e generationFailedError) Message() string { return e.msg }

// IsGenerationFailed reports whether err is a terminal provider failure (return 502).
func IsGenerationFailed(err error) bool {
	_, ok := err.(generationFailedError)
	return ok
}

// timeoutError signals that neither completion path resolved the job
// before the overall deadline.
type timeoutError struct{ correlationID string }

func (e timeoutError) Error() string { return "generation timed out: " + e.correlationID }

// ErrTimeout constructs a timeoutError.
func ErrTimeout(correlationID string) error { return timeoutError{correlationID: correlationID} }

// IsTimeout reports whether err indicates an overall deadline expiry (return 504).
func IsTimeout(err error) bool {
	_, ok := err.(timeoutError)
	return ok
}

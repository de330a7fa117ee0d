package slot

// resourceLoadFailedError signals that loading model weights failed. The
// slot is reset to empty and is safe to retry.
type resourceLoadFailedError struct {
	id  string
	err error
}

func (e resourceLoadFailedError) Error() string {
	return "resource load failed: " + e.id + ": " + e.err.Error()
}
func (e resourceLoadFailedError) Unwrap() error { return e.err }

// ErrResourceLoadFailed constructs a resourceLoadFailedError.
func ErrResourceLoadFailed(id string, err error) error {
	return resourceLoadFailedError{id: id, err: err}
}

// IsResourceLoadFailed reports whether err indicates a failed local load (return 503).
func IsResourceLoadFailed(err error) bool {
	_, ok := err.(resourceLoadFailedError)
	return ok
}

// unknownResourceError signals a resource id absent from the registry.
type unknownResourceError struct{ id string }

func (e unknownResourceError) Error() string { return "unknown resource: " + e.id }

// ErrUnknownResource constructs an unknownResourceError.
func ErrUnknownResource(id string) error { return unknownResourceError{id: id} }

// IsUnknownResource reports whether err indicates a missing resource id (return 404).
func IsUnknownResource(err error) bool {
	_, ok := err.(unknownResourceError)
	return ok
}

package jobs

// duplicateCorrelationIDError signals a caller bug: the id is already in
// flight. No job is submitted when this is returned.
type duplicateCorrelationIDError struct{ id string }

func (e duplicateCorrelationIDError) Error() string {
	return "duplicate correlation id: " + e.id
}

// ErrDuplicateCorrelationID constructs a duplicate-id error.
func ErrDuplicateCorrelationID(id string) error { return duplicateCorrelationIDError{id: id} }

// IsDuplicateCorrelationID reports whether err indicates a duplicate id (return 409).
func IsDuplicateCorrelationID(err error) bool {
	_, ok := err.(duplicateCorrelationIDError)
	return ok
}

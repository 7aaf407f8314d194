package service

// invalidRequestError signals a malformed command for 400 mapping.
type invalidRequestError struct{ msg string }

func (e invalidRequestError) Error() string { return e.msg }

// ErrInvalidRequest constructs an invalidRequestError.
func ErrInvalidRequest(msg string) error { return invalidRequestError{msg: msg} }

// IsInvalidRequest reports whether err indicates a malformed command.
func IsInvalidRequest(err error) bool {
	_, ok := err.(invalidRequestError)
	return ok
}

// notFoundError signals an unknown model or job for 404 mapping.
type notFoundError struct{ msg string }

func (e notFoundError) Error() string { return e.msg }

// ErrNotFound constructs a notFoundError.
func ErrNotFound(msg string) error { return notFoundError{msg: msg} }

// IsNotFound reports whether err indicates a missing model or job.
func IsNotFound(err error) bool {
	_, ok := err.(notFoundError)
	return ok
}

// conflictError signals a command that clashes with current model state,
// for 409 mapping.
type conflictError struct{ msg string }

func (e conflictError) Error() string { return e.msg }

// ErrConflict constructs a conflictError.
func ErrConflict(msg string) error { return conflictError{msg: msg} }

// IsConflict reports whether err indicates a state conflict.
func IsConflict(err error) bool {
	_, ok := err.(conflictError)
	return ok
}

package manager

// modelNotFoundError signals an unknown model name for 404 mapping.
type modelNotFoundError struct{ name string }

func (e modelNotFoundError) Error() string { return "model not found: " + e.name }

// ErrModelNotFound constructs a modelNotFoundError.
func ErrModelNotFound(name string) error { return modelNotFoundError{name: name} }

// IsModelNotFound reports whether err indicates a missing model name.
func IsModelNotFound(err error) bool {
	_, ok := err.(modelNotFoundError)
	return ok
}

// notDownloadedError signals a load of a model with no complete local copy.
type notDownloadedError struct{ name string }

func (e notDownloadedError) Error() string { return "model not downloaded: " + e.name }

// IsNotDownloaded reports whether err indicates the model must be
// downloaded before loading.
func IsNotDownloaded(err error) bool {
	_, ok := err.(notDownloadedError)
	return ok
}

// capacityError signals that the model cannot be admitted even after
// eviction, for 409 mapping.
type capacityError struct{ name, reason string }

func (e capacityError) Error() string { return "cannot load " + e.name + ": " + e.reason }

// IsCapacityExceeded reports whether err indicates an admission failure.
func IsCapacityExceeded(err error) bool {
	_, ok := err.(capacityError)
	return ok
}

// evictionFailedError signals that freeing room for a load failed; the
// requested load is aborted and the victim stays tracked.
type evictionFailedError struct {
	victim string
	cause  error
}

func (e evictionFailedError) Error() string {
	return "evicting " + e.victim + ": " + e.cause.Error()
}

func (e evictionFailedError) Unwrap() error { return e.cause }

// IsEvictionFailed reports whether err indicates a failed eviction.
func IsEvictionFailed(err error) bool {
	_, ok := err.(evictionFailedError)
	return ok
}

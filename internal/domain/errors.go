package domain

import "errors"

var (
	// ErrAuthentication reports that the source wants a fresh login. It is never retried.
	ErrAuthentication = errors.New("source requires authentication")
	// ErrTransientFetch marks fetch failures worth retrying on the same page.
	ErrTransientFetch = errors.New("transient fetch failure")
)

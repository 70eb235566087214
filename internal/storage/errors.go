package storage

import "errors"

var (
	// ErrNodeNotFound is returned when an inference node is not found
	ErrNodeNotFound = errors.New("inference node not found")

	// ErrCredentialNotFound is returned when a user has no key for a provider
	ErrCredentialNotFound = errors.New("credential not found")
)

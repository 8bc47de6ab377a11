package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound        = errors.New("entity not found")
	ErrAlreadyExists   = errors.New("entity already exists")
	ErrInvalidArgument = errors.New("invalid argument")

	// Job/chunk processing errors
	ErrJobNotFound       = errors.New("job not found")
	ErrChunkNotFound     = errors.New("chunk not found")
	ErrJobNotCancellable = errors.New("job is not in a cancellable state")
	ErrJobNotResumable   = errors.New("job is not in a resumable state")
	ErrJobLocked         = errors.New("job is owned by another worker")
)

package domain

import "errors"

var (
	// ErrJobNotFound is returned when no progress row matches the job ID.
	ErrJobNotFound = errors.New("import job not found")
	// ErrJobAlreadyActive is returned when a job of the same type is in progress or paused.
	ErrJobAlreadyActive = errors.New("an import job of this type is already active")
	// ErrInvalidTransition is returned for pause/resume requests from the wrong status.
	ErrInvalidTransition = errors.New("invalid job status transition")
	// ErrInvalidArgument is returned for malformed job requests.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrMissingCredential is returned when a job needs an API key that is not configured.
	ErrMissingCredential = errors.New("missing credential")
)

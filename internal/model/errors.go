package model

import "errors"

var (
	// ErrNotFound is returned when a resource is not found.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when a resource already exists.
	ErrAlreadyExists = errors.New("already exists")
	// ErrNotValid is returned when a resource is not valid.
	ErrNotValid = errors.New("not valid")
	// ErrMissingCredential is returned when no credential resolves for an agent backend.
	ErrMissingCredential = errors.New("missing credential")
	// ErrProvisionTimeout is returned when sandbox provisioning exceeds its time bound.
	ErrProvisionTimeout = errors.New("provision timeout")
	// ErrAgentStalled is returned when an agent stream stops emitting before completion.
	ErrAgentStalled = errors.New("agent stalled")
	// ErrOutputLimitExceeded is returned when an agent stream exceeds the output cap.
	ErrOutputLimitExceeded = errors.New("output limit exceeded")
	// ErrCancelled is returned when an operation is cancelled by the user.
	ErrCancelled = errors.New("cancelled")
	// ErrRateLimited is returned when a user exceeds the task rate limit.
	ErrRateLimited = errors.New("rate limited")
)

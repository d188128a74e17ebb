// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across repo/service layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized indicates failed authentication/authorization.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden indicates an authenticated caller lacks the privilege for an operation.
	ErrForbidden = errors.New("forbidden")

	// ErrRateLimited indicates temporary login lock due to rate limiting.
	ErrRateLimited = errors.New("rate limited")

	// ErrAlreadyExists indicates a unique constraint violation (e.g., username taken,
	// payment reference already applied to another account).
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidArgument indicates a request failed validation.
	ErrInvalidArgument = errors.New("invalid argument")
)

// Generation and payment flow sentinels.
var (
	// ErrInvalidRedirect indicates a URL that does not carry payment callback parameters.
	ErrInvalidRedirect = errors.New("invalid payment redirect")

	// ErrNoImage indicates a model was requested before any image was generated.
	ErrNoImage = errors.New("no image generated yet")

	// ErrNoParams indicates a regeneration with no previously used parameters.
	ErrNoParams = errors.New("no previous generation parameters")

	// ErrSuperseded marks a result that arrived after a newer request had started.
	ErrSuperseded = errors.New("result superseded by a newer request")
)

package shared

import "fmt"

var (
	ErrNotImplemented = fmt.Errorf("not implemented")

	// Configuration errors
	ErrMissingConfig      = fmt.Errorf("configuration not found")
	ErrInvalidConfig      = fmt.Errorf("invalid configuration")
	ErrMissingCredentials = fmt.Errorf("missing credentials")
	ErrInvalidCredentials = fmt.Errorf("invalid credentials")

	// Authentication errors
	ErrAuthFailed = fmt.Errorf("authentication failed")
	ErrTimeout    = fmt.Errorf("operation timed out")

	// API and service errors
	ErrAPIRequest         = fmt.Errorf("API request failed")
	ErrServiceUnavailable = fmt.Errorf("service unavailable")
	ErrAlreadyConnected   = fmt.Errorf("platform already connected")
	ErrPublisher          = fmt.Errorf("publisher rejected the request")

	// Pipeline errors
	ErrAssembly   = fmt.Errorf("video assembly failed")
	ErrEmptyAudio = fmt.Errorf("audio track is empty or unreadable")

	// Slot allocation errors
	ErrAllAccountsBusy = fmt.Errorf("all accounts are busy, try again shortly")
	ErrNoCapacity      = fmt.Errorf("no free slot and nothing displaceable")

	// Lookup errors
	ErrSessionNotFound    = fmt.Errorf("session not found")
	ErrChannelNotFound    = fmt.Errorf("channel not found")
	ErrCredentialNotFound = fmt.Errorf("credential not found")

	// Input validation errors
	ErrInvalidInput    = fmt.Errorf("invalid input")
	ErrMissingArgument = fmt.Errorf("missing required argument")
	ErrInvalidArgument = fmt.Errorf("invalid argument")
	ErrMissingAsset    = fmt.Errorf("required asset missing")
)

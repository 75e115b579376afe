package models

import "errors"

var (
	// ErrConfig is fatal at startup: missing token or no usable servers.
	ErrConfig = errors.New("config error")
	// ErrInvalidIndex rejects a machine index outside 1..Machines.
	ErrInvalidIndex = errors.New("invalid machine index")
	// ErrInvalidPage rejects a page outside 0..pages-1.
	ErrInvalidPage = errors.New("invalid page")
	// ErrTransport covers dial, auth, timeout and session failures.
	ErrTransport = errors.New("transport failure")
	// ErrDelivery marks a failed artifact upload.
	ErrDelivery = errors.New("delivery failure")
	// ErrAccessDenied is returned by the access gate.
	ErrAccessDenied = errors.New("access denied")
	// ErrUnknownAction marks malformed tokens or unknown servers.
	ErrUnknownAction = errors.New("unknown action")
	// ErrStaleAction marks a valid token issued from another navigation state.
	ErrStaleAction = errors.New("stale action")
)

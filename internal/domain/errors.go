package domain

import (
	"errors"
	"fmt"
)

// Session-level sentinels. Either one tears down the whole session.
var (
	// ErrAuthRejected means the signaling endpoint refused the token.
	ErrAuthRejected = errors.New("authentication token rejected")

	// ErrConnectionLost means the signaling channel stayed down after
	// exhausting its reconnection attempts.
	ErrConnectionLost = errors.New("signaling connection lost")

	// ErrMeetingEnded means the backend ended the meeting for everyone.
	ErrMeetingEnded = errors.New("meeting ended")
)

// NetworkError wraps a transport-level failure that is subject to the
// reconnection policy rather than being immediately fatal.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network: %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// MediaErrorKind classifies a local capture failure. Each kind maps to a
// distinct user-facing remediation; none is retried automatically.
type MediaErrorKind string

const (
	MediaPermissionDenied         MediaErrorKind = "permission-denied"
	MediaDeviceNotFound           MediaErrorKind = "device-not-found"
	MediaDeviceBusy               MediaErrorKind = "device-busy"
	MediaConstraintsUnsatisfiable MediaErrorKind = "constraints-unsatisfiable"
	MediaAborted                  MediaErrorKind = "aborted"
)

// MediaError is a capture failure, fatal to joining.
type MediaError struct {
	Kind MediaErrorKind
	Err  error
}

func (e *MediaError) Error() string {
	return fmt.Sprintf("media: %s: %v", e.Kind, e.Err)
}

func (e *MediaError) Unwrap() error { return e.Err }

// Remediation returns kind-specific guidance suitable for showing to the
// user, instead of one generic failure string.
func (e *MediaError) Remediation() string {
	switch e.Kind {
	case MediaPermissionDenied:
		return "Camera or microphone access was denied. Grant permission and rejoin."
	case MediaDeviceNotFound:
		return "No camera or microphone was found. Connect a device and rejoin."
	case MediaDeviceBusy:
		return "The camera or microphone is in use by another application. Close it and rejoin."
	case MediaConstraintsUnsatisfiable:
		return "The camera or microphone does not support the requested capture settings."
	default:
		return "Media capture was interrupted. Try again."
	}
}

// NegotiationError is a per-participant offer/answer failure. It closes only
// that participant's connection; the caller may initiate a fresh offer.
type NegotiationError struct {
	Participant string
	Err         error
}

func (e *NegotiationError) Error() string {
	return fmt.Sprintf("negotiation with %s: %v", e.Participant, e.Err)
}

func (e *NegotiationError) Unwrap() error { return e.Err }

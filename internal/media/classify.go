package media

import (
	"errors"
	"os"
	"strings"

	"huddle/client/internal/domain"
)

// classify maps a capture failure onto the MediaError taxonomy so the caller
// can show remediation-specific guidance instead of one generic message.
// Capture drivers report failures as wrapped OS errors or prose, so this
// matches on both.
func classify(err error) *domain.MediaError {
	msg := strings.ToLower(err.Error())

	switch {
	case errors.Is(err, os.ErrPermission),
		containsAny(msg, "permission denied", "operation not permitted", "access denied"):
		return &domain.MediaError{Kind: domain.MediaPermissionDenied, Err: err}

	case containsAny(msg, "failed to find the best driver", "no such device", "device not found", "no device"):
		return &domain.MediaError{Kind: domain.MediaDeviceNotFound, Err: err}

	case containsAny(msg, "device or resource busy", "already in use"):
		return &domain.MediaError{Kind: domain.MediaDeviceBusy, Err: err}

	case containsAny(msg, "constraint", "unsupported property"):
		return &domain.MediaError{Kind: domain.MediaConstraintsUnsatisfiable, Err: err}

	default:
		return &domain.MediaError{Kind: domain.MediaAborted, Err: err}
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

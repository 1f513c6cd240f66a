package camera

import (
	"context"
	"errors"
	"strings"

	"snapsight/internal/domain"
)

// MediaError mirrors the DOMException a browser raises from getUserMedia.
type MediaError struct {
	Name       string // e.g. "NotAllowedError", "OverconstrainedError"
	Message    string
	Constraint string // set for OverconstrainedError
}

func (e *MediaError) Error() string {
	if e.Constraint != "" {
		return e.Name + ": " + e.Message + " (constraint " + e.Constraint + ")"
	}
	if e.Message == "" {
		return e.Name
	}
	return e.Name + ": " + e.Message
}

// mediaErrorReasons maps DOMException names, including legacy Chrome and
// Firefox spellings, to acquisition reason sentinels.
var mediaErrorReasons = map[string]error{
	"NotAllowedError":             domain.ErrPermissionDenied,
	"PermissionDeniedError":       domain.ErrPermissionDenied,
	"SecurityError":               domain.ErrPermissionDenied,
	"NotFoundError":               domain.ErrNoDevice,
	"DevicesNotFoundError":        domain.ErrNoDevice,
	"OverconstrainedError":        domain.ErrOverconstrained,
	"ConstraintNotSatisfiedError": domain.ErrOverconstrained,
	"NotReadableError":            domain.ErrDeviceBusy,
	"TrackStartError":             domain.ErrDeviceBusy,
	"AbortError":                  domain.ErrDeviceBusy,
}

// reasonPatterns catch errors that arrive as plain text. Checked
// case-insensitively, in order.
var reasonPatterns = []struct {
	substr string
	reason error
}{
	{"permission", domain.ErrPermissionDenied},
	{"not allowed", domain.ErrPermissionDenied},
	{"requested device not found", domain.ErrNoDevice},
	{"no device", domain.ErrNoDevice},
	{"overconstrained", domain.ErrOverconstrained},
	{"could not start video source", domain.ErrDeviceBusy},
	{"in use", domain.ErrDeviceBusy},
	{"busy", domain.ErrDeviceBusy},
}

var reasonSentinels = []error{
	domain.ErrPermissionDenied,
	domain.ErrNoDevice,
	domain.ErrOverconstrained,
	domain.ErrDeviceBusy,
}

// ClassifyMediaError reduces a getUserMedia failure to one of
// ErrPermissionDenied, ErrNoDevice, ErrOverconstrained or ErrDeviceBusy.
// Unrecognised errors are treated as a busy or unavailable device.
func ClassifyMediaError(err error) error {
	if err == nil {
		return nil
	}

	for _, sentinel := range reasonSentinels {
		if errors.Is(err, sentinel) {
			return sentinel
		}
	}

	var me *MediaError
	if errors.As(err, &me) {
		if reason, ok := mediaErrorReasons[me.Name]; ok {
			return reason
		}
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return domain.ErrDeviceBusy
	}

	lower := strings.ToLower(err.Error())
	for _, p := range reasonPatterns {
		if strings.Contains(lower, p.substr) {
			return p.reason
		}
	}
	return domain.ErrDeviceBusy
}

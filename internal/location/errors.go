// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package location

import (
	"errors"
)

var (
	// ErrPermissionDenied is returned when the user or the OS denied access to the position source.
	ErrPermissionDenied = errors.New("location access denied")

	// ErrServicesDisabled is returned when no position source is available at all.
	ErrServicesDisabled = errors.New("location services disabled")

	// ErrLocationUnknown signals that a source is running but has no position yet. It is transient.
	ErrLocationUnknown = errors.New("location currently unknown")

	// ErrTimeout is recorded when refinement did not acquire any fix before its deadline.
	ErrTimeout = errors.New("timed out acquiring a location")

	// ErrResolutionFailed is recorded when an address could not be resolved for a fix.
	ErrResolutionFailed = errors.New("address resolution failed")
)

// ErrorKind classifies errors for the presentation layer.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindPermissionDenied
	KindServicesDisabled
	KindLocationUnknown
	KindTimeout
	KindResolutionFailed
	KindGenericSourceError
)

var kindNames = map[ErrorKind]string{
	KindNone:               "none",
	KindPermissionDenied:   "permission_denied",
	KindServicesDisabled:   "services_disabled",
	KindLocationUnknown:    "location_unknown",
	KindTimeout:            "timeout",
	KindResolutionFailed:   "resolution_failed",
	KindGenericSourceError: "source_error",
}

func (k ErrorKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// KindOf maps an error to its ErrorKind. Errors that do not wrap one of the package
// sentinels are generic source errors.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrPermissionDenied):
		return KindPermissionDenied
	case errors.Is(err, ErrServicesDisabled):
		return KindServicesDisabled
	case errors.Is(err, ErrLocationUnknown):
		return KindLocationUnknown
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.Is(err, ErrResolutionFailed):
		return KindResolutionFailed
	default:
		return KindGenericSourceError
	}
}

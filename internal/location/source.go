// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package location

import (
	"context"
)

// AuthorizationStatus describes whether the user allowed access to a position source.
type AuthorizationStatus int

const (
	AuthNotDetermined AuthorizationStatus = iota
	AuthAuthorized
	AuthDenied
	AuthRestricted
)

func (s AuthorizationStatus) String() string {
	switch s {
	case AuthAuthorized:
		return "authorized"
	case AuthDenied:
		return "denied"
	case AuthRestricted:
		return "restricted"
	default:
		return "not_determined"
	}
}

// Source is the location service consumed by the refinement engine.
//
// Subscribe starts continuous updates with the given desired accuracy and returns the update
// channel together with a function that ends the subscription. The channel is closed after
// the subscription ended.
type Source interface {
	ServiceEnabled(ctx context.Context) bool
	AuthorizationStatus(ctx context.Context) AuthorizationStatus
	RequestAuthorization(ctx context.Context)
	Subscribe(ctx context.Context, desiredAccuracy float64) (<-chan Update, func())
}

// Provider is a single position backend, e.g. gpsd or a serial NMEA receiver.
//
// Stream delivers updates until ctx is canceled or the backend fails. The channel is closed
// when the stream ends.
type Provider interface {
	Name() string
	Available(ctx context.Context) bool
	Stream(ctx context.Context, desiredAccuracy float64) <-chan Update
}

// Authorizer is implemented by providers that gate access behind a permission.
type Authorizer interface {
	AuthorizationStatus(ctx context.Context) AuthorizationStatus
	RequestAuthorization(ctx context.Context)
}

// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package location defines the readings, errors and the source interface through which position
// providers feed the refinement engine.
package location

import (
	"time"

	"github.com/wneessen/waybar-location/internal/geo"
)

// Reading is a single position sample delivered by a location source. A negative
// HorizontalAccuracy marks the sample as invalid.
type Reading struct {
	geo.Coordinate
	HorizontalAccuracy float64
	Timestamp          time.Time
	Source             string
}

// Valid reports whether the reading carries a usable accuracy and coordinate.
func (r Reading) Valid() bool {
	return r.HorizontalAccuracy >= 0 && r.Coordinate.Valid()
}

// Age returns how old the reading is relative to now.
func (r Reading) Age(now time.Time) time.Duration {
	return now.Sub(r.Timestamp)
}

// Update is a single message on a source subscription: either a Reading or an error.
type Update struct {
	Reading Reading
	Err     error
}

// IsError reports whether the update carries an error instead of a reading.
func (u Update) IsError() bool {
	return u.Err != nil
}

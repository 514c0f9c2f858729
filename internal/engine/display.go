// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/wneessen/waybar-location/internal/geocode"
	"github.com/wneessen/waybar-location/internal/location"
)

// User facing texts. They double as message IDs for the translation catalog.
const (
	StatusSearching        = "Searching..."
	StatusTapToStart       = "Tap 'Get My Location' to Start"
	StatusServicesDisabled = "Location Services Disabled"
	StatusLocationError    = "Error Getting Location"

	AddressSearching = "Searching for Address..."
	AddressError     = "Error Finding Address"
	AddressNotFound  = "No Address Found"

	ActionStop  = "Stop"
	ActionStart = "Get My Location"

	AlertServicesDisabled = "Location Services Disabled\nPlease enable location services for this app in Settings."
)

// DisplayState is the presentation view of the engine.
type DisplayState struct {
	Latitude         string
	Longitude        string
	Address          string
	Status           string
	TagActionEnabled bool

	ActionTitle string
	Refining    bool
	Alert       string

	HasFix     bool
	Accuracy   float64
	FixTime    time.Time
	Source     string
	Coordinate string
	ErrorKind  location.ErrorKind

	// DeadlineReached is set when the last session ended at its deadline.
	DeadlineReached bool
}

// Project derives the display state from the session and the address resolution. It has no
// side effects.
func Project(session SessionState, res AddressResolution) DisplayState {
	ds := DisplayState{
		ActionTitle:     ActionStart,
		Refining:        session.Refining(),
		ErrorKind:       location.KindOf(session.LastError),
		DeadlineReached: session.DeadlineReached,
	}
	if ds.Refining {
		ds.ActionTitle = ActionStop
	}
	if session.PermissionAlert {
		ds.Alert = AlertServicesDisabled
	}

	if session.Fix != nil {
		fix := session.Fix
		ds.HasFix = true
		ds.TagActionEnabled = true
		ds.Latitude = fmt.Sprintf("%.8f", fix.Lat)
		ds.Longitude = fmt.Sprintf("%.8f", fix.Lon)
		ds.Coordinate = fix.Coordinate.String()
		ds.Accuracy = fix.HorizontalAccuracy
		ds.FixTime = fix.Timestamp
		ds.Source = fix.Source
		ds.Address = addressText(res)
		if ds.Address == AddressError && ds.ErrorKind == location.KindNone {
			ds.ErrorKind = location.KindOf(res.Err)
		}
		return ds
	}

	switch {
	case session.LastError != nil:
		switch ds.ErrorKind {
		case location.KindPermissionDenied, location.KindServicesDisabled:
			ds.Status = StatusServicesDisabled
		default:
			ds.Status = StatusLocationError
		}
	case session.ServicesDisabled:
		ds.Status = StatusServicesDisabled
	case ds.Refining:
		ds.Status = StatusSearching
	default:
		ds.Status = StatusTapToStart
	}
	return ds
}

func addressText(res AddressResolution) string {
	switch {
	case res.Address != nil:
		return res.Address.Format()
	case res.Pending:
		return AddressSearching
	case res.Err != nil && !errors.Is(res.Err, geocode.ErrNoAddress):
		return AddressError
	default:
		return AddressNotFound
	}
}

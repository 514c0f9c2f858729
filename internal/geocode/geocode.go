// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package geocode defines the reverse geocoding interface and the wrappers around it.
package geocode

import (
	"context"
	"errors"
	"strings"

	"github.com/wneessen/waybar-location/internal/geo"
)

// ErrNoAddress is returned when a geocoder found no address for the coordinates.
var ErrNoAddress = errors.New("no address found for coordinates")

// Address is a single reverse geocoding candidate. State holds the region (state, province or
// county, depending on the country).
type Address struct {
	Latitude     float64
	Longitude    float64
	DisplayName  string
	Country      string
	State        string
	Municipality string
	CityDistrict string
	Postcode     string
	City         string
	Suburb       string
	Street       string
	HouseNumber  string
	CacheHit     bool
}

// Format renders the address as "<house number> <street>\n<city> <region> <postcode>". Empty
// parts are left out, a line without any part is dropped.
func (a Address) Format() string {
	lines := make([]string, 0, 2)
	if line := joinNonEmpty(a.HouseNumber, a.Street); line != "" {
		lines = append(lines, line)
	}
	if line := joinNonEmpty(a.City, a.State, a.Postcode); line != "" {
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

// Empty reports whether the address carries none of the formatted fields.
func (a Address) Empty() bool {
	return a.Format() == ""
}

// Geocoder resolves coordinates to address candidates. The preferred candidate is the last
// one of the list. An empty result is not an error.
type Geocoder interface {
	Name() string
	Reverse(ctx context.Context, coords geo.Coordinate) ([]Address, error)
}

func joinNonEmpty(parts ...string) string {
	nonEmpty := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			nonEmpty = append(nonEmpty, part)
		}
	}
	return strings.Join(nonEmpty, " ")
}

// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package geo provides coordinate types and great-circle math shared by the location sources,
// the refinement engine and the geocoders.
package geo

import (
	"fmt"
	"math"

	"github.com/golang/geo/s2"
)

const (
	EarthRadius    = 6371008.8 // meters, mean radius
	TruncPrecision = 6
)

// Coordinate represents a geographic coordinate in decimal degrees.
type Coordinate struct {
	Lat float64
	Lon float64
}

// LatLng returns the coordinate as s2.LatLng.
func (c Coordinate) LatLng() s2.LatLng {
	return s2.LatLngFromDegrees(c.Lat, c.Lon)
}

// DistanceTo returns the great-circle distance between c and other in meters.
func (c Coordinate) DistanceTo(other Coordinate) float64 {
	return c.LatLng().Distance(other.LatLng()).Radians() * EarthRadius
}

// Valid checks if the coordinate is valid according to the EPSG:4326 ranges.
func (c Coordinate) Valid() bool {
	if math.IsNaN(c.Lat) || math.IsNaN(c.Lon) {
		return false
	}
	return c.Lat >= -90 && c.Lat <= 90 && c.Lon >= -180 && c.Lon <= 180
}

// String formats the coordinate with eight decimals, which resolves to about a millimeter.
func (c Coordinate) String() string {
	return fmt.Sprintf("%.8f,%.8f", c.Lat, c.Lon)
}

// Truncate cuts x to the given number of decimals.
func Truncate(x float64, precision int) float64 {
	p := math.Pow(10, float64(precision))
	return math.Trunc(x*p) / p
}

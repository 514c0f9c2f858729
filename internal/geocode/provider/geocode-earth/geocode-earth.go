// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package geocodeearth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"time"

	"golang.org/x/text/language"

	"github.com/wneessen/waybar-location/internal/geo"
	"github.com/wneessen/waybar-location/internal/geocode"
	"github.com/wneessen/waybar-location/internal/http"
)

const (
	APIEndpoint = "https://api.geocode.earth/v1/reverse"
	APITimeout  = time.Second * 10
	name        = "geocode-earth"

	// maxCandidates limits the number of features requested per lookup
	maxCandidates = "5"
)

var ErrMissingAPIKey = errors.New("geocode.earth requires an API key")

type GeocodeEarth struct {
	apikey string
	http   *http.Client
	lang   language.Tag
}

type Response struct {
	Features []Feature `json:"features"`
	Type     string    `json:"type"`
}

type Feature struct {
	Geometry   Geometry   `json:"geometry"`
	Properties Properties `json:"properties"`
	Type       string     `json:"type"`
}

// Geometry is a GeoJSON point, coordinates are ordered longitude, latitude.
type Geometry struct {
	Coordinates []float64 `json:"coordinates"`
}

type Properties struct {
	DisplayName   string  `json:"label"`
	Layer         string  `json:"layer"`
	Distance      float64 `json:"distance"`
	City          string  `json:"locality"`
	County        string  `json:"county"`
	Country       string  `json:"country"`
	CountryCode   string  `json:"country_code"`
	HouseNumber   string  `json:"housenumber"`
	Borough       string  `json:"borough"`
	Neighbourhood string  `json:"neighbourhood"`
	Postcode      string  `json:"postalcode"`
	Road          string  `json:"street"`
	State         string  `json:"region"`
	StateCode     string  `json:"region_a"`
}

func New(client *http.Client, lang language.Tag, apikey string) (*GeocodeEarth, error) {
	if apikey == "" {
		return nil, ErrMissingAPIKey
	}
	return &GeocodeEarth{
		apikey: apikey,
		lang:   lang,
		http:   client,
	}, nil
}

func (g *GeocodeEarth) Name() string {
	return name
}

// Reverse returns the features closest to the coordinates. Pelias sorts by distance, the list is
// reversed so the closest feature ends up last.
func (g *GeocodeEarth) Reverse(ctx context.Context, coords geo.Coordinate) ([]geocode.Address, error) {
	var response Response

	query := url.Values{}
	query.Set("api_key", g.apikey)
	query.Set("point.lat", fmt.Sprintf("%f", coords.Lat))
	query.Set("point.lon", fmt.Sprintf("%f", coords.Lon))
	query.Set("size", maxCandidates)
	query.Set("lang", g.lang.String())

	if _, err := g.http.GetWithTimeout(ctx, APIEndpoint, &response, query, nil, APITimeout); err != nil {
		return nil, fmt.Errorf("failed to retrieve address details from geocode.earth API: %w", err)
	}

	addresses := make([]geocode.Address, 0, len(response.Features))
	for _, feature := range response.Features {
		addresses = append(addresses, toAddress(feature, coords))
	}
	slices.Reverse(addresses)
	return addresses, nil
}

func toAddress(feature Feature, coords geo.Coordinate) geocode.Address {
	props := feature.Properties
	address := geocode.Address{
		Latitude:     coords.Lat,
		Longitude:    coords.Lon,
		DisplayName:  props.DisplayName,
		Country:      props.Country,
		State:        props.State,
		Municipality: props.Neighbourhood,
		CityDistrict: props.Borough,
		Postcode:     props.Postcode,
		City:         props.City,
		Street:       props.Road,
		HouseNumber:  props.HouseNumber,
	}
	if len(feature.Geometry.Coordinates) == 2 {
		address.Longitude = feature.Geometry.Coordinates[0]
		address.Latitude = feature.Geometry.Coordinates[1]
	}
	if address.State == "" {
		address.State = props.County
	}
	return address
}

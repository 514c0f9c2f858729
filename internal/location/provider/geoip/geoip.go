// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package geoip implements a coarse location provider that derives the position from the public
// IP address. It is the last resort when no receiver or WiFi based lookup is available.
package geoip

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wneessen/waybar-location/internal/geo"
	"github.com/wneessen/waybar-location/internal/http"
	"github.com/wneessen/waybar-location/internal/location"
)

const (
	APIEndpoint   = "https://reallyfreegeoip.org/json/"
	lookupTimeout = time.Second * 5
	name          = "geoip"
)

// Accuracy radii in meters, derived from the most specific field the API returned.
const (
	AccuracyCountry = 300000
	AccuracyRegion  = 100000
	AccuracyCity    = 15000
	AccuracyZip     = 3000
)

type Provider struct {
	name     string
	endpoint string
	http     *http.Client
	period   time.Duration
}

type APIResult struct {
	IP          string  `json:"ip"`
	CountryCode string  `json:"country_code"`
	Country     string  `json:"country_name"`
	RegionCode  string  `json:"region_code,omitempty"`
	Region      string  `json:"region_name,omitempty"`
	City        string  `json:"city,omitempty"`
	ZipCode     string  `json:"zip_code,omitempty"`
	TimeZone    string  `json:"time_zone"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
}

func New(client *http.Client) (*Provider, error) {
	if client == nil {
		return nil, errors.New("http client is required")
	}
	return &Provider{
		name:     name,
		endpoint: APIEndpoint,
		http:     client,
		period:   time.Minute * 5,
	}, nil
}

func (p *Provider) Name() string {
	return p.name
}

// Available always reports true, every host with network access has a public address.
func (p *Provider) Available(context.Context) bool {
	return true
}

// Stream looks up the position once per period until ctx is canceled.
func (p *Provider) Stream(ctx context.Context, _ float64) <-chan location.Update {
	out := make(chan location.Update)
	go func() {
		defer close(out)
		for {
			var update location.Update
			coord, acc, err := p.locate(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				update.Err = err
			} else {
				update.Reading = location.Reading{
					Coordinate:         coord,
					HorizontalAccuracy: acc,
					Timestamp:          time.Now(),
					Source:             p.name,
				}
			}

			select {
			case <-ctx.Done():
				return
			case out <- update:
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(p.period):
			}
		}
	}()
	return out
}

func (p *Provider) locate(ctx context.Context) (geo.Coordinate, float64, error) {
	result := new(APIResult)
	if _, err := p.http.GetWithTimeout(ctx, p.endpoint, result, nil, nil, lookupTimeout); err != nil {
		return geo.Coordinate{}, 0, fmt.Errorf("failed to get geolocation data from API: %w", err)
	}

	var acc float64
	switch {
	case result.ZipCode != "":
		acc = AccuracyZip
	case result.City != "":
		acc = AccuracyCity
	case result.RegionCode != "":
		acc = AccuracyRegion
	case result.CountryCode != "":
		acc = AccuracyCountry
	default:
		return geo.Coordinate{}, 0, fmt.Errorf("API did not resolve the address %q: %w", result.IP,
			location.ErrLocationUnknown)
	}

	coord := geo.Coordinate{
		Lat: geo.Truncate(result.Latitude, geo.TruncPrecision),
		Lon: geo.Truncate(result.Longitude, geo.TruncPrecision),
	}
	if !coord.Valid() {
		return geo.Coordinate{}, 0, fmt.Errorf("API returned an invalid position: %w", location.ErrLocationUnknown)
	}
	return coord, acc, nil
}

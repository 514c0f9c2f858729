// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package google

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/kelvins/geocoder"

	"github.com/wneessen/waybar-location/internal/geo"
	"github.com/wneessen/waybar-location/internal/geocode"
)

const name = "google"

var ErrMissingAPIKey = errors.New("google geocoding requires an API key")

// keyLock guards the package level API key of the geocoder library.
var keyLock sync.Mutex

type reverseFunc func(location geocoder.Location) ([]geocoder.Address, error)

// Google resolves coordinates with the Google Maps geocoding API.
type Google struct {
	apikey    string
	reverseFn reverseFunc
}

func New(apikey string) (*Google, error) {
	if apikey == "" {
		return nil, ErrMissingAPIKey
	}
	g := &Google{apikey: apikey}
	g.reverseFn = g.reverse
	return g, nil
}

func (g *Google) Name() string {
	return name
}

// Reverse returns all candidates Google knows for the coordinates. Google lists the most
// specific result first, the list is reversed so it ends up last. The geocoder library does
// not take a context, a canceled lookup is abandoned and finishes in the background.
func (g *Google) Reverse(ctx context.Context, coords geo.Coordinate) ([]geocode.Address, error) {
	type result struct {
		addrs []geocoder.Address
		err   error
	}
	done := make(chan result, 1)
	go func() {
		addrs, err := g.reverseFn(geocoder.Location{Latitude: coords.Lat, Longitude: coords.Lon})
		done <- result{addrs: addrs, err: err}
	}()

	var res result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-done:
	}
	if res.err != nil {
		if isZeroResults(res.err) {
			return []geocode.Address{}, nil
		}
		return nil, fmt.Errorf("failed to retrieve address details from Google API: %w", res.err)
	}

	addresses := make([]geocode.Address, 0, len(res.addrs))
	for _, addr := range res.addrs {
		addresses = append(addresses, toAddress(addr, coords))
	}
	slices.Reverse(addresses)
	return addresses, nil
}

func (g *Google) reverse(location geocoder.Location) ([]geocoder.Address, error) {
	keyLock.Lock()
	defer keyLock.Unlock()
	geocoder.ApiKey = g.apikey
	return geocoder.GeocodingReverse(location)
}

// isZeroResults reports whether the API answered with ZERO_RESULTS, which means the
// coordinates are not near any address.
func isZeroResults(err error) bool {
	return strings.Contains(err.Error(), "ZERO_RESULTS")
}

func toAddress(addr geocoder.Address, coords geo.Coordinate) geocode.Address {
	address := geocode.Address{
		Latitude:     coords.Lat,
		Longitude:    coords.Lon,
		DisplayName:  addr.FormattedAddress,
		Country:      addr.Country,
		State:        addr.State,
		CityDistrict: addr.District,
		Postcode:     addr.PostalCode,
		City:         addr.City,
		Suburb:       addr.Neighborhood,
		Street:       addr.Street,
	}
	if addr.Number > 0 {
		address.HouseNumber = strconv.Itoa(addr.Number)
	}
	if address.State == "" {
		address.State = addr.County
	}
	return address
}

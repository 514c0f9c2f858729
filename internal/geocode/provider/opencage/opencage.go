// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package opencage

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
	APIEndpoint = "https://api.opencagedata.com/geocode/v1/json"
	APITimeout  = time.Second * 10
	name        = "opencage"
)

var ErrMissingAPIKey = errors.New("opencage geocoding requires an API key")

type OpenCage struct {
	apikey string
	http   *http.Client
	lang   language.Tag
}

type Response struct {
	Results      []Result `json:"results"`
	Status       Status   `json:"status"`
	TotalResults int      `json:"total_results"`
}

type Status struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type Result struct {
	Components  Components `json:"components"`
	Confidence  int        `json:"confidence"`
	DisplayName string     `json:"formatted"`
	Geometry    Geometry   `json:"geometry"`
}

type Components struct {
	NomalizedCity string `json:"_normalized_city"`
	City          string `json:"city"`
	CityDistrict  string `json:"city_district"`
	Country       string `json:"country"`
	CountryCode   string `json:"country_code"`
	County        string `json:"county"`
	HouseNumber   string `json:"house_number"`
	Municipality  string `json:"municipality"`
	Postcode      string `json:"postcode"`
	Road          string `json:"road"`
	State         string `json:"state"`
	StateCode     string `json:"state_code"`
	Suburb        string `json:"suburb"`
	Town          string `json:"town"`
	Village       string `json:"village"`
}

type Geometry struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lng"`
}

func New(client *http.Client, lang language.Tag, apikey string) (*OpenCage, error) {
	if apikey == "" {
		return nil, ErrMissingAPIKey
	}
	return &OpenCage{
		apikey: apikey,
		lang:   lang,
		http:   client,
	}, nil
}

func (o *OpenCage) Name() string {
	return name
}

// Reverse returns all OpenCage results for the coordinates. OpenCage ranks its best match first,
// the list is reversed so it ends up last.
func (o *OpenCage) Reverse(ctx context.Context, coords geo.Coordinate) ([]geocode.Address, error) {
	var response Response

	query := url.Values{}
	query.Set("key", o.apikey)
	query.Set("q", fmt.Sprintf("%f,%f", coords.Lat, coords.Lon))
	query.Set("no_annotations", "1")
	query.Set("no_record", "1")
	query.Set("language", o.lang.String())

	if _, err := o.http.GetWithTimeout(ctx, APIEndpoint, &response, query, nil, APITimeout); err != nil {
		return nil, fmt.Errorf("failed to retrieve address details from OpenCage API: %w", err)
	}
	if response.Status.Code != 0 && response.Status.Code != 200 {
		return nil, fmt.Errorf("OpenCage API returned status %d: %s", response.Status.Code,
			response.Status.Message)
	}

	addresses := make([]geocode.Address, 0, len(response.Results))
	for _, result := range response.Results {
		addresses = append(addresses, toAddress(result))
	}
	slices.Reverse(addresses)
	return addresses, nil
}

func toAddress(result Result) geocode.Address {
	comp := result.Components
	address := geocode.Address{
		Latitude:     result.Geometry.Lat,
		Longitude:    result.Geometry.Lon,
		DisplayName:  result.DisplayName,
		Country:      comp.Country,
		State:        comp.State,
		Municipality: comp.Municipality,
		CityDistrict: comp.CityDistrict,
		Postcode:     comp.Postcode,
		City:         comp.City,
		Suburb:       comp.Suburb,
		Street:       comp.Road,
		HouseNumber:  comp.HouseNumber,
	}
	switch {
	case address.City != "":
	case comp.Town != "":
		address.City = comp.Town
	case comp.Village != "":
		address.City = comp.Village
	default:
		address.City = comp.NomalizedCity
	}
	if address.State == "" {
		address.State = comp.County
	}
	return address
}

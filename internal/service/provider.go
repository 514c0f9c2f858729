// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package service

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"

	"github.com/wneessen/waybar-location/internal/config"
	"github.com/wneessen/waybar-location/internal/geocode"
	geocodeearth "github.com/wneessen/waybar-location/internal/geocode/provider/geocode-earth"
	"github.com/wneessen/waybar-location/internal/geocode/provider/google"
	"github.com/wneessen/waybar-location/internal/geocode/provider/opencage"
	nominatim "github.com/wneessen/waybar-location/internal/geocode/provider/osm-nominatim"
	"github.com/wneessen/waybar-location/internal/http"
	"github.com/wneessen/waybar-location/internal/location"
	"github.com/wneessen/waybar-location/internal/location/provider/file"
	"github.com/wneessen/waybar-location/internal/location/provider/geoip"
	"github.com/wneessen/waybar-location/internal/location/provider/gpsd"
	"github.com/wneessen/waybar-location/internal/location/provider/ichnaea"
	"github.com/wneessen/waybar-location/internal/location/provider/nmea"
	"github.com/wneessen/waybar-location/internal/logger"
)

func (s *Service) selectLocationProviders() ([]location.Provider, error) {
	var provider []location.Provider

	if s.config.GeoLocation.SerialDevice != "" {
		provider = append(provider, nmea.New(s.config.GeoLocation.SerialDevice, s.config.GeoLocation.SerialBaud))
	}

	if !s.config.GeoLocation.DisableGPSD {
		provider = append(provider, gpsd.New(s.config.GeoLocation.GPSDAddr))
	}

	if !s.config.GeoLocation.DisableGeolocationFile {
		provider = append(provider, file.New(s.config.GeoLocation.File))
	}

	if !s.config.GeoLocation.DisableICHNAEA {
		mls, err := ichnaea.New(http.New(s.logger))
		if err != nil {
			s.logger.Error("failed to create ICHNAEA provider", logger.Err(err))
		} else {
			provider = append(provider, mls)
		}
	}
	if !s.config.GeoLocation.DisableGeoIP {
		geoIP, err := geoip.New(http.New(s.logger))
		if err != nil {
			s.logger.Error("failed to create GeoIP provider", logger.Err(err))
		} else {
			provider = append(provider, geoIP)
		}
	}
	if len(provider) == 0 {
		return nil, fmt.Errorf("no location providers enabled")
	}

	return provider, nil
}

// selectGeocodeProvider returns the configured geocoder, guarded by a circuit breaker and
// wrapped in a cache.
func (s *Service) selectGeocodeProvider(conf *config.Config, log *logger.Logger, lang language.Tag) (geocode.Geocoder, error) {
	var coder geocode.Geocoder
	var err error

	switch strings.ToLower(conf.Geocoder.Provider) {
	case "nominatim":
		coder = nominatim.New(http.New(log), lang)
	case "opencage":
		coder, err = opencage.New(http.New(log), lang, conf.Geocoder.APIKey)
	case "geocode-earth":
		coder, err = geocodeearth.New(http.New(log), lang, conf.Geocoder.APIKey)
	case "google":
		coder, err = google.New(conf.Geocoder.APIKey)
	default:
		return nil, fmt.Errorf("unsupported geocoder type: %s", conf.Geocoder.Provider)
	}
	if err != nil {
		return nil, err
	}

	return geocode.NewCachedGeocoder(geocode.NewBreakerGeocoder(coder, log), conf.Geocoder.CacheTTL,
		conf.Geocoder.CacheMissTTL), nil
}

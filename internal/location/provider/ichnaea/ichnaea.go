// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package ichnaea implements a network location provider that resolves nearby WiFi access
// points through an Ichnaea compatible geolocation API (beaconDB by default).
package ichnaea

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mdlayher/wifi"

	"github.com/wneessen/waybar-location/internal/geo"
	"github.com/wneessen/waybar-location/internal/http"
	"github.com/wneessen/waybar-location/internal/location"
)

const (
	APIEndpoint   = "https://api.beacondb.net/v1/geolocate"
	lookupTimeout = time.Second * 5
	wifiScanTime  = time.Minute * 2
	name          = "ichnaea"
)

// wlan is the subset of the nl80211 client used for access point scans.
type wlan interface {
	Interfaces() ([]*wifi.Interface, error)
	AccessPoints(ifi *wifi.Interface) ([]*wifi.BSS, error)
}

type Provider struct {
	name     string
	endpoint string
	http     *http.Client
	wlan     wlan
	period   time.Duration
	locateFn func(ctx context.Context) (geo.Coordinate, float64, error)

	apLock sync.RWMutex
	aps    []WirelessNetwork
}

type APIResult struct {
	Location struct {
		Latitude  float64 `json:"lat"`
		Longitude float64 `json:"lng"`
	} `json:"location"`
	Accuracy float64 `json:"accuracy"`
}

type WirelessNetwork struct {
	LastSeen       int64  `json:"age"`
	MACAddress     string `json:"macAddress"`
	SignalStrength int32  `json:"signalStrength"`
}

// New returns a Provider using the given HTTP client. Without WiFi support the provider falls
// back to IP based lookups.
func New(client *http.Client) (*Provider, error) {
	if client == nil {
		return nil, errors.New("http client is required")
	}
	var scanner wlan
	if wlanClient, err := wifi.New(); err == nil {
		scanner = wlanClient
	}
	return newProvider(client, scanner), nil
}

func newProvider(client *http.Client, scanner wlan) *Provider {
	provider := &Provider{
		name:     name,
		endpoint: APIEndpoint,
		http:     client,
		wlan:     scanner,
		period:   time.Second * 30,
	}
	provider.locateFn = provider.locate
	return provider
}

func (p *Provider) Name() string {
	return p.name
}

// Available always reports true, the API falls back to the public IP address.
func (p *Provider) Available(context.Context) bool {
	return true
}

// Stream looks up the position every period until ctx is canceled. Network positions are
// coarse, the accuracy reported by the API is passed on unchanged.
func (p *Provider) Stream(ctx context.Context, _ float64) <-chan location.Update {
	out := make(chan location.Update)
	if p.wlan != nil {
		go p.monitorWifiAccessPoints(ctx)
	}
	go func() {
		defer close(out)
		firstRun := true

		for {
			if !firstRun {
				select {
				case <-ctx.Done():
					return
				case <-time.After(p.period):
				}
			}
			firstRun = false

			var update location.Update
			coord, acc, err := p.locateFn(ctx)
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
		}
	}()
	return out
}

func (p *Provider) monitorWifiAccessPoints(ctx context.Context) {
	firstRun := true
	for {
		if !firstRun {
			select {
			case <-ctx.Done():
				return
			case <-time.After(wifiScanTime):
			}
		}
		firstRun = false

		list, err := p.wifiAccessPoints()
		if err != nil {
			continue
		}
		p.apLock.Lock()
		p.aps = list
		p.apLock.Unlock()
	}
}

func (p *Provider) wifiAccessPoints() ([]WirelessNetwork, error) {
	var list []WirelessNetwork

	ifaces, err := p.wlan.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("failed to list interfaces: %w", err)
	}
	for _, iface := range ifaces {
		if iface.Type != wifi.InterfaceTypeStation {
			continue
		}
		aps, err := p.wlan.AccessPoints(iface)
		if err != nil {
			continue
		}
		for _, ap := range aps {
			if ap.SSID == "" || ap.SSID[0] == '\x00' || strings.HasSuffix(ap.SSID, "_nomap") {
				continue
			}
			list = append(list, WirelessNetwork{
				SignalStrength: ap.Signal / 100,
				MACAddress:     ap.BSSID.String(),
				LastSeen:       ap.LastSeen.Milliseconds(),
			})
		}
	}

	return list, nil
}

func (p *Provider) locate(ctx context.Context) (geo.Coordinate, float64, error) {
	p.apLock.RLock()
	wifiList := p.aps
	p.apLock.RUnlock()

	type request struct {
		ConsiderIP   bool              `json:"considerIp"`
		Accesspoints []WirelessNetwork `json:"wifiAccessPoints,omitempty"`
	}
	req := request{
		ConsiderIP:   true,
		Accesspoints: wifiList,
	}
	bodyBuffer := bytes.NewBuffer(nil)
	if err := json.NewEncoder(bodyBuffer).Encode(req); err != nil {
		return geo.Coordinate{}, 0, fmt.Errorf("failed to encode wifi list to JSON: %w", err)
	}

	result := new(APIResult)
	if _, err := p.http.PostWithTimeout(ctx, p.endpoint, result, bodyBuffer,
		map[string]string{"Content-Type": "application/json"}, lookupTimeout); err != nil {
		return geo.Coordinate{}, 0, fmt.Errorf("failed to get geolocation data from API: %w", err)
	}

	coord := geo.Coordinate{
		Lat: geo.Truncate(result.Location.Latitude, geo.TruncPrecision),
		Lon: geo.Truncate(result.Location.Longitude, geo.TruncPrecision),
	}
	if !coord.Valid() || result.Accuracy <= 0 {
		return geo.Coordinate{}, 0, fmt.Errorf("API returned no usable position: %w", location.ErrLocationUnknown)
	}
	return coord, result.Accuracy, nil
}

// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package ichnaea

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	stdhttp "net/http"
	"testing"
	"testing/synctest"
	"time"

	"github.com/mdlayher/wifi"

	"github.com/wneessen/waybar-location/internal/geo"
	"github.com/wneessen/waybar-location/internal/http"
	"github.com/wneessen/waybar-location/internal/location"
	"github.com/wneessen/waybar-location/internal/logger"
	"github.com/wneessen/waybar-location/internal/testhelper"
)

const (
	testBody = `{"location":{"lat":40.7185,"lng":-74.0025},"accuracy":2000}`
	testLat  = 40.7185
	testLon  = -74.0025
	testAcc  = 2000
)

type fakeWLAN struct {
	ifaces []*wifi.Interface
	aps    []*wifi.BSS
	err    error
}

func (f fakeWLAN) Interfaces() ([]*wifi.Interface, error) { return f.ifaces, f.err }

func (f fakeWLAN) AccessPoints(*wifi.Interface) ([]*wifi.BSS, error) { return f.aps, nil }

func testClient(fn func(req *stdhttp.Request) (*stdhttp.Response, error)) *http.Client {
	client := http.New(logger.NewLogger(slog.LevelInfo, io.Discard))
	client.Transport = testhelper.MockRoundTripper{Fn: fn}
	return client
}

func TestNew(t *testing.T) {
	t.Run("new ICHNAEA provider succeeds", func(t *testing.T) {
		provider, err := New(http.New(logger.New(slog.LevelInfo)))
		if err != nil {
			t.Fatalf("failed to create ICHNAEA provider: %s", err)
		}
		if provider.Name() != name {
			t.Errorf("expected provider name to be %s, got %s", name, provider.Name())
		}
		if !provider.Available(t.Context()) {
			t.Error("expected provider to be available")
		}
	})
	t.Run("ICHNAEA without http client fails", func(t *testing.T) {
		provider, err := New(nil)
		if err == nil {
			t.Fatal("expected provider to fail")
		}
		if provider != nil {
			t.Fatal("expected provider to be nil")
		}
	})
}

func TestProvider_wifiAccessPoints(t *testing.T) {
	provider := newProvider(http.New(logger.New(slog.LevelInfo)), nil)
	bssid := net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}
	provider.wlan = fakeWLAN{
		ifaces: []*wifi.Interface{{Type: wifi.InterfaceTypeStation}, {Type: wifi.InterfaceTypeAP}},
		aps: []*wifi.BSS{
			{SSID: "home", BSSID: bssid, Signal: -6500, LastSeen: time.Second},
			{SSID: "hidden_nomap", BSSID: bssid},
			{SSID: "", BSSID: bssid},
		},
	}

	list, err := provider.wifiAccessPoints()
	if err != nil {
		t.Fatalf("failed to get WiFi list: %s", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 access point, got %d", len(list))
	}
	if list[0].MACAddress != bssid.String() {
		t.Errorf("expected MAC address %s, got %s", bssid, list[0].MACAddress)
	}
	if list[0].SignalStrength != -65 {
		t.Errorf("expected signal strength -65, got %d", list[0].SignalStrength)
	}
	if list[0].LastSeen != 1000 {
		t.Errorf("expected last seen 1000, got %d", list[0].LastSeen)
	}

	provider.wlan = fakeWLAN{err: errors.New("no netlink")}
	if _, err = provider.wifiAccessPoints(); err == nil {
		t.Error("expected WiFi scan to fail")
	}
}

func TestProvider_locate(t *testing.T) {
	t.Run("locate succeeds and sends access points", func(t *testing.T) {
		var sent struct {
			ConsiderIP   bool              `json:"considerIp"`
			Accesspoints []WirelessNetwork `json:"wifiAccessPoints"`
		}
		provider, err := New(testClient(func(req *stdhttp.Request) (*stdhttp.Response, error) {
			if err := json.NewDecoder(req.Body).Decode(&sent); err != nil {
				t.Errorf("failed to decode request body: %s", err)
			}
			return testhelper.JSONResponse(200, testBody)(req)
		}))
		if err != nil {
			t.Fatalf("failed to create ICHNAEA provider: %s", err)
		}
		provider.aps = []WirelessNetwork{{MACAddress: "00:11:22:33:44:55", SignalStrength: -65}}

		coord, acc, err := provider.locate(t.Context())
		if err != nil {
			t.Fatalf("failed to locate coordinates via ICHNAEA: %s", err)
		}
		if coord.Lat != testLat || coord.Lon != testLon {
			t.Errorf("expected coordinate %f,%f, got %s", testLat, testLon, coord)
		}
		if geo.Truncate(acc, 1) != testAcc {
			t.Errorf("expected accuracy to be %d, got %f", testAcc, acc)
		}
		if !sent.ConsiderIP || len(sent.Accesspoints) != 1 {
			t.Errorf("unexpected request body: %+v", sent)
		}
	})
	t.Run("locate fails with broken JSON", func(t *testing.T) {
		provider, err := New(testClient(testhelper.JSONResponse(200, "NOT_JSON")))
		if err != nil {
			t.Fatalf("failed to create ICHNAEA provider: %s", err)
		}
		if _, _, err = provider.locate(t.Context()); err == nil {
			t.Fatal("expected locate to fail")
		}
	})
	t.Run("locate fails without position", func(t *testing.T) {
		provider, err := New(testClient(testhelper.JSONResponse(200, `{"location":{"lat":0,"lng":0},"accuracy":0}`)))
		if err != nil {
			t.Fatalf("failed to create ICHNAEA provider: %s", err)
		}
		_, _, err = provider.locate(t.Context())
		if !errors.Is(err, location.ErrLocationUnknown) {
			t.Fatalf("expected location unknown error, got %v", err)
		}
	})
	t.Run("locate fails on API error", func(t *testing.T) {
		provider, err := New(testClient(testhelper.JSONResponse(404, `{"error":{"code":404}}`)))
		if err != nil {
			t.Fatalf("failed to create ICHNAEA provider: %s", err)
		}
		_, _, err = provider.locate(t.Context())
		if !errors.Is(err, http.ErrUnexpectedStatus) {
			t.Fatalf("expected unexpected status error, got %v", err)
		}
	})
}

func TestProvider_Stream(t *testing.T) {
	t.Run("stream emits readings and errors", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			ctx, cancel := context.WithCancel(t.Context())
			defer cancel()

			provider := newProvider(http.New(logger.New(slog.LevelInfo)), nil)
			provider.period = time.Millisecond * 10
			runCount := 0
			provider.locateFn = func(context.Context) (geo.Coordinate, float64, error) {
				runCount++
				if runCount == 1 {
					return geo.Coordinate{}, 0, errors.New("intentionally failing")
				}
				return geo.Coordinate{Lat: 1, Lon: 2}, 3, nil
			}

			out := provider.Stream(ctx, 10)
			if failed := <-out; !failed.IsError() {
				t.Error("expected first update to be an error")
			}
			got := <-out
			if got.IsError() {
				t.Fatalf("expected a reading, got %s", got.Err)
			}
			if got.Reading.Lat != 1 || got.Reading.Lon != 2 || got.Reading.HorizontalAccuracy != 3 {
				t.Errorf("unexpected reading: %+v", got.Reading)
			}
			if got.Reading.Source != name {
				t.Errorf("expected source to be %s, got %s", name, got.Reading.Source)
			}
		})
	})
	t.Run("access point monitor ends with the context", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			ctx, cancel := context.WithCancel(t.Context())

			provider := newProvider(http.New(logger.New(slog.LevelInfo)), fakeWLAN{
				ifaces: []*wifi.Interface{{Type: wifi.InterfaceTypeStation}},
				aps:    []*wifi.BSS{{SSID: "home", BSSID: net.HardwareAddr{0, 1, 2, 3, 4, 5}}},
			})
			done := make(chan struct{})
			go func() {
				provider.monitorWifiAccessPoints(ctx)
				close(done)
			}()
			synctest.Wait()

			provider.apLock.RLock()
			count := len(provider.aps)
			provider.apLock.RUnlock()
			if count != 1 {
				t.Errorf("expected 1 access point after first scan, got %d", count)
			}

			cancel()
			<-done
		})
	})
}

// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"syscall"
	"testing"
	"testing/synctest"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/wneessen/waybar-location/internal/config"
	"github.com/wneessen/waybar-location/internal/engine"
	"github.com/wneessen/waybar-location/internal/geo"
	"github.com/wneessen/waybar-location/internal/geocode"
	"github.com/wneessen/waybar-location/internal/i18n"
	"github.com/wneessen/waybar-location/internal/location"
	"github.com/wneessen/waybar-location/internal/logger"
	"github.com/wneessen/waybar-location/internal/presenter"
	"github.com/wneessen/waybar-location/internal/publish"
)

const waitTimeout = time.Second * 5

func TestNew(t *testing.T) {
	t.Run("new service succeeds", func(t *testing.T) {
		serv, err := testService(t, false)
		if err != nil {
			t.Fatalf("failed to create service: %s", err)
		}
		if len(serv.publishers) != 0 {
			t.Errorf("expected no publishers, got %d", len(serv.publishers))
		}
	})
	t.Run("initializing service with different geocode providers", func(t *testing.T) {
		tests := []struct {
			name     string
			provider string
			apikey   string
			wantName string
			wantFail bool
		}{
			{"osm-nominatim", "nominatim", "", "osm-nominatim", false},
			{"opencage without api-key", "opencage", "", "", true},
			{"opencage with api-key", "opencage", "abc", "opencage", false},
			{"geocode.earth without api-key", "geocode-earth", "", "", true},
			{"geocode.earth with api-key", "geocode-earth", "abc", "geocode-earth", false},
			{"google with api-key", "google", "abc", "google", false},
			{"unsupported provider", "invalid", "", "", true},
		}
		for _, tc := range tests {
			t.Run(tc.name, func(t *testing.T) {
				serv, err := testService(t, false)
				if err != nil {
					t.Fatalf("failed to create service: %s", err)
				}
				serv.config.Geocoder.Provider = tc.provider
				serv.config.Geocoder.APIKey = tc.apikey
				provider, err := serv.selectGeocodeProvider(serv.config, serv.logger, serv.t.Language())
				if tc.wantFail && err == nil {
					t.Fatal("expected geocode provider selection to fail")
				}
				if !tc.wantFail && err != nil {
					t.Fatalf("failed to select geocode provider: %s", err)
				}
				if tc.wantFail {
					return
				}
				name := fmt.Sprintf("geocoder cache using %s", tc.wantName)
				if provider.Name() != name {
					t.Errorf("expected geocoder name to be %q, got %q", name, provider.Name())
				}
			})
		}
	})
	t.Run("invalid template configuration should fail", func(t *testing.T) {
		t.Setenv("WAYBARLOCATION_TEMPLATES_TEXT", "{{")
		_, err := testService(t, false)
		if err == nil {
			t.Fatal("expected service creation to fail")
		}
		wantErr := "failed to parse template"
		if !strings.Contains(err.Error(), wantErr) {
			t.Errorf("expected error to contain %q, got %q", wantErr, err)
		}
	})
	t.Run("nil logger fails the service initialization", func(t *testing.T) {
		_, err := testService(t, true)
		if err == nil {
			t.Fatal("expected service creation to fail")
		}
		wantErr := "logger is required"
		if !strings.Contains(err.Error(), wantErr) {
			t.Errorf("expected error to contain %q, got %q", wantErr, err)
		}
	})
	t.Run("service without location providers fails", func(t *testing.T) {
		t.Setenv("WAYBARLOCATION_GEOLOCATION_DISABLE_GPSD", "true")
		t.Setenv("WAYBARLOCATION_GEOLOCATION_DISABLE_ICHNAEA", "true")
		t.Setenv("WAYBARLOCATION_GEOLOCATION_DISABLE_GEOLOCATION_FILE", "true")
		t.Setenv("WAYBARLOCATION_GEOLOCATION_DISABLE_GEOIP", "true")
		_, err := testService(t, false)
		if err == nil {
			t.Fatal("expected service creation to fail")
		}
		wantErr := "no location providers enabled"
		if !strings.Contains(err.Error(), wantErr) {
			t.Errorf("expected error to contain %q, got %q", wantErr, err)
		}
	})
	t.Run("push channels are configured", func(t *testing.T) {
		t.Setenv("WAYBARLOCATION_MQTT_BROKER", "tcp://localhost:1883")
		t.Setenv("WAYBARLOCATION_WEBSOCKET_LISTEN", "127.0.0.1:0")
		serv, err := testService(t, false)
		if err != nil {
			t.Fatalf("failed to create service: %s", err)
		}
		if serv.mqtt == nil || serv.hub == nil {
			t.Fatal("expected MQTT publisher and websocket hub")
		}
		if len(serv.publishers) != 2 {
			t.Errorf("expected 2 publishers, got %d", len(serv.publishers))
		}
	})
	t.Run("serial device adds the NMEA provider", func(t *testing.T) {
		t.Setenv("WAYBARLOCATION_GEOLOCATION_SERIAL_DEVICE", "/dev/ttyACM0")
		serv, err := testService(t, false)
		if err != nil {
			t.Fatalf("failed to create service: %s", err)
		}
		providers, err := serv.selectLocationProviders()
		if err != nil {
			t.Fatalf("failed to select providers: %s", err)
		}
		if providers[0].Name() != "nmea" {
			t.Errorf("expected NMEA provider first, got %s", providers[0].Name())
		}
	})
}

func TestService_Run(t *testing.T) {
	t.Run("toggle signal starts refinement and prints the output", func(t *testing.T) {
		serv, source := testServiceWithSource(t)
		buf := &syncBuffer{buf: bytes.NewBuffer(nil)}
		serv.output = buf
		signals := &fakeSignalSource{registered: make(chan chan<- os.Signal, 1)}
		serv.SignalSrc = signals

		ctx, cancel := context.WithCancel(t.Context())
		done := make(chan error, 1)
		go func() { done <- serv.Run(ctx) }()

		var sigChan chan<- os.Signal
		select {
		case sigChan = <-signals.registered:
		case <-time.After(waitTimeout):
			t.Fatal("signal handler was not registered")
		}
		sigChan <- syscall.SIGUSR1

		stream := source.waitForStream(t)
		stream <- location.Update{Reading: location.Reading{
			Coordinate: geo.Coordinate{Lat: 52.5129, Lon: 13.391}, HorizontalAccuracy: 5,
			Timestamp: time.Now(), Source: "fake",
		}}
		waitForOutput(t, buf, `"text":"52.51290000, 13.39100000"`)
		waitForOutput(t, buf, "Friedrichstraße")

		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("failed to run service: %s", err)
			}
		case <-time.After(waitTimeout):
			t.Fatal("service did not shut down")
		}
		if !signals.stopped {
			t.Error("expected signal notification to be stopped")
		}
	})
	t.Run("auto start refines right away", func(t *testing.T) {
		serv, source := testServiceWithSource(t)
		serv.config.Refinement.AutoStart = true
		serv.output = &syncBuffer{buf: bytes.NewBuffer(nil)}

		ctx, cancel := context.WithCancel(t.Context())
		defer cancel()
		go func() { _ = serv.Run(ctx) }()
		source.waitForStream(t)
	})
}

func TestService_print(t *testing.T) {
	t.Run("print display state to a buffer", func(t *testing.T) {
		t.Setenv("WAYBARLOCATION_TEMPLATES_TEXT", "text")
		t.Setenv("WAYBARLOCATION_TEMPLATES_TOOLTIP", "tooltip")

		serv, err := testService(t, false)
		if err != nil {
			t.Fatalf("failed to create service: %s", err)
		}
		buf := bytes.NewBuffer(nil)
		serv.output = buf

		if _, err = serv.print(engine.DisplayState{Refining: true, Status: engine.StatusSearching}); err != nil {
			t.Fatalf("failed to print: %s", err)
		}
		var output outputData
		if err = json.Unmarshal(buf.Bytes(), &output); err != nil {
			t.Fatalf("failed to unmarshal JSON: %s", err)
		}
		if output.Text != "text" {
			t.Errorf("expected Text to be %q, got %q", "text", output.Text)
		}
		if output.Tooltip != "tooltip" {
			t.Errorf("expected Tooltip to be %q, got %q", "tooltip", output.Tooltip)
		}
		if len(output.Classes) != 2 {
			t.Fatalf("expected Classes to have length 2, got %d", len(output.Classes))
		}
		if output.Classes[0] != OutputClass || output.Classes[1] != presenter.ClassRefining {
			t.Errorf("expected classes %q and %q, got %v", OutputClass, presenter.ClassRefining, output.Classes)
		}
	})
	t.Run("output fails on failing writer", func(t *testing.T) {
		serv, err := testService(t, false)
		if err != nil {
			t.Fatalf("failed to create service: %s", err)
		}
		serv.output = &failWriter{}
		if _, err = serv.print(engine.DisplayState{}); err == nil {
			t.Error("expected print to fail")
		}
	})
}

func TestService_processDisplayUpdates(t *testing.T) {
	serv, err := testService(t, false)
	if err != nil {
		t.Fatalf("failed to create service: %s", err)
	}
	serv.output = io.Discard
	pub := &fakePublisher{}
	failing := &fakePublisher{err: errors.New("broker gone")}
	serv.publishers = []publisher{failing, pub}

	states := make(chan engine.DisplayState, 2)
	states <- engine.DisplayState{HasFix: true, Latitude: "1.00000000", Longitude: "2.00000000"}
	close(states)
	serv.processDisplayUpdates(t.Context(), states)

	if len(pub.payloads) != 1 {
		t.Fatalf("expected 1 published payload, got %d", len(pub.payloads))
	}
	if pub.payloads[0].Latitude != "1.00000000" || pub.payloads[0].Class != presenter.ClassFix {
		t.Errorf("unexpected payload: %+v", pub.payloads[0])
	}
}

func TestService_HandleToggleSignal(t *testing.T) {
	serv, source := testServiceWithSource(t)
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	go func() { _ = serv.engine.Run(ctx) }()

	sigChan := make(chan os.Signal, 1)
	go serv.HandleToggleSignal(ctx, sigChan)
	sigChan <- syscall.SIGUSR1
	source.waitForStream(t)

	ds, err := serv.engine.Display(t.Context())
	if err != nil {
		t.Fatalf("failed to query display state: %s", err)
	}
	if !ds.Refining {
		t.Error("expected refinement to be running")
	}
}

func TestService_processSleepSignal(t *testing.T) {
	t.Run("resume restarts refinement", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			log := logger.NewLogger(slog.LevelDebug, io.Discard)
			source := &fakeSource{}
			serv := &Service{
				logger: log,
				engine: engine.New(source, &mockGeocoder{}, log, engine.DefaultSettings(), time.Second),
			}
			ctx, cancel := context.WithCancel(t.Context())
			defer cancel()
			go func() { _ = serv.engine.Run(ctx) }()

			var lastResume int64
			serv.processSleepSignal(ctx, &dbus.Signal{Body: []interface{}{true}}, &lastResume)
			if lastResume != 0 {
				t.Fatal("expected sleep signal to be ignored")
			}
			serv.processSleepSignal(ctx, &dbus.Signal{Body: []interface{}{false}}, &lastResume)
			synctest.Wait()
			if n := source.subscriptions(); n != 1 {
				t.Fatalf("expected refinement to restart, got %d subscriptions", n)
			}

			// a second resume right after is debounced
			serv.processSleepSignal(ctx, &dbus.Signal{Body: []interface{}{false}}, &lastResume)
			synctest.Wait()
			ds, err := serv.engine.Display(ctx)
			if err != nil {
				t.Fatalf("failed to query display state: %s", err)
			}
			if !ds.Refining {
				t.Error("expected refinement to keep running")
			}
		})
	})
	t.Run("malformed signals are ignored", func(t *testing.T) {
		serv, _ := testServiceWithSource(t)
		var lastResume int64
		serv.processSleepSignal(t.Context(), &dbus.Signal{Body: []interface{}{"false"}}, &lastResume)
		serv.processSleepSignal(t.Context(), &dbus.Signal{}, &lastResume)
		if lastResume != 0 {
			t.Error("expected malformed signals to be ignored")
		}
	})
}

func testService(_ *testing.T, nilLogger bool) (*Service, error) {
	conf, err := config.New()
	if err != nil {
		return nil, err
	}

	var log *logger.Logger
	if !nilLogger {
		log = logger.NewLogger(conf.LogLevel, io.Discard)
	}

	lang, err := i18n.New(conf.Locale)
	if err != nil {
		return nil, err
	}
	serv, err := New(conf, log, lang)
	if err != nil {
		return nil, err
	}
	serv.sleepMonitor = func(context.Context) {}
	serv.config.Refinement.AutoStart = false

	return serv, nil
}

// testServiceWithSource returns a service whose engine reads from a fake source and resolves
// with a fake geocoder.
func testServiceWithSource(t *testing.T) (*Service, *fakeSource) {
	t.Helper()
	serv, err := testService(t, false)
	if err != nil {
		t.Fatalf("failed to create service: %s", err)
	}
	source := &fakeSource{}
	serv.engine = engine.New(source, &mockGeocoder{}, serv.logger, engine.DefaultSettings(), time.Second)
	return serv, source
}

func waitForOutput(t *testing.T, buf *syncBuffer, want string) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for !strings.Contains(buf.String(), want) {
		if time.Now().After(deadline) {
			t.Fatalf("expected output to contain %q, got %q", want, buf.String())
		}
		time.Sleep(time.Millisecond * 10)
	}
}

type (
	failWriter   struct{}
	mockGeocoder struct{}
	syncBuffer   struct {
		mu  sync.Mutex
		buf *bytes.Buffer
	}
	fakeSource struct {
		mu      sync.Mutex
		streams []chan location.Update
	}
	fakeSignalSource struct {
		registered chan chan<- os.Signal
		stopped    bool
	}
	fakePublisher struct {
		err      error
		payloads []publish.Payload
	}
)

func (f failWriter) Write([]byte) (int, error) { return 0, fmt.Errorf("failed to write") }

func (m *mockGeocoder) Name() string {
	return "mock geocoder"
}

func (m *mockGeocoder) Reverse(_ context.Context, coords geo.Coordinate) ([]geocode.Address, error) {
	return []geocode.Address{{
		Latitude:    coords.Lat,
		Longitude:   coords.Lon,
		Street:      "Friedrichstraße",
		HouseNumber: "67",
		City:        "Berlin",
	}}, nil
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

func (f *fakeSource) ServiceEnabled(context.Context) bool { return true }

func (f *fakeSource) AuthorizationStatus(context.Context) location.AuthorizationStatus {
	return location.AuthAuthorized
}

func (f *fakeSource) RequestAuthorization(context.Context) {}

func (f *fakeSource) Subscribe(context.Context, float64) (<-chan location.Update, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan location.Update, 8)
	f.streams = append(f.streams, ch)
	var once sync.Once
	return ch, func() { once.Do(func() { close(ch) }) }
}

func (f *fakeSource) subscriptions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.streams)
}

func (f *fakeSource) waitForStream(t *testing.T) chan location.Update {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for {
		f.mu.Lock()
		if len(f.streams) > 0 {
			stream := f.streams[len(f.streams)-1]
			f.mu.Unlock()
			return stream
		}
		f.mu.Unlock()
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for a subscription")
		}
		time.Sleep(time.Millisecond * 10)
	}
}

func (f *fakeSignalSource) Notify(c chan<- os.Signal, _ ...os.Signal) {
	f.registered <- c
}

func (f *fakeSignalSource) Stop(chan<- os.Signal) {
	f.stopped = true
}

func (f *fakePublisher) Publish(_ context.Context, payload publish.Payload) error {
	if f.err != nil {
		return f.err
	}
	f.payloads = append(f.payloads, payload)
	return nil
}

// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package nmea

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/wneessen/waybar-location/internal/location"
)

const (
	ggaFix   = "$GPGGA,092750.000,5321.6802,N,00630.3372,W,1,8,1.03,61.7,M,55.2,M,,*76"
	ggaNoFix = "$GPGGA,092750.000,5321.6802,N,00630.3372,W,0,8,1.03,61.7,M,55.2,M,,*77"
	rmcFix   = "$GPRMC,092750.000,A,5321.6802,N,00630.3372,W,0.02,31.66,280511,,,A*43"
)

func TestProvider_Name(t *testing.T) {
	provider := New("/dev/ttyACM0", 9600)
	if provider.Name() != name {
		t.Errorf("expected provider name to be %s, got %s", name, provider.Name())
	}
}

func TestProvider_Available(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ttyACM0")
	if err := os.WriteFile(path, nil, 0o600); err != nil {
		t.Fatalf("failed to create fake device: %s", err)
	}
	if !New(path, 9600).Available(t.Context()) {
		t.Error("expected existing device to be available")
	}
	if New(filepath.Join(t.TempDir(), "missing"), 9600).Available(t.Context()) {
		t.Error("expected missing device to be unavailable")
	}
	if status := New(path, 9600).AuthorizationStatus(t.Context()); status != location.AuthAuthorized {
		t.Errorf("expected accessible device to be authorized, got %s", status)
	}
}

func TestProvider_parse(t *testing.T) {
	provider := New("/dev/ttyACM0", 9600)
	t.Run("GGA with fix", func(t *testing.T) {
		update, ok := provider.parse(ggaFix)
		if !ok {
			t.Fatal("expected GGA sentence to produce an update")
		}
		if update.IsError() {
			t.Fatalf("expected reading, got %s", update.Err)
		}
		if update.Reading.Lat < 53.36 || update.Reading.Lat > 53.37 {
			t.Errorf("unexpected latitude: %f", update.Reading.Lat)
		}
		if update.Reading.Lon > -6.50 || update.Reading.Lon < -6.51 {
			t.Errorf("unexpected longitude: %f", update.Reading.Lon)
		}
		if want := 1.03 * uereMeters; update.Reading.HorizontalAccuracy != want {
			t.Errorf("expected accuracy to be %f, got %f", want, update.Reading.HorizontalAccuracy)
		}
	})
	t.Run("GGA without fix", func(t *testing.T) {
		update, ok := provider.parse(ggaNoFix)
		if !ok {
			t.Fatal("expected GGA sentence to produce an update")
		}
		if !errors.Is(update.Err, location.ErrLocationUnknown) {
			t.Errorf("expected location unknown error, got %v", update.Err)
		}
	})
	t.Run("non-GGA sentences are skipped", func(t *testing.T) {
		for _, line := range []string{rmcFix, "", "garbage", "$GPGGA,broken*00"} {
			if _, ok := provider.parse(line); ok {
				t.Errorf("expected line %q to be skipped", line)
			}
		}
	})
}

func TestProvider_Stream(t *testing.T) {
	t.Run("readings are streamed until the port is exhausted", func(t *testing.T) {
		provider := New("/dev/ttyACM0", 9600)
		provider.openFn = func(string, uint) (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader(strings.Join([]string{rmcFix, ggaNoFix, ggaFix}, "\r\n"))), nil
		}

		var updates []location.Update
		for update := range provider.Stream(t.Context(), 10) {
			updates = append(updates, update)
		}
		if len(updates) != 2 {
			t.Fatalf("expected 2 updates, got %d", len(updates))
		}
		if !errors.Is(updates[0].Err, location.ErrLocationUnknown) {
			t.Errorf("expected location unknown error, got %v", updates[0].Err)
		}
		if updates[1].IsError() {
			t.Errorf("expected reading, got %s", updates[1].Err)
		}
	})
	t.Run("permission error on open", func(t *testing.T) {
		provider := New("/dev/ttyACM0", 9600)
		provider.openFn = func(string, uint) (io.ReadCloser, error) {
			return nil, os.ErrPermission
		}

		update := <-provider.Stream(t.Context(), 10)
		if !errors.Is(update.Err, location.ErrPermissionDenied) {
			t.Errorf("expected permission denied error, got %v", update.Err)
		}
		if location.KindOf(update.Err) != location.KindPermissionDenied {
			t.Errorf("expected permission denied kind, got %s", location.KindOf(update.Err))
		}
	})
	t.Run("canceling the context closes the port", func(t *testing.T) {
		reader, writer := io.Pipe()
		provider := New("/dev/ttyACM0", 9600)
		provider.openFn = func(string, uint) (io.ReadCloser, error) {
			return reader, nil
		}

		ctx, cancel := context.WithCancel(t.Context())
		out := provider.Stream(ctx, 10)
		if _, err := io.WriteString(writer, ggaFix+"\r\n"); err != nil {
			t.Fatalf("failed to write sentence: %s", err)
		}
		if update := <-out; update.IsError() {
			t.Fatalf("expected reading, got %s", update.Err)
		}
		cancel()
		if _, ok := <-out; ok {
			t.Error("expected stream to be closed")
		}
	})
}

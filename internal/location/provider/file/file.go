// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package file implements a location provider that reads a fixed position from a local file.
package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/wneessen/waybar-location/internal/geo"
	"github.com/wneessen/waybar-location/internal/location"
)

const (
	name = "geolocation_file"

	// DefaultAccuracy is used for lines without an explicit accuracy column. A hand-written
	// position is considered as accurate as a good GPS fix.
	DefaultAccuracy = 5
)

var ErrNoCoordinates = errors.New("no valid coordinates found in geolocation file")

// Provider reads a position from a file and re-emits it periodically with a fresh timestamp,
// so the refinement engine sees a stable position that converges quickly.
//
// The file holds one position per line as "lat,lon" or "lat,lon,accuracy". Empty lines and
// lines starting with # are skipped, the first valid line wins.
type Provider struct {
	name     string
	path     string
	period   time.Duration
	locateFn func() (geo.Coordinate, float64, error)
}

// New returns a Provider for the file at path.
func New(path string) *Provider {
	provider := &Provider{
		name:   name,
		path:   path,
		period: time.Second * 5,
	}
	provider.locateFn = provider.readFile
	return provider
}

func (p *Provider) Name() string {
	return p.name
}

// Available reports whether the file exists. An unreadable file still counts as available so
// the permission problem surfaces through AuthorizationStatus.
func (p *Provider) Available(context.Context) bool {
	_, err := os.Stat(p.path)
	return err == nil || errors.Is(err, fs.ErrPermission)
}

// AuthorizationStatus reports AuthDenied when the file cannot be opened for lack of permissions.
func (p *Provider) AuthorizationStatus(context.Context) location.AuthorizationStatus {
	f, err := os.Open(p.path)
	if errors.Is(err, fs.ErrPermission) {
		return location.AuthDenied
	}
	if err == nil {
		_ = f.Close()
	}
	return location.AuthAuthorized
}

// RequestAuthorization is a no-op, file permissions cannot be granted at runtime.
func (p *Provider) RequestAuthorization(context.Context) {}

// Stream emits the file position every period until ctx is canceled.
func (p *Provider) Stream(ctx context.Context, _ float64) <-chan location.Update {
	out := make(chan location.Update)
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
			coord, acc, err := p.locateFn()
			switch {
			case errors.Is(err, fs.ErrPermission):
				update.Err = fmt.Errorf("%w: %w", location.ErrPermissionDenied, err)
			case err != nil:
				update.Err = err
			default:
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

// readFile reads the first valid position from the file at the configured path.
func (p *Provider) readFile() (geo.Coordinate, float64, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return geo.Coordinate{}, 0, fmt.Errorf("failed to read geolocation file %q: %w", p.path, err)
	}
	for _, line := range strings.Split(string(data), "\n") {
		coord, acc, ok := parseLine(line)
		if ok {
			return coord, acc, nil
		}
	}
	return geo.Coordinate{}, 0, ErrNoCoordinates
}

func parseLine(line string) (geo.Coordinate, float64, bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return geo.Coordinate{}, 0, false
	}
	fields := strings.Split(line, ",")
	if len(fields) < 2 || len(fields) > 3 {
		return geo.Coordinate{}, 0, false
	}

	var values [3]float64
	values[2] = DefaultAccuracy
	for i, field := range fields {
		val, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err != nil {
			return geo.Coordinate{}, 0, false
		}
		values[i] = val
	}
	coord := geo.Coordinate{Lat: values[0], Lon: values[1]}
	if !coord.Valid() || values[2] < 0 {
		return geo.Coordinate{}, 0, false
	}
	return coord, values[2], true
}

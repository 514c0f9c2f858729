// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package nmea implements a location provider for GPS receivers that emit NMEA 0183 sentences
// on a serial port.
package nmea

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/adrianmo/go-nmea"
	"github.com/jacobsa/go-serial/serial"
	"golang.org/x/sys/unix"

	"github.com/wneessen/waybar-location/internal/geo"
	"github.com/wneessen/waybar-location/internal/location"
)

const (
	name = "nmea"

	// uereMeters is the user equivalent range error assumed for consumer receivers. The horizontal
	// accuracy is estimated as HDOP times UERE.
	uereMeters = 5.0
)

type openFunc func(device string, baud uint) (io.ReadCloser, error)

// Provider reads GGA sentences from a serial GPS receiver.
type Provider struct {
	name   string
	device string
	baud   uint
	openFn openFunc
}

// New returns a Provider for the serial device with the given baud rate.
func New(device string, baud uint) *Provider {
	return &Provider{
		name:   name,
		device: device,
		baud:   baud,
		openFn: openSerial,
	}
}

func (p *Provider) Name() string {
	return p.name
}

// Available reports whether the serial device exists.
func (p *Provider) Available(context.Context) bool {
	_, err := os.Stat(p.device)
	return err == nil || errors.Is(err, fs.ErrPermission)
}

// AuthorizationStatus reports AuthDenied when the current user may not read and write the
// device, which usually means the user is not in the dialout group.
func (p *Provider) AuthorizationStatus(context.Context) location.AuthorizationStatus {
	if err := unix.Access(p.device, unix.R_OK|unix.W_OK); errors.Is(err, unix.EACCES) {
		return location.AuthDenied
	}
	return location.AuthAuthorized
}

// RequestAuthorization is a no-op, device permissions cannot be granted at runtime.
func (p *Provider) RequestAuthorization(context.Context) {}

// Stream opens the serial port and forwards every GGA sentence as an update until ctx is
// canceled or reading from the port fails.
func (p *Provider) Stream(ctx context.Context, _ float64) <-chan location.Update {
	out := make(chan location.Update)
	go func() {
		defer close(out)

		send := func(update location.Update) bool {
			select {
			case <-ctx.Done():
				return false
			case out <- update:
				return true
			}
		}

		port, err := p.openFn(p.device, p.baud)
		if err != nil {
			if errors.Is(err, fs.ErrPermission) {
				err = fmt.Errorf("%w: %w", location.ErrPermissionDenied, err)
			}
			send(location.Update{Err: fmt.Errorf("failed to open serial device %q: %w", p.device, err)})
			return
		}
		stop := context.AfterFunc(ctx, func() { _ = port.Close() })
		defer func() {
			if stop() {
				_ = port.Close()
			}
		}()

		scanner := bufio.NewScanner(port)
		for scanner.Scan() {
			update, ok := p.parse(scanner.Text())
			if !ok {
				continue
			}
			if !send(update) {
				return
			}
		}
		if err = scanner.Err(); err != nil && ctx.Err() == nil {
			send(location.Update{Err: fmt.Errorf("failed to read from serial device %q: %w", p.device, err)})
		}
	}()
	return out
}

// parse turns a single NMEA line into an update. Only GGA sentences carry the fix quality and
// HDOP needed for an accuracy estimate, everything else is skipped.
func (p *Provider) parse(line string) (location.Update, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "$") {
		return location.Update{}, false
	}
	sentence, err := nmea.Parse(line)
	if err != nil || sentence.DataType() != nmea.TypeGGA {
		return location.Update{}, false
	}
	gga, ok := sentence.(nmea.GGA)
	if !ok {
		return location.Update{}, false
	}
	if gga.FixQuality == nmea.Invalid {
		return location.Update{Err: fmt.Errorf("receiver reports no fix: %w", location.ErrLocationUnknown)}, true
	}

	acc := -1.0
	if gga.HDOP > 0 {
		acc = gga.HDOP * uereMeters
	}
	return location.Update{Reading: location.Reading{
		Coordinate:         geo.Coordinate{Lat: gga.Latitude, Lon: gga.Longitude},
		HorizontalAccuracy: acc,
		Timestamp:          time.Now(),
		Source:             p.name,
	}}, true
}

func openSerial(device string, baud uint) (io.ReadCloser, error) {
	return serial.Open(serial.OpenOptions{
		PortName:        device,
		BaudRate:        baud,
		DataBits:        8,
		StopBits:        1,
		MinimumReadSize: 1,
		ParityMode:      serial.PARITY_NONE,
	})
}

// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package gpsd implements a location provider that streams TPV reports from a gpsd daemon.
package gpsd

import (
	"context"
	"fmt"
	"time"

	"github.com/stratoberry/go-gpsd"

	"github.com/wneessen/waybar-location/internal/geo"
	"github.com/wneessen/waybar-location/internal/gpspoll"
	"github.com/wneessen/waybar-location/internal/location"
)

const (
	name        = "gpsd"
	pollTimeout = time.Second * 2
)

// poller is the subset of the gpspoll client the provider needs.
type poller interface {
	Probe(ctx context.Context) bool
	Poll(ctx context.Context) (gpspoll.Fix, error)
}

// watchFunc connects to gpsd at addr and calls handle for every TPV report until the
// connection ends or ctx is canceled.
type watchFunc func(ctx context.Context, addr string, handle func(*gpsd.TPVReport)) error

// Provider streams positions from gpsd. A single POLL delivers the current fix right away,
// afterwards every TPV report of a WATCH session is forwarded.
type Provider struct {
	name    string
	addr    string
	poller  poller
	watchFn watchFunc
}

// New returns a Provider for the gpsd daemon listening at addr (host:port).
func New(addr string) *Provider {
	return &Provider{
		name:    name,
		addr:    addr,
		poller:  gpspoll.NewFromAddr(addr),
		watchFn: watch,
	}
}

func (p *Provider) Name() string {
	return p.name
}

// Available reports whether gpsd accepts connections.
func (p *Provider) Available(ctx context.Context) bool {
	return p.poller.Probe(ctx)
}

// Stream forwards gpsd reports as location updates. The stream ends when the gpsd connection
// is lost, the caller is expected to reconnect.
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

		pollCtx, cancel := context.WithTimeout(ctx, pollTimeout)
		fix, err := p.poller.Poll(pollCtx)
		cancel()
		if err == nil {
			if !send(p.fixUpdate(fix)) {
				return
			}
		}

		err = p.watchFn(ctx, p.addr, func(tpv *gpsd.TPVReport) {
			send(p.tpvUpdate(tpv))
		})
		if err != nil {
			send(location.Update{Err: err})
		}
	}()
	return out
}

func (p *Provider) fixUpdate(fix gpspoll.Fix) location.Update {
	if !fix.Has2DFix() {
		return location.Update{Err: fmt.Errorf("gpsd reports no fix: %w", location.ErrLocationUnknown)}
	}
	return location.Update{Reading: location.Reading{
		Coordinate:         geo.Coordinate{Lat: fix.Lat, Lon: fix.Lon},
		HorizontalAccuracy: fix.Acc,
		Timestamp:          time.Now(),
		Source:             p.name,
	}}
}

func (p *Provider) tpvUpdate(tpv *gpsd.TPVReport) location.Update {
	if tpv.Mode < gpsd.Mode2D {
		return location.Update{Err: fmt.Errorf("gpsd reports no fix: %w", location.ErrLocationUnknown)}
	}
	return location.Update{Reading: location.Reading{
		Coordinate:         geo.Coordinate{Lat: tpv.Lat, Lon: tpv.Lon},
		HorizontalAccuracy: gpspoll.HorizontalAccuracy(int(tpv.Mode), 0, tpv.Epx, tpv.Epy),
		Timestamp:          time.Now(),
		Source:             p.name,
	}}
}

// watch runs a go-gpsd WATCH session. go-gpsd has no Close, the session is left to the
// garbage collector once ctx ends.
func watch(ctx context.Context, addr string, handle func(*gpsd.TPVReport)) error {
	session, err := gpsd.Dial(addr)
	if err != nil {
		return fmt.Errorf("failed to connect to gpsd at %q: %w", addr, err)
	}
	session.AddFilter("TPV", func(r interface{}) {
		tpv, ok := r.(*gpsd.TPVReport)
		if !ok {
			return
		}
		handle(tpv)
	})

	done := session.Watch()
	select {
	case <-ctx.Done():
		return nil
	case <-done:
		return fmt.Errorf("gpsd connection at %q closed", addr)
	}
}

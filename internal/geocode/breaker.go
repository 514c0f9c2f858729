// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package geocode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/wneessen/waybar-location/internal/geo"
	"github.com/wneessen/waybar-location/internal/logger"
)

const (
	breakerMaxRequests = 1
	breakerInterval    = time.Minute
	breakerTimeout     = time.Minute * 2
	breakerTripAfter   = 3
)

// ErrGeocoderUnavailable is returned while the circuit breaker refuses requests.
var ErrGeocoderUnavailable = errors.New("geocoder temporarily unavailable")

// BreakerGeocoder guards a Geocoder with a circuit breaker, so a failing geocoding API is not
// hammered with a request for every new fix.
type BreakerGeocoder struct {
	coder   Geocoder
	circuit *gobreaker.CircuitBreaker
}

func NewBreakerGeocoder(coder Geocoder, log *logger.Logger) *BreakerGeocoder {
	circuit := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        coder.Name(),
		MaxRequests: breakerMaxRequests,
		Interval:    breakerInterval,
		Timeout:     breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerTripAfter
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("geocoder circuit breaker changed state", slog.String("geocoder", name),
				slog.String("from", from.String()), slog.String("to", to.String()))
		},
		// A canceled request says nothing about the health of the API.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
	return &BreakerGeocoder{coder: coder, circuit: circuit}
}

func (b *BreakerGeocoder) Name() string {
	return b.coder.Name()
}

func (b *BreakerGeocoder) Reverse(ctx context.Context, coords geo.Coordinate) ([]Address, error) {
	result, err := b.circuit.Execute(func() (interface{}, error) {
		return b.coder.Reverse(ctx, coords)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %w", ErrGeocoderUnavailable, err)
	}
	if err != nil {
		return nil, err
	}
	addrs, ok := result.([]Address)
	if !ok {
		return nil, fmt.Errorf("unexpected result type %T from geocoder", result)
	}
	return addrs, nil
}

// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package engine

import (
	"fmt"

	"github.com/wneessen/waybar-location/internal/geocode"
	"github.com/wneessen/waybar-location/internal/location"
)

// AddressResolution is the address state of the current fix.
type AddressResolution struct {
	// Address is the applied candidate, nil while none is applied.
	Address *geocode.Address
	// Err is the error of the last applied resolution, nil on success. Geocoder failures wrap
	// location.ErrResolutionFailed.
	Err error
	// Pending is true while a request is in flight. At most one request is in flight.
	Pending bool
	// RequestedGeneration is the fix generation of the in-flight request.
	RequestedGeneration uint64
	// ResolvedGeneration is the fix generation the address or error belongs to.
	ResolvedGeneration uint64
}

// request is a reverse geocoding request for a given fix.
type request struct {
	fix Fix
}

// resolver coordinates the reverse geocoding of fixes. Like the refiner it performs no I/O.
type resolver struct {
	state AddressResolution
}

// onFixUpdated returns a request for the fix unless one is already in flight.
func (r *resolver) onFixUpdated(fix Fix) (request, bool) {
	if r.state.Pending {
		return request{}, false
	}
	r.state.Pending = true
	r.state.RequestedGeneration = fix.Generation
	return request{fix: fix}, true
}

// onResolutionComplete applies a finished request. Results for anything but the current fix
// are discarded. When the current fix still lacks a resolution, a new request is returned
// for it.
func (r *resolver) onResolutionComplete(generation uint64, current *Fix, addrs []geocode.Address,
	err error,
) (request, bool) {
	r.state.Pending = false
	if current == nil || current.Generation != generation {
		if current != nil && r.state.ResolvedGeneration != current.Generation {
			return r.onFixUpdated(*current)
		}
		return request{}, false
	}

	r.state.ResolvedGeneration = generation
	switch {
	case err != nil:
		r.state.Address = nil
		r.state.Err = fmt.Errorf("%w: %w", location.ErrResolutionFailed, err)
	case len(addrs) == 0:
		r.state.Address = nil
		r.state.Err = geocode.ErrNoAddress
	default:
		addr := addrs[len(addrs)-1]
		r.state.Address = &addr
		r.state.Err = nil
	}
	return request{}, false
}

// reset clears the address and error of a previous session. An in-flight request stays
// in flight, its completion will be discarded as stale.
func (r *resolver) reset() {
	r.state.Address = nil
	r.state.Err = nil
	r.state.ResolvedGeneration = 0
}

// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package engine

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/wneessen/waybar-location/internal/location"
)

// State is the refinement state of a session.
type State int

const (
	// StateIdle means no refinement is running and no usable result exists.
	StateIdle State = iota
	// StateRefining means the source subscription is active and the deadline timer is armed.
	StateRefining
	// StateDone means refinement finished, the best fix found is retained.
	StateDone
)

func (s State) String() string {
	switch s {
	case StateRefining:
		return "refining"
	case StateDone:
		return "done"
	default:
		return "idle"
	}
}

// Settings holds the refinement thresholds.
type Settings struct {
	DesiredAccuracy  float64
	Timeout          time.Duration
	MaxReadingAge    time.Duration
	ConvergeDistance float64
	ConvergeAfter    time.Duration
}

// DefaultSettings returns the stock thresholds: ten meters accuracy within one minute.
func DefaultSettings() Settings {
	return Settings{
		DesiredAccuracy:  10,
		Timeout:          time.Minute,
		MaxReadingAge:    time.Second * 5,
		ConvergeDistance: 1.0,
		ConvergeAfter:    time.Second * 10,
	}
}

// Fix is an accepted reading tagged with its generation. Every accepted reading gets a new,
// strictly larger generation.
type Fix struct {
	location.Reading
	Generation uint64
}

// SessionState is the refinement state visible to the display projection.
type SessionState struct {
	State            State
	Session          uuid.UUID
	Fix              *Fix
	LastError        error
	DeadlineReached  bool
	ServicesDisabled bool
	PermissionAlert  bool
}

// Refining reports whether a refinement is in progress.
func (s SessionState) Refining() bool {
	return s.State == StateRefining
}

// HasFix reports whether a fix is held.
func (s SessionState) HasFix() bool {
	return s.Fix != nil
}

// effect is a side effect the engine has to carry out after a refiner transition.
type effect uint8

const (
	effSubscribe effect = 1 << iota
	effUnsubscribe
	effArmTimer
	effDisarmTimer
	effFixUpdated
	effResetResolution
)

func (e effect) has(f effect) bool {
	return e&f != 0
}

// refiner is the fix refinement state machine. It performs no I/O, the returned effects tell
// the engine what to do with the subscription, the timer and the resolver.
type refiner struct {
	settings   Settings
	state      SessionState
	generation uint64
}

func newRefiner(settings Settings) *refiner {
	return &refiner{settings: settings}
}

// start begins a new session. Fix, last error and address are reset in any case, refinement
// only starts when the location services are enabled.
func (r *refiner) start(session uuid.UUID, servicesEnabled bool) effect {
	if r.state.Refining() {
		return 0
	}
	r.state.Fix = nil
	r.state.LastError = nil
	r.state.DeadlineReached = false
	r.state.ServicesDisabled = !servicesEnabled
	if !servicesEnabled {
		r.state.State = StateIdle
		r.state.Session = uuid.Nil
		r.state.LastError = location.ErrServicesDisabled
		return effResetResolution
	}
	r.state.State = StateRefining
	r.state.Session = session
	return effResetResolution | effSubscribe | effArmTimer
}

// stop ends a running refinement. It is a no-op when not refining.
func (r *refiner) stop() effect {
	if !r.state.Refining() {
		return 0
	}
	return r.finish(StateIdle)
}

func (r *refiner) onReading(reading location.Reading, now time.Time) effect {
	if !r.state.Refining() {
		return 0
	}
	if reading.Age(now) > r.settings.MaxReadingAge {
		return 0
	}
	if !reading.Valid() {
		return 0
	}

	distance := math.MaxFloat64
	prev := r.state.Fix
	if prev != nil {
		distance = prev.DistanceTo(reading.Coordinate)
	}

	if prev == nil || reading.HorizontalAccuracy < prev.HorizontalAccuracy {
		r.generation++
		r.state.LastError = nil
		r.state.Fix = &Fix{Reading: reading, Generation: r.generation}
		eff := effFixUpdated
		if reading.HorizontalAccuracy <= r.settings.DesiredAccuracy {
			eff |= r.finish(StateDone)
		}
		return eff
	}

	if distance < r.settings.ConvergeDistance &&
		reading.Timestamp.Sub(prev.Timestamp) > r.settings.ConvergeAfter {
		return r.finish(StateDone)
	}
	return 0
}

// onError records a source error and ends refinement. A temporarily unknown location is
// expected while the receiver warms up and is ignored.
func (r *refiner) onError(err error) effect {
	if !r.state.Refining() || location.KindOf(err) == location.KindLocationUnknown {
		return 0
	}
	r.state.LastError = err
	return r.finish(StateDone)
}

// onTimeout handles the refinement deadline. Without a fix the session fails with a timeout,
// otherwise the best fix so far is kept.
func (r *refiner) onTimeout() effect {
	if !r.state.Refining() {
		return 0
	}
	r.state.DeadlineReached = true
	if r.state.Fix == nil {
		r.state.LastError = location.ErrTimeout
		return r.finish(StateIdle)
	}
	return r.finish(StateDone)
}

// setServicesEnabled records whether the location services are available. A running session
// keeps the value it was started with.
func (r *refiner) setServicesEnabled(enabled bool) {
	if r.state.Refining() {
		return
	}
	r.state.ServicesDisabled = !enabled
}

// denyPermission records a denied authorization and raises the permission alert.
func (r *refiner) denyPermission() {
	r.state.LastError = location.ErrPermissionDenied
	r.state.PermissionAlert = true
}

func (r *refiner) clearAlert() {
	r.state.PermissionAlert = false
}

func (r *refiner) finish(next State) effect {
	r.state.State = next
	r.state.Session = uuid.Nil
	return effUnsubscribe | effDisarmTimer
}

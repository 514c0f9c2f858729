// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package engine refines location fixes from a location source and resolves the address of
// the best fix. All state is owned by a single goroutine that handles readings, errors, timer
// firings, resolution completions and user actions one at a time, in arrival order.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/wneessen/waybar-location/internal/geocode"
	"github.com/wneessen/waybar-location/internal/location"
	"github.com/wneessen/waybar-location/internal/logger"
)

const (
	eventBuffer           = 64
	DefaultGeocodeTimeout = time.Second * 10
)

// ErrNotRunning is returned when the engine loop has ended.
var ErrNotRunning = errors.New("engine is not running")

type (
	toggleEvent  struct{}
	refreshEvent struct{}
	updateEvent  struct {
		session uuid.UUID
		update  location.Update
	}
	sourceClosedEvent struct {
		session uuid.UUID
	}
	timeoutEvent struct {
		session uuid.UUID
	}
	resolvedEvent struct {
		generation uint64
		addrs      []geocode.Address
		err        error
	}
	queryEvent struct {
		reply chan DisplayState
	}
	// startProbedEvent carries the source state checked for a start request.
	startProbedEvent struct {
		seq     uint64
		status  location.AuthorizationStatus
		enabled bool
	}
	servicesProbedEvent struct {
		enabled bool
	}
)

// Engine drives the fix refinement and the address resolution.
type Engine struct {
	log            *logger.Logger
	source         location.Source
	coder          geocode.Geocoder
	clock          clockwork.Clock
	settings       Settings
	geocodeTimeout time.Duration

	events  chan any
	done    chan struct{}
	runOnce sync.Once

	// owned by the run loop
	refiner     *refiner
	resolver    resolver
	unsubscribe func()
	timer       clockwork.Timer
	startSeq    uint64
	// pendingStart is the sequence of the start request being probed, 0 if none
	pendingStart uint64
	probing      bool

	mu      sync.Mutex
	subs    map[uint64]chan DisplayState
	nextSub uint64
	last    DisplayState
	closed  bool
}

// New returns an Engine that reads positions from source and resolves addresses with coder.
func New(source location.Source, coder geocode.Geocoder, log *logger.Logger, settings Settings,
	geocodeTimeout time.Duration,
) *Engine {
	return newEngine(source, coder, log, settings, geocodeTimeout, clockwork.NewRealClock())
}

func newEngine(source location.Source, coder geocode.Geocoder, log *logger.Logger, settings Settings,
	geocodeTimeout time.Duration, clock clockwork.Clock,
) *Engine {
	if geocodeTimeout <= 0 {
		geocodeTimeout = DefaultGeocodeTimeout
	}
	e := &Engine{
		log:            log,
		source:         source,
		coder:          coder,
		clock:          clock,
		settings:       settings,
		geocodeTimeout: geocodeTimeout,
		events:         make(chan any, eventBuffer),
		done:           make(chan struct{}),
		refiner:        newRefiner(settings),
		subs:           make(map[uint64]chan DisplayState),
	}
	e.last = Project(e.refiner.state, e.resolver.state)
	return e
}

// Run processes events until ctx is canceled. It must only be called once.
func (e *Engine) Run(ctx context.Context) error {
	ran := false
	e.runOnce.Do(func() { ran = true })
	if !ran {
		return errors.New("engine already started")
	}
	defer e.shutdown()

	e.log.Debug("location engine started", slog.Float64("desired_accuracy", e.settings.DesiredAccuracy),
		slog.Duration("timeout", e.settings.Timeout))
	e.probeServices(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-e.events:
			e.handle(ctx, ev)
		}
	}
}

// Toggle starts refinement when idle and stops it while refining.
func (e *Engine) Toggle() {
	e.post(toggleEvent{})
}

// Refresh starts refinement unless it is already running.
func (e *Engine) Refresh() {
	e.post(refreshEvent{})
}

// Display returns the current display state.
func (e *Engine) Display(ctx context.Context) (DisplayState, error) {
	reply := make(chan DisplayState, 1)
	if !e.post(queryEvent{reply: reply}) {
		return DisplayState{}, ErrNotRunning
	}
	select {
	case ds := <-reply:
		return ds, nil
	case <-e.done:
		return DisplayState{}, ErrNotRunning
	case <-ctx.Done():
		return DisplayState{}, ctx.Err()
	}
}

// Subscribe returns a channel that receives the display state on every change, starting with
// the current one. A subscriber that falls behind only misses intermediate states. The
// returned function ends the subscription.
func (e *Engine) Subscribe(buffer int) (<-chan DisplayState, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan DisplayState, buffer)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		close(ch)
		return ch, func() {}
	}
	id := e.nextSub
	e.nextSub++
	e.subs[id] = ch
	ch <- e.last

	return ch, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if sub, ok := e.subs[id]; ok {
			delete(e.subs, id)
			close(sub)
		}
	}
}

func (e *Engine) post(ev any) bool {
	select {
	case e.events <- ev:
		return true
	case <-e.done:
		return false
	}
}

func (e *Engine) handle(ctx context.Context, ev any) {
	switch ev := ev.(type) {
	case toggleEvent:
		if e.refiner.state.Refining() {
			e.log.Debug("stopping location refinement on user request", e.sessionAttr())
			e.apply(ctx, e.refiner.stop())
			break
		}
		if e.pendingStart != 0 {
			e.log.Debug("start request canceled on user request")
			e.pendingStart = 0
			break
		}
		e.requestStart(ctx)
	case refreshEvent:
		if !e.refiner.state.Refining() && e.pendingStart == 0 {
			e.requestStart(ctx)
		}
	case startProbedEvent:
		if ev.seq != e.pendingStart {
			return
		}
		e.pendingStart = 0
		e.startSession(ctx, ev.status, ev.enabled)
	case servicesProbedEvent:
		e.probing = false
		e.refiner.setServicesEnabled(ev.enabled)
	case updateEvent:
		if ev.session != e.refiner.state.Session {
			return
		}
		if ev.update.IsError() {
			if location.KindOf(ev.update.Err) != location.KindLocationUnknown {
				e.log.Error("location source failed", logger.Err(ev.update.Err), e.sessionAttr())
			}
			e.apply(ctx, e.refiner.onError(ev.update.Err))
			break
		}
		reading := ev.update.Reading
		e.log.Debug("location reading received", e.sessionAttr(), slog.String("source", reading.Source),
			slog.Float64("accuracy", reading.HorizontalAccuracy))
		e.apply(ctx, e.refiner.onReading(reading, e.clock.Now()))
	case sourceClosedEvent:
		if ev.session != e.refiner.state.Session {
			return
		}
		e.log.Error("location source closed during refinement", e.sessionAttr())
		e.apply(ctx, e.refiner.onError(location.ErrServicesDisabled))
	case timeoutEvent:
		if ev.session != e.refiner.state.Session {
			return
		}
		e.log.Debug("location refinement deadline reached", e.sessionAttr())
		e.apply(ctx, e.refiner.onTimeout())
	case resolvedEvent:
		if ev.err != nil {
			e.log.Error("failed to resolve address", logger.Err(ev.err), slog.Uint64("generation", ev.generation))
		}
		if req, ok := e.resolver.onResolutionComplete(ev.generation, e.refiner.state.Fix, ev.addrs,
			ev.err); ok {
			e.resolve(ctx, req)
		}
	case queryEvent:
		ev.reply <- Project(e.refiner.state, e.resolver.state)
		e.probeServices(ctx)
		return
	}

	e.publish()
}

// requestStart checks authorization and service state of the source in the background. The
// session starts once the result arrives.
func (e *Engine) requestStart(ctx context.Context) {
	e.startSeq++
	seq := e.startSeq
	e.pendingStart = seq
	go func() {
		status := e.source.AuthorizationStatus(ctx)
		enabled := e.source.ServiceEnabled(ctx)
		e.post(startProbedEvent{seq: seq, status: status, enabled: enabled})
	}()
}

// probeServices refreshes the service state shown while no session runs. The source is queried
// in the background.
func (e *Engine) probeServices(ctx context.Context) {
	if e.probing || e.pendingStart != 0 || e.refiner.state.Refining() {
		return
	}
	e.probing = true
	go func() {
		e.post(servicesProbedEvent{enabled: e.source.ServiceEnabled(ctx)})
	}()
}

func (e *Engine) startSession(ctx context.Context, status location.AuthorizationStatus, enabled bool) {
	if e.refiner.state.Refining() {
		return
	}
	switch status {
	case location.AuthNotDetermined:
		e.log.Debug("requesting location authorization")
		go e.source.RequestAuthorization(ctx)
		return
	case location.AuthDenied, location.AuthRestricted:
		e.log.Error("location access not authorized", slog.String("status", status.String()))
		e.refiner.denyPermission()
		return
	}

	e.refiner.clearAlert()
	e.apply(ctx, e.refiner.start(uuid.New(), enabled))
	if !enabled {
		e.log.Error("unable to start location refinement", logger.Err(location.ErrServicesDisabled))
	}
}

// apply carries out the side effects of a refiner transition.
func (e *Engine) apply(ctx context.Context, eff effect) {
	if eff.has(effResetResolution) {
		e.resolver.reset()
	}
	if eff.has(effUnsubscribe) && e.unsubscribe != nil {
		e.unsubscribe()
		e.unsubscribe = nil
	}
	if eff.has(effDisarmTimer) && e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	if eff.has(effSubscribe) {
		e.subscribe(ctx, e.refiner.state.Session)
	}
	if eff.has(effArmTimer) {
		session := e.refiner.state.Session
		e.timer = e.clock.AfterFunc(e.settings.Timeout, func() {
			e.post(timeoutEvent{session: session})
		})
	}
	if eff.has(effFixUpdated) && e.refiner.state.Fix != nil {
		if req, ok := e.resolver.onFixUpdated(*e.refiner.state.Fix); ok {
			e.resolve(ctx, req)
		}
	}
	if eff != 0 {
		e.log.Debug("location engine transition", e.sessionAttr(),
			slog.String("state", e.refiner.state.State.String()), e.accuracyAttr())
	}
}

func (e *Engine) subscribe(ctx context.Context, session uuid.UUID) {
	updates, unsubscribe := e.source.Subscribe(ctx, e.settings.DesiredAccuracy)
	e.unsubscribe = unsubscribe
	go func() {
		for update := range updates {
			if !e.post(updateEvent{session: session, update: update}) {
				return
			}
		}
		e.post(sourceClosedEvent{session: session})
	}()
}

// resolve runs the reverse geocoding of a fix in the background. The completion is posted as
// event. A stop does not cancel it.
func (e *Engine) resolve(ctx context.Context, req request) {
	e.log.Debug("resolving address", slog.Uint64("generation", req.fix.Generation),
		slog.String("coordinate", req.fix.Coordinate.String()))
	go func() {
		ctxResolve, cancel := context.WithTimeout(ctx, e.geocodeTimeout)
		defer cancel()
		addrs, err := e.coder.Reverse(ctxResolve, req.fix.Coordinate)
		e.post(resolvedEvent{generation: req.fix.Generation, addrs: addrs, err: err})
	}()
}

func (e *Engine) publish() {
	ds := Project(e.refiner.state, e.resolver.state)

	e.mu.Lock()
	defer e.mu.Unlock()
	if ds == e.last {
		return
	}
	e.last = ds
	for _, ch := range e.subs {
		select {
		case ch <- ds:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- ds:
			default:
			}
		}
	}
}

func (e *Engine) shutdown() {
	if e.unsubscribe != nil {
		e.unsubscribe()
		e.unsubscribe = nil
	}
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	close(e.done)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	for id, ch := range e.subs {
		delete(e.subs, id)
		close(ch)
	}
	e.log.Debug("location engine stopped")
}

func (e *Engine) sessionAttr() slog.Attr {
	return slog.String("session", e.refiner.state.Session.String())
}

func (e *Engine) accuracyAttr() slog.Attr {
	if e.refiner.state.Fix == nil {
		return slog.Float64("accuracy", -1)
	}
	return slog.Float64("accuracy", e.refiner.state.Fix.HorizontalAccuracy)
}

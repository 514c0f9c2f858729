// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package location

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/wneessen/waybar-location/internal/logger"
)

const (
	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
	updateBuffer   = 32
)

// Orchestrator combines several providers into a single Source. A subscription fans in the
// streams of every available provider and restarts failed streams with exponential backoff.
type Orchestrator struct {
	logger    *logger.Logger
	providers []Provider
}

// NewOrchestrator returns an Orchestrator over the given providers.
func NewOrchestrator(log *logger.Logger, providers ...Provider) (*Orchestrator, error) {
	if log == nil {
		return nil, errors.New("logger is required")
	}
	if len(providers) == 0 {
		return nil, errors.New("at least one location provider is required")
	}
	return &Orchestrator{logger: log, providers: providers}, nil
}

// Providers returns the configured providers.
func (o *Orchestrator) Providers() []Provider {
	return o.providers
}

// ServiceEnabled reports whether at least one provider is available.
func (o *Orchestrator) ServiceEnabled(ctx context.Context) bool {
	return len(o.available(ctx)) > 0
}

// AuthorizationStatus aggregates the status of all providers. Providers without an
// authorization gate count as authorized.
func (o *Orchestrator) AuthorizationStatus(ctx context.Context) AuthorizationStatus {
	var notDetermined, restricted bool
	for _, p := range o.providers {
		auth, ok := p.(Authorizer)
		if !ok {
			return AuthAuthorized
		}
		switch auth.AuthorizationStatus(ctx) {
		case AuthAuthorized:
			return AuthAuthorized
		case AuthNotDetermined:
			notDetermined = true
		case AuthRestricted:
			restricted = true
		}
	}
	switch {
	case notDetermined:
		return AuthNotDetermined
	case restricted:
		return AuthRestricted
	default:
		return AuthDenied
	}
}

// RequestAuthorization asks every undecided provider for permission.
func (o *Orchestrator) RequestAuthorization(ctx context.Context) {
	for _, p := range o.providers {
		auth, ok := p.(Authorizer)
		if !ok || auth.AuthorizationStatus(ctx) != AuthNotDetermined {
			continue
		}
		o.logger.Debug("requesting location authorization", slog.String("provider", p.Name()))
		auth.RequestAuthorization(ctx)
	}
}

// Subscribe starts streaming from all available providers. Provider probing happens in the
// background so the call returns immediately.
func (o *Orchestrator) Subscribe(ctx context.Context, desiredAccuracy float64) (<-chan Update, func()) {
	ctx, cancel := context.WithCancel(ctx)
	out := make(chan Update, updateBuffer)

	go func() {
		defer close(out)
		providers := o.available(ctx)
		health := newStreamHealth(len(providers))

		var wg sync.WaitGroup
		for _, p := range providers {
			wg.Add(1)
			go func(p Provider) {
				defer wg.Done()
				o.trackProvider(ctx, p, desiredAccuracy, health, out)
			}(p)
		}
		wg.Wait()
	}()

	var once sync.Once
	return out, func() { once.Do(cancel) }
}

func (o *Orchestrator) available(ctx context.Context) []Provider {
	var list []Provider
	for _, p := range o.providers {
		if p.Available(ctx) {
			list = append(list, p)
			continue
		}
		o.logger.Debug("location provider unavailable", slog.String("provider", p.Name()))
	}
	return list
}

// trackProvider continuously tracks a Provider, forwarding its updates and restarting the
// stream with backoff whenever it ends.
func (o *Orchestrator) trackProvider(ctx context.Context, p Provider, desiredAccuracy float64,
	health *streamHealth, out chan<- Update,
) {
	backoff := initialBackoff
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		stream := o.safeStream(ctx, p, desiredAccuracy)
		if stream == nil {
			if !sleepOrDone(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}

		for update := range stream {
			if !o.forward(ctx, p, update, health, out) {
				return
			}
			if !update.IsError() {
				backoff = initialBackoff
			}
		}
		if !sleepOrDone(ctx, backoff) {
			return
		}
		backoff = nextBackoff(backoff)
	}
}

// forward passes an update to the subscriber. A non-transient error is only forwarded once
// every provider of the subscription is failing, so a single broken backend does not end
// refinement while others still deliver.
func (o *Orchestrator) forward(ctx context.Context, p Provider, update Update, health *streamHealth,
	out chan<- Update,
) bool {
	if update.IsError() && !errors.Is(update.Err, ErrLocationUnknown) {
		if !health.fail(p.Name()) {
			o.logger.Warn("location provider failed", slog.String("provider", p.Name()),
				logger.Err(update.Err))
			return true
		}
	}
	if !update.IsError() {
		health.recover(p.Name())
		if update.Reading.Source == "" {
			update.Reading.Source = p.Name()
		}
	}

	select {
	case <-ctx.Done():
		return false
	case out <- update:
		return true
	}
}

// safeStream invokes Stream on a Provider and recovers from potential panics.
func (o *Orchestrator) safeStream(ctx context.Context, p Provider, desiredAccuracy float64) (ch <-chan Update) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("location provider panicked", slog.String("provider", p.Name()),
				slog.Any("panic", r))
			ch = nil
		}
	}()
	return p.Stream(ctx, desiredAccuracy)
}

type streamHealth struct {
	mu     sync.Mutex
	total  int
	failed map[string]struct{}
}

func newStreamHealth(total int) *streamHealth {
	return &streamHealth{total: total, failed: make(map[string]struct{})}
}

// fail marks the provider as failing and reports whether all providers are failing now.
func (h *streamHealth) fail(name string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failed[name] = struct{}{}
	return len(h.failed) >= h.total
}

func (h *streamHealth) recover(name string) {
	h.mu.Lock()
	delete(h.failed, name)
	h.mu.Unlock()
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func nextBackoff(d time.Duration) time.Duration {
	if d *= 2; d > maxBackoff {
		return maxBackoff
	}
	return d
}

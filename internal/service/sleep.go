// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package service

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/wneessen/waybar-location/internal/logger"
)

const (
	dbusInterface   = "org.freedesktop.login1.Manager"
	dbusWatchMember = "PrepareForSleep"

	debounceWindow   = 2 // seconds
	signalBufferSize = 8

	busReconnectDelay   = 5 * time.Second
	networkWakeupDelay  = 10 * time.Second
	reconnectDelay      = 2 * time.Second
	subscribeRetryDelay = 10 * time.Second
)

// monitorSleepResume watches logind for resume events and restarts the refinement after each
// one. The system bus connection is re-established whenever it drops.
func (s *Service) monitorSleepResume(ctx context.Context) {
	var lastResumeUnix int64
	for {
		conn, err := dbus.ConnectSystemBus()
		if err != nil {
			s.logger.Debug("system bus not reachable", logger.Err(err))
			if !waitOrDone(ctx, busReconnectDelay) {
				return
			}
			continue
		}
		stop := context.AfterFunc(ctx, func() { _ = conn.Close() })

		delay := reconnectDelay
		if err = s.watchSleepSignals(ctx, conn, &lastResumeUnix); err != nil {
			s.logger.Error("failed to subscribe to dbus signal", slog.String("interface", dbusInterface),
				slog.String("member", dbusWatchMember), logger.Err(err))
			delay = subscribeRetryDelay
		}
		if stop() {
			if err = conn.Close(); err != nil {
				s.logger.Error("failed to close system bus connection", logger.Err(err))
			}
		}
		if !waitOrDone(ctx, delay) {
			return
		}
	}
}

// watchSleepSignals subscribes to PrepareForSleep on conn and handles the signals until ctx is
// canceled or the connection drops.
func (s *Service) watchSleepSignals(ctx context.Context, conn *dbus.Conn, lastResumeUnix *int64) error {
	if err := conn.AddMatchSignal(dbus.WithMatchInterface(dbusInterface),
		dbus.WithMatchMember(dbusWatchMember)); err != nil {
		return err
	}
	sigCh := make(chan *dbus.Signal, signalBufferSize)
	conn.Signal(sigCh)
	defer conn.RemoveSignal(sigCh)
	s.logger.Debug("subscribed to dbus signal", slog.String("interface", dbusInterface),
		slog.String("member", dbusWatchMember))

	for {
		select {
		case <-ctx.Done():
			return nil
		case sgn, ok := <-sigCh:
			if !ok {
				return nil
			}
			s.processSleepSignal(ctx, sgn, lastResumeUnix)
		}
	}
}

func waitOrDone(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// processSleepSignal reacts to PrepareForSleep(false), which logind emits on resume.
func (s *Service) processSleepSignal(ctx context.Context, sgn *dbus.Signal, lastResumeUnix *int64) {
	if len(sgn.Body) != 1 {
		return
	}
	if sleeping, ok := sgn.Body[0].(bool); ok && !sleeping {
		s.handleResumeEvent(ctx, lastResumeUnix)
	}
}

// handleResumeEvent starts a new refinement once the receivers had time to come back. Resume
// events within the debounce window are dropped.
func (s *Service) handleResumeEvent(ctx context.Context, lastResumeUnix *int64) {
	now := time.Now().Unix()
	if now-atomic.LoadInt64(lastResumeUnix) < debounceWindow {
		return
	}
	atomic.StoreInt64(lastResumeUnix, now)

	if !waitOrDone(ctx, networkWakeupDelay) {
		return
	}
	s.logger.Debug("system resumed, refreshing location")
	s.engine.Refresh()
}

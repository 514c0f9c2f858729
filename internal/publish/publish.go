// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package publish holds the message format shared by the push channels that mirror the module
// output to other consumers.
package publish

import (
	"time"

	"github.com/wneessen/waybar-location/internal/engine"
	"github.com/wneessen/waybar-location/internal/presenter"
)

const (
	ActionToggle  = "toggle"
	ActionRefresh = "refresh"
)

// Controller is the part of the engine a push channel can trigger.
type Controller interface {
	Toggle()
	Refresh()
}

// Dispatch runs the named action on ctrl. It reports false for unknown actions.
func Dispatch(ctrl Controller, action string) bool {
	switch action {
	case ActionToggle:
		ctrl.Toggle()
	case ActionRefresh:
		ctrl.Refresh()
	default:
		return false
	}
	return true
}

// Payload is a rendered display state.
type Payload struct {
	presenter.Output
	Latitude  string     `json:"latitude,omitempty"`
	Longitude string     `json:"longitude,omitempty"`
	Address   string     `json:"address,omitempty"`
	Status    string     `json:"status,omitempty"`
	Accuracy  float64    `json:"accuracy,omitempty"`
	FixTime   *time.Time `json:"fix_time,omitempty"`
	Source    string     `json:"source,omitempty"`
	Refining  bool       `json:"refining"`
	HasFix    bool       `json:"has_fix"`
	Error     string     `json:"error,omitempty"`
	TimedOut  bool       `json:"timed_out"`
}

// NewPayload combines the display state with its rendered output.
func NewPayload(ds engine.DisplayState, out presenter.Output) Payload {
	payload := Payload{
		Output:    out,
		Latitude:  ds.Latitude,
		Longitude: ds.Longitude,
		Address:   ds.Address,
		Status:    ds.Status,
		Accuracy:  ds.Accuracy,
		Source:    ds.Source,
		Refining:  ds.Refining,
		HasFix:    ds.HasFix,
		TimedOut:  ds.DeadlineReached,
	}
	if ds.ErrorKind != 0 {
		payload.Error = ds.ErrorKind.String()
	}
	if !ds.FixTime.IsZero() {
		fixTime := ds.FixTime
		payload.FixTime = &fixTime
	}
	return payload
}

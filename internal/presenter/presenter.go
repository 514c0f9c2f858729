// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package presenter renders the engine's display state into waybar module output.
package presenter

import (
	"bytes"
	"fmt"
	"time"

	"github.com/vorlif/spreak"

	"github.com/wneessen/waybar-location/internal/config"
	"github.com/wneessen/waybar-location/internal/engine"
	"github.com/wneessen/waybar-location/internal/template"
)

const (
	ClassRefining = "refining"
	ClassFix      = "fix"
	ClassError    = "error"
	ClassIdle     = "idle"
)

// TemplateContext is the data the text and tooltip templates are rendered with. All user facing
// texts are translated.
type TemplateContext struct {
	Latitude   string
	Longitude  string
	Coordinate string
	Address    string
	Status     string
	Action     string
	Alert      string

	Accuracy float64
	FixTime  time.Time
	FixAge   string
	Source   string
	HasFix   bool
	Refining bool
	Error    string
	TimedOut bool
}

// Output is a single line of waybar custom module output.
type Output struct {
	Text    string `json:"text"`
	Alt     string `json:"alt"`
	Tooltip string `json:"tooltip"`
	Class   string `json:"class"`
}

type Presenter struct {
	templates *template.Templates
}

func New(conf *config.Config, loc *spreak.Localizer) (*Presenter, error) {
	tpls, err := template.New(conf, loc)
	if err != nil {
		return nil, err
	}
	pres := &Presenter{templates: tpls}

	// Templates are rendered once so that field errors show up at startup
	if _, err = pres.Render(engine.DisplayState{Status: engine.StatusTapToStart}); err != nil {
		return nil, err
	}
	return pres, nil
}

// BuildContext converts a display state into the template context.
func (p *Presenter) BuildContext(ds engine.DisplayState) TemplateContext {
	ctx := TemplateContext{
		Latitude:   ds.Latitude,
		Longitude:  ds.Longitude,
		Coordinate: ds.Coordinate,
		Address:    ds.Address,
		Status:     p.templates.Translate(ds.Status),
		Action:     p.templates.Translate(ds.ActionTitle),
		Alert:      p.templates.Translate(ds.Alert),
		Accuracy:   ds.Accuracy,
		FixTime:    ds.FixTime,
		FixAge:     p.templates.NaturalTime(ds.FixTime),
		Source:     ds.Source,
		HasFix:     ds.HasFix,
		Refining:   ds.Refining,
		Error:      ds.ErrorKind.String(),
		TimedOut:   ds.DeadlineReached,
	}
	switch ds.Address {
	case engine.AddressSearching, engine.AddressError, engine.AddressNotFound:
		ctx.Address = p.templates.Translate(ds.Address)
	}
	return ctx
}

// Render renders the display state into the waybar output.
func (p *Presenter) Render(ds engine.DisplayState) (Output, error) {
	tplCtx := p.BuildContext(ds)

	textBuf := bytes.NewBuffer(nil)
	if err := p.templates.Text.Execute(textBuf, tplCtx); err != nil {
		return Output{}, fmt.Errorf("failed to render text template: %w", err)
	}
	tooltipBuf := bytes.NewBuffer(nil)
	if err := p.templates.Tooltip.Execute(tooltipBuf, tplCtx); err != nil {
		return Output{}, fmt.Errorf("failed to render tooltip template: %w", err)
	}
	tooltip := tooltipBuf.String()
	if tplCtx.Alert != "" {
		tooltip = tplCtx.Alert + "\n\n" + tooltip
	}

	class := classFor(ds)
	return Output{
		Text:    textBuf.String(),
		Alt:     class,
		Tooltip: tooltip,
		Class:   class,
	}, nil
}

func classFor(ds engine.DisplayState) string {
	switch {
	case ds.Refining:
		return ClassRefining
	case ds.HasFix:
		return ClassFix
	case ds.Status == engine.StatusTapToStart:
		return ClassIdle
	default:
		return ClassError
	}
}

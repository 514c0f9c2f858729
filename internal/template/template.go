// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package template

import (
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/mattn/go-runewidth"
	"github.com/vorlif/humanize"
	"github.com/vorlif/humanize/locale/de"
	"github.com/vorlif/spreak"
	"github.com/vorlif/spreak/localize"

	"github.com/wneessen/waybar-location/internal/config"
)

const ellipsis = "…"

type Templates struct {
	Text      *template.Template
	Tooltip   *template.Template
	localizer *spreak.Localizer
	humanizer *humanize.Humanizer
}

var i18nVars = map[string]localize.MsgID{
	"accuracy":  "Accuracy",
	"source":    "Source",
	"action":    "Action",
	"latitude":  "Latitude",
	"longitude": "Longitude",
	"address":   "Address",
	"fixtime":   "Fix time",
}

func New(conf *config.Config, loc *spreak.Localizer) (*Templates, error) {
	tpls := new(Templates)
	tpls.localizer = loc
	tpls.humanizer = humanize.MustNew(humanize.WithLocale(de.New())).CreateHumanizer(loc.Language())

	tpl, err := template.New("text").Funcs(tpls.templateFuncMap()).Parse(conf.Templates.Text)
	if err != nil {
		return tpls, fmt.Errorf("failed to parse text template: %w", err)
	}
	tpls.Text = tpl

	tpl, err = template.New("tooltip").Funcs(tpls.templateFuncMap()).Parse(conf.Templates.Tooltip)
	if err != nil {
		return tpls, fmt.Errorf("failed to parse tooltip template: %w", err)
	}
	tpls.Tooltip = tpl

	return tpls, nil
}

// Translate returns the localized form of a user facing text. Empty texts stay empty.
func (t *Templates) Translate(msg string) string {
	if msg == "" {
		return ""
	}
	return t.localizer.Get(msg)
}

// NaturalTime renders the distance of val to now in words, e.g. "3 minutes ago".
func (t *Templates) NaturalTime(val time.Time) string {
	if val.IsZero() {
		return ""
	}
	return t.humanizer.NaturalTime(val)
}

func (t *Templates) templateFuncMap() template.FuncMap {
	return template.FuncMap{
		"timeFormat":    timeFormat,
		"localizedTime": t.localizedTime,
		"naturalTime":   t.NaturalTime,
		"floatFormat":   floatFormat,
		"trunc":         truncate,
		"oneLine":       oneLine,
		"loc":           t.loc,
		"lc":            strings.ToLower,
		"uc":            strings.ToUpper,
	}
}

func (t *Templates) loc(val string) string {
	if raw, ok := i18nVars[val]; ok {
		return t.localizer.Get(raw)
	}
	return val
}

func (t *Templates) localizedTime(val time.Time) string {
	return t.humanizer.FormatTime(val, humanize.TimeFormat)
}

func timeFormat(val time.Time, fmt string) string {
	return val.Format(fmt)
}

func floatFormat(val float64, precision int) string {
	return fmt.Sprintf("%.*f", precision, val)
}

// truncate cuts val to the given display width, wide runes count double.
func truncate(val string, width int) string {
	return runewidth.Truncate(val, width, ellipsis)
}

func oneLine(val string) string {
	return strings.ReplaceAll(val, "\n", ", ")
}

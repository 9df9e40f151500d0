// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package presenter renders the viewer's status line and user-facing notices.
package presenter

import (
	"bytes"
	"errors"
	"fmt"
	"text/template"
	"time"

	"github.com/mattn/go-runewidth"
	"github.com/nathan-osman/go-sunrise"
	"github.com/vorlif/humanize"
	"github.com/vorlif/humanize/locale/de"
	"github.com/vorlif/spreak"
	"github.com/wneessen/go-moonphase"
	"golang.org/x/text/language"

	"github.com/wneessen/nowcast/internal/config"
)

const ellipsis = "…"

// Status is the data available to the status line template.
type Status struct {
	// Time is the displayed point in time, only meaningful when HasTime is set.
	Time    time.Time
	HasTime bool

	Loading     int
	Interpolate bool
	RainOpacity int
	Lookback    int
	PanMode     bool

	// SkyIcon is a sun during daylight at the primary marker and the moon phase otherwise.
	SkyIcon   string
	MoonPhase string
	// Place is the name of the place under the primary marker, empty while unknown.
	Place string
}

type Presenter struct {
	localizer *spreak.Localizer
	humanizer *humanize.Humanizer
	status    *template.Template
	now       func() time.Time
}

func New(conf *config.Config, localizer *spreak.Localizer) (*Presenter, error) {
	if conf == nil {
		return nil, errors.New("config is required")
	}
	if localizer == nil {
		return nil, errors.New("localizer is required")
	}

	p := &Presenter{
		localizer: localizer,
		humanizer: humanize.MustNew(humanize.WithLocale(de.New())).
			CreateHumanizer(localizer.Language(), language.English),
		now: time.Now,
	}
	tpl, err := template.New("status").Funcs(p.templateFuncMap()).Parse(conf.Display.StatusTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse status template: %w", err)
	}
	p.status = tpl
	return p, nil
}

// Status renders the status line and fits it to width terminal cells. A width of zero or less
// leaves the line untouched.
func (p *Presenter) Status(status Status, width int) (string, error) {
	buf := bytes.NewBuffer(nil)
	if err := p.status.Execute(buf, status); err != nil {
		return "", fmt.Errorf("failed to render status template: %w", err)
	}
	return Fit(buf.String(), width), nil
}

// Sky returns the icon for the sky at the given place and time together with the English
// moon phase name.
func (p *Presenter) Sky(lat, lng float64, at time.Time) (string, string) {
	phase := moonphase.New(at).PhaseName()
	utc := at.UTC()
	rise, set := sunrise.SunriseSunset(lat, lng, utc.Year(), utc.Month(), utc.Day())
	if !rise.IsZero() && utc.After(rise) && utc.Before(set) {
		return sunIcon, phase
	}
	return MoonPhaseIcon[phase], phase
}

// Notice returns the localized text for a notification key. An error is appended as detail.
func (p *Presenter) Notice(key string, err error) string {
	text := p.loc(key)
	if err != nil {
		return fmt.Sprintf("%s: %s", text, err)
	}
	return text
}

// Fit truncates or pads s to exactly width terminal cells.
func Fit(s string, width int) string {
	if width <= 0 {
		return s
	}
	if runewidth.StringWidth(s) > width {
		s = runewidth.Truncate(s, width, ellipsis)
	}
	return runewidth.FillRight(s, width)
}

// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package presenter

import "github.com/vorlif/spreak/localize"

const sunIcon = "☀️"

// MoonPhaseIcon is a map where moon phase names are keys and their corresponding emoji representations are values.
var MoonPhaseIcon = map[string]string{
	"New Moon":        "🌑",
	"Waxing Crescent": "🌒",
	"First Quarter":   "🌓",
	"Waxing Gibbous":  "🌔",
	"Full Moon":       "🌕",
	"Waning Gibbous":  "🌖",
	"Third Quarter":   "🌗",
	"Waning Crescent": "🌘",
}

var i18nVars = map[string]localize.MsgID{
	"now":                  "now",
	"waiting":              "Waiting for frames",
	"pan":                  "Pan mode",
	"interpolated":         "Interpolated",
	"stepped":              "Stepped",
	"lookback":             "Lookback",
	"loading":              "Loading",
	"location unavailable": "Could not get your location",
	"location acquired":    "Location acquired",
	"discovery failed":     "Could not reach the tile service",
	"press any key":        "Press any key to continue",
	"help": "drag: time  shift+drag: pan  wheel: zoom  i: interpolation  r: rain  [/]: lookback  " +
		"←/→: step  p: pan mode  l: locate  ?: help  q: quit",
	"new moon":        "New moon",
	"waxing crescent": "Waxing crescent",
	"first quarter":   "First quarter",
	"waxing gibbous":  "Waxing gibbous",
	"full moon":       "Full moon",
	"waning gibbous":  "Waning gibbous",
	"third quarter":   "Third quarter",
	"waning crescent": "Waning crescent",
}

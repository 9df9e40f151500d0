// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package frame

import (
	"fmt"
	"math"
	"strings"
	"time"
)

const frameLayout = "200601021504"

// CloudFormat returns the satellite frame name for t.
func CloudFormat(t time.Time) string {
	return t.UTC().Format(frameLayout)
}

// RainFormat returns the live radar frame name for t.
func RainFormat(t time.Time) string {
	return t.UTC().Format(frameLayout)
}

// ForecastFormat returns the name of the radar projection frame that lies offset minutes away
// from the forecast run at run. The sign is always explicit and the offset has three digits.
func ForecastFormat(run time.Time, offset int) string {
	sign := '+'
	if offset < 0 {
		sign = '-'
	}
	return fmt.Sprintf("%s%c%03d", RainFormat(run), sign, abs(offset))
}

// ForecastOffset returns the signed distance in whole minutes from run to at.
func ForecastOffset(run, at time.Time) int {
	return int(math.Round(at.Sub(run).Minutes()))
}

// Endpoints builds provider URLs.
type Endpoints struct {
	BaseURL    string
	CloudLayer string
	RainLayer  string
	TilePath   string
	CloudQuery string
	RainQuery  string
}

// Discovery returns the URL of the layer listing.
func (e Endpoints) Discovery() string {
	return e.base()
}

// CloudURL returns the tile URL of the satellite frame with the given name.
func (e Endpoints) CloudURL(name string) string {
	return e.tile(e.CloudLayer, name, e.CloudQuery)
}

// RainURL returns the tile URL of the radar frame with the given name. Live and forecast radar
// frames share the layer and differ only by name.
func (e Endpoints) RainURL(name string) string {
	return e.tile(e.RainLayer, name, e.RainQuery)
}

// URL returns the tile URL for the frame of family f at t. Forecast frames are addressed
// relative to run.
func (e Endpoints) URL(f Family, t, run time.Time) string {
	switch f {
	case Cloud:
		return e.CloudURL(CloudFormat(t))
	case Forecast:
		return e.RainURL(ForecastFormat(run, ForecastOffset(run, t)))
	default:
		return e.RainURL(RainFormat(t))
	}
}

func (e Endpoints) base() string {
	if strings.HasSuffix(e.BaseURL, "/") {
		return e.BaseURL
	}
	return e.BaseURL + "/"
}

func (e Endpoints) tile(layer, name, query string) string {
	u := e.base() + layer + "/" + name + "/" + strings.Trim(e.TilePath, "/")
	if query != "" {
		u += "?" + query
	}
	return u
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

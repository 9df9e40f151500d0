// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package nominatim implements reverse geocoding against the OpenStreetMap Nominatim API.
package nominatim

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/text/language"

	"github.com/wneessen/nowcast/internal/geocode"
	"github.com/wneessen/nowcast/internal/http"
)

const (
	APIReverseEndpoint = "https://nominatim.openstreetmap.org/reverse"
	APITimeout         = time.Second * 10
	name               = "osm-nominatim"

	// cityZoom limits the detail of the reverse lookup to cities and towns.
	cityZoom = "10"
)

type Nominatim struct {
	http     *http.Client
	endpoint string
	lang     language.Tag
}

type reverseResult struct {
	Error       string  `json:"error"`
	Name        string  `json:"name"`
	DisplayName string  `json:"display_name"`
	Address     address `json:"address"`
}

type address struct {
	City         string `json:"city"`
	Town         string `json:"town"`
	Village      string `json:"village"`
	Municipality string `json:"municipality"`
	State        string `json:"state"`
	Country      string `json:"country"`
}

// New returns a Nominatim geocoder. An empty endpoint uses the public API.
func New(client *http.Client, endpoint string, lang language.Tag) (*Nominatim, error) {
	if client == nil {
		return nil, errors.New("http client is required")
	}
	if endpoint == "" {
		endpoint = APIReverseEndpoint
	}
	return &Nominatim{http: client, endpoint: endpoint, lang: lang}, nil
}

func (n *Nominatim) Name() string {
	return name
}

// Reverse looks up the city-level place at lat/lng. Coordinates without a place, such as the
// open sea, return a Place with Found unset.
func (n *Nominatim) Reverse(ctx context.Context, lat, lng float64) (geocode.Place, error) {
	var result reverseResult

	query := url.Values{}
	query.Set("format", "jsonv2")
	query.Set("lat", strconv.FormatFloat(lat, 'f', 6, 64))
	query.Set("lon", strconv.FormatFloat(lng, 'f', 6, 64))
	query.Set("zoom", cityZoom)
	query.Set("accept-language", n.lang.String())

	if _, err := n.http.GetWithTimeout(ctx, n.endpoint, &result, query, nil, APITimeout); err != nil {
		return geocode.Place{}, fmt.Errorf("failed to fetch reverse address details from Nominatim API: %w", err)
	}
	if result.Error != "" {
		return geocode.Place{}, nil
	}

	place := geocode.Place{
		Found:   true,
		Name:    result.Name,
		City:    result.Address.City,
		State:   result.Address.State,
		Country: result.Address.Country,
	}
	switch {
	case place.City != "":
	case result.Address.Town != "":
		place.City = result.Address.Town
	case result.Address.Village != "":
		place.City = result.Address.Village
	case result.Address.Municipality != "":
		place.City = result.Address.Municipality
	}
	if place.Name == "" {
		place.Name = result.DisplayName
	}
	return place, nil
}

// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package ichnaea locates the host through an ICHNAEA compatible service (BeaconDB) using the
// WiFi access points in range.
package ichnaea

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mdlayher/wifi"

	"github.com/wneessen/nowcast/internal/geobus"
	"github.com/wneessen/nowcast/internal/http"
)

const (
	DefaultEndpoint = "https://api.beacondb.net/v1/geolocate"
	lookupTimeout   = time.Second * 5
	name            = "ichnaea"
)

var ErrNoPosition = errors.New("geolocation service returned no position")

// AccessPoint is a WiFi network as reported to the geolocation service.
type AccessPoint struct {
	MACAddress     string `json:"macAddress"`
	SignalStrength int32  `json:"signalStrength"`
	Age            int64  `json:"age"`
}

// Scanner lists the access points currently in range.
type Scanner interface {
	AccessPoints() ([]AccessPoint, error)
}

// Provider asks the geolocation service for a position, rescanning the access points before
// every request.
type Provider struct {
	http     *http.Client
	scanner  Scanner
	endpoint string
	period   time.Duration
	ttl      time.Duration
}

type geolocateRequest struct {
	ConsiderIP   bool          `json:"considerIp"`
	AccessPoints []AccessPoint `json:"wifiAccessPoints,omitempty"`
}

type geolocateResponse struct {
	Location struct {
		Lat float64 `json:"lat"`
		Lng float64 `json:"lng"`
	} `json:"location"`
	Accuracy float64 `json:"accuracy"`
}

// New returns a provider that sends the access points found by scanner to endpoint. A nil
// scanner restricts the lookup to the requesting IP address.
func New(client *http.Client, scanner Scanner, endpoint string) (*Provider, error) {
	if client == nil {
		return nil, fmt.Errorf("http client is required")
	}
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &Provider{
		http:     client,
		scanner:  scanner,
		endpoint: endpoint,
		period:   time.Minute * 5,
		ttl:      time.Hour,
	}, nil
}

// NewWiFi returns a provider backed by the WiFi interfaces of the host.
func NewWiFi(client *http.Client) (*Provider, error) {
	wlan, err := wifi.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create wifi client: %w", err)
	}
	return New(client, &wifiScanner{wlan: wlan}, DefaultEndpoint)
}

func (p *Provider) Name() string {
	return name
}

// LookupStream emits a position right away and then every period while the host keeps moving.
func (p *Provider) LookupStream(ctx context.Context, key string) <-chan geobus.Result {
	out := make(chan geobus.Result)
	go func() {
		defer close(out)
		var state geobus.GeolocationState
		ticker := time.NewTicker(p.period)
		defer ticker.Stop()

		for {
			if coord, err := p.locate(ctx); err == nil && state.HasChanged(coord) {
				state.Update(coord)
				select {
				case <-ctx.Done():
					return
				case out <- p.result(key, coord):
				}
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return out
}

func (p *Provider) result(key string, coord geobus.Coordinate) geobus.Result {
	return geobus.Result{
		Key:            key,
		Lat:            coord.Lat,
		Lon:            coord.Lon,
		AccuracyMeters: coord.Acc,
		Source:         name,
		At:             time.Now(),
		TTL:            p.ttl,
	}
}

func (p *Provider) locate(ctx context.Context) (geobus.Coordinate, error) {
	req := geolocateRequest{ConsiderIP: true}
	if p.scanner != nil {
		aps, err := p.scanner.AccessPoints()
		if err != nil {
			return geobus.Coordinate{}, fmt.Errorf("failed to scan access points: %w", err)
		}
		req.AccessPoints = aps
	}
	body := bytes.NewBuffer(nil)
	if err := json.NewEncoder(body).Encode(req); err != nil {
		return geobus.Coordinate{}, fmt.Errorf("failed to encode geolocate request: %w", err)
	}

	var resp geolocateResponse
	if _, err := p.http.PostWithTimeout(ctx, p.endpoint, &resp, body,
		map[string]string{"Content-Type": "application/json"}, lookupTimeout); err != nil {
		return geobus.Coordinate{}, fmt.Errorf("failed to query geolocation service: %w", err)
	}
	if resp.Accuracy <= 0 {
		return geobus.Coordinate{}, ErrNoPosition
	}
	return geobus.Coordinate{
		Lat: geobus.Truncate(resp.Location.Lat, geobus.TruncPrecision),
		Lon: geobus.Truncate(resp.Location.Lng, geobus.TruncPrecision),
		Acc: resp.Accuracy,
	}, nil
}

type wifiScanner struct {
	wlan *wifi.Client
}

// AccessPoints lists the visible networks of all station interfaces. Hidden networks and
// networks that opted out with the _nomap suffix are left out.
func (w *wifiScanner) AccessPoints() ([]AccessPoint, error) {
	ifaces, err := w.wlan.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("failed to list interfaces: %w", err)
	}
	var list []AccessPoint
	for _, iface := range ifaces {
		if iface.Type != wifi.InterfaceTypeStation {
			continue
		}
		bss, err := w.wlan.AccessPoints(iface)
		if err != nil {
			continue
		}
		for _, ap := range bss {
			if !mappable(ap.SSID) {
				continue
			}
			list = append(list, AccessPoint{
				MACAddress:     ap.BSSID.String(),
				SignalStrength: ap.Signal / 100,
				Age:            ap.LastSeen.Milliseconds(),
			})
		}
	}
	return list, nil
}

func mappable(ssid string) bool {
	return ssid != "" && ssid[0] != '\x00' && !strings.HasSuffix(ssid, "_nomap")
}

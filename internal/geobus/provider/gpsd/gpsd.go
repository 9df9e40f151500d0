// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package gpsd

import (
	"context"
	"fmt"
	"math"
	"net"
	"sync"
	"time"

	"github.com/stratoberry/go-gpsd"

	"github.com/wneessen/nowcast/internal/geobus"
	"github.com/wneessen/nowcast/internal/logger"
)

const (
	host = "localhost"
	port = "2947"
	name = "gpsd"

	fallbackAccuracy3DFix = 10
	fallbackAccuracy2DFix = 25
)

var closedFixes = func() chan fix {
	c := make(chan fix)
	close(c)
	return c
}()

// fix is a single position report with at least a 2D fix.
type fix struct {
	Lat, Lon, Alt, Acc float64
}

// GeolocationGPSDProvider follows the TPV reports of a local gpsd daemon.
type GeolocationGPSDProvider struct {
	name    string
	addr    string
	logger  *logger.Logger
	period  time.Duration
	ttl     time.Duration
	watchFn func(ctx context.Context) (<-chan fix, error)
}

func NewGeolocationGPSDProvider(log *logger.Logger) *GeolocationGPSDProvider {
	provider := &GeolocationGPSDProvider{
		name:   name,
		addr:   net.JoinHostPort(host, port),
		logger: log,
		period: time.Second * 30,
		ttl:    time.Minute * 2,
	}
	provider.watchFn = provider.watch
	return provider
}

func (p *GeolocationGPSDProvider) Name() string {
	return p.name
}

// LookupStream emits a result for every fix that moved significantly. A lost gpsd connection is
// retried every period.
func (p *GeolocationGPSDProvider) LookupStream(ctx context.Context, key string) <-chan geobus.Result {
	out := make(chan geobus.Result)
	go func() {
		defer close(out)
		state := geobus.GeolocationState{}

		for {
			fixes, err := p.watchFn(ctx)
			if err != nil {
				p.logger.Debug("gpsd unavailable", logger.Err(err), "addr", p.addr)
				fixes = closedFixes
			}
			for f := range fixes {
				coord := geobus.Coordinate{Lat: f.Lat, Lon: f.Lon, Acc: f.Acc}
				if !state.HasChanged(coord) {
					continue
				}
				state.Update(coord)
				select {
				case <-ctx.Done():
					return
				case out <- p.createResult(key, coord):
				}
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(p.period):
			}
		}
	}()
	return out
}

func (p *GeolocationGPSDProvider) createResult(key string, coord geobus.Coordinate) geobus.Result {
	return geobus.Result{
		Key:            key,
		Lat:            coord.Lat,
		Lon:            coord.Lon,
		AccuracyMeters: coord.Acc,
		Source:         p.name,
		At:             time.Now(),
		TTL:            p.ttl,
	}
}

// watch connects to gpsd and forwards 2D and 3D fixes until the connection ends or ctx is done.
func (p *GeolocationGPSDProvider) watch(ctx context.Context) (<-chan fix, error) {
	session, err := gpsd.Dial(p.addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to gpsd at %q: %w", p.addr, err)
	}

	var mu sync.Mutex
	closed := false
	fixes := make(chan fix, 1)
	session.AddFilter("TPV", func(r interface{}) {
		tpv, ok := r.(*gpsd.TPVReport)
		if !ok || tpv.Mode < gpsd.Mode2D {
			return
		}
		f := fix{
			Lat: geobus.Truncate(tpv.Lat, geobus.TruncPrecision),
			Lon: geobus.Truncate(tpv.Lon, geobus.TruncPrecision),
			Alt: geobus.Truncate(tpv.Alt, geobus.TruncPrecision),
			Acc: accuracy(tpv.Epx, tpv.Epy, tpv.Mode == gpsd.Mode3D),
		}
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case fixes <- f:
		default:
		}
	})

	done := session.Watch()
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		mu.Lock()
		closed = true
		close(fixes)
		mu.Unlock()
	}()
	return fixes, nil
}

// accuracy estimates the horizontal error in meters from the longitude and latitude error
// estimates of a TPV report.
func accuracy(epx, epy float64, is3D bool) float64 {
	if epx > 0 && epy > 0 {
		return geobus.Truncate(math.Hypot(epx, epy), geobus.TruncPrecision)
	}
	if is3D {
		return fallbackAccuracy3DFix
	}
	return fallbackAccuracy2DFix
}

// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package geolocation_file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/wneessen/nowcast/internal/geobus"
)

const (
	name = "geolocation_file"
)

var ErrNoCoordinates = errors.New("no valid coordinates found in geolocation file")

// GeolocationFileProvider emits the location stored by a previous session. The file holds a
// single JSON array of the form [lat, lng].
type GeolocationFileProvider struct {
	name     string
	path     string
	period   time.Duration
	ttl      time.Duration
	locateFn func() (lat, lon float64, err error)
}

// NewGeolocationFileProvider returns a provider reading the location file at path.
func NewGeolocationFileProvider(path string) *GeolocationFileProvider {
	provider := &GeolocationFileProvider{
		name:   name,
		path:   path,
		period: time.Minute * 2,
		ttl:    0,
	}
	provider.locateFn = provider.readFile
	return provider
}

// Name returns the name of the GeolocationFileProvider instance.
func (p *GeolocationFileProvider) Name() string {
	return p.name
}

// LookupStream re-reads the file every period and emits the stored location whenever it moved.
func (p *GeolocationFileProvider) LookupStream(ctx context.Context, key string) <-chan geobus.Result {
	out := make(chan geobus.Result)
	go func() {
		defer close(out)
		state := geobus.GeolocationState{}
		firstRun := true

		for {
			if !firstRun {
				select {
				case <-ctx.Done():
					return
				case <-time.After(p.period):
				}
			}
			firstRun = false

			lat, lon, err := p.locateFn()
			if err != nil {
				continue
			}
			coord := geobus.Coordinate{Lat: lat, Lon: lon, Acc: geobus.AccuracyZip}
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
	}()
	return out
}

func (p *GeolocationFileProvider) createResult(key string, coord geobus.Coordinate) geobus.Result {
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

func (p *GeolocationFileProvider) readFile() (lat, lon float64, err error) {
	return Load(p.path)
}

// Load reads a [lat, lng] location file.
func Load(path string) (lat, lon float64, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read geolocation file %q: %w", path, err)
	}
	var pair []float64
	if err = json.Unmarshal(data, &pair); err != nil {
		return 0, 0, fmt.Errorf("%w: %w", ErrNoCoordinates, err)
	}
	if len(pair) != 2 {
		return 0, 0, ErrNoCoordinates
	}
	if !(geobus.Coordinate{Lat: pair[0], Lon: pair[1]}).Valid() {
		return 0, 0, fmt.Errorf("%w: %f,%f out of range", ErrNoCoordinates, pair[0], pair[1])
	}
	return pair[0], pair[1], nil
}

// Save writes lat and lon as a [lat, lng] location file, creating the parent directory if needed.
// The file is replaced atomically.
func Save(path string, lat, lon float64) error {
	if !(geobus.Coordinate{Lat: lat, Lon: lon}).Valid() {
		return fmt.Errorf("%w: %f,%f out of range", ErrNoCoordinates, lat, lon)
	}
	data, err := json.Marshal([2]float64{lat, lon})
	if err != nil {
		return fmt.Errorf("failed to encode location: %w", err)
	}
	dir := filepath.Dir(path)
	if err = os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create directory %q: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".location-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary location file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err = tmp.Write(append(data, '\n')); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write location file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to close location file: %w", err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace location file %q: %w", path, err)
	}
	return nil
}

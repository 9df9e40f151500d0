// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package gpsd

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"testing/synctest"
	"time"

	"github.com/wneessen/nowcast/internal/geobus"
	"github.com/wneessen/nowcast/internal/logger"
)

const (
	testLat = 40.7185
	testLon = -74.0025
)

func TestNewGeolocationGPSDProvider(t *testing.T) {
	t.Run("new GPSd provider succeeds", func(t *testing.T) {
		provider := NewGeolocationGPSDProvider(logger.New(slog.LevelError))
		if provider == nil {
			t.Fatal("expected provider to be non-nil")
		}
	})
}

func TestGeolocationGPSDProvider_Name(t *testing.T) {
	provider := NewGeolocationGPSDProvider(logger.New(slog.LevelError))
	if !strings.EqualFold(provider.Name(), name) {
		t.Errorf("expected provider name to be %s, got %s", name, provider.Name())
	}
}

func TestGeolocationGPSDProvider_createResult(t *testing.T) {
	provider := NewGeolocationGPSDProvider(logger.New(slog.LevelError))
	result := provider.createResult("test", geobus.Coordinate{Lat: testLat, Lon: testLon, Acc: geobus.AccuracyCity})
	if result.Lat != testLat {
		t.Errorf("expected latitude to be %f, got %f", testLat, result.Lat)
	}
	if result.Lon != testLon {
		t.Errorf("expected longitude to be %f, got %f", testLon, result.Lon)
	}
	if result.Key != "test" {
		t.Errorf("expected key to be %s, got %s", "test", result.Key)
	}
	if result.Source != provider.Name() {
		t.Errorf("expected source to be %s, got %s", provider.Name(), result.Source)
	}
	if result.TTL != provider.ttl {
		t.Errorf("expected TTL to be %d, got %d", provider.ttl, result.TTL)
	}
}

func TestGeolocationGPSDProvider_LookupStream(t *testing.T) {
	t.Run("connecting fails on first run but then succeeds", func(t *testing.T) {
		runCount := 0
		synctest.Test(t, func(t *testing.T) {
			ctx, cancel := context.WithCancel(t.Context())
			defer cancel()

			provider := NewGeolocationGPSDProvider(logger.New(slog.LevelError))
			provider.period = time.Millisecond * 10
			provider.watchFn = func(ctx context.Context) (<-chan fix, error) {
				if runCount == 0 {
					runCount++
					return nil, errors.New("intentionally failing")
				}
				fixes := make(chan fix, 1)
				fixes <- fix{Lat: 1.0, Lon: 2.0, Acc: 3.0}
				close(fixes)
				return fixes, nil
			}

			out := provider.LookupStream(ctx, "test")
			var result geobus.Result
			select {
			case r := <-out:
				result = r
				cancel()
			case <-ctx.Done():
				t.Fatalf("context done before result: %v", ctx.Err())
			}
			synctest.Wait()

			if result.Lat != 1.0 {
				t.Errorf("expected latitude to be %f, got %f", 1.0, result.Lat)
			}
			if result.Lon != 2.0 {
				t.Errorf("expected longitude to be %f, got %f", 2.0, result.Lon)
			}
			if result.AccuracyMeters != 3.0 {
				t.Errorf("expected accuracy to be %f, got %f", 3.0, result.AccuracyMeters)
			}
		})
	})
	t.Run("unchanged fixes are emitted once", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			ctx, cancel := context.WithCancel(t.Context())
			defer cancel()

			provider := NewGeolocationGPSDProvider(logger.New(slog.LevelError))
			provider.watchFn = func(ctx context.Context) (<-chan fix, error) {
				fixes := make(chan fix, 3)
				fixes <- fix{Lat: testLat, Lon: testLon, Acc: 10}
				fixes <- fix{Lat: testLat, Lon: testLon, Acc: 10}
				fixes <- fix{Lat: testLat + 1, Lon: testLon, Acc: 10}
				close(fixes)
				return fixes, nil
			}

			out := provider.LookupStream(ctx, "test")
			first := <-out
			second := <-out
			cancel()
			synctest.Wait()

			if first.Lat != testLat {
				t.Errorf("expected first latitude to be %f, got %f", testLat, first.Lat)
			}
			if second.Lat != testLat+1 {
				t.Errorf("expected second latitude to be %f, got %f", testLat+1, second.Lat)
			}
		})
	})
}

func TestAccuracy(t *testing.T) {
	tests := []struct {
		name     string
		epx, epy float64
		is3D     bool
		want     float64
	}{
		{"error estimates present", 3, 4, true, 5},
		{"3D fix without estimates", 0, 0, true, fallbackAccuracy3DFix},
		{"2D fix without estimates", 0, 0, false, fallbackAccuracy2DFix},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := accuracy(tc.epx, tc.epy, tc.is3D); got != tc.want {
				t.Errorf("expected accuracy %f, got %f", tc.want, got)
			}
		})
	}
}

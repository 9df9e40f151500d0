// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package discovery

import (
	"context"
	"errors"
	"image"
	"io"
	"log/slog"
	nethttp "net/http"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"testing/synctest"
	"time"

	"github.com/wneessen/nowcast/internal/cache"
	"github.com/wneessen/nowcast/internal/frame"
	"github.com/wneessen/nowcast/internal/http"
	"github.com/wneessen/nowcast/internal/logger"
	"github.com/wneessen/nowcast/internal/testhelper"
)

const listing = `{
  "satellite-europe": {
    "layers": [
      {"layername": "202403091200", "timestamp": 1709985600},
      {"layername": "202403091205", "timestamp": 1709985900}
    ]
  },
  "radar-world": {
    "layers": [
      {"layername": "202403091200", "timestamp": 1709985600, "type": "radar"},
      {"layername": "202403091200+005", "timestamp": 1709985900, "type": "forecast"}
    ],
    "runtimes": [1709985600, 1709982000]
  }
}`

var endpoints = frame.Endpoints{
	BaseURL:    "https://api.example.com/v4/nowcast/tiles",
	CloudLayer: "satellite-europe",
	RainLayer:  "radar-world",
	TilePath:   "7/41/59/50/70",
	CloudQuery: "outputtype=jpeg",
	RainQuery:  "outputtype=image&unit=mm/hr",
}

func testLogger() *logger.Logger {
	return logger.NewLogger(slog.LevelDebug, io.Discard)
}

func TestNew(t *testing.T) {
	log := testLogger()
	t.Run("new client succeeds", func(t *testing.T) {
		if _, err := New(http.New(log), log, endpoints.Discovery()); err != nil {
			t.Fatalf("failed to create discovery client: %s", err)
		}
	})
	t.Run("missing collaborators fail", func(t *testing.T) {
		if _, err := New(nil, log, "x"); err == nil {
			t.Error("expected error without http client")
		}
		if _, err := New(http.New(log), nil, "x"); err == nil {
			t.Error("expected error without logger")
		}
		if _, err := New(http.New(log), log, ""); err == nil {
			t.Error("expected error without endpoint")
		}
	})
}

func TestClient_Fetch(t *testing.T) {
	log := testLogger()
	t.Run("listing is decoded", func(t *testing.T) {
		client := http.New(log)
		client.Transport = testhelper.MockRoundTripper{Fn: func(req *nethttp.Request) (*nethttp.Response, error) {
			if req.URL.String() != "https://api.example.com/v4/nowcast/tiles/" {
				t.Errorf("unexpected discovery URL: %s", req.URL)
			}
			return testhelper.Response(nethttp.StatusOK, []byte(listing)), nil
		}}
		disco, err := New(client, log, endpoints.Discovery())
		if err != nil {
			t.Fatalf("failed to create discovery client: %s", err)
		}
		infos, err := disco.Fetch(context.Background())
		if err != nil {
			t.Fatalf("failed to fetch listing: %s", err)
		}
		keys := infos.Timestamps("satellite-europe", "radar-world")
		want := []int64{1709985600000, 1709985900000, 1709985600000, 1709985900000}
		if !slices.Equal(keys, want) {
			t.Errorf("expected keys %v, got %v", want, keys)
		}
		runtime, ok := infos.Runtime("radar-world")
		if !ok || runtime != 1709985600000 {
			t.Errorf("expected first runtime in milliseconds, got %d", runtime)
		}
		if _, ok = infos.Runtime("satellite-europe"); ok {
			t.Error("expected no runtime for satellite product")
		}
	})
	t.Run("non-200 status fails", func(t *testing.T) {
		client := http.New(log)
		client.Transport = testhelper.MockRoundTripper{Fn: func(req *nethttp.Request) (*nethttp.Response, error) {
			return testhelper.Response(nethttp.StatusBadGateway, []byte(`{}`)), nil
		}}
		disco, _ := New(client, log, endpoints.Discovery())
		if _, err := disco.Fetch(context.Background()); !errors.Is(err, http.ErrUnexpectedStatus) {
			t.Errorf("expected ErrUnexpectedStatus, got %v", err)
		}
	})
	t.Run("repeated failures open the circuit", func(t *testing.T) {
		var calls atomic.Int32
		client := http.New(log)
		client.Transport = testhelper.MockRoundTripper{Fn: func(req *nethttp.Request) (*nethttp.Response, error) {
			calls.Add(1)
			return nil, errors.New("connection refused")
		}}
		disco, _ := New(client, log, endpoints.Discovery())
		for i := 0; i < 3; i++ {
			if _, err := disco.Fetch(context.Background()); err == nil {
				t.Fatal("expected fetch to fail")
			}
		}
		_, err := disco.Fetch(context.Background())
		if !errors.Is(err, ErrCircuitOpen) {
			t.Errorf("expected ErrCircuitOpen, got %v", err)
		}
		if calls.Load() != 3 {
			t.Errorf("expected 3 requests before the circuit opened, got %d", calls.Load())
		}
	})
}

func TestPlan(t *testing.T) {
	infos := Infos{
		"satellite-europe": {Layers: []Layer{
			{Name: "c1", Timestamp: 100},
			{Name: "c2", Timestamp: 400},
			{Name: "c3", Timestamp: 700},
		}},
		"radar-world": {Layers: []Layer{
			{Name: "r1", Timestamp: 100, Type: "radar"},
			{Name: "f1", Timestamp: 800, Type: "forecast"},
		}},
	}
	t.Run("cached layers are skipped", func(t *testing.T) {
		store := cache.New()
		store.Put(frame.Cloud, 400_000, frame.New(image.NewRGBA(image.Rect(0, 0, 1, 1))))
		loads := Plan(infos, endpoints, store, 0, false)
		if len(loads) != 4 {
			t.Fatalf("expected 4 loads, got %d", len(loads))
		}
		for _, load := range loads {
			if load.Family == frame.Cloud && load.Key == 400_000 {
				t.Error("expected cached cloud frame to be skipped")
			}
		}
	})
	t.Run("forecast layers go to the forecast family", func(t *testing.T) {
		loads := Plan(infos, endpoints, cache.New(), 0, false)
		var forecast *Load
		for i := range loads {
			if loads[i].Key == 800_000 {
				forecast = &loads[i]
			}
		}
		if forecast == nil {
			t.Fatal("expected forecast load")
		}
		if forecast.Family != frame.Forecast {
			t.Errorf("expected forecast family, got %s", forecast.Family)
		}
		want := "https://api.example.com/v4/nowcast/tiles/radar-world/f1/7/41/59/50/70?outputtype=image&unit=mm/hr"
		if forecast.URL != want {
			t.Errorf("expected URL %s, got %s", want, forecast.URL)
		}
	})
	t.Run("loads are ordered by proximity to the cursor", func(t *testing.T) {
		loads := Plan(infos, endpoints, cache.New(), 650_000, true)
		var keys []int64
		for _, load := range loads {
			keys = append(keys, load.Key)
		}
		want := []int64{700_000, 800_000, 400_000, 100_000, 100_000}
		if !slices.Equal(keys, want) {
			t.Errorf("expected order %v, got %v", want, keys)
		}
	})
}

type fakeFetcher struct {
	mu       sync.Mutex
	inFlight int
	peak     int
	fail     map[string]bool
}

func (f *fakeFetcher) Load(_ context.Context, url string) (*frame.Frame, error) {
	f.mu.Lock()
	f.inFlight++
	f.peak = max(f.peak, f.inFlight)
	f.mu.Unlock()

	time.Sleep(time.Second)

	f.mu.Lock()
	f.inFlight--
	f.mu.Unlock()
	if f.fail[url] {
		return nil, errors.New("tile not available")
	}
	return frame.New(image.NewRGBA(image.Rect(0, 0, 2, 2))), nil
}

func TestSeeder_Seed(t *testing.T) {
	t.Run("loads run in batches of five", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			var loads []Load
			for i := 0; i < 12; i++ {
				loads = append(loads, Load{Family: frame.Cloud, Key: int64(i), URL: string(rune('a' + i))})
			}
			fetcher := &fakeFetcher{fail: map[string]bool{"c": true}}
			store := cache.New()
			var progress atomic.Int32
			var loaded atomic.Int32
			seeder := &Seeder{
				Fetcher:  fetcher,
				Cache:    store,
				Logger:   testLogger(),
				OnLoaded: func(Load) { loaded.Add(1) },
				Progress: func(delta int) { progress.Add(int32(delta)) },
			}

			start := time.Now()
			inserted := seeder.Seed(t.Context(), loads)
			if elapsed := time.Since(start); elapsed != 3*time.Second {
				t.Errorf("expected three sequential batches, took %s", elapsed)
			}
			if fetcher.peak != DefaultBatchSize {
				t.Errorf("expected at most %d concurrent loads, got %d", DefaultBatchSize, fetcher.peak)
			}
			if inserted != 11 || loaded.Load() != 11 {
				t.Errorf("expected 11 inserted frames, got %d", inserted)
			}
			if store.Has(frame.Cloud, 2) {
				t.Error("expected failed load to be skipped")
			}
			if progress.Load() != 0 {
				t.Errorf("expected progress to settle at zero, got %d", progress.Load())
			}
		})
	})
	t.Run("cancelled context stops further batches", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			loads := make([]Load, 8)
			for i := range loads {
				loads[i] = Load{Family: frame.Rain, Key: int64(i), URL: "x"}
			}
			ctx, cancel := context.WithCancel(t.Context())
			cancel()
			var progress atomic.Int32
			seeder := &Seeder{
				Fetcher:  &fakeFetcher{},
				Cache:    cache.New(),
				Logger:   testLogger(),
				Progress: func(delta int) { progress.Add(int32(delta)) },
			}
			if inserted := seeder.Seed(ctx, loads); inserted != 0 {
				t.Errorf("expected nothing to be loaded, got %d", inserted)
			}
			if progress.Load() != 0 {
				t.Errorf("expected progress to settle at zero, got %d", progress.Load())
			}
		})
	})
}

// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package ichnaea

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	stdhttp "net/http"
	"os"
	"sync"
	"testing"
	"testing/synctest"
	"time"

	"github.com/wneessen/nowcast/internal/geobus"
	"github.com/wneessen/nowcast/internal/http"
	"github.com/wneessen/nowcast/internal/logger"
	"github.com/wneessen/nowcast/internal/testhelper"
)

const (
	testFile = "../../../../testdata/beacondb.json"
	testLat  = 40.7185
	testLon  = -74.0025
	testAcc  = 2000.0
)

var testAPs = []AccessPoint{
	{MACAddress: "01:23:45:67:89:ab", SignalStrength: -51, Age: 1200},
	{MACAddress: "01:23:45:67:89:cd", SignalStrength: -70, Age: 300},
}

func TestNew(t *testing.T) {
	t.Run("new provider uses the default endpoint", func(t *testing.T) {
		provider, err := New(http.New(logger.New(slog.LevelError)), nil, "")
		if err != nil {
			t.Fatalf("failed to create ICHNAEA provider: %s", err)
		}
		if provider.endpoint != DefaultEndpoint {
			t.Errorf("expected endpoint %s, got %s", DefaultEndpoint, provider.endpoint)
		}
		if provider.Name() != name {
			t.Errorf("expected provider name to be %s, got %s", name, provider.Name())
		}
	})
	t.Run("new provider without http client fails", func(t *testing.T) {
		provider, err := New(nil, nil, "")
		if err == nil {
			t.Fatal("expected provider creation to fail")
		}
		if provider != nil {
			t.Fatal("expected provider to be nil")
		}
	})
}

func TestProvider_locate(t *testing.T) {
	t.Run("access points are sent and the position is truncated", func(t *testing.T) {
		var sent geolocateRequest
		provider := testProvider(t, &fakeScanner{aps: testAPs}, func(req *stdhttp.Request) (*stdhttp.Response, error) {
			if req.Method != stdhttp.MethodPost {
				t.Errorf("expected POST request, got %s", req.Method)
			}
			if err := json.NewDecoder(req.Body).Decode(&sent); err != nil {
				t.Errorf("failed to decode request: %s", err)
			}
			return fileResponse(t)
		})

		coord, err := provider.locate(t.Context())
		if err != nil {
			t.Fatalf("failed to locate: %s", err)
		}
		if coord.Lat != testLat || coord.Lon != testLon || coord.Acc != testAcc {
			t.Errorf("unexpected coordinate %+v", coord)
		}
		if !sent.ConsiderIP {
			t.Error("expected the IP address to be considered")
		}
		if len(sent.AccessPoints) != len(testAPs) || sent.AccessPoints[0] != testAPs[0] {
			t.Errorf("expected access points %+v, got %+v", testAPs, sent.AccessPoints)
		}
	})
	t.Run("without scanner only the IP address is used", func(t *testing.T) {
		var raw map[string]any
		provider := testProvider(t, nil, func(req *stdhttp.Request) (*stdhttp.Response, error) {
			if err := json.NewDecoder(req.Body).Decode(&raw); err != nil {
				t.Errorf("failed to decode request: %s", err)
			}
			return fileResponse(t)
		})
		if _, err := provider.locate(t.Context()); err != nil {
			t.Fatalf("failed to locate: %s", err)
		}
		if _, ok := raw["wifiAccessPoints"]; ok {
			t.Error("expected no access points in the request")
		}
	})
	t.Run("scanner errors fail the lookup", func(t *testing.T) {
		requests := 0
		provider := testProvider(t, &fakeScanner{err: errors.New("intentionally failing")},
			func(*stdhttp.Request) (*stdhttp.Response, error) {
				requests++
				return fileResponse(t)
			})
		if _, err := provider.locate(t.Context()); err == nil {
			t.Fatal("expected locate to fail")
		}
		if requests != 0 {
			t.Errorf("expected no request, got %d", requests)
		}
	})
	t.Run("broken JSON fails the lookup", func(t *testing.T) {
		provider := testProvider(t, nil, func(*stdhttp.Request) (*stdhttp.Response, error) {
			return testhelper.Response(200, []byte("NOT_JSON")), nil
		})
		if _, err := provider.locate(t.Context()); err == nil {
			t.Fatal("expected locate to fail")
		}
	})
	t.Run("a response without accuracy is no position", func(t *testing.T) {
		provider := testProvider(t, nil, func(*stdhttp.Request) (*stdhttp.Response, error) {
			return testhelper.Response(404, []byte(`{"error":{"code":404,"message":"Not found"}}`)), nil
		})
		if _, err := provider.locate(t.Context()); !errors.Is(err, ErrNoPosition) {
			t.Errorf("expected ErrNoPosition, got %v", err)
		}
	})
}

func TestProvider_LookupStream(t *testing.T) {
	t.Run("the first position is emitted right away", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			ctx, cancel := context.WithCancel(t.Context())
			defer cancel()
			provider := testProvider(t, &fakeScanner{aps: testAPs}, func(*stdhttp.Request) (*stdhttp.Response, error) {
				return fileResponse(t)
			})

			result := <-provider.LookupStream(ctx, geobus.KeyLocation)
			cancel()
			synctest.Wait()

			if result.Key != geobus.KeyLocation {
				t.Errorf("expected key %s, got %s", geobus.KeyLocation, result.Key)
			}
			if result.Lat != testLat || result.Lon != testLon {
				t.Errorf("unexpected position %f,%f", result.Lat, result.Lon)
			}
			if result.AccuracyMeters != testAcc {
				t.Errorf("expected accuracy %f, got %f", testAcc, result.AccuracyMeters)
			}
			if result.Source != name || result.TTL != time.Hour {
				t.Errorf("unexpected source %s or TTL %s", result.Source, result.TTL)
			}
		})
	})
	t.Run("failed lookups are retried after the period", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			ctx, cancel := context.WithCancel(t.Context())
			defer cancel()
			scanner := &fakeScanner{err: errors.New("intentionally failing"), failures: 1}
			provider := testProvider(t, scanner, func(*stdhttp.Request) (*stdhttp.Response, error) {
				return fileResponse(t)
			})

			start := time.Now()
			result := <-provider.LookupStream(ctx, "test")
			cancel()
			synctest.Wait()

			if waited := time.Since(start); waited != provider.period {
				t.Errorf("expected the retry after %s, got %s", provider.period, waited)
			}
			if result.Lat != testLat {
				t.Errorf("expected latitude %f, got %f", testLat, result.Lat)
			}
		})
	})
	t.Run("an unchanged position is not emitted twice", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			ctx, cancel := context.WithCancel(t.Context())
			defer cancel()
			var mu sync.Mutex
			requests := 0
			provider := testProvider(t, nil, func(*stdhttp.Request) (*stdhttp.Response, error) {
				mu.Lock()
				requests++
				mu.Unlock()
				return fileResponse(t)
			})

			out := provider.LookupStream(ctx, "test")
			<-out
			time.Sleep(provider.period * 3)
			synctest.Wait()
			select {
			case r := <-out:
				t.Errorf("expected no further result, got %+v", r)
			default:
			}
			cancel()
			synctest.Wait()

			mu.Lock()
			defer mu.Unlock()
			if requests < 3 {
				t.Errorf("expected the service to be polled every period, got %d requests", requests)
			}
		})
	})
}

func TestMappable(t *testing.T) {
	tests := []struct {
		ssid string
		want bool
	}{
		{"home", true},
		{"", false},
		{"\x00\x00", false},
		{"cafe_nomap", false},
	}
	for _, tt := range tests {
		t.Run(tt.ssid, func(t *testing.T) {
			if got := mappable(tt.ssid); got != tt.want {
				t.Errorf("expected mappable(%q) to be %t, got %t", tt.ssid, tt.want, got)
			}
		})
	}
}

type fakeScanner struct {
	aps      []AccessPoint
	err      error
	failures int
	calls    int
}

func (f *fakeScanner) AccessPoints() ([]AccessPoint, error) {
	f.calls++
	if f.err != nil && (f.failures == 0 || f.calls <= f.failures) {
		return nil, f.err
	}
	return f.aps, nil
}

func testProvider(t *testing.T, scanner Scanner, fn func(*stdhttp.Request) (*stdhttp.Response, error)) *Provider {
	t.Helper()
	client := http.New(logger.NewLogger(slog.LevelError, io.Discard))
	client.Transport = testhelper.MockRoundTripper{Fn: fn}
	provider, err := New(client, scanner, "")
	if err != nil {
		t.Fatalf("failed to create ICHNAEA provider: %s", err)
	}
	return provider
}

func fileResponse(t *testing.T) (*stdhttp.Response, error) {
	data, err := os.ReadFile(testFile)
	if err != nil {
		t.Errorf("failed to read JSON response file: %s", err)
		return nil, err
	}
	return testhelper.Response(200, data), nil
}

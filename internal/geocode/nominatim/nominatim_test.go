// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package nominatim

import (
	"errors"
	"io"
	"log/slog"
	stdhttp "net/http"
	"os"
	"testing"

	"golang.org/x/text/language"

	"github.com/wneessen/nowcast/internal/geocode"
	"github.com/wneessen/nowcast/internal/http"
	"github.com/wneessen/nowcast/internal/logger"
	"github.com/wneessen/nowcast/internal/testhelper"
)

const (
	cityFile    = "../../../testdata/nominatim_berlin.json"
	townFile    = "../../../testdata/nominatim_otley.json"
	villageFile = "../../../testdata/nominatim_marshfield.json"
	seaFile     = "../../../testdata/nominatim_sea.json"
)

func TestNew(t *testing.T) {
	t.Run("creating a new provider succeeds", func(t *testing.T) {
		coder := testCoder(t, nil)
		if coder.Name() != name {
			t.Errorf("expected provider name to be %q, got %q", name, coder.Name())
		}
		if coder.endpoint != APIReverseEndpoint {
			t.Errorf("expected the public endpoint, got %q", coder.endpoint)
		}
	})
	t.Run("creating a provider without client fails", func(t *testing.T) {
		if _, err := New(nil, "", language.English); err == nil {
			t.Error("expected an error")
		}
	})
}

func TestNominatim_Reverse(t *testing.T) {
	tests := []struct {
		name string
		file string
		want string
	}{
		{"reverse geocoding a city succeeds", cityFile, "Berlin"},
		{"reverse geocoding with town set returns the town", townFile, "Otley"},
		{"reverse geocoding with village set returns the village", villageFile, "Marshfield"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			coder := testCoder(t, fileResponse(t, tc.file))
			place, err := coder.Reverse(t.Context(), 52.5129, 13.3910)
			if err != nil {
				t.Fatal(err)
			}
			if !place.Found {
				t.Fatal("expected place to be found")
			}
			if place.City != tc.want {
				t.Errorf("expected city %q, got %q", tc.want, place.City)
			}
		})
	}
	t.Run("the query asks for a city level result", func(t *testing.T) {
		var query string
		coder := testCoder(t, func(req *stdhttp.Request) (*stdhttp.Response, error) {
			query = req.URL.RawQuery
			return fileResponse(t, cityFile)(req)
		})
		if _, err := coder.Reverse(t.Context(), 52.5129, 13.391); err != nil {
			t.Fatal(err)
		}
		want := "accept-language=en&format=jsonv2&lat=52.512900&lon=13.391000&zoom=10"
		if query != want {
			t.Errorf("expected query %q, got %q", want, query)
		}
	})
	t.Run("coordinates without a place are not found", func(t *testing.T) {
		coder := testCoder(t, fileResponse(t, seaFile))
		place, err := coder.Reverse(t.Context(), 45, -30)
		if err != nil {
			t.Fatal(err)
		}
		if place.Found {
			t.Errorf("expected no place, got %+v", place)
		}
	})
	t.Run("transport errors are returned", func(t *testing.T) {
		coder := testCoder(t, func(*stdhttp.Request) (*stdhttp.Response, error) {
			return nil, errors.New("intentionally failing")
		})
		if _, err := coder.Reverse(t.Context(), 52.5129, 13.3910); err == nil {
			t.Error("expected an error")
		}
	})
	t.Run("reverse cached geocoding succeeds", func(t *testing.T) {
		coder := geocode.NewCachedGeocoder(testCoder(t, fileResponse(t, cityFile)), 0, 0)
		place, err := coder.Reverse(t.Context(), 52.5129, 13.3910)
		if err != nil {
			t.Fatal(err)
		}
		if place.Label() != "Berlin" {
			t.Errorf("expected Berlin, got %q", place.Label())
		}
	})
}

func TestNominatim_Reverse_integration(t *testing.T) {
	testhelper.PerformIntegrationTests(t)
	t.Run("reverse geocoding succeeds", func(t *testing.T) {
		client := http.New(logger.New(slog.LevelDebug))
		coder, err := New(client, "", language.English)
		if err != nil {
			t.Fatal(err)
		}
		place, err := coder.Reverse(t.Context(), 52.5129, 13.3910)
		if err != nil {
			t.Fatal(err)
		}
		if place.City != "Berlin" {
			t.Errorf("expected Berlin, got %q", place.City)
		}
	})
}

func fileResponse(t *testing.T, file string) func(*stdhttp.Request) (*stdhttp.Response, error) {
	return func(*stdhttp.Request) (*stdhttp.Response, error) {
		data, err := os.ReadFile(file)
		if err != nil {
			t.Fatalf("failed to read JSON response file: %s", err)
		}
		return testhelper.Response(200, data), nil
	}
}

func testCoder(t *testing.T, fn func(req *stdhttp.Request) (*stdhttp.Response, error)) *Nominatim {
	t.Helper()
	client := http.New(logger.NewLogger(slog.LevelError, io.Discard))
	if fn != nil {
		client.Transport = testhelper.MockRoundTripper{Fn: fn}
	}
	coder, err := New(client, "", language.English)
	if err != nil {
		t.Fatalf("failed to create geocoder: %s", err)
	}
	return coder
}

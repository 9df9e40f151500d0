// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package geocode

import (
	"context"
	"errors"
	"testing"
	"testing/synctest"
	"time"
)

const (
	testHitTTL  = 200 * time.Millisecond
	testMissTTL = 100 * time.Millisecond

	testLat, testLng = 52.5129, 13.3910
)

type mockGeocoder struct {
	calls int
}

func (m *mockGeocoder) Name() string { return "mock" }

func (m *mockGeocoder) Reverse(_ context.Context, lat, lng float64) (Place, error) {
	m.calls++
	if lat == 1 && lng == -1 {
		return Place{}, errors.New("lookup intentionally failed")
	}
	if lat == testLat && lng == testLng {
		return Place{Found: true, Name: "Berlin", City: "Berlin", Country: "Germany"}, nil
	}
	return Place{}, nil
}

func TestNewCachedGeocoder(t *testing.T) {
	t.Run("a new geocoder should be returned", func(t *testing.T) {
		coder := NewCachedGeocoder(&mockGeocoder{}, testHitTTL, testMissTTL)
		if coder == nil {
			t.Fatal("expected a non-nil geocoder")
		}
		if coder.Name() != "geocoder cache using mock" {
			t.Errorf("expected geocoder name to be 'geocoder cache using mock', got %q", coder.Name())
		}
	})
}

func TestCachedGeocoder_Reverse(t *testing.T) {
	t.Run("second lookup in the same cell is a cache hit", func(t *testing.T) {
		mock := &mockGeocoder{}
		coder := NewCachedGeocoder(mock, testHitTTL, testMissTTL)
		place, err := coder.Reverse(t.Context(), testLat, testLng)
		if err != nil {
			t.Fatalf("lookup failed: %s", err)
		}
		if !place.Found || place.CacheHit {
			t.Errorf("expected a fresh found place, got %+v", place)
		}
		place, err = coder.Reverse(t.Context(), testLat+0.001, testLng-0.001)
		if err != nil {
			t.Fatalf("lookup failed: %s", err)
		}
		if !place.CacheHit || place.City != "Berlin" {
			t.Errorf("expected a cached Berlin, got %+v", place)
		}
		if mock.calls != 1 {
			t.Errorf("expected 1 upstream call, got %d", mock.calls)
		}
	})
	t.Run("entries expire after their ttl", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			mock := &mockGeocoder{}
			coder := NewCachedGeocoder(mock, testHitTTL, testMissTTL)
			if _, err := coder.Reverse(t.Context(), 10, 10); err != nil {
				t.Fatalf("lookup failed: %s", err)
			}
			time.Sleep(testMissTTL + time.Millisecond)
			if _, err := coder.Reverse(t.Context(), 10, 10); err != nil {
				t.Fatalf("lookup failed: %s", err)
			}
			if _, err := coder.Reverse(t.Context(), testLat, testLng); err != nil {
				t.Fatalf("lookup failed: %s", err)
			}
			time.Sleep(testMissTTL + time.Millisecond)
			place, err := coder.Reverse(t.Context(), testLat, testLng)
			if err != nil {
				t.Fatalf("lookup failed: %s", err)
			}
			if !place.CacheHit {
				t.Error("expected a found place to outlive the miss ttl")
			}
			if mock.calls != 3 {
				t.Errorf("expected 3 upstream calls, got %d", mock.calls)
			}
		})
	})
	t.Run("errors are not cached", func(t *testing.T) {
		mock := &mockGeocoder{}
		coder := NewCachedGeocoder(mock, testHitTTL, testMissTTL)
		for range 2 {
			if _, err := coder.Reverse(t.Context(), 1, -1); err == nil {
				t.Error("expected an error")
			}
		}
		if mock.calls != 2 {
			t.Errorf("expected 2 upstream calls, got %d", mock.calls)
		}
	})
}

func TestPlace_Label(t *testing.T) {
	tests := []struct {
		name  string
		place Place
		want  string
	}{
		{"city wins", Place{Name: "n", City: "c", State: "s", Country: "x"}, "c"},
		{"state without city", Place{Name: "n", State: "s", Country: "x"}, "s"},
		{"country only", Place{Name: "n", Country: "x"}, "x"},
		{"name as fallback", Place{Name: "n"}, "n"},
		{"empty place", Place{}, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.place.Label(); got != tc.want {
				t.Errorf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package service

import (
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
)

func TestService_processSleepSignal(t *testing.T) {
	tests := []struct {
		name string
		body []interface{}
	}{
		{"going to sleep is ignored", []interface{}{true}},
		{"empty body is ignored", nil},
		{"non boolean body is ignored", []interface{}{"false"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			serv := testService(t)
			mockDiscovery(t, serv, 500, `{}`)
			var lastResume int64
			serv.processSleepSignal(t.Context(), &dbus.Signal{Body: tc.body}, &lastResume)
			if lastResume != 0 {
				t.Errorf("expected no resume to be recorded, got %d", lastResume)
			}
		})
	}
}

func TestService_handleResumeEvent(t *testing.T) {
	t.Run("resume events within the debounce window are dropped", func(t *testing.T) {
		serv := testService(t)
		mockDiscovery(t, serv, 500, `{}`)
		lastResume := time.Now().Unix()
		start := time.Now()
		serv.handleResumeEvent(t.Context(), &lastResume)
		if elapsed := time.Since(start); elapsed >= networkWakeupDelay {
			t.Errorf("expected the debounced event to return at once, took %s", elapsed)
		}
	})
}

// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package service

import (
	"fmt"

	"github.com/wneessen/nowcast/internal/geobus"
	"github.com/wneessen/nowcast/internal/geobus/provider/geoip"
	"github.com/wneessen/nowcast/internal/geobus/provider/gpsd"
	"github.com/wneessen/nowcast/internal/geobus/provider/ichnaea"
	"github.com/wneessen/nowcast/internal/http"
	"github.com/wneessen/nowcast/internal/logger"
)

// selectLiveProviders returns the providers that can locate the host right now. The location
// file is not among them; it feeds the persisted marker instead.
func (s *Service) selectLiveProviders() ([]geobus.Provider, error) {
	httpClient := http.New(s.logger)
	var provider []geobus.Provider

	if !s.config.GeoLocation.DisableGPSD {
		provider = append(provider, gpsd.NewGeolocationGPSDProvider(s.logger))
	}

	if !s.config.GeoLocation.DisableGeoIP {
		gip, err := geoip.NewGeolocationGeoIPProvider(httpClient)
		if err != nil {
			return nil, fmt.Errorf("failed to create GeoIP provider: %w", err)
		}
		provider = append(provider, gip)
	}

	if !s.config.GeoLocation.DisableICHNAEA {
		mls, err := ichnaea.NewWiFi(httpClient)
		if err != nil {
			s.logger.Debug("WiFi unavailable, ICHNAEA lookups use the IP address only", logger.Err(err))
			mls, err = ichnaea.New(httpClient, nil, ichnaea.DefaultEndpoint)
		}
		if err != nil {
			s.logger.Error("failed to create ICHNAEA provider", logger.Err(err))
		} else {
			provider = append(provider, mls)
		}
	}
	if len(provider) == 0 {
		return nil, ErrNoProviders
	}

	return provider, nil
}

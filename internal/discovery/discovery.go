// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package discovery fetches the provider's layer listing and plans which advertised frames
// still need to be loaded.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	nhttp "github.com/wneessen/nowcast/internal/http"
	"github.com/wneessen/nowcast/internal/logger"
)

const forecastType = "forecast"

var ErrCircuitOpen = errors.New("discovery endpoint unavailable, circuit breaker open")

// Layer is one frame advertised by the provider. Timestamp is in seconds.
type Layer struct {
	Name      string `json:"layername"`
	Timestamp int64  `json:"timestamp"`
	Type      string `json:"type"`
}

// Key returns the layer's cache key in milliseconds.
func (l Layer) Key() int64 {
	return l.Timestamp * 1000
}

func (l Layer) IsForecast() bool {
	return l.Type == forecastType
}

// Product is the listing of a single layer family such as the satellite or radar product.
type Product struct {
	Layers   []Layer `json:"layers"`
	Runtimes []int64 `json:"runtimes"`
}

// Infos is the decoded discovery response, keyed by product name.
type Infos map[string]Product

// Timestamps returns the cache keys of every layer advertised by the named products.
func (i Infos) Timestamps(products ...string) []int64 {
	var keys []int64
	for _, name := range products {
		for _, layer := range i[name].Layers {
			keys = append(keys, layer.Key())
		}
	}
	return keys
}

// Runtime returns the first model run advertised by product, in milliseconds.
func (i Infos) Runtime(product string) (int64, bool) {
	runtimes := i[product].Runtimes
	if len(runtimes) == 0 {
		return 0, false
	}
	return runtimes[0] * 1000, true
}

// Client fetches the discovery listing behind a circuit breaker.
type Client struct {
	http     *nhttp.Client
	logger   *logger.Logger
	endpoint string
	breaker  *gobreaker.CircuitBreaker
}

func New(client *nhttp.Client, log *logger.Logger, endpoint string) (*Client, error) {
	if client == nil {
		return nil, errors.New("http client is required")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}
	if endpoint == "" {
		return nil, errors.New("discovery endpoint is required")
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "discovery",
		MaxRequests: 1,
		Interval:    5 * time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed", "breaker", name, "from", from.String(),
				"to", to.String())
		},
	})
	return &Client{http: client, logger: log, endpoint: endpoint, breaker: breaker}, nil
}

// Fetch retrieves and decodes the current listing.
func (c *Client) Fetch(ctx context.Context) (Infos, error) {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		infos := make(Infos)
		code, err := c.http.Get(ctx, c.endpoint, &infos, nil, nil)
		if err != nil {
			return nil, err
		}
		if code != http.StatusOK {
			return nil, fmt.Errorf("%w: %d", nhttp.ErrUnexpectedStatus, code)
		}
		return infos, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %s", ErrCircuitOpen, err)
		}
		return nil, fmt.Errorf("failed to fetch discovery listing: %w", err)
	}
	infos, ok := result.(Infos)
	if !ok {
		return nil, errors.New("unexpected result type from circuit breaker")
	}
	return infos, nil
}

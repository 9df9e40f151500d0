// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package tile fetches and decodes single map tiles.
package tile

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"

	_ "golang.org/x/image/webp"
	"golang.org/x/time/rate"

	"github.com/wneessen/nowcast/internal/frame"
	"github.com/wneessen/nowcast/internal/http"
	"github.com/wneessen/nowcast/internal/logger"
)

// Fetcher loads a single frame. *Loader implements it; tests substitute their own.
type Fetcher interface {
	Load(ctx context.Context, url string) (*frame.Frame, error)
}

// Loader issues one GET per Load and decodes the body. It never retries and does not cap the
// number of requests in flight.
type Loader struct {
	http    *http.Client
	logger  *logger.Logger
	limiter *rate.Limiter
}

// New returns a Loader. A positive ratePerSecond throttles requests to that rate, zero leaves
// them unthrottled.
func New(client *http.Client, log *logger.Logger, ratePerSecond float64) (*Loader, error) {
	if client == nil {
		return nil, errors.New("http client is required")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}
	loader := &Loader{http: client, logger: log}
	if ratePerSecond > 0 {
		burst := max(1, int(ratePerSecond))
		loader.limiter = rate.NewLimiter(rate.Limit(ratePerSecond), burst)
	}
	return loader, nil
}

// Load fetches url and decodes it as JPEG, PNG or WebP.
func (l *Loader) Load(ctx context.Context, url string) (*frame.Frame, error) {
	if l.limiter != nil {
		if err := l.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	body, err := l.http.Open(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch tile: %w", err)
	}
	defer func() {
		if err := body.Close(); err != nil {
			l.logger.Debug("failed to close tile body", logger.Err(err))
		}
	}()

	img, format, err := image.Decode(body)
	if err != nil {
		return nil, fmt.Errorf("failed to decode tile: %w", err)
	}
	l.logger.Debug("tile loaded", slog.String("url", url), slog.String("format", format))
	return frame.New(img), nil
}

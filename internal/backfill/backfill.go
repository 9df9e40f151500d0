// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package backfill walks the cache backwards in 5-minute steps and loads missing frames until
// the lookback horizon is reached.
package backfill

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/wneessen/nowcast/internal/cache"
	"github.com/wneessen/nowcast/internal/frame"
	"github.com/wneessen/nowcast/internal/logger"
	"github.com/wneessen/nowcast/internal/tile"
	"github.com/wneessen/nowcast/internal/timeline"
)

const (
	DefaultLookback = 5
	MinLookback     = 1
)

var (
	ErrPassInProgress = errors.New("backfill pass already in progress")
	ErrNoAnchor       = errors.New("no cached frame to anchor the backfill pass")
	ErrPassAborted    = errors.New("backfill pass aborted")
)

// Scheduler runs backfill passes for the cloud and the rain family. At most one pass per family
// runs at any time.
type Scheduler struct {
	fetcher   tile.Fetcher
	cache     *cache.LayerCache
	bounds    *timeline.Bounds
	endpoints frame.Endpoints
	logger    *logger.Logger

	cloudLock *semaphore.Weighted
	rainLock  *semaphore.Weighted
	lookback  atomic.Int64

	mu       sync.RWMutex
	progress func(delta int)
	now      func() time.Time
}

// New returns a Scheduler with the default lookback of 5 hours.
func New(fetcher tile.Fetcher, store *cache.LayerCache, bounds *timeline.Bounds, endpoints frame.Endpoints,
	log *logger.Logger,
) (*Scheduler, error) {
	if fetcher == nil {
		return nil, errors.New("tile fetcher is required")
	}
	if store == nil {
		return nil, errors.New("layer cache is required")
	}
	if bounds == nil {
		return nil, errors.New("time bounds are required")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}

	s := &Scheduler{
		fetcher:   fetcher,
		cache:     store,
		bounds:    bounds,
		endpoints: endpoints,
		logger:    log,
		cloudLock: semaphore.NewWeighted(1),
		rainLock:  semaphore.NewWeighted(1),
		now:       time.Now,
	}
	s.lookback.Store(DefaultLookback)
	return s, nil
}

// SetLookback sets the horizon in hours. Values below one hour are raised to one hour.
func (s *Scheduler) SetLookback(hours int) {
	s.lookback.Store(int64(max(hours, MinLookback)))
}

// Lookback returns the horizon in hours.
func (s *Scheduler) Lookback() int {
	return int(s.lookback.Load())
}

// OnProgress registers fn to receive +1 when a load starts and -1 when it settles.
func (s *Scheduler) OnProgress(fn func(delta int)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress = fn
}

// Cloud extends the cloud family backwards from its oldest cached frame. It returns the number
// of frames inserted.
func (s *Scheduler) Cloud(ctx context.Context) (int, error) {
	if !s.cloudLock.TryAcquire(1) {
		return 0, ErrPassInProgress
	}
	defer s.cloudLock.Release(1)

	anchor, ok := s.cache.Oldest(frame.Cloud)
	if !ok {
		return 0, ErrNoAnchor
	}

	log := s.passLogger(frame.Cloud)
	loaded, err := s.walk(ctx, log, frame.Cloud, anchor, func(ts int64) string {
		return s.endpoints.CloudURL(frame.CloudFormat(frame.FromMillis(ts)))
	})
	s.finish(log, loaded, err)
	return loaded, err
}

// Rain extends the rain family backwards. runtime is the model run in milliseconds used to
// address forecast frames; zero means no run is known.
//
// While no live rain frame is cached, the pass first walks back from the oldest forecast frame
// with forecast addressing. A failure there only ends that phase. The pass then walks back
// with live radar addressing from the oldest rain frame, the oldest forecast frame or the
// current 5-minute slot, in that order of preference.
func (s *Scheduler) Rain(ctx context.Context, runtime int64) (int, error) {
	if !s.rainLock.TryAcquire(1) {
		return 0, ErrPassInProgress
	}
	defer s.rainLock.Release(1)

	log := s.passLogger(frame.Rain)
	total := 0
	if s.cache.Len(frame.Rain) == 0 && runtime > 0 {
		if oldest, ok := s.cache.Oldest(frame.Forecast); ok {
			run := frame.FromMillis(runtime)
			loaded, err := s.walk(ctx, log, frame.Rain, oldest, func(ts int64) string {
				return s.endpoints.URL(frame.Forecast, frame.FromMillis(ts), run)
			})
			total += loaded
			if err != nil {
				if ctx.Err() != nil {
					s.finish(log, total, err)
					return total, err
				}
				log.Debug("forecast rewind ended", logger.Err(err), slog.Int("loaded", loaded))
			}
		}
	}

	anchor, ok := s.cache.Oldest(frame.Rain)
	if !ok {
		anchor, ok = s.cache.Oldest(frame.Forecast)
	}
	if !ok {
		anchor = frame.Millis(frame.RoundDown(s.now()))
	}
	loaded, err := s.walk(ctx, log, frame.Rain, anchor, func(ts int64) string {
		return s.endpoints.RainURL(frame.RainFormat(frame.FromMillis(ts)))
	})
	total += loaded
	s.finish(log, total, err)
	return total, err
}

// walk loads the missing frames of family at anchor-5m, anchor-10m, ... down to and including
// the horizon. Frames are requested one at a time in decreasing order and the first failure
// ends the walk.
func (s *Scheduler) walk(ctx context.Context, log *slog.Logger, family frame.Family, anchor int64,
	url func(ts int64) string,
) (int, error) {
	step := frame.Step.Milliseconds()
	horizon := frame.Millis(s.now()) - (time.Duration(s.Lookback()) * time.Hour).Milliseconds()

	loaded := 0
	for candidate := anchor - step; candidate >= horizon; candidate -= step {
		if err := ctx.Err(); err != nil {
			return loaded, err
		}
		if s.cache.Has(family, candidate) {
			continue
		}

		s.report(1)
		f, err := s.fetcher.Load(ctx, url(candidate))
		s.report(-1)
		if err != nil {
			return loaded, fmt.Errorf("%w at %s: %w", ErrPassAborted,
				frame.FromMillis(candidate).Format(time.RFC3339), err)
		}
		if s.cache.Put(family, candidate, f) {
			loaded++
		}
		s.bounds.ExtendMin(candidate)
		log.Debug("frame backfilled", slog.Int64("key", candidate))
	}
	return loaded, nil
}

func (s *Scheduler) passLogger(family frame.Family) *slog.Logger {
	return s.logger.With(slog.String("pass", uuid.NewString()), slog.String("family", family.String()),
		slog.Int("lookback_hours", s.Lookback()))
}

func (s *Scheduler) finish(log *slog.Logger, loaded int, err error) {
	if err != nil {
		log.Debug("backfill pass ended early", slog.Int("loaded", loaded), logger.Err(err))
		return
	}
	log.Debug("backfill pass completed", slog.Int("loaded", loaded))
}

func (s *Scheduler) report(delta int) {
	s.mu.RLock()
	fn := s.progress
	s.mu.RUnlock()
	if fn != nil {
		fn(delta)
	}
}

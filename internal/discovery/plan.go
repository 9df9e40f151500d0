// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package discovery

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/wneessen/nowcast/internal/cache"
	"github.com/wneessen/nowcast/internal/frame"
	"github.com/wneessen/nowcast/internal/logger"
	"github.com/wneessen/nowcast/internal/tile"
)

// DefaultBatchSize is the number of seed loads issued concurrently.
const DefaultBatchSize = 5

// Load is a single planned seed load.
type Load struct {
	Family frame.Family
	Key    int64
	URL    string
}

// Plan lists the advertised frames that are not cached yet. Cloud layers come from the
// endpoints' cloud product, radar layers from the rain product where forecast layers are
// assigned to the forecast family. With a cursor, loads are ordered by proximity to it.
func Plan(infos Infos, endpoints frame.Endpoints, store *cache.LayerCache, cursor int64, hasCursor bool) []Load {
	var loads []Load
	for _, layer := range infos[endpoints.CloudLayer].Layers {
		if store.Has(frame.Cloud, layer.Key()) {
			continue
		}
		loads = append(loads, Load{Family: frame.Cloud, Key: layer.Key(), URL: endpoints.CloudURL(layer.Name)})
	}
	for _, layer := range infos[endpoints.RainLayer].Layers {
		family := frame.Rain
		if layer.IsForecast() {
			family = frame.Forecast
		}
		if store.Has(family, layer.Key()) {
			continue
		}
		loads = append(loads, Load{Family: family, Key: layer.Key(), URL: endpoints.RainURL(layer.Name)})
	}

	if hasCursor {
		slices.SortStableFunc(loads, func(a, b Load) int {
			da, db := distance(a.Key, cursor), distance(b.Key, cursor)
			switch {
			case da < db:
				return -1
			case da > db:
				return 1
			default:
				return 0
			}
		})
	}
	return loads
}

// Seeder loads planned frames in sequential batches.
type Seeder struct {
	Fetcher   tile.Fetcher
	Cache     *cache.LayerCache
	Logger    *logger.Logger
	BatchSize int
	// OnLoaded is called after every inserted frame.
	OnLoaded func(Load)
	// Progress receives +n before loads start and -1 as each one settles.
	Progress func(delta int)
}

// Seed loads every entry of loads. Each batch is awaited before the next one starts. Failed
// loads are skipped. It returns the number of frames inserted.
func (s *Seeder) Seed(ctx context.Context, loads []Load) int {
	size := s.BatchSize
	if size <= 0 {
		size = DefaultBatchSize
	}
	s.progress(len(loads))

	var mu sync.Mutex
	inserted := 0
	for start := 0; start < len(loads); start += size {
		if ctx.Err() != nil {
			s.progress(start - len(loads))
			break
		}

		group, gctx := errgroup.WithContext(ctx)
		for _, load := range loads[start:min(start+size, len(loads))] {
			group.Go(func() error {
				defer s.progress(-1)
				f, err := s.Fetcher.Load(gctx, load.URL)
				if err != nil {
					s.Logger.Debug("seed load failed", slog.String("family", load.Family.String()),
						slog.Int64("key", load.Key), logger.Err(err))
					return nil
				}
				if s.Cache.Put(load.Family, load.Key, f) {
					mu.Lock()
					inserted++
					mu.Unlock()
					if s.OnLoaded != nil {
						s.OnLoaded(load)
					}
				}
				return nil
			})
		}
		_ = group.Wait()
	}
	return inserted
}

func (s *Seeder) progress(delta int) {
	if s.Progress != nil && delta != 0 {
		s.Progress(delta)
	}
}

func distance(a, b int64) int64 {
	if a > b {
		return a - b
	}
	return b - a
}

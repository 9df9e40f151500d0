// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package service

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/vorlif/spreak"
	"golang.org/x/sync/errgroup"

	"github.com/wneessen/nowcast/internal/backfill"
	"github.com/wneessen/nowcast/internal/cache"
	"github.com/wneessen/nowcast/internal/config"
	"github.com/wneessen/nowcast/internal/discovery"
	"github.com/wneessen/nowcast/internal/frame"
	"github.com/wneessen/nowcast/internal/geobus"
	"github.com/wneessen/nowcast/internal/geobus/provider/geolocation_file"
	"github.com/wneessen/nowcast/internal/geocode"
	"github.com/wneessen/nowcast/internal/geocode/nominatim"
	"github.com/wneessen/nowcast/internal/http"
	"github.com/wneessen/nowcast/internal/i18n"
	"github.com/wneessen/nowcast/internal/logger"
	"github.com/wneessen/nowcast/internal/presenter"
	"github.com/wneessen/nowcast/internal/render"
	"github.com/wneessen/nowcast/internal/tile"
	"github.com/wneessen/nowcast/internal/timeline"
)

const (
	discoveryJobName = "layer_discovery_job"
	opacityStep      = 10
	opacityCycle     = 110
	// placeMissTTL is how long coordinates without a place name are not looked up again.
	placeMissTTL = time.Hour
)

var ErrNoProviders = errors.New("no live geolocation providers enabled")

// Service wires the layer cache, discovery, backfill and geolocation together. It is shared by
// the terminal viewer, the preview server and the exporter.
type Service struct {
	config    *config.Config
	logger    *logger.Logger
	t         *spreak.Localizer
	presenter *presenter.Presenter
	scheduler gocron.Scheduler
	geobus    *geobus.GeoBus
	SignalSrc signalSource

	endpoints frame.Endpoints
	discovery *discovery.Client
	fetcher   tile.Fetcher
	seeder    *discovery.Seeder
	backfill  *backfill.Scheduler
	renderer  *render.Renderer

	cache  *cache.LayerCache
	bounds *timeline.Bounds
	cursor *timeline.Cursor

	loading     atomic.Int64
	interpolate atomic.Bool
	rainOpacity atomic.Int64

	infoLock sync.RWMutex
	infos    discovery.Infos

	markerLock sync.RWMutex
	markers    []render.Marker
	location   *render.Marker
	persisted  *render.Marker

	geocoder  geocode.Geocoder
	placeLock sync.RWMutex
	place     string

	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	trackOnce  sync.Once
	liveTracks bool
	providers  func() ([]geobus.Provider, error)
}

// New returns a Service for the given configuration. Nothing is fetched until Start or Prime
// is called.
func New(conf *config.Config, log *logger.Logger) (*Service, error) {
	if conf == nil {
		return nil, errors.New("config is required")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	localizer, err := i18n.New(conf.Locale)
	if err != nil {
		return nil, fmt.Errorf("failed to create localizer: %w", err)
	}
	pres, err := presenter.New(conf, localizer)
	if err != nil {
		return nil, fmt.Errorf("failed to create presenter: %w", err)
	}

	endpoints := frame.Endpoints{
		BaseURL:    conf.API.BaseURL,
		CloudLayer: conf.API.CloudLayer,
		RainLayer:  conf.API.RainLayer,
		TilePath:   conf.API.TilePath,
		CloudQuery: conf.API.CloudQuery,
		RainQuery:  conf.API.RainQuery,
	}
	httpClient := http.New(log)
	disc, err := discovery.New(httpClient, log, endpoints.Discovery())
	if err != nil {
		return nil, fmt.Errorf("failed to create discovery client: %w", err)
	}
	// Tile requests are bounded by their context only.
	loader, err := tile.New(http.NewWithTimeout(log, 0), log, conf.API.RateLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to create tile loader: %w", err)
	}

	b := conf.Display.Bounds
	renderer, err := render.New(render.Box{West: b.West, South: b.South, East: b.East, North: b.North})
	if err != nil {
		return nil, fmt.Errorf("failed to create renderer: %w", err)
	}

	service := &Service{
		config:    conf,
		logger:    log,
		t:         localizer,
		presenter: pres,
		scheduler: scheduler,
		geobus:    geobus.New(log),
		SignalSrc: stdLibSignalSource{},
		endpoints: endpoints,
		discovery: disc,
		renderer:  renderer,
		cache:     cache.New(),
		bounds:    new(timeline.Bounds),
		cursor:    new(timeline.Cursor),
	}
	service.providers = service.selectLiveProviders
	if !conf.Geocoding.Disable {
		coder, err := nominatim.New(httpClient, conf.Geocoding.Endpoint, localizer.Language())
		if err != nil {
			return nil, fmt.Errorf("failed to create geocoder: %w", err)
		}
		service.geocoder = geocode.NewCachedGeocoder(coder, conf.Geocoding.CacheTTL, placeMissTTL)
	}
	if err = service.useFetcher(loader); err != nil {
		return nil, err
	}

	for _, m := range conf.Display.Markers {
		lat, lng, err := config.ParseMarker(m)
		if err != nil {
			return nil, err
		}
		service.markers = append(service.markers, render.Marker{Lat: lat, Lng: lng})
	}

	service.interpolate.Store(!conf.Display.DisableInterpolation)
	service.rainOpacity.Store(int64(conf.InitialRainOpacity()))
	// The cursor runs free at the current time until the first discovery bounds it.
	service.cursor.Set(frame.Millis(time.Now()))
	service.ctx, service.cancel = context.WithCancel(context.Background())

	return service, nil
}

// useFetcher (re)builds the components that load tiles.
func (s *Service) useFetcher(fetcher tile.Fetcher) error {
	scheduler, err := backfill.New(fetcher, s.cache, s.bounds, s.endpoints, s.logger)
	if err != nil {
		return fmt.Errorf("failed to create backfill scheduler: %w", err)
	}
	scheduler.SetLookback(s.config.Backfill.LookbackHours)
	scheduler.OnProgress(s.progress)

	s.fetcher = fetcher
	s.backfill = scheduler
	s.seeder = &discovery.Seeder{
		Fetcher:   fetcher,
		Cache:     s.cache,
		Logger:    s.logger,
		BatchSize: s.config.Backfill.BatchSize,
		OnLoaded:  s.seeded,
		Progress:  s.progress,
	}
	return nil
}

// Start schedules the periodic discovery, starts following the persisted location and the
// sleep/resume monitor. It returns immediately; Close stops everything again.
func (s *Service) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.ctx, s.cancel = ctx, cancel

	_, err := s.scheduler.NewJob(
		gocron.DurationJob(s.config.Intervals.Discovery),
		gocron.NewTask(s.refreshTask),
		gocron.WithContext(ctx),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithName(discoveryJobName),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to create %s: %w", discoveryJobName, err)
	}
	s.scheduler.Start()

	sub, unsub := s.geobus.SubscribeAll(32)
	s.goBackground(func() {
		s.processLocationUpdates(ctx, sub)
	})
	context.AfterFunc(ctx, unsub)

	if !s.config.GeoLocation.DisableGeolocationFile {
		orchestrator := s.geobus.NewOrchestrator([]geobus.Provider{
			geolocation_file.NewGeolocationFileProvider(s.config.GeoLocation.File),
		})
		s.goBackground(func() {
			orchestrator.Track(ctx, geobus.KeyPersisted)
		})
	}
	s.goBackground(func() {
		s.monitorSleepResume(ctx)
	})
	s.goBackground(func() {
		s.resolvePlace(ctx)
	})
	return nil
}

// Close stops the scheduler and all background work.
func (s *Service) Close() error {
	s.cancel()
	err := s.scheduler.Shutdown()
	s.wg.Wait()
	return err
}

func (s *Service) goBackground(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

func (s *Service) refreshTask(ctx context.Context) {
	if err := s.Refresh(ctx); err != nil {
		s.logger.Error("layer discovery failed, retrying at the next interval", logger.Err(err))
	}
}

// Refresh runs one discovery cycle: it fetches the layer listing, recomputes the time bounds,
// seeds the missing advertised frames and then fires both backfill passes in the background.
func (s *Service) Refresh(ctx context.Context) error {
	infos, err := s.discover(ctx)
	if err != nil {
		return err
	}
	runtime, _ := infos.Runtime(s.endpoints.RainLayer)
	s.goBackground(func() { s.runBackfill(s.ctx, s.backfill.Cloud) })
	s.goBackground(func() {
		s.runBackfill(s.ctx, func(ctx context.Context) (int, error) {
			return s.backfill.Rain(ctx, runtime)
		})
	})
	return nil
}

// Prime runs one discovery cycle and both backfill passes to completion.
func (s *Service) Prime(ctx context.Context) error {
	infos, err := s.discover(ctx)
	if err != nil {
		return err
	}
	runtime, _ := infos.Runtime(s.endpoints.RainLayer)

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		_, err := s.backfill.Cloud(gctx)
		return s.passResult(err)
	})
	group.Go(func() error {
		_, err := s.backfill.Rain(gctx, runtime)
		return s.passResult(err)
	})
	return group.Wait()
}

func (s *Service) discover(ctx context.Context) (discovery.Infos, error) {
	infos, err := s.discovery.Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to discover layers: %w", err)
	}
	s.infoLock.Lock()
	s.infos = infos
	s.infoLock.Unlock()

	if retention := s.config.Cache.Retention; retention > 0 {
		if pruned := s.cache.Prune(frame.Millis(time.Now().Add(-retention))); pruned > 0 {
			s.logger.Debug("pruned expired frames", slog.Int("frames", pruned))
		}
	}

	keys := infos.Timestamps(s.endpoints.CloudLayer, s.endpoints.RainLayer)
	keys = append(keys, s.cache.AllKeys()...)
	s.bounds.Recompute(keys...)
	s.cursor.ClampTo(s.bounds)

	cursor, hasCursor := s.cursor.Get()
	loads := discovery.Plan(infos, s.endpoints, s.cache, cursor, hasCursor)
	inserted := s.seeder.Seed(ctx, loads)
	s.logger.Debug("discovery cycle completed", slog.Int("planned", len(loads)),
		slog.Int("inserted", inserted))
	return infos, ctx.Err()
}

func (s *Service) runBackfill(ctx context.Context, pass func(context.Context) (int, error)) {
	_, err := pass(ctx)
	_ = s.passResult(err)
}

// passResult logs an aborted pass and returns only errors that end the caller's work.
func (s *Service) passResult(err error) error {
	switch {
	case err == nil, errors.Is(err, backfill.ErrPassInProgress), errors.Is(err, backfill.ErrNoAnchor):
		return nil
	case errors.Is(err, backfill.ErrPassAborted):
		s.logger.Warn("backfill pass ended early", logger.Err(err))
		return nil
	}
	return err
}

// seeded snaps the cursor onto freshly loaded cloud frames.
func (s *Service) seeded(load discovery.Load) {
	if load.Family == frame.Cloud {
		s.cursor.Snap(load.Key, frame.Step)
	}
}

func (s *Service) progress(delta int) {
	s.loading.Add(int64(delta))
}

// Loading returns the number of tile loads in flight.
func (s *Service) Loading() int {
	return int(max(s.loading.Load(), 0))
}

func (s *Service) Interpolate() bool {
	return s.interpolate.Load()
}

// ToggleInterpolation switches between cross-fading and stepping and returns the new state.
func (s *Service) ToggleInterpolation() bool {
	for {
		old := s.interpolate.Load()
		if s.interpolate.CompareAndSwap(old, !old) {
			return !old
		}
	}
}

func (s *Service) RainOpacity() int {
	return int(s.rainOpacity.Load())
}

// CycleRainOpacity advances the rain opacity by ten percent, wrapping from 100 to 0.
func (s *Service) CycleRainOpacity() int {
	for {
		old := s.rainOpacity.Load()
		next := (old + opacityStep) % opacityCycle
		if s.rainOpacity.CompareAndSwap(old, next) {
			return int(next)
		}
	}
}

func (s *Service) Lookback() int {
	return s.backfill.Lookback()
}

// AdjustLookback changes the backfill horizon by delta hours and starts both passes so a larger
// horizon is filled right away. It returns the new horizon.
func (s *Service) AdjustLookback(delta int) int {
	s.backfill.SetLookback(s.backfill.Lookback() + delta)
	hours := s.backfill.Lookback()

	s.infoLock.RLock()
	runtime, _ := s.infos.Runtime(s.endpoints.RainLayer)
	s.infoLock.RUnlock()
	s.goBackground(func() { s.runBackfill(s.ctx, s.backfill.Cloud) })
	s.goBackground(func() {
		s.runBackfill(s.ctx, func(ctx context.Context) (int, error) {
			return s.backfill.Rain(ctx, runtime)
		})
	})
	return hours
}

func (s *Service) Cursor() *timeline.Cursor {
	return s.cursor
}

func (s *Service) Bounds() *timeline.Bounds {
	return s.bounds
}

func (s *Service) Cache() *cache.LayerCache {
	return s.cache
}

func (s *Service) Renderer() *render.Renderer {
	return s.renderer
}

func (s *Service) Presenter() *presenter.Presenter {
	return s.presenter
}

// Markers returns the configured markers followed by the located and the persisted position.
func (s *Service) Markers() []render.Marker {
	s.markerLock.RLock()
	defer s.markerLock.RUnlock()
	markers := make([]render.Marker, 0, len(s.markers)+2)
	markers = append(markers, s.markers...)
	if s.location != nil {
		markers = append(markers, *s.location)
	}
	if s.persisted != nil && !s.duplicatesLocation(*s.persisted) {
		markers = append(markers, *s.persisted)
	}
	return markers
}

// duplicatesLocation reports whether m sits on top of the live location marker.
func (s *Service) duplicatesLocation(m render.Marker) bool {
	if s.location == nil {
		return false
	}
	live := geobus.Coordinate{Lat: s.location.Lat, Lon: s.location.Lng}
	return live.Near(geobus.Coordinate{Lat: m.Lat, Lon: m.Lng})
}

// Scene returns the scene at the cursor for the given view.
func (s *Service) Scene(view render.View) render.Scene {
	t, _ := s.cursor.Get()
	return s.SceneAt(t, view)
}

// SceneAt returns the scene at t for the given view.
func (s *Service) SceneAt(t int64, view render.View) render.Scene {
	return render.Scene{
		Cache:       s.cache,
		Time:        t,
		View:        view,
		Interpolate: s.Interpolate(),
		RainOpacity: s.RainOpacity(),
		Markers:     s.Markers(),
	}
}

// RenderAt paints the scene at t onto a new width×height canvas fitted to the box. It returns
// false while too few frames are cached.
func (s *Service) RenderAt(t int64, width, height int) (*image.RGBA, bool) {
	return s.renderer.Render(width, height, s.SceneAt(t, render.FitView(height)))
}

// Status collects the values shown in the status line.
func (s *Service) Status(panMode bool) presenter.Status {
	t, ok := s.cursor.Get()
	status := presenter.Status{
		HasTime:     ok,
		Loading:     s.Loading(),
		Interpolate: s.Interpolate(),
		RainOpacity: s.RainOpacity(),
		Lookback:    s.Lookback(),
		PanMode:     panMode,
		Place:       s.Place(),
	}
	if ok {
		status.Time = frame.FromMillis(t)
	}
	if markers := s.Markers(); len(markers) > 0 {
		status.SkyIcon, status.MoonPhase = s.presenter.Sky(markers[0].Lat, markers[0].Lng, time.Now())
	}
	return status
}

// State is a point-in-time summary of the viewer state.
type State struct {
	Bounds      timeline.Range
	BoundsKnown bool
	Cursor      int64
	CursorSet   bool
	Frames      map[string]int
	Loading     int
	Interpolate bool
	RainOpacity int
	Lookback    int
	Markers     []render.Marker
	Place       string
}

func (s *Service) State() State {
	state := State{
		Frames:      make(map[string]int, len(frame.Families)),
		Loading:     s.Loading(),
		Interpolate: s.Interpolate(),
		RainOpacity: s.RainOpacity(),
		Lookback:    s.Lookback(),
		Markers:     s.Markers(),
		Place:       s.Place(),
	}
	state.Bounds, state.BoundsKnown = s.bounds.Get()
	state.Cursor, state.CursorSet = s.cursor.Get()
	for _, family := range frame.Families {
		state.Frames[family.String()] = s.cache.Len(family)
	}
	return state
}

// Locate asks the live geolocation providers for the current position and waits up to the
// configured timeout. A found position becomes a marker and is persisted for the next session.
func (s *Service) Locate(ctx context.Context) (render.Marker, error) {
	var startErr error
	s.trackOnce.Do(func() {
		providers, err := s.providers()
		if err != nil {
			startErr = err
			return
		}
		s.liveTracks = true
		orchestrator := s.geobus.NewOrchestrator(providers)
		s.goBackground(func() {
			orchestrator.Track(s.ctx, geobus.KeyLocation)
		})
	})
	if startErr != nil {
		return render.Marker{}, startErr
	}
	if !s.liveTracks {
		return render.Marker{}, ErrNoProviders
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.GeoLocation.LocateTimeout)
	defer cancel()
	result, err := s.geobus.Await(ctx, geobus.KeyLocation)
	if err != nil {
		return render.Marker{}, fmt.Errorf("failed to locate: %w", err)
	}

	marker := render.Marker{Lat: result.Lat, Lng: result.Lon}
	s.setLocation(marker)
	s.goBackground(func() {
		s.resolvePlace(s.ctx)
	})
	if err = geolocation_file.Save(s.config.GeoLocation.File, result.Lat, result.Lon); err != nil {
		s.logger.Error("failed to persist location", logger.Err(err))
	}
	s.logger.Info("location acquired", slog.Float64("lat", result.Lat), slog.Float64("lon", result.Lon),
		slog.String("source", result.Source))
	return marker, nil
}

func (s *Service) setLocation(m render.Marker) {
	s.markerLock.Lock()
	defer s.markerLock.Unlock()
	s.location = &m
}

func (s *Service) processLocationUpdates(ctx context.Context, sub <-chan geobus.Result) {
	for {
		select {
		case <-ctx.Done():
			return
		case r, ok := <-sub:
			if !ok {
				return
			}
			s.logger.Debug("received geolocation update", slog.String("key", r.Key),
				slog.Float64("lat", r.Lat), slog.Float64("lon", r.Lon), slog.String("source", r.Source))
			switch r.Key {
			case geobus.KeyLocation:
				s.setLocation(render.Marker{Lat: r.Lat, Lng: r.Lon})
			case geobus.KeyPersisted:
				s.markerLock.Lock()
				s.persisted = &render.Marker{Lat: r.Lat, Lng: r.Lon, Persisted: true}
				s.markerLock.Unlock()
			}
			s.resolvePlace(ctx)
		}
	}
}

// resolvePlace looks up the name of the place under the primary marker.
func (s *Service) resolvePlace(ctx context.Context) {
	markers := s.Markers()
	if s.geocoder == nil || len(markers) == 0 {
		return
	}
	place, err := s.geocoder.Reverse(ctx, markers[0].Lat, markers[0].Lng)
	if err != nil {
		s.logger.Debug("failed to resolve place name", logger.Err(err))
		return
	}
	s.placeLock.Lock()
	s.place = place.Label()
	s.placeLock.Unlock()
}

// Place returns the name of the place under the primary marker, if known.
func (s *Service) Place() string {
	s.placeLock.RLock()
	defer s.placeLock.RUnlock()
	return s.place
}

// WriteSnapshot renders the composite at the cursor to the configured snapshot file.
func (s *Service) WriteSnapshot(context.Context) {
	path := s.config.Preview.SnapshotFile
	if path == "" {
		return
	}
	t, ok := s.cursor.Get()
	if !ok {
		return
	}
	img, ok := s.RenderAt(t, s.config.Export.Width, s.config.Export.Height)
	if !ok {
		s.logger.Debug("not enough frames for a snapshot yet")
		return
	}
	if err := writePNG(path, img); err != nil {
		s.logger.Error("failed to write snapshot", logger.Err(err), slog.String("file", path))
	}
}

func writePNG(path string, img image.Image) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".snapshot-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary snapshot file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if err = png.Encode(tmp, img); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to close snapshot file: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}

// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/kkyr/fig"
)

const (
	configEnv = "NOWCAST"

	DefaultBaseURL   = "https://imn-api.meteoplaza.com/v4/nowcast/tiles/"
	DefaultStatusTpl = "{{.SkyIcon}} {{if .Place}}{{.Place}} {{end}}{{if .HasTime}}{{timeFormat .Time \"2006-01-02 15:04\"}} ({{relTime .Time}}){{else}}{{loc \"waiting\"}}{{end}}" +
		" | {{if .Interpolate}}I{{else}}P{{end}} R:{{.RainOpacity}}% «{{.Lookback}}h" +
		"{{if .PanMode}} | {{loc \"pan\"}}{{end}}{{if .Loading}} | {{.Loading}}…{{end}}"
)

var ErrInvalidMarker = errors.New("invalid marker, expected \"lat,lng\"")

// Config represents the application's configuration structure.
type Config struct {
	Locale   string     `fig:"locale"`
	LogLevel slog.Level `fig:"loglevel" default:"0"`

	API struct {
		BaseURL    string `fig:"base_url" default:"https://imn-api.meteoplaza.com/v4/nowcast/tiles/"`
		CloudLayer string `fig:"cloud_layer" default:"satellite-europe"`
		RainLayer  string `fig:"rain_layer" default:"radar-world"`
		TilePath   string `fig:"tile_path" default:"7/41/59/50/70"`
		CloudQuery string `fig:"cloud_query" default:"outputtype=jpeg"`
		RainQuery  string `fig:"rain_query" default:"outputtype=image&unit=mm/hr"`
		// Requests per second for tile loads, 0 disables the limit
		RateLimit float64 `fig:"rate_limit"`
	} `fig:"api"`

	Intervals struct {
		Discovery time.Duration `fig:"discovery" default:"30s"`
		Snapshot  time.Duration `fig:"snapshot" default:"1m"`
	} `fig:"intervals"`

	Backfill struct {
		// Allowed value: 1 or more
		LookbackHours int `fig:"lookback_hours" default:"5"`
		BatchSize     int `fig:"batch_size" default:"5"`
	} `fig:"backfill"`

	Cache struct {
		// Frames older than now minus retention are dropped on discovery, 0 keeps everything
		Retention time.Duration `fig:"retention"`
	} `fig:"cache"`

	Display struct {
		DisableInterpolation bool `fig:"disable_interpolation"`

		// Allowed values: 0 to 100 in steps of 10, use hide_rain to start with the rain layer off
		RainOpacity int      `fig:"rain_opacity" default:"50"`
		HideRain    bool     `fig:"hide_rain"`
		PanMode     bool     `fig:"pan_mode"`
		FPS         int      `fig:"fps" default:"30"`
		Damping     float64  `fig:"damping" default:"0.9"`
		Markers     []string `fig:"markers"`

		// Status line template, see presenter.Status for the available fields
		StatusTemplate string `fig:"status_template"`

		Bounds struct {
			West  float64 `fig:"west" default:"-15"`
			South float64 `fig:"south" default:"35"`
			East  float64 `fig:"east" default:"35"`
			North float64 `fig:"north" default:"65"`
		} `fig:"bounds"`
	} `fig:"display"`

	GeoLocation struct {
		File                   string        `fig:"file"`
		DisableGeoIP           bool          `fig:"disable_geoip"`
		DisableGeolocationFile bool          `fig:"disable_geolocation_file"`
		DisableICHNAEA         bool          `fig:"disable_ichnaea"`
		DisableGPSD            bool          `fig:"disable_gpsd"`
		LocateTimeout          time.Duration `fig:"locate_timeout" default:"15s"`
	} `fig:"geolocation"`

	Geocoding struct {
		Disable  bool          `fig:"disable"`
		Endpoint string        `fig:"endpoint" default:"https://nominatim.openstreetmap.org/reverse"`
		CacheTTL time.Duration `fig:"cache_ttl" default:"24h"`
	} `fig:"geocoding"`

	Preview struct {
		Listen       string `fig:"listen" default:"127.0.0.1:8089"`
		SnapshotFile string `fig:"snapshot_file"`
	} `fig:"preview"`

	Export struct {
		Step    time.Duration `fig:"step" default:"5m"`
		FPS     int           `fig:"fps" default:"10"`
		Width   int           `fig:"width" default:"800"`
		Height  int           `fig:"height" default:"600"`
		Quality int           `fig:"quality" default:"85"`
	} `fig:"export"`
}

func NewFromFile(path, file string) (*Config, error) {
	conf := new(Config)
	_, err := os.Stat(filepath.Join(path, file))
	if err != nil {
		return conf, fmt.Errorf("failed to read Config: %w", err)
	}
	if err = fig.Load(conf, fig.Dirs(path), fig.File(file), fig.UseEnv(configEnv)); err != nil {
		return conf, fmt.Errorf("failed to load Config: %w", err)
	}

	return conf, conf.Validate()
}

func New() (*Config, error) {
	conf := new(Config)
	if err := fig.Load(conf, fig.AllowNoFile(), fig.UseEnv(configEnv)); err != nil {
		return conf, fmt.Errorf("failed to load Config: %w", err)
	}

	return conf, conf.Validate()
}

func (c *Config) Validate() error {
	if c.Locale == "" {
		c.Locale = getLocale()
	}
	if c.API.BaseURL == "" || c.API.CloudLayer == "" || c.API.RainLayer == "" {
		return errors.New("api base_url, cloud_layer and rain_layer must not be empty")
	}
	if c.API.RateLimit < 0 {
		return fmt.Errorf("invalid rate limit: %f", c.API.RateLimit)
	}
	if c.Intervals.Discovery < time.Second {
		return fmt.Errorf("invalid discovery interval: %s", c.Intervals.Discovery)
	}
	if c.Backfill.LookbackHours < 1 {
		return fmt.Errorf("invalid lookback hours: %d", c.Backfill.LookbackHours)
	}
	if c.Backfill.BatchSize < 1 {
		return fmt.Errorf("invalid batch size: %d", c.Backfill.BatchSize)
	}
	if c.Cache.Retention < 0 {
		return fmt.Errorf("invalid cache retention: %s", c.Cache.Retention)
	}
	if c.Display.RainOpacity < 0 || c.Display.RainOpacity > 100 || c.Display.RainOpacity%10 != 0 {
		return fmt.Errorf("invalid rain opacity: %d", c.Display.RainOpacity)
	}
	if c.Display.FPS < 1 || c.Display.FPS > 120 {
		return fmt.Errorf("invalid fps: %d", c.Display.FPS)
	}
	if c.Display.Damping <= 0 || c.Display.Damping >= 1 {
		return fmt.Errorf("invalid damping: %f", c.Display.Damping)
	}
	b := c.Display.Bounds
	if b.West >= b.East || b.South >= b.North || b.South <= -85 || b.North >= 85 {
		return fmt.Errorf("invalid display bounds: %+v", b)
	}
	if c.Display.StatusTemplate == "" {
		c.Display.StatusTemplate = DefaultStatusTpl
	}
	for _, m := range c.Display.Markers {
		if _, _, err := ParseMarker(m); err != nil {
			return err
		}
	}
	if c.GeoLocation.File == "" {
		home, _ := os.UserHomeDir()
		c.GeoLocation.File = filepath.Join(home, ".config", "nowcast", "location.json")
	}
	if c.Export.Step <= 0 || c.Export.FPS < 1 || c.Export.Width < 1 || c.Export.Height < 1 {
		return errors.New("invalid export settings")
	}
	if c.Export.Quality < 1 || c.Export.Quality > 100 {
		return fmt.Errorf("invalid export quality: %d", c.Export.Quality)
	}

	return nil
}

// InitialRainOpacity returns the rain opacity the viewer starts with.
func (c *Config) InitialRainOpacity() int {
	if c.Display.HideRain {
		return 0
	}
	return c.Display.RainOpacity
}

// ParseMarker parses a "lat,lng" pair.
func ParseMarker(value string) (float64, float64, error) {
	latStr, lngStr, ok := strings.Cut(value, ",")
	if !ok {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidMarker, value)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(latStr), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidMarker, value)
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(lngStr), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidMarker, value)
	}
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return 0, 0, fmt.Errorf("%w: %q out of range", ErrInvalidMarker, value)
	}
	return lat, lng, nil
}

func getLocale() string {
	locale := os.Getenv("LC_MESSAGES")
	if idx := strings.Index(locale, "."); idx != -1 {
		lang := locale[:idx]
		return strings.ReplaceAll(lang, "_", "-")
	}
	return locale
}

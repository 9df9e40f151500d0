// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package preview serves the viewer state and rendered frames over HTTP.
package preview

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/png"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/wneessen/nowcast/internal/frame"
	"github.com/wneessen/nowcast/internal/logger"
	"github.com/wneessen/nowcast/internal/render"
	"github.com/wneessen/nowcast/internal/service"
)

const (
	appName         = "nowcast"
	shutdownTimeout = 10 * time.Second
)

var validate = validator.New()

// Source is the part of the service the preview API reads from.
type Source interface {
	State() service.State
	SceneAt(t int64, view render.View) render.Scene
	Renderer() *render.Renderer
}

// Server is the preview HTTP API.
type Server struct {
	app    *fiber.App
	source Source
	logger *logger.Logger
	width  int
	height int
}

// New returns a Server rendering frames at width×height unless a request asks otherwise.
func New(source Source, log *logger.Logger, width, height int) (*Server, error) {
	if source == nil {
		return nil, errors.New("preview source is required")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}

	server := &Server{source: source, logger: log, width: width, height: height}
	server.app = fiber.New(fiber.Config{
		AppName:               appName,
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          30 * time.Second,
		ErrorHandler:          server.handleError,
	})
	server.app.Use(recover.New())

	v1 := server.app.Group("/api/v1")
	v1.Get("/status", server.status)
	v1.Get("/frame.png", server.frame)
	return server, nil
}

// App exposes the underlying fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// Serve listens on addr until ctx is cancelled and then shuts the server down.
func (s *Server) Serve(ctx context.Context, addr string) error {
	errs := make(chan error, 1)
	go func() {
		errs <- s.app.Listen(addr)
	}()
	s.logger.Info("preview server listening", "addr", addr)

	select {
	case err := <-errs:
		return fmt.Errorf("preview server stopped: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.app.ShutdownWithContext(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down preview server: %w", err)
	}
	return nil
}

func (s *Server) handleError(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	if code >= fiber.StatusInternalServerError {
		s.logger.Error("preview request failed", logger.Err(err), "path", c.Path())
	}
	return c.Status(code).JSON(fiber.Map{
		"error":   true,
		"message": err.Error(),
	})
}

type rangeResponse struct {
	Min  int64     `json:"min"`
	Max  int64     `json:"max"`
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

type markerResponse struct {
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	Persisted bool    `json:"persisted"`
}

type statusResponse struct {
	Bounds        *rangeResponse   `json:"bounds"`
	Cursor        *int64           `json:"cursor"`
	CursorTime    *time.Time       `json:"cursor_time,omitempty"`
	Frames        map[string]int   `json:"frames"`
	Loading       int              `json:"loading"`
	Interpolate   bool             `json:"interpolate"`
	RainOpacity   int              `json:"rain_opacity"`
	LookbackHours int              `json:"lookback_hours"`
	Markers       []markerResponse `json:"markers"`
	Place         string           `json:"place,omitempty"`
}

func (s *Server) status(c *fiber.Ctx) error {
	state := s.source.State()
	resp := statusResponse{
		Frames:        state.Frames,
		Loading:       state.Loading,
		Interpolate:   state.Interpolate,
		RainOpacity:   state.RainOpacity,
		LookbackHours: state.Lookback,
		Markers:       make([]markerResponse, 0, len(state.Markers)),
		Place:         state.Place,
	}
	if state.BoundsKnown {
		resp.Bounds = &rangeResponse{
			Min:  state.Bounds.Min,
			Max:  state.Bounds.Max,
			From: frame.FromMillis(state.Bounds.Min),
			To:   frame.FromMillis(state.Bounds.Max),
		}
	}
	if state.CursorSet {
		cursor, at := state.Cursor, frame.FromMillis(state.Cursor)
		resp.Cursor, resp.CursorTime = &cursor, &at
	}
	for _, m := range state.Markers {
		resp.Markers = append(resp.Markers, markerResponse{Lat: m.Lat, Lng: m.Lng, Persisted: m.Persisted})
	}
	return c.JSON(resp)
}

// frameQuery holds the query parameters of the frame endpoint. Zero values fall back to the
// current viewer state.
type frameQuery struct {
	Time        int64 `query:"time" validate:"gte=0"`
	Width       int   `query:"width" validate:"omitempty,min=16,max=4096"`
	Height      int   `query:"height" validate:"omitempty,min=16,max=4096"`
	Interpolate *bool `query:"interpolate"`
	Rain        *int  `query:"rain" validate:"omitempty,min=0,max=100"`
}

func (s *Server) frame(c *fiber.Ctx) error {
	var query frameQuery
	if err := c.QueryParser(&query); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if err := validate.Struct(query); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	state := s.source.State()
	at := query.Time
	switch {
	case !state.BoundsKnown:
		return fiber.NewError(fiber.StatusServiceUnavailable, "no frames discovered yet")
	case at == 0:
		at = state.Cursor
	case !state.Bounds.Contains(at):
		return fiber.NewError(fiber.StatusNotFound, "time outside of the known frame range")
	}

	width, height := s.width, s.height
	if query.Width > 0 {
		width = query.Width
	}
	if query.Height > 0 {
		height = query.Height
	}
	scene := s.source.SceneAt(at, render.FitView(height))
	if query.Interpolate != nil {
		scene.Interpolate = *query.Interpolate
	}
	if query.Rain != nil {
		scene.RainOpacity = *query.Rain
	}

	img, ok := s.source.Renderer().Render(width, height, scene)
	if !ok {
		return fiber.NewError(fiber.StatusServiceUnavailable, "too few frames cached")
	}
	buf := bytes.NewBuffer(nil)
	if err := png.Encode(buf, img); err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}
	c.Set(fiber.HeaderCacheControl, "no-store")
	c.Type("png")
	return c.Send(buf.Bytes())
}

// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package export renders the known frame range into a Motion JPEG AVI.
package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/icza/mjpeg"

	"github.com/wneessen/nowcast/internal/config"
	"github.com/wneessen/nowcast/internal/frame"
	"github.com/wneessen/nowcast/internal/logger"
	"github.com/wneessen/nowcast/internal/render"
	"github.com/wneessen/nowcast/internal/timeline"
)

const (
	extension   = ".avi"
	labelFormat = "2006-01-02 15:04 MST"
)

// ErrNoFrames is returned when there is nothing to export.
var ErrNoFrames = errors.New("no frames to export")

// Source is the part of the service an export renders from.
type Source interface {
	Bounds() *timeline.Bounds
	RenderAt(t int64, width, height int) (*image.RGBA, bool)
}

// Options control the video.
type Options struct {
	Step    time.Duration
	FPS     int
	Width   int
	Height  int
	Quality int
}

// OptionsFromConfig returns the export options of conf.
func OptionsFromConfig(conf *config.Config) Options {
	return Options{
		Step:    conf.Export.Step,
		FPS:     conf.Export.FPS,
		Width:   conf.Export.Width,
		Height:  conf.Export.Height,
		Quality: conf.Export.Quality,
	}
}

// Result describes a written video.
type Result struct {
	Path    string
	Frames  int
	Skipped int
}

type Exporter struct {
	source  Source
	logger  *logger.Logger
	options Options
}

func New(source Source, log *logger.Logger, options Options) (*Exporter, error) {
	if source == nil {
		return nil, errors.New("export source is required")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}
	if options.Step <= 0 || options.FPS <= 0 || options.Width <= 0 || options.Height <= 0 {
		return nil, fmt.Errorf("invalid export options: %+v", options)
	}
	if options.Quality < 1 || options.Quality > 100 {
		options.Quality = jpeg.DefaultQuality
	}
	return &Exporter{source: source, logger: log, options: options}, nil
}

// Export renders every step from the start to the end of the known range into an AVI at path.
// The extension is forced to .avi. Steps that cannot be rendered yet are skipped. A video
// without any frame is removed again and ErrNoFrames is returned.
func (e *Exporter) Export(ctx context.Context, path string) (Result, error) {
	bounds, ok := e.source.Bounds().Get()
	if !ok {
		return Result{}, ErrNoFrames
	}
	if !strings.EqualFold(filepath.Ext(path), extension) {
		path = strings.TrimSuffix(path, filepath.Ext(path)) + extension
	}
	result := Result{Path: path}

	writer, err := mjpeg.New(path, int32(e.options.Width), int32(e.options.Height), int32(e.options.FPS))
	if err != nil {
		return result, fmt.Errorf("failed to create video writer: %w", err)
	}

	step := e.options.Step.Milliseconds()
	buf := bytes.NewBuffer(nil)
	for t := bounds.Min; t <= bounds.Max; t += step {
		if err = ctx.Err(); err != nil {
			break
		}
		img, ok := e.source.RenderAt(t, e.options.Width, e.options.Height)
		if !ok {
			result.Skipped++
			e.logger.Debug("skipping export frame without enough cached frames", "time", frame.FromMillis(t))
			continue
		}
		render.Label(img, frame.FromMillis(t).UTC().Format(labelFormat))

		buf.Reset()
		if err = jpeg.Encode(buf, img, &jpeg.Options{Quality: e.options.Quality}); err != nil {
			err = fmt.Errorf("failed to encode frame %d: %w", result.Frames, err)
			break
		}
		if err = writer.AddFrame(buf.Bytes()); err != nil {
			err = fmt.Errorf("failed to add frame %d: %w", result.Frames, err)
			break
		}
		result.Frames++
	}

	if closeErr := writer.Close(); closeErr != nil && err == nil {
		err = fmt.Errorf("failed to finish video: %w", closeErr)
	}
	if err == nil && result.Frames == 0 {
		err = ErrNoFrames
	}
	if err != nil {
		if removeErr := os.Remove(path); removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
			e.logger.Error("failed to remove incomplete video", logger.Err(removeErr), "path", path)
		}
		return result, err
	}

	e.logger.Info("video exported", "path", path, "frames", result.Frames, "skipped", result.Skipped)
	return result, nil
}

// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package export

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/wneessen/nowcast/internal/config"
	"github.com/wneessen/nowcast/internal/logger"
	"github.com/wneessen/nowcast/internal/timeline"
)

const (
	firstKey = int64(1709985600000)
	lastKey  = int64(1709987400000)
)

func TestOptionsFromConfig(t *testing.T) {
	conf, err := config.New()
	if err != nil {
		t.Fatalf("failed to load config: %s", err)
	}
	opts := OptionsFromConfig(conf)
	want := Options{Step: 5 * time.Minute, FPS: 10, Width: 800, Height: 600, Quality: 85}
	if opts != want {
		t.Errorf("expected %+v, got %+v", want, opts)
	}
}

func TestNew(t *testing.T) {
	log := logger.NewLogger(slog.LevelError, io.Discard)
	t.Run("new exporter succeeds", func(t *testing.T) {
		if _, err := New(&fakeSource{}, log, testOptions()); err != nil {
			t.Errorf("failed to create exporter: %s", err)
		}
	})
	t.Run("new exporter without source fails", func(t *testing.T) {
		if _, err := New(nil, log, testOptions()); err == nil {
			t.Error("expected an error")
		}
	})
	t.Run("new exporter without logger fails", func(t *testing.T) {
		if _, err := New(&fakeSource{}, nil, testOptions()); err == nil {
			t.Error("expected an error")
		}
	})
	t.Run("new exporter with a zero step fails", func(t *testing.T) {
		opts := testOptions()
		opts.Step = 0
		if _, err := New(&fakeSource{}, log, opts); err == nil {
			t.Error("expected an error")
		}
	})
	t.Run("an out of range quality falls back to the default", func(t *testing.T) {
		opts := testOptions()
		opts.Quality = 0
		exp, err := New(&fakeSource{}, log, opts)
		if err != nil {
			t.Fatalf("failed to create exporter: %s", err)
		}
		if exp.options.Quality != 75 {
			t.Errorf("expected quality 75, got %d", exp.options.Quality)
		}
	})
}

func TestExporter_Export(t *testing.T) {
	t.Run("every step of the range becomes a frame", func(t *testing.T) {
		source := newFakeSource()
		path := filepath.Join(t.TempDir(), "nowcast.avi")
		result, err := testExporter(t, source).Export(t.Context(), path)
		if err != nil {
			t.Fatalf("export failed: %s", err)
		}
		if result.Frames != 7 || result.Skipped != 0 {
			t.Errorf("expected 7 frames and none skipped, got %+v", result)
		}
		if len(source.rendered) != 7 || source.rendered[0] != firstKey || source.rendered[6] != lastKey {
			t.Errorf("unexpected render times: %v", source.rendered)
		}
		assertAVI(t, result.Path)
	})
	t.Run("the extension is forced to avi", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nowcast.mp4")
		result, err := testExporter(t, newFakeSource()).Export(t.Context(), path)
		if err != nil {
			t.Fatalf("export failed: %s", err)
		}
		if filepath.Ext(result.Path) != ".avi" {
			t.Errorf("expected an .avi path, got %s", result.Path)
		}
		assertAVI(t, result.Path)
	})
	t.Run("steps without enough frames are skipped", func(t *testing.T) {
		source := newFakeSource()
		source.missing = map[int64]bool{firstKey: true, firstKey + 300_000: true}
		result, err := testExporter(t, source).Export(t.Context(), filepath.Join(t.TempDir(), "nowcast.avi"))
		if err != nil {
			t.Fatalf("export failed: %s", err)
		}
		if result.Frames != 5 || result.Skipped != 2 {
			t.Errorf("expected 5 frames and 2 skipped, got %+v", result)
		}
	})
	t.Run("unknown bounds have nothing to export", func(t *testing.T) {
		source := &fakeSource{}
		_, err := testExporter(t, source).Export(t.Context(), filepath.Join(t.TempDir(), "nowcast.avi"))
		if !errors.Is(err, ErrNoFrames) {
			t.Errorf("expected ErrNoFrames, got %v", err)
		}
	})
	t.Run("a video without frames is removed", func(t *testing.T) {
		source := newFakeSource()
		source.missing = map[int64]bool{}
		for key := firstKey; key <= lastKey; key += 300_000 {
			source.missing[key] = true
		}
		path := filepath.Join(t.TempDir(), "nowcast.avi")
		_, err := testExporter(t, source).Export(t.Context(), path)
		if !errors.Is(err, ErrNoFrames) {
			t.Errorf("expected ErrNoFrames, got %v", err)
		}
		if _, err = os.Stat(path); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("expected the video to be removed, got %v", err)
		}
	})
	t.Run("a cancelled context stops the export", func(t *testing.T) {
		ctx, cancel := context.WithCancel(t.Context())
		cancel()
		path := filepath.Join(t.TempDir(), "nowcast.avi")
		_, err := testExporter(t, newFakeSource()).Export(ctx, path)
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
		if _, err = os.Stat(path); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("expected the video to be removed, got %v", err)
		}
	})
}

type fakeSource struct {
	bounds   timeline.Bounds
	missing  map[int64]bool
	rendered []int64
}

func newFakeSource() *fakeSource {
	source := &fakeSource{}
	source.bounds.Recompute(firstKey, lastKey)
	return source
}

func (f *fakeSource) Bounds() *timeline.Bounds { return &f.bounds }

func (f *fakeSource) RenderAt(t int64, width, height int) (*image.RGBA, bool) {
	if f.missing[t] {
		return nil, false
	}
	f.rendered = append(f.rendered, t)
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i+2], img.Pix[i+3] = 0xc0, 0xff
	}
	img.SetRGBA(0, 0, color.RGBA{R: 0xff, A: 0xff})
	return img, true
}

func testOptions() Options {
	return Options{Step: 5 * time.Minute, FPS: 10, Width: 64, Height: 48, Quality: 80}
}

func testExporter(t *testing.T, source Source) *Exporter {
	t.Helper()
	exp, err := New(source, logger.NewLogger(slog.LevelError, io.Discard), testOptions())
	if err != nil {
		t.Fatalf("failed to create exporter: %s", err)
	}
	return exp
}

func assertAVI(t *testing.T, path string) {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read video: %s", err)
	}
	if len(data) < 12 || !bytes.Equal(data[:4], []byte("RIFF")) || !bytes.Equal(data[8:12], []byte("AVI ")) {
		t.Errorf("expected a RIFF AVI header, got %q", data[:min(len(data), 12)])
	}
}

// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

//go:build linux

// Package main implements the nowcast weather map viewer.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/wneessen/nowcast/internal/config"
	"github.com/wneessen/nowcast/internal/export"
	"github.com/wneessen/nowcast/internal/job"
	"github.com/wneessen/nowcast/internal/logger"
	"github.com/wneessen/nowcast/internal/preview"
	"github.com/wneessen/nowcast/internal/service"
	"github.com/wneessen/nowcast/internal/tui"
)

const (
	modeTUI    = "tui"
	modeServe  = "serve"
	modeExport = "export"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGABRT,
		os.Interrupt)
	defer cancel()

	// Initialize Logger
	log := logger.New(slog.LevelError)

	confPath := flag.String("config", "", "path to the config file")
	output := flag.String("o", "nowcast.avi", "output file of the export mode")
	flag.Usage = usage
	flag.Parse()

	mode := modeTUI
	if flag.NArg() > 0 {
		mode = flag.Arg(0)
	}
	if mode != modeTUI && mode != modeServe && mode != modeExport {
		usage()
		os.Exit(2)
	}

	// Environment overrides from .env are applied before fig reads the environment
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Error("failed to load .env file", logger.Err(err))
		os.Exit(1)
	}

	conf, err := loadConfig(*confPath)
	if err != nil {
		log.Error("failed to load config", logger.Err(err))
		os.Exit(1)
	}

	var logOutput io.Writer = os.Stderr
	if mode == modeTUI {
		file, err := openLogFile()
		if err != nil {
			log.Error("failed to open log file", logger.Err(err))
			os.Exit(1)
		}
		defer func() { _ = file.Close() }()
		logOutput = file
	}
	log = logger.NewLogger(conf.LogLevel, logOutput)

	serv, err := service.New(conf, log)
	if err != nil {
		log.Error("failed to initialize nowcast service", logger.Err(err))
		os.Exit(1)
	}

	log.Info("starting nowcast", slog.String("mode", mode), slog.String("version", version),
		slog.String("commit", commit), slog.String("date", date))
	switch mode {
	case modeServe:
		err = serve(ctx, conf, serv, log)
	case modeExport:
		err = exportVideo(ctx, conf, serv, log, *output)
	default:
		err = viewer(ctx, conf, serv, log)
	}
	if err != nil {
		log.Error("nowcast stopped with an error", slog.String("mode", mode), logger.Err(err))
		if mode == modeTUI {
			_, _ = fmt.Fprintf(os.Stderr, "nowcast: %s\n", err)
		}
		cancel()
		os.Exit(1)
	}
	log.Info("shutting down nowcast")
}

func viewer(ctx context.Context, conf *config.Config, serv *service.Service, log *logger.Logger) error {
	if err := serv.Start(ctx); err != nil {
		return err
	}
	defer closeService(serv, log)
	return tui.Run(ctx, tui.New(ctx, conf, serv, log))
}

func serve(ctx context.Context, conf *config.Config, serv *service.Service, log *logger.Logger) error {
	if err := serv.Start(ctx); err != nil {
		return err
	}
	defer closeService(serv, log)

	sigChan := make(chan os.Signal, 1)
	serv.SignalSrc.Notify(sigChan, syscall.SIGUSR1, syscall.SIGUSR2)
	defer serv.SignalSrc.Stop(sigChan)
	go serv.HandleSignals(ctx, sigChan)

	if conf.Preview.SnapshotFile != "" {
		snapshots := job.New(conf.Intervals.Snapshot, serv.WriteSnapshot, job.Immediately())
		go snapshots.Start(ctx)
	}

	server, err := preview.New(serv, log, conf.Export.Width, conf.Export.Height)
	if err != nil {
		return err
	}
	return server.Serve(ctx, conf.Preview.Listen)
}

func exportVideo(ctx context.Context, conf *config.Config, serv *service.Service, log *logger.Logger, output string) error {
	if err := serv.Prime(ctx); err != nil {
		return err
	}
	exporter, err := export.New(serv, log, export.OptionsFromConfig(conf))
	if err != nil {
		return err
	}
	result, err := exporter.Export(ctx, output)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(os.Stdout, "%s: %d frames\n", result.Path, result.Frames)
	return nil
}

func closeService(serv *service.Service, log *logger.Logger) {
	if err := serv.Close(); err != nil {
		log.Error("failed to shut down nowcast service", logger.Err(err))
	}
}

// loadConfig reads the explicitly given config file, else the one in the default location,
// else defaults and environment only.
func loadConfig(confPath string) (*config.Config, error) {
	if confPath != "" {
		return config.NewFromFile(filepath.Dir(confPath), filepath.Base(confPath))
	}
	if path, file := findConfigFile(); path != "" && file != "" {
		return config.NewFromFile(path, file)
	}
	return config.New()
}

func findConfigFile() (string, string) {
	homedir, err := os.UserHomeDir()
	if err != nil {
		return "", ""
	}
	exts := []string{"toml", "yaml", "yml", "json"}
	for _, ext := range exts {
		path := filepath.Join(homedir, ".config", "nowcast", "config."+ext)
		if _, err = os.Stat(path); err == nil {
			return filepath.Dir(path), filepath.Base(path)
		}
	}
	return "", ""
}

// openLogFile opens the log file used while the terminal viewer owns the screen.
func openLogFile() (*os.File, error) {
	dir := os.Getenv("XDG_STATE_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "state")
		} else {
			dir = os.TempDir()
		}
	}
	dir = filepath.Join(dir, "nowcast")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	return os.OpenFile(filepath.Join(dir, "nowcast.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
}

func usage() {
	_, _ = fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [-config file] [-o file] [tui|serve|export]\n",
		filepath.Base(os.Args[0]))
	flag.PrintDefaults()
}

// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package service

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

type signalSource interface {
	Notify(c chan<- os.Signal, sig ...os.Signal)
	Stop(c chan<- os.Signal)
}

type stdLibSignalSource struct{}

func (stdLibSignalSource) Notify(c chan<- os.Signal, sig ...os.Signal) {
	signal.Notify(c, sig...)
}

func (stdLibSignalSource) Stop(c chan<- os.Signal) {
	signal.Stop(c)
}

// HandleSignals toggles interpolation on SIGUSR1 and logs the viewer state on SIGUSR2.
func (s *Service) HandleSignals(ctx context.Context, sigChan chan os.Signal) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigChan:
			switch sig {
			case syscall.SIGUSR1:
				s.logger.Info("interpolation toggled", slog.Bool("interpolate", s.ToggleInterpolation()))
			case syscall.SIGUSR2:
				state := s.State()
				s.logger.Info("current viewer state", slog.Any("bounds", state.Bounds),
					slog.Int64("cursor", state.Cursor), slog.Any("frames", state.Frames),
					slog.Int("loading", state.Loading), slog.Int("lookback", state.Lookback))
			}
		}
	}
}

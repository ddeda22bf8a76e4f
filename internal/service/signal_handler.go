// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
)

// SignalHandler returns from Run when one of its signals arrives, which
// ends the run group
type SignalHandler struct {
	logger  *slog.Logger
	signals []os.Signal
	notify  func(c chan<- os.Signal, sig ...os.Signal)
}

func NewSignalHandler(logger *slog.Logger, signals ...os.Signal) *SignalHandler {
	return &SignalHandler{
		logger:  defaultLogger(logger).With("service", "signal-handler"),
		signals: signals,
		notify:  signal.Notify,
	}
}

func (sh *SignalHandler) Name() string {
	return "signal-handler"
}

func (sh *SignalHandler) Run(ctx context.Context) error {
	c := make(chan os.Signal, 1)
	sh.notify(c, sh.signals...)
	defer signal.Stop(c)

	// stdout belongs to the renderer
	sh.logger.Info("Press Ctrl+C to exit")

	select {
	case sig := <-c:
		sh.logger.Info("received signal", "signal", sig)
		return nil

	case <-ctx.Done():
		return ctx.Err()
	}
}

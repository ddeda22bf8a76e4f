// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/oklog/run"
)

func defaultLogger(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	return logger
}

// Init initializes services in order. When one fails, the services already
// initialized are shut down in reverse order and the failure is returned.
func Init(logger *slog.Logger, services []Service) error {
	logger = defaultLogger(logger)

	initialized := make([]Service, 0, len(services))
	for _, s := range services {
		srv, ok := s.(Initializer)
		if !ok {
			continue
		}

		logger.Info("Initializing service", "service", s.Name())
		if err := srv.Init(); err != nil {
			logger.Info("Shutting down initialized services")
			initErr := fmt.Errorf("failed to initialize service %s: %w", s.Name(), err)
			return errors.Join(initErr, shutdown(logger, initialized))
		}
		initialized = append(initialized, s)
	}
	return nil
}

// Run runs every Runner in an oklog run group until the first one returns
// or ctx is done. Each Runner is shut down when the group is interrupted;
// services that only implement Shutdowner are shut down, in reverse order,
// after all runners have returned. Cancellation is not reported as an error.
func Run(ctx context.Context, logger *slog.Logger, services []Service) error {
	logger = defaultLogger(logger)
	logger.Info("Running all services")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var g run.Group
	var passive []Service
	for _, s := range services {
		r, ok := s.(Runner)
		if !ok {
			passive = append(passive, s)
			continue
		}

		g.Add(
			func() error {
				logger.Info("Running service", "service", s.Name())
				return r.Run(ctx)
			},
			func(err error) {
				cancel()
				if err != nil && !errors.Is(err, context.Canceled) {
					logger.Warn("service terminated", "service", s.Name(), "reason", err)
				}
				if err := shutdown(logger, []Service{s}); err != nil {
					logger.Warn("service shutdown failed", "service", s.Name(), "error", err)
				}
			},
		)
	}

	// a group without actors returns immediately; wait for ctx instead
	if len(passive) == len(services) {
		g.Add(func() error {
			<-ctx.Done()
			return ctx.Err()
		}, func(error) { cancel() })
	}

	err := g.Run()
	if shutdownErr := shutdown(logger, passive); shutdownErr != nil {
		logger.Warn("resource shutdown failed", "error", shutdownErr)
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// shutdown shuts services down in reverse order and joins their errors
func shutdown(logger *slog.Logger, services []Service) error {
	var errs []error
	for i := len(services) - 1; i >= 0; i-- {
		s := services[i]
		srv, ok := s.(Shutdowner)
		if !ok {
			continue
		}

		logger.Info("shutting down", "service", s.Name())
		if err := srv.Shutdown(); err != nil {
			logger.Error("failed to shutdown service", "service", s.Name(), "error", err)
			errs = append(errs, fmt.Errorf("failed to shutdown service %s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

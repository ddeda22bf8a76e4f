// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package service

import "context"

// Service is the interface that all services must implement
type Service interface {
	// Name returns the name of the service
	Name() string
}

// Initializer is implemented by services that must be prepared before anything runs
type Initializer interface {
	Service
	Init() error
}

// Runner is implemented by services that block until their context is done
type Runner interface {
	Service
	Run(ctx context.Context) error
}

// Shutdowner is implemented by services that hold resources to release
type Shutdowner interface {
	Service
	Shutdown() error
}

// resource adapts a plain close function to a Shutdowner
type resource struct {
	name    string
	closeFn func() error
}

// Resource returns a Shutdowner named name that calls closeFn on shutdown.
// It lets file handles and similar be released with the other services.
func Resource(name string, closeFn func() error) Shutdowner {
	return &resource{name: name, closeFn: closeFn}
}

func (r *resource) Name() string {
	return r.name
}

func (r *resource) Shutdown() error {
	return r.closeFn()
}

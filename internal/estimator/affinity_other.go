// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package estimator

import "errors"

func pinToCPU(int) error {
	return errors.New("thread affinity is only supported on linux")
}

//go:build !pyroscope
// +build !pyroscope

// SPDX-FileCopyrightText: © 2026 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package profiling hooks the network requester up to Pyroscope when built
// with the pyroscope tag.
package profiling

import "gopkg.in/op/go-logging.v1"

// Start does nothing without the pyroscope build tag.
func Start(log *logging.Logger, serviceTag string) (func(), error) {
	log.Debugf("Pyroscope profiling of %s is not compiled in", serviceTag)
	return func() {}, nil
}

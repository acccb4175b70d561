//go:build pyroscope
// +build pyroscope

// SPDX-FileCopyrightText: © 2026 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

package profiling

import (
	"errors"
	"os"

	"github.com/grafana/pyroscope-go"
	"gopkg.in/op/go-logging.v1"
)

const defaultAppName = "netrequester"

// Start begins continuous profiling against the Pyroscope server named by
// PYROSCOPE_SERVER_ADDRESS.  The returned func stops the profiler.
func Start(log *logging.Logger, serviceTag string) (func(), error) {
	serverAddress := os.Getenv("PYROSCOPE_SERVER_ADDRESS")
	if serverAddress == "" {
		return nil, errors.New("PYROSCOPE_SERVER_ADDRESS is not set")
	}
	appName := os.Getenv("PYROSCOPE_APP_NAME")
	if appName == "" {
		appName = defaultAppName
	}
	if tag := os.Getenv("PYROSCOPE_SERVICE_TAG"); tag != "" {
		serviceTag = tag
	}

	profiler, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: appName,
		ServerAddress:   serverAddress,
		Logger:          pyroscope.StandardLogger,
		Tags: map[string]string{
			"service": serviceTag,
		},
		ProfileTypes: []pyroscope.ProfileType{
			pyroscope.ProfileCPU,
			pyroscope.ProfileAllocSpace,
			pyroscope.ProfileInuseSpace,
			pyroscope.ProfileGoroutines,
		},
	})
	if err != nil {
		return nil, err
	}
	log.Infof("Pyroscope profiling %s (service %s) to %s", appName, serviceTag, serverAddress)
	return func() {
		if err := profiler.Stop(); err != nil {
			log.Warningf("Failed to stop the profiler: %v", err)
		}
	}, nil
}

// SPDX-FileCopyrightText: © 2026 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package server ties the network requester together: it brings up logging,
// the outbound request filter, statistics and the overlay connection, and
// runs the relay until it terminates.
package server

import (
	"context"
	"fmt"
	"sync"

	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/netrequester/config"
	"github.com/katzenpost/netrequester/core/log"
	"github.com/katzenpost/netrequester/filter"
	"github.com/katzenpost/netrequester/overlay"
	"github.com/katzenpost/netrequester/relay"
	"github.com/katzenpost/netrequester/stats"
)

// Server is a network requester instance.
type Server struct {
	cfg *config.Config

	logBackend *log.Backend
	log        *logging.Logger

	filter   *filter.OutboundRequestFilter
	stats    *stats.Collector
	conn     *overlay.Conn
	provider *relay.Provider

	runErrLock sync.Mutex
	runErr     error

	haltedCh chan interface{}
	haltOnce sync.Once
}

// LogBackend returns the Server's log backend.
func (s *Server) LogBackend() *log.Backend {
	return s.logBackend
}

// Provider returns the relay the Server runs.
func (s *Server) Provider() *relay.Provider {
	return s.provider
}

// Filter returns the outbound request filter, or nil for an open proxy.
func (s *Server) Filter() *filter.OutboundRequestFilter {
	return s.filter
}

func (s *Server) initLogging() error {
	var err error
	s.logBackend, err = log.New(s.cfg.Logging.File, s.cfg.Logging.Level, s.cfg.Logging.Disable)
	if err == nil {
		s.log = s.logBackend.GetLogger("netrequester")
	}
	return err
}

// Shutdown cleanly shuts down a given Server instance.
func (s *Server) Shutdown() {
	s.haltOnce.Do(func() { s.halt() })
}

// Wait waits till the server is terminated for any reason and returns the
// error that terminated the relay, if any.
func (s *Server) Wait() error {
	<-s.haltedCh
	s.runErrLock.Lock()
	defer s.runErrLock.Unlock()
	return s.runErr
}

func (s *Server) halt() {
	s.log.Noticef("Starting graceful shutdown.")

	if s.provider != nil {
		s.provider.Halt()
	}
	if s.conn != nil {
		s.conn.Close()
	}
	if s.stats != nil {
		s.stats.Halt()
	}
	if s.filter != nil {
		s.filter.Close()
	}

	s.log.Noticef("Shutdown complete.")
	close(s.haltedCh)
}

// RotateLog reopens the log file if logging to a file is enabled.
func (s *Server) RotateLog() {
	if err := s.logBackend.Rotate(); err != nil {
		s.log.Errorf("Failed to rotate the log file: %v", err)
	}
}

// ReloadFilter reloads the allowed hosts list.
func (s *Server) ReloadFilter() {
	if s.filter == nil {
		return
	}
	if err := s.filter.Reload(); err != nil {
		s.log.Errorf("Failed to reload the allowed hosts list: %v", err)
		return
	}
	s.log.Noticef("Reloaded the allowed hosts list.")
}

// New returns a new running Server instance parameterized with the specific
// configuration.
func New(cfg *config.Config) (*Server, error) {
	s := &Server{
		cfg:      cfg,
		haltedCh: make(chan interface{}),
	}
	if err := s.initLogging(); err != nil {
		return nil, err
	}

	s.log.Notice("Starting Katzenpost network requester")
	if s.cfg.Logging.Level == "DEBUG" {
		s.log.Warning("Debug logging is enabled.")
	}

	// Past this point, failures need to call s.Shutdown() to do cleanup.
	isOk := false
	defer func() {
		if !isOk {
			s.Shutdown()
		}
	}()

	var outboundFilter relay.OutboundFilter
	if !cfg.Relay.OpenProxy {
		f, err := filter.New(cfg.Filter, s.logBackend.GetLogger("filter"))
		if err != nil {
			return nil, fmt.Errorf("server: failed to create the outbound request filter: %w", err)
		}
		s.filter = f
		outboundFilter = f
	}

	if cfg.Statistics.Enable {
		s.stats = stats.New(s.logBackend)
		if cfg.Statistics.MetricsAddress != "" {
			if err := s.stats.Serve(cfg.Statistics.MetricsAddress); err != nil {
				return nil, fmt.Errorf("server: failed to serve metrics: %w", err)
			}
		}
		s.stats.Start(cfg.Statistics.ReportIntervalDuration())
	}

	var err error
	s.conn, err = overlay.Dial(context.Background(), cfg.Overlay.Address, cfg.Overlay.HandshakeTimeoutDuration(), s.logBackend.GetLogger("overlay"))
	if err != nil {
		return nil, fmt.Errorf("server: failed to connect to the client daemon at %s: %w", cfg.Overlay.Address, err)
	}

	reader, writer := s.conn.Split()
	s.provider, err = relay.New(cfg.Relay, s.logBackend, reader, writer, outboundFilter, s.stats)
	if err != nil {
		return nil, err
	}

	go func() {
		if err := s.provider.Run(); err != nil {
			s.log.Errorf("Relay terminated: %v", err)
			s.runErrLock.Lock()
			s.runErr = err
			s.runErrLock.Unlock()
		}
		s.Shutdown()
	}()

	isOk = true
	return s, nil
}

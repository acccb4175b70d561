// SPDX-FileCopyrightText: © 2026 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package config provides the network requester configuration.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	defaultLogLevel           = "NOTICE"
	defaultOverlayAddress     = "ws://127.0.0.1:1977"
	defaultHandshakeTimeout   = 10    // 10 sec.
	defaultDialTimeout        = 10    // 10 sec.
	defaultReadBufferSize     = 16384 // 16 KiB.
	defaultCloseLinger        = 30    // 30 sec.
	defaultBroadcastInterval  = 500   // 500 ms.
	defaultMaxLaneQueueLength = 30
	defaultThrottleInterval   = 50 // 50 ms.
	defaultAllowedList        = "allowed.list"
	defaultUnknownDB          = "unknown.db"
	defaultReportInterval     = 60 // 60 sec.
)

var defaultLogging = Logging{
	Disable: false,
	File:    "",
	Level:   defaultLogLevel,
}

// Logging is the logging configuration.
type Logging struct {
	// Disable disables logging entirely.
	Disable bool

	// File specifies the log file, if omitted stdout will be used.
	File string

	// Level specifies the log level.
	Level string
}

func (lCfg *Logging) validate() error {
	lvl := strings.ToUpper(lCfg.Level)
	switch lvl {
	case "ERROR", "WARNING", "NOTICE", "INFO", "DEBUG":
	case "":
		lvl = defaultLogLevel
	default:
		return fmt.Errorf("config: Logging: Level '%v' is invalid", lCfg.Level)
	}
	lCfg.Level = lvl
	return nil
}

// Overlay is the configuration of the link to the overlay client daemon.
type Overlay struct {
	// Address is the websocket URL the client daemon listens on.
	Address string

	// HandshakeTimeout is the number of seconds the websocket handshake
	// is allowed to take.
	HandshakeTimeout int
}

func (oCfg *Overlay) applyDefaults() {
	if oCfg.Address == "" {
		oCfg.Address = defaultOverlayAddress
	}
	if oCfg.HandshakeTimeout <= 0 {
		oCfg.HandshakeTimeout = defaultHandshakeTimeout
	}
}

func (oCfg *Overlay) validate() error {
	u, err := url.Parse(oCfg.Address)
	if err != nil {
		return fmt.Errorf("config: Overlay: Address '%v' is invalid: %v", oCfg.Address, err)
	}
	switch u.Scheme {
	case "ws", "wss":
	default:
		return fmt.Errorf("config: Overlay: Address '%v' is not a websocket URL", oCfg.Address)
	}
	return nil
}

// HandshakeTimeoutDuration returns HandshakeTimeout as a time.Duration.
func (oCfg *Overlay) HandshakeTimeoutDuration() time.Duration {
	return time.Duration(oCfg.HandshakeTimeout) * time.Second
}

// Relay is the configuration of the connection relaying core.
type Relay struct {
	// OpenProxy disables the outbound request filter entirely.
	OpenProxy bool

	// DialTimeout is the number of seconds a TCP connect to a remote host
	// is allowed to take.
	DialTimeout int

	// ReadBufferSize is the maximum number of bytes read from a remote
	// host into a single response.
	ReadBufferSize int

	// CloseLinger is the number of seconds a session keeps reading from the
	// remote host after the originator closed its side.
	CloseLinger int

	// DisableActiveConnectionBroadcast stops the controller from announcing
	// the set of active connections. Without those announcements no lane
	// queue length queries are sent and read throttling never engages.
	DisableActiveConnectionBroadcast bool

	// BroadcastInterval is the interval in milliseconds between periodic
	// active connection announcements.
	BroadcastInterval int

	// MaxLaneQueueLength is the reported lane backlog above which a
	// session stops reading from its remote host.
	MaxLaneQueueLength int

	// ThrottleInterval is the interval in milliseconds between lane
	// backlog checks of a throttled session.
	ThrottleInterval int
}

func (rCfg *Relay) applyDefaults() {
	if rCfg.DialTimeout <= 0 {
		rCfg.DialTimeout = defaultDialTimeout
	}
	if rCfg.ReadBufferSize <= 0 {
		rCfg.ReadBufferSize = defaultReadBufferSize
	}
	if rCfg.CloseLinger <= 0 {
		rCfg.CloseLinger = defaultCloseLinger
	}
	if rCfg.BroadcastInterval <= 0 {
		rCfg.BroadcastInterval = defaultBroadcastInterval
	}
	if rCfg.MaxLaneQueueLength <= 0 {
		rCfg.MaxLaneQueueLength = defaultMaxLaneQueueLength
	}
	if rCfg.ThrottleInterval <= 0 {
		rCfg.ThrottleInterval = defaultThrottleInterval
	}
}

// DialTimeoutDuration returns DialTimeout as a time.Duration.
func (rCfg *Relay) DialTimeoutDuration() time.Duration {
	return time.Duration(rCfg.DialTimeout) * time.Second
}

// CloseLingerDuration returns CloseLinger as a time.Duration.
func (rCfg *Relay) CloseLingerDuration() time.Duration {
	return time.Duration(rCfg.CloseLinger) * time.Second
}

// BroadcastIntervalDuration returns BroadcastInterval as a time.Duration.
func (rCfg *Relay) BroadcastIntervalDuration() time.Duration {
	return time.Duration(rCfg.BroadcastInterval) * time.Millisecond
}

// ThrottleIntervalDuration returns ThrottleInterval as a time.Duration.
func (rCfg *Relay) ThrottleIntervalDuration() time.Duration {
	return time.Duration(rCfg.ThrottleInterval) * time.Millisecond
}

// Filter is the outbound request filter configuration.
type Filter struct {
	// DataDir is the absolute path to the filter's state files.
	DataDir string

	// AllowedList is the allowed hosts list, relative to DataDir.
	AllowedList string

	// UnknownDB is the database recording rejected hosts, relative to DataDir.
	UnknownDB string

	// AllowedCIDRs are IP ranges that are always allowed.
	AllowedCIDRs []string
}

func (fCfg *Filter) applyDefaults() {
	if fCfg.AllowedList == "" {
		fCfg.AllowedList = defaultAllowedList
	}
	if fCfg.UnknownDB == "" {
		fCfg.UnknownDB = defaultUnknownDB
	}
}

func (fCfg *Filter) validate() error {
	if !filepath.IsAbs(fCfg.DataDir) {
		return fmt.Errorf("config: Filter: DataDir '%v' is not an absolute path", fCfg.DataDir)
	}
	for _, v := range fCfg.AllowedCIDRs {
		if _, _, err := net.ParseCIDR(v); err != nil {
			return fmt.Errorf("config: Filter: AllowedCIDRs entry '%v' is invalid: %v", v, err)
		}
	}
	return nil
}

// AllowedListPath returns the absolute path of the allowed hosts list.
func (fCfg *Filter) AllowedListPath() string {
	return filepath.Join(fCfg.DataDir, fCfg.AllowedList)
}

// UnknownDBPath returns the absolute path of the unknown hosts database.
func (fCfg *Filter) UnknownDBPath() string {
	return filepath.Join(fCfg.DataDir, fCfg.UnknownDB)
}

// Statistics is the traffic statistics configuration.
type Statistics struct {
	// Enable turns on per-host byte accounting.
	Enable bool

	// MetricsAddress is the address the Prometheus endpoint binds to,
	// an empty address disables the endpoint.
	MetricsAddress string

	// ReportInterval is the number of seconds between logged summaries.
	ReportInterval int
}

func (sCfg *Statistics) applyDefaults() {
	if sCfg.ReportInterval <= 0 {
		sCfg.ReportInterval = defaultReportInterval
	}
}

func (sCfg *Statistics) validate() error {
	if sCfg.MetricsAddress == "" {
		return nil
	}
	if _, _, err := net.SplitHostPort(sCfg.MetricsAddress); err != nil {
		return fmt.Errorf("config: Statistics: MetricsAddress '%v' is invalid: %v", sCfg.MetricsAddress, err)
	}
	return nil
}

// ReportIntervalDuration returns ReportInterval as a time.Duration.
func (sCfg *Statistics) ReportIntervalDuration() time.Duration {
	return time.Duration(sCfg.ReportInterval) * time.Second
}

// Config is the top level network requester configuration.
type Config struct {
	Logging    *Logging
	Overlay    *Overlay
	Relay      *Relay
	Filter     *Filter
	Statistics *Statistics
}

// FixupAndValidate applies defaults to config entries and validates the
// supplied configuration.  Most people should call one of the Load variants
// instead.
func (cfg *Config) FixupAndValidate() error {
	if cfg.Logging == nil {
		l := defaultLogging
		cfg.Logging = &l
	}
	if cfg.Overlay == nil {
		cfg.Overlay = &Overlay{}
	}
	if cfg.Relay == nil {
		cfg.Relay = &Relay{}
	}
	if cfg.Statistics == nil {
		cfg.Statistics = &Statistics{}
	}

	cfg.Overlay.applyDefaults()
	cfg.Relay.applyDefaults()
	cfg.Statistics.applyDefaults()

	if err := cfg.Logging.validate(); err != nil {
		return err
	}
	if err := cfg.Overlay.validate(); err != nil {
		return err
	}

	// The Filter section names the DataDir, an open proxy has no filter.
	switch {
	case cfg.Filter != nil:
		cfg.Filter.applyDefaults()
		if err := cfg.Filter.validate(); err != nil {
			return err
		}
	case !cfg.Relay.OpenProxy:
		return errors.New("config: No Filter block was present")
	}
	return cfg.Statistics.validate()
}

// Load parses and validates the provided buffer b as a config file body and
// returns the Config.
func Load(b []byte) (*Config, error) {
	if b == nil {
		return nil, errors.New("config: no nil buffer as config file")
	}
	cfg := new(Config)
	md, err := toml.Decode(string(b), cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) != 0 {
		return nil, fmt.Errorf("config: Undecoded keys in config file: %v", undecoded)
	}
	if err := cfg.FixupAndValidate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile loads, parses and validates the provided file and returns the
// Config.
func LoadFile(f string) (*Config, error) {
	b, err := os.ReadFile(f)
	if err != nil {
		return nil, err
	}
	return Load(b)
}

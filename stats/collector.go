// SPDX-FileCopyrightText: © 2026 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package stats accounts the bytes the network requester relays per remote
// host and exports them to Prometheus.
package stats

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/atomic"
	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/netrequester/core/log"
	"github.com/katzenpost/netrequester/core/worker"
	"github.com/katzenpost/netrequester/lanes"
)

const (
	// maxHosts bounds the number of distinct host labels.  Traffic to
	// further hosts is accounted under otherHosts.
	maxHosts   = 4096
	otherHosts = "other"
)

// Direction is the direction of relayed data.
type Direction uint8

const (
	// Inbound is data from the overlay towards a remote host.
	Inbound Direction = iota

	// Outbound is data from a remote host back into the overlay.
	Outbound
)

func (d Direction) String() string {
	switch d {
	case Inbound:
		return "inbound"
	case Outbound:
		return "outbound"
	default:
		return "unknown"
	}
}

// HostStats is the byte count relayed for a single host.
type HostStats struct {
	Inbound  uint64
	Outbound uint64
}

type hostCounters struct {
	inbound  atomic.Uint64
	outbound atomic.Uint64
}

// Collector accumulates per host byte counters.
type Collector struct {
	worker.Worker
	sync.RWMutex

	log        *logging.Logger
	logBackend *log.Backend

	services map[uint64]string
	hosts    map[string]*hostCounters
	lanes    *lanes.Registry

	registry *prometheus.Registry
	bytes    *prometheus.CounterVec
	server   *http.Server
}

// New returns a Collector with its own Prometheus registry.
func New(logBackend *log.Backend) *Collector {
	c := &Collector{
		log:        logBackend.GetLogger("stats"),
		logBackend: logBackend,
		services:   make(map[uint64]string),
		hosts:      make(map[string]*hostCounters),
		registry:   prometheus.NewRegistry(),
		bytes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "netrequester_bytes_total",
				Help: "Number of bytes relayed per remote host and direction",
			},
			[]string{"host", "direction"},
		),
	}
	c.registry.MustRegister(c.bytes)
	return c
}

// RegisterActiveSessions exports the number of active sessions as reported
// by fn.
func (c *Collector) RegisterActiveSessions(fn func() float64) {
	c.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "netrequester_active_sessions",
			Help: "Number of TCP sessions currently relayed",
		},
		fn,
	))
}

// RegisterLanes adds the lane queue lengths in r to the logged summary.
func (c *Collector) RegisterLanes(r *lanes.Registry) {
	c.Lock()
	defer c.Unlock()
	c.lanes = r
}

// Connected associates a connection id with the host it connects to.
func (c *Collector) Connected(connID uint64, host string) {
	c.Lock()
	defer c.Unlock()
	c.services[connID] = host
}

// Disconnected forgets a connection id.
func (c *Collector) Disconnected(connID uint64) {
	c.Lock()
	defer c.Unlock()
	delete(c.services, connID)
}

// Record accounts n bytes relayed for host.  A port suffix is ignored, so
// every connection to a host shares its counters.
func (c *Collector) Record(host string, n int, dir Direction) {
	if n <= 0 {
		return
	}
	hc, host := c.counters(hostLabel(host))

	switch dir {
	case Inbound:
		hc.inbound.Add(uint64(n))
	case Outbound:
		hc.outbound.Add(uint64(n))
	}
	c.bytes.WithLabelValues(host, dir.String()).Add(float64(n))
}

func (c *Collector) counters(host string) (*hostCounters, string) {
	c.RLock()
	hc, ok := c.hosts[host]
	c.RUnlock()
	if ok {
		return hc, host
	}

	c.Lock()
	defer c.Unlock()
	if hc, ok = c.hosts[host]; ok {
		return hc, host
	}
	if len(c.hosts) >= maxHosts {
		host = otherHosts
		if hc, ok = c.hosts[host]; ok {
			return hc, host
		}
	}
	hc = new(hostCounters)
	c.hosts[host] = hc
	return hc, host
}

func hostLabel(hostport string) string {
	host, _, err := net.SplitHostPort(hostport)
	if err != nil {
		return hostport
	}
	return host
}

// RecordConn accounts n bytes relayed for the host of connID.  Unknown
// connection ids are ignored.
func (c *Collector) RecordConn(connID uint64, n int, dir Direction) {
	c.RLock()
	host, ok := c.services[connID]
	c.RUnlock()
	if ok {
		c.Record(host, n, dir)
	}
}

// Snapshot returns the byte counts of every host seen so far.
func (c *Collector) Snapshot() map[string]HostStats {
	c.RLock()
	defer c.RUnlock()
	s := make(map[string]HostStats, len(c.hosts))
	for host, hc := range c.hosts {
		s[host] = HostStats{Inbound: hc.inbound.Load(), Outbound: hc.outbound.Load()}
	}
	return s
}

// Serve exposes the metrics on http://addr/metrics until the Collector halts.
func (c *Collector) Serve(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}))
	c.server = &http.Server{
		Handler:  mux,
		ErrorLog: c.logBackend.GetGoLogger("stats_http", "WARNING"),
	}
	c.log.Noticef("Serving metrics on http://%s/metrics", l.Addr())

	c.Go(func() {
		if err := c.server.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.log.Errorf("Metrics server failed: %v", err)
		}
	})
	c.Go(func() {
		<-c.HaltCh()
		ctx, cancelFn := context.WithTimeout(context.Background(), time.Second)
		defer cancelFn()
		c.server.Shutdown(ctx)
	})
	return nil
}

// Start logs a summary of the busiest hosts every interval.
func (c *Collector) Start(interval time.Duration) {
	c.Go(func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-c.HaltCh():
				return
			case <-ticker.C:
				c.logSummary()
			}
		}
	})
}

func (c *Collector) logSummary() {
	const maxLogged = 10

	snap := c.Snapshot()
	hosts := make([]string, 0, len(snap))
	for h := range snap {
		hosts = append(hosts, h)
	}
	sort.Slice(hosts, func(i, j int) bool {
		a, b := snap[hosts[i]], snap[hosts[j]]
		return a.Inbound+a.Outbound > b.Inbound+b.Outbound
	})
	if len(hosts) > maxLogged {
		hosts = hosts[:maxLogged]
	}
	for _, h := range hosts {
		c.log.Infof("%s: %d bytes inbound, %d bytes outbound", h, snap[h].Inbound, snap[h].Outbound)
	}

	if n, lane, backlog := c.longestLane(); backlog > 0 {
		c.log.Infof("%d lanes reported, lane %d is the longest with %d queued messages", n, lane, backlog)
	}
}

// longestLane returns the number of reported lanes and the lane with the
// largest backlog.
func (c *Collector) longestLane() (int, lanes.Lane, int) {
	c.RLock()
	registry := c.lanes
	c.RUnlock()
	if registry == nil {
		return 0, 0, 0
	}
	longest, backlog := lanes.Lane(0), 0
	lengths := registry.Snapshot()
	for lane, l := range lengths {
		if l > backlog || (l == backlog && lane < longest) {
			longest, backlog = lane, l
		}
	}
	return len(lengths), longest, backlog
}

// SPDX-FileCopyrightText: © 2026 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package filter decides which remote hosts the network requester is
// willing to connect to.
package filter

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"

	"github.com/yl2chen/cidranger"
	"golang.org/x/net/publicsuffix"
	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/netrequester/config"
)

// OutboundRequestFilter allows connects to hosts on the allowed list and
// records every other host in the unknown hosts ledger.
type OutboundRequestFilter struct {
	sync.RWMutex

	log *logging.Logger

	allowedListPath string
	extraCIDRs      []string

	domains map[string]struct{}
	ranger  cidranger.Ranger

	unknown *UnknownHosts
}

// New loads the allowed list and opens the unknown hosts ledger.  A missing
// allowed list is created empty.
func New(cfg *config.Filter, log *logging.Logger) (*OutboundRequestFilter, error) {
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, err
	}
	unknown, err := OpenUnknownHosts(cfg.UnknownDBPath())
	if err != nil {
		return nil, fmt.Errorf("filter: failed to open unknown hosts ledger: %w", err)
	}
	f := &OutboundRequestFilter{
		log:             log,
		allowedListPath: cfg.AllowedListPath(),
		extraCIDRs:      cfg.AllowedCIDRs,
		unknown:         unknown,
	}
	if err := f.Reload(); err != nil {
		unknown.Close()
		return nil, err
	}
	return f, nil
}

// Reload re-reads the allowed list.
func (f *OutboundRequestFilter) Reload() error {
	fd, err := os.OpenFile(f.allowedListPath, os.O_CREATE|os.O_RDONLY, 0600)
	if err != nil {
		return fmt.Errorf("filter: failed to open allowed list: %w", err)
	}
	defer fd.Close()

	domains := make(map[string]struct{})
	ranger := cidranger.NewPCTrieRanger()
	add := func(entry string) error {
		if _, ipNet, err := net.ParseCIDR(entry); err == nil {
			return ranger.Insert(cidranger.NewBasicRangerEntry(*ipNet))
		}
		if ip := net.ParseIP(entry); ip != nil {
			bits := 8 * net.IPv6len
			if ip4 := ip.To4(); ip4 != nil {
				ip, bits = ip4, 8*net.IPv4len
			}
			return ranger.Insert(cidranger.NewBasicRangerEntry(net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)}))
		}
		domains[strings.ToLower(strings.TrimSuffix(entry, "."))] = struct{}{}
		return nil
	}

	scanner := bufio.NewScanner(fd)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := add(line); err != nil {
			return fmt.Errorf("filter: bad allowed list entry '%s': %w", line, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	for _, cidr := range f.extraCIDRs {
		if err := add(cidr); err != nil {
			return err
		}
	}

	f.Lock()
	f.domains = domains
	f.ranger = ranger
	f.Unlock()
	f.log.Noticef("Loaded %d allowed domains and %d allowed IP ranges", len(domains), ranger.Len())
	return nil
}

// Check returns true when a connect to hostport is allowed.  Rejected hosts
// are recorded in the unknown hosts ledger.
func (f *OutboundRequestFilter) Check(hostport string) bool {
	host, _, err := net.SplitHostPort(hostport)
	if err != nil {
		host = hostport
	}
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	if host == "" {
		return false
	}

	if f.isAllowed(host) {
		return true
	}
	if err := f.unknown.Record(host); err != nil {
		f.log.Warningf("Failed to record unknown host %s: %v", host, err)
	}
	return false
}

func (f *OutboundRequestFilter) isAllowed(host string) bool {
	f.RLock()
	defer f.RUnlock()

	if ip := net.ParseIP(host); ip != nil {
		ok, err := f.ranger.Contains(ip)
		return err == nil && ok
	}
	if _, ok := f.domains[host]; ok {
		return true
	}
	root, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return false
	}
	_, ok := f.domains[root]
	return ok
}

// UnknownHosts returns the ledger of rejected hosts.
func (f *OutboundRequestFilter) UnknownHosts() *UnknownHosts {
	return f.unknown
}

// Close releases the unknown hosts ledger.
func (f *OutboundRequestFilter) Close() error {
	return f.unknown.Close()
}

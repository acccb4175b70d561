// SPDX-FileCopyrightText: © 2026 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package lanes tracks the backlog the overlay client daemon reports for
// each of its transmission lanes.
package lanes

import "sync"

// Lane identifies a transmission lane; the relay uses one lane per
// connection, so a Lane is a connection id.
type Lane = uint64

// Registry maps lanes to their last reported queue length.  It is written
// by the overlay read loop and read by throttled sessions.
type Registry struct {
	sync.RWMutex

	lengths map[Lane]int
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{lengths: make(map[Lane]int)}
}

// Update records the queue length of lane, overwriting the previous report.
// It does not wait for readers: when the lock is held it returns false and
// the report is skipped, leaving the previous, stale, value in place.
func (r *Registry) Update(lane Lane, length int) bool {
	if !r.TryLock() {
		return false
	}
	defer r.Unlock()
	r.lengths[lane] = length
	return true
}

// Get returns the last reported queue length of lane.
func (r *Registry) Get(lane Lane) (int, bool) {
	r.RLock()
	defer r.RUnlock()
	l, ok := r.lengths[lane]
	return l, ok
}

// Len returns the number of lanes ever reported.
func (r *Registry) Len() int {
	r.RLock()
	defer r.RUnlock()
	return len(r.lengths)
}

// Snapshot returns a copy of every lane's queue length.
func (r *Registry) Snapshot() map[Lane]int {
	r.RLock()
	defer r.RUnlock()
	s := make(map[Lane]int, len(r.lengths))
	for k, v := range r.lengths {
		s[k] = v
	}
	return s
}

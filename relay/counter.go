// SPDX-FileCopyrightText: © 2026 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

package relay

import "go.uber.org/atomic"

// Counter counts the sessions currently relayed.  The Provider owns it and
// hands it to every session it starts.
type Counter struct {
	n atomic.Int64
}

// Inc increments the counter and returns the new value.
func (c *Counter) Inc() int64 {
	return c.n.Inc()
}

// Dec decrements the counter and returns the new value.
func (c *Counter) Dec() int64 {
	return c.n.Dec()
}

// Load returns the current value.
func (c *Counter) Load() int64 {
	return c.n.Load()
}

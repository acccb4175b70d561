// SPDX-FileCopyrightText: © 2026 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

package relay

import "sync"

// outboundData is a chunk of originator data headed for a remote host.
type outboundData struct {
	data   []byte
	closed bool
}

// mailbox is the unbounded inbox of a session.  The controller pushes into
// it without ever blocking; the session's writer drains it in order.
type mailbox struct {
	sync.Mutex

	queue  []*outboundData
	closed bool
	signal chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{signal: make(chan struct{}, 1)}
}

func (m *mailbox) notify() {
	select {
	case m.signal <- struct{}{}:
	default:
	}
}

// push appends d to the mailbox.  It returns false once the mailbox is
// closed, in which case d is dropped.
func (m *mailbox) push(d *outboundData) bool {
	m.Lock()
	defer m.Unlock()
	if m.closed {
		return false
	}
	m.queue = append(m.queue, d)
	m.notify()
	return true
}

// close drops everything still queued and wakes up the reader.
func (m *mailbox) close() {
	m.Lock()
	defer m.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	m.queue = nil
	m.notify()
}

// next blocks until data is available, the mailbox is closed or haltCh
// fires.  The second return value is false in the latter two cases.
func (m *mailbox) next(haltCh <-chan interface{}) (*outboundData, bool) {
	for {
		m.Lock()
		if m.closed {
			m.Unlock()
			return nil, false
		}
		if len(m.queue) > 0 {
			d := m.queue[0]
			m.queue[0] = nil
			m.queue = m.queue[1:]
			m.Unlock()
			return d, true
		}
		m.Unlock()

		select {
		case <-m.signal:
		case <-haltCh:
			return nil, false
		}
	}
}

func (m *mailbox) len() int {
	m.Lock()
	defer m.Unlock()
	return len(m.queue)
}

// SPDX-FileCopyrightText: © 2026 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

package relay

import (
	"sort"
	"time"

	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/netrequester/core/worker"
)

const (
	commandQueueSize = 256
	noticeQueueSize  = 64
)

// BroadcastActiveConnections selects whether the Controller announces the
// set of active connections.
type BroadcastActiveConnections bool

const (
	// BroadcastOn announces the active set whenever a connection is removed
	// and periodically thereafter.
	BroadcastOn BroadcastActiveConnections = true

	// BroadcastOff only announces closed connections.
	BroadcastOff BroadcastActiveConnections = false
)

// ConnectionNotice is a notification from the Controller to the overlay
// writer.  Exactly one field is set.
type ConnectionNotice struct {
	// Closed is the id of a connection that was just removed.
	Closed *uint64

	// Active is the set of currently registered connections.
	Active []uint64
}

type commandOp uint8

const (
	opPending commandOp = iota
	opInsert
	opRemove
	opSend
	opActive
)

type command struct {
	op      commandOp
	id      uint64
	inbox   *mailbox
	data    *outboundData
	replyCh chan []uint64
}

// Controller is the sole owner of the registry of active sessions.  Every
// mutation arrives as a command on a single channel and is applied by one
// goroutine, in arrival order.
type Controller struct {
	worker.Worker

	log *logging.Logger

	commandCh chan *command
	noticeCh  chan *ConnectionNotice

	broadcast BroadcastActiveConnections
	interval  time.Duration

	active  map[uint64]*mailbox
	pending map[uint64][]*outboundData
}

// NewController returns a Controller that writes its notices to noticeCh.
// With broadcast on and a positive interval the active set is also
// announced every interval.
func NewController(log *logging.Logger, noticeCh chan *ConnectionNotice, broadcast BroadcastActiveConnections, interval time.Duration) *Controller {
	return &Controller{
		log:       log,
		commandCh: make(chan *command, commandQueueSize),
		noticeCh:  noticeCh,
		broadcast: broadcast,
		interval:  interval,
		active:    make(map[uint64]*mailbox),
		pending:   make(map[uint64][]*outboundData),
	}
}

// Start launches the Controller's goroutine.
func (c *Controller) Start() {
	c.Go(c.worker)
}

func (c *Controller) enqueue(cmd *command) bool {
	select {
	case c.commandCh <- cmd:
		return true
	case <-c.HaltCh():
		return false
	}
}

// Pending announces that a session for id is being started.  Data sent to
// id before it is inserted is buffered and handed over on Insert.
func (c *Controller) Pending(id uint64) {
	c.enqueue(&command{op: opPending, id: id})
}

// Insert registers the inbox of an established session.
func (c *Controller) Insert(id uint64, inbox *mailbox) {
	c.enqueue(&command{op: opInsert, id: id, inbox: inbox})
}

// Remove unregisters the session for id if inbox is still the one
// registered, so a stale session cannot evict its replacement.  A nil inbox
// only discards data buffered for a session that never started.  Removing
// an unknown id is a no-op.
func (c *Controller) Remove(id uint64, inbox *mailbox) {
	c.enqueue(&command{op: opRemove, id: id, inbox: inbox})
}

// Send routes data to the session registered for id.  Data for ids that
// are neither registered nor pending is dropped.
func (c *Controller) Send(id uint64, data []byte, closed bool) {
	c.enqueue(&command{op: opSend, id: id, data: &outboundData{data: data, closed: closed}})
}

// ActiveConnections returns the sorted ids of the registered sessions.
func (c *Controller) ActiveConnections() []uint64 {
	replyCh := make(chan []uint64, 1)
	if !c.enqueue(&command{op: opActive, replyCh: replyCh}) {
		return nil
	}
	select {
	case ids := <-replyCh:
		return ids
	case <-c.HaltCh():
		return nil
	}
}

func (c *Controller) worker() {
	var tickCh <-chan time.Time
	if c.broadcast == BroadcastOn && c.interval > 0 {
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		tickCh = ticker.C
	}

	defer func() {
		for id, inbox := range c.active {
			inbox.close()
			delete(c.active, id)
		}
	}()

	for {
		select {
		case <-c.HaltCh():
			c.log.Debugf("Terminating gracefully.")
			return
		case cmd := <-c.commandCh:
			c.process(cmd)
		case <-tickCh:
			if len(c.active) > 0 {
				c.notify(&ConnectionNotice{Active: c.activeIDs()})
			}
		}
	}
}

func (c *Controller) process(cmd *command) {
	switch cmd.op {
	case opPending:
		if _, ok := c.active[cmd.id]; ok {
			c.log.Errorf("Connection %d is already active, ignoring pending request", cmd.id)
			return
		}
		if _, ok := c.pending[cmd.id]; !ok {
			c.pending[cmd.id] = []*outboundData{}
		}
	case opInsert:
		if old, ok := c.active[cmd.id]; ok {
			c.log.Errorf("Connection %d was inserted twice, replacing it", cmd.id)
			old.close()
		}
		c.active[cmd.id] = cmd.inbox
		for _, d := range c.pending[cmd.id] {
			cmd.inbox.push(d)
		}
		delete(c.pending, cmd.id)
	case opRemove:
		if cmd.inbox == nil {
			delete(c.pending, cmd.id)
			return
		}
		inbox, ok := c.active[cmd.id]
		if !ok {
			return
		}
		if inbox != cmd.inbox {
			c.log.Debugf("Ignoring removal of replaced connection %d", cmd.id)
			return
		}
		delete(c.active, cmd.id)
		inbox.close()
		c.log.Debugf("Removed connection %d", cmd.id)

		id := cmd.id
		c.notify(&ConnectionNotice{Closed: &id})
		if c.broadcast == BroadcastOn {
			c.notify(&ConnectionNotice{Active: c.activeIDs()})
		}
	case opSend:
		if inbox, ok := c.active[cmd.id]; ok {
			inbox.push(cmd.data)
			return
		}
		if buf, ok := c.pending[cmd.id]; ok {
			c.pending[cmd.id] = append(buf, cmd.data)
			return
		}
		c.log.Debugf("Dropping %d bytes for unknown connection %d", len(cmd.data.data), cmd.id)
	case opActive:
		cmd.replyCh <- c.activeIDs()
	}
}

func (c *Controller) activeIDs() []uint64 {
	ids := make([]uint64, 0, len(c.active))
	for id := range c.active {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (c *Controller) notify(n *ConnectionNotice) {
	select {
	case c.noticeCh <- n:
	case <-c.HaltCh():
	}
}

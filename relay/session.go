// SPDX-FileCopyrightText: © 2026 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

package relay

import (
	"errors"
	"io"
	"net"
	"time"

	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/netrequester/socks5"
)

type closeWriter interface {
	CloseWrite() error
}

// session relays a single TCP connection between a remote host and the
// client identified by returnAddress.
type session struct {
	p   *Provider
	log *logging.Logger

	id            uint64
	remoteAddr    string
	returnAddress ReturnAddress

	conn  net.Conn
	inbox *mailbox
}

// startSession connects to remoteAddr and relays until either side is done.
// A failed connect is reported to the client as a closed, empty response.
func (p *Provider) startSession(id uint64, remoteAddr string, returnAddress ReturnAddress) {
	ctx, cancelFn := p.Context()
	conn, err := p.dial(ctx, "tcp", remoteAddr)
	cancelFn()
	if err != nil {
		p.log.Errorf("Error while connecting to %s for connection %d: %v", remoteAddr, id, err)
		p.controller.Remove(id, nil)
		p.emit(socks5.NewResponse(id, []byte{}, true), returnAddress)
		return
	}

	s := &session{
		p:             p,
		log:           p.logBackend.GetLogger("session"),
		id:            id,
		remoteAddr:    remoteAddr,
		returnAddress: returnAddress,
		conn:          conn,
		inbox:         newMailbox(),
	}
	s.run()
}

func (s *session) run() {
	s.p.controller.Insert(s.id, s.inbox)
	n := s.p.activeSessions.Inc()
	s.log.Debugf("Starting proxy for %s on connection %d (currently there are %d proxies being handled)", s.remoteAddr, s.id, n)

	writerDone := make(chan struct{})
	readerDone := make(chan struct{})
	go s.writer(writerDone)
	go func() {
		select {
		case <-s.p.HaltCh():
			s.conn.Close()
		case <-readerDone:
		}
	}()

	s.reader()
	close(readerDone)
	s.conn.Close()
	s.inbox.close()
	<-writerDone

	s.p.controller.Remove(s.id, s.inbox)
	n = s.p.activeSessions.Dec()
	s.log.Debugf("Proxy for %s on connection %d is finished (currently there are %d proxies being handled)", s.remoteAddr, s.id, n)
}

// reader relays remote host data to the client until the remote host closes
// or errors out, then sends the final closed response.
func (s *session) reader() {
	buf := make([]byte, s.p.cfg.ReadBufferSize)
	for {
		if !s.throttle() {
			return
		}
		n, err := s.conn.Read(buf)
		if n == 0 && err == nil {
			continue
		}
		if err != nil && !isClosedErr(err) {
			s.log.Debugf("Connection %d: read from %s failed: %v", s.id, s.remoteAddr, err)
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		closed := err != nil
		if s.p.emit(socks5.NewResponse(s.id, data, closed), s.returnAddress) != nil {
			return
		}
		if closed {
			return
		}
	}
}

// throttle waits while the lane of this connection is backed up.  It
// returns false if the Provider halts meanwhile.
func (s *session) throttle() bool {
	maxLength := s.p.cfg.MaxLaneQueueLength
	for {
		depth, ok := s.p.lanes.Get(s.id)
		if !ok || depth <= maxLength {
			return true
		}
		s.log.Debugf("Connection %d: lane has %d pending messages, throttling", s.id, depth)
		select {
		case <-time.After(s.p.cfg.ThrottleIntervalDuration()):
		case <-s.p.HaltCh():
			return false
		}
	}
}

// writer relays client data to the remote host in order.
func (s *session) writer(done chan struct{}) {
	defer close(done)
	for {
		d, ok := s.inbox.next(s.p.HaltCh())
		if !ok {
			return
		}
		if len(d.data) > 0 {
			if _, err := s.conn.Write(d.data); err != nil {
				s.log.Debugf("Connection %d: write to %s failed: %v", s.id, s.remoteAddr, err)
				s.conn.Close()
				return
			}
		}
		if d.closed {
			s.log.Debugf("Connection %d: client closed its side", s.id)
			if cw, ok := s.conn.(closeWriter); ok {
				cw.CloseWrite()
			}
			s.conn.SetReadDeadline(time.Now().Add(s.p.cfg.CloseLingerDuration()))
			s.inbox.close()
			return
		}
	}
}

func isClosedErr(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed)
}

// SPDX-FileCopyrightText: © 2026 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package relay implements the exit side of the socks5 tunnel: it accepts
// connect and send requests arriving over the overlay, opens TCP
// connections to permitted remote hosts and relays their data back to the
// originating clients.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/netrequester/config"
	"github.com/katzenpost/netrequester/core/log"
	"github.com/katzenpost/netrequester/core/worker"
	"github.com/katzenpost/netrequester/lanes"
	"github.com/katzenpost/netrequester/overlay"
	"github.com/katzenpost/netrequester/socks5"
	"github.com/katzenpost/netrequester/stats"
)

// funnelCapacity bounds the number of responses waiting for the overlay
// writer.  Sessions block once it is full.
const funnelCapacity = 1

var (
	// ErrOverlayError is returned when the client daemon reports an error.
	ErrOverlayError = errors.New("relay: client daemon reported an error")

	// ErrUnsupportedFrame is returned for client daemon responses the
	// network requester does not know how to handle.
	ErrUnsupportedFrame = errors.New("relay: unsupported client daemon response")

	// ErrHalted is returned by operations interrupted by a shutdown.
	ErrHalted = errors.New("relay: halted")
)

// OverlayReader is the receiving half of the overlay transport.
type OverlayReader interface {
	ReadResponse() (*overlay.ServerResponse, error)
}

// OverlayWriter is the sending half of the overlay transport.  Close must
// unblock a concurrent ReadResponse of the matching reader.
type OverlayWriter interface {
	WriteRequest(*overlay.ClientRequest) error
	Close() error
}

// OutboundFilter decides which remote hosts may be contacted.
type OutboundFilter interface {
	Check(hostport string) bool
}

type dialFunc func(ctx context.Context, network, address string) (net.Conn, error)

type outboundMessage struct {
	msg           *socks5.Message
	returnAddress ReturnAddress
}

// Provider is the network requester service provider.
type Provider struct {
	worker.Worker

	cfg *config.Relay
	log *logging.Logger

	logBackend *log.Backend

	reader OverlayReader
	writer OverlayWriter
	filter OutboundFilter
	stats  *stats.Collector

	controller     *Controller
	lanes          *lanes.Registry
	activeSessions *Counter

	funnel   chan *outboundMessage
	noticeCh chan *ConnectionNotice
	dial     dialFunc

	fatalLock sync.Mutex
	fatalErr  error
	haltOnce  sync.Once
}

// New returns a Provider relaying for the overlay connection made of reader
// and writer.  filter may be nil only when cfg.OpenProxy is set, and
// collector may be nil to disable statistics.
func New(cfg *config.Relay, logBackend *log.Backend, reader OverlayReader, writer OverlayWriter, filter OutboundFilter, collector *stats.Collector) (*Provider, error) {
	if cfg == nil {
		return nil, errors.New("relay: no configuration")
	}
	if reader == nil || writer == nil {
		return nil, errors.New("relay: no overlay connection")
	}
	if filter == nil && !cfg.OpenProxy {
		return nil, errors.New("relay: an outbound request filter is required unless running as an open proxy")
	}

	p := &Provider{
		cfg:            cfg,
		log:            logBackend.GetLogger("relay"),
		logBackend:     logBackend,
		reader:         reader,
		writer:         writer,
		filter:         filter,
		stats:          collector,
		lanes:          lanes.New(),
		activeSessions: new(Counter),
		funnel:         make(chan *outboundMessage, funnelCapacity),
		noticeCh:       make(chan *ConnectionNotice, noticeQueueSize),
	}
	dialer := &net.Dialer{Timeout: cfg.DialTimeoutDuration()}
	p.dial = dialer.DialContext

	broadcast := BroadcastOn
	if cfg.DisableActiveConnectionBroadcast {
		broadcast = BroadcastOff
	}
	p.controller = NewController(logBackend.GetLogger("controller"), p.noticeCh, broadcast, cfg.BroadcastIntervalDuration())

	if collector != nil {
		collector.RegisterActiveSessions(func() float64 { return float64(p.activeSessions.Load()) })
		collector.RegisterLanes(p.lanes)
	}
	return p, nil
}

// ActiveSessions returns the number of sessions currently relaying.
func (p *Provider) ActiveSessions() int64 {
	return p.activeSessions.Load()
}

// Lanes returns the lane queue length registry fed by the client daemon.
func (p *Provider) Lanes() *lanes.Registry {
	return p.lanes
}

// Run relays until the overlay connection ends, a fatal error occurs or the
// Provider is halted.  A clean end of the overlay stream and a Halt both
// return nil.  The caller must call Halt after Run returns.
func (p *Provider) Run() error {
	p.controller.Start()
	p.Go(p.writeLoop)

	if p.cfg.OpenProxy {
		p.log.Warningf("Running as an open proxy, the outbound request filter is disabled.")
	}
	p.log.Noticef("All systems go. Waiting for requests from the overlay.")

	for {
		resp, err := p.reader.ReadResponse()
		if err != nil {
			if errors.Is(err, overlay.ErrMalformedFrame) {
				p.log.Errorf("Failed to decode client daemon response: %v", err)
				continue
			}
			if ferr := p.fatal(); ferr != nil {
				return ferr
			}
			if p.IsHalted() {
				return nil
			}
			if errors.Is(err, io.EOF) {
				p.log.Noticef("The client daemon closed the connection.")
				return nil
			}
			return fmt.Errorf("relay: failed to read from the client daemon: %w", err)
		}

		received, err := p.classify(resp)
		if err != nil {
			p.log.Errorf("%v", err)
			return err
		}
		if received != nil {
			p.dispatch(received)
		}
	}
}

// Halt shuts the Provider down, tearing down every session, and waits for
// all of its goroutines to return.
func (p *Provider) Halt() {
	p.haltOnce.Do(func() {
		p.Signal()
		p.writer.Close()
		p.controller.Halt()
		p.Worker.Wait()
		p.log.Debugf("Halted with %d active sessions.", p.activeSessions.Load())
	})
}

func (p *Provider) setFatal(err error) {
	p.fatalLock.Lock()
	if p.fatalErr == nil {
		p.fatalErr = err
	}
	p.fatalLock.Unlock()
	p.writer.Close()
}

func (p *Provider) fatal() error {
	p.fatalLock.Lock()
	defer p.fatalLock.Unlock()
	return p.fatalErr
}

func (p *Provider) classify(resp *overlay.ServerResponse) (*overlay.ReconstructedMessage, error) {
	switch {
	case resp.Received != nil:
		return resp.Received, nil
	case resp.LaneQueueLength != nil:
		l := resp.LaneQueueLength
		if !p.lanes.Update(l.Lane, l.Length) {
			p.log.Warningf("Failed to update the queue length of lane %d, the registry is busy", l.Lane)
		}
		return nil, nil
	case resp.Error != nil:
		return nil, fmt.Errorf("%w: %s", ErrOverlayError, resp.Error.Message)
	case resp.SelfAddress != nil:
		return nil, fmt.Errorf("%w: self address", ErrUnsupportedFrame)
	default:
		return nil, ErrUnsupportedFrame
	}
}

func (p *Provider) dispatch(received *overlay.ReconstructedMessage) {
	msg, err := socks5.ParseMessage(received.Message)
	if err != nil {
		p.log.Errorf("Failed to deserialize received message: %v", err)
		return
	}

	switch {
	case msg.Request != nil && msg.Request.Connect != nil:
		p.onConnect(msg.Request.Connect, received.SenderTag)
	case msg.Request != nil && msg.Request.Send != nil:
		req := msg.Request.Send
		if p.stats != nil {
			p.stats.RecordConn(req.ConnID, len(req.Data), stats.Inbound)
		}
		p.controller.Send(req.ConnID, req.Data, req.Closed)
	default:
		p.log.Debugf("Ignoring unexpected response message for connection %d", msg.ConnID())
	}
}

func (p *Provider) onConnect(req *socks5.ConnectRequest, tag *overlay.SenderTag) {
	returnAddress, ok := ResolveReturnAddress(req.ReturnAddress, tag)
	if !ok {
		p.log.Warningf("Connection %d to %s has no way of returning data to the sender, ignoring it", req.ConnID, req.RemoteAddr)
		return
	}

	if !p.cfg.OpenProxy && !p.filter.Check(req.RemoteAddr) {
		text := fmt.Sprintf("Domain %q failed filter check", req.RemoteAddr)
		p.log.Infof("Rejecting connection %d: %s", req.ConnID, text)
		p.emit(socks5.NewNetworkRequesterResponse(req.ConnID, text), returnAddress)
		return
	}

	if p.stats != nil {
		p.stats.Connected(req.ConnID, req.RemoteAddr)
	}
	p.controller.Pending(req.ConnID)
	id, remoteAddr := req.ConnID, req.RemoteAddr
	p.Go(func() {
		p.startSession(id, remoteAddr, returnAddress)
	})
}

// emit queues msg for delivery to returnAddress, blocking while the funnel
// is full.
func (p *Provider) emit(msg *socks5.Message, returnAddress ReturnAddress) error {
	select {
	case p.funnel <- &outboundMessage{msg: msg, returnAddress: returnAddress}:
		return nil
	case <-p.HaltCh():
		return ErrHalted
	}
}

func (p *Provider) writeLoop() {
	for {
		var err error
		select {
		case <-p.HaltCh():
			return
		case m := <-p.funnel:
			err = p.writeResponse(m)
		case n := <-p.noticeCh:
			err = p.writeNotice(n)
		}
		if err != nil {
			p.log.Errorf("Failed to write to the client daemon: %v", err)
			p.setFatal(fmt.Errorf("relay: failed to write to the client daemon: %w", err))
			return
		}
	}
}

func (p *Provider) writeResponse(m *outboundMessage) error {
	id := m.msg.ConnID()
	b, err := m.msg.Marshal()
	if err != nil {
		return err
	}
	if p.stats != nil {
		p.stats.RecordConn(id, m.msg.Size(), stats.Outbound)
	}
	if err = p.writer.WriteRequest(m.returnAddress.FormatResponse(b, id)); err != nil {
		return err
	}
	if p.stats != nil && m.msg.Response != nil && m.msg.Response.IsClosed {
		p.stats.Disconnected(id)
	}
	return nil
}

func (p *Provider) writeNotice(n *ConnectionNotice) error {
	if n.Closed != nil {
		return p.writer.WriteRequest(&overlay.ClientRequest{
			ClosedConnection: &overlay.ClosedConnection{ConnID: *n.Closed},
		})
	}
	for _, id := range n.Active {
		err := p.writer.WriteRequest(&overlay.ClientRequest{
			GetLaneQueueLength: &overlay.GetLaneQueueLength{ConnID: id},
		})
		if err != nil {
			return err
		}
	}
	return nil
}

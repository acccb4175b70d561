// SPDX-FileCopyrightText: © 2026 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package overlay implements the link between the network requester and the
// overlay client daemon: the frames exchanged with it and a websocket
// connection that carries them.
package overlay

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/gorilla/websocket"
	"gopkg.in/op/go-logging.v1"
)

const closeGracePeriod = time.Second

// Conn is a websocket connection to the overlay client daemon.  It is split
// into a Reader and a Writer which may each be used by one goroutine.
type Conn struct {
	ws  *websocket.Conn
	log *logging.Logger
}

// Dial connects to the client daemon listening at address.
func Dial(ctx context.Context, address string, handshakeTimeout time.Duration, log *logging.Logger) (*Conn, error) {
	dialer := &websocket.Dialer{
		HandshakeTimeout: handshakeTimeout,
	}
	ws, _, err := dialer.DialContext(ctx, address, nil)
	if err != nil {
		return nil, fmt.Errorf("overlay: failed to connect to client daemon at %s: %w", address, err)
	}
	log.Noticef("Connected to client daemon at %s", address)
	return NewConn(ws, log), nil
}

// NewConn wraps an established websocket connection.
func NewConn(ws *websocket.Conn, log *logging.Logger) *Conn {
	return &Conn{ws: ws, log: log}
}

// Split returns the read and write halves of the connection.
func (c *Conn) Split() (*Reader, *Writer) {
	return &Reader{c: c}, &Writer{c: c}
}

// Close sends a close frame and tears down the connection.  It is safe to
// call concurrently with the read and write halves.
func (c *Conn) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGracePeriod))
	return c.ws.Close()
}

// Reader is the read half of a Conn.
type Reader struct {
	c *Conn
}

// ReadResponse blocks until the next frame from the client daemon arrives.
// A frame that fails to decode yields an error wrapping ErrMalformedFrame,
// after which reading may continue.  A clean close yields io.EOF.
func (r *Reader) ReadResponse() (*ServerResponse, error) {
	for {
		mt, data, err := r.c.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, io.EOF
			}
			return nil, err
		}
		if mt != websocket.BinaryMessage {
			r.c.log.Debugf("Ignoring websocket message of type %d", mt)
			continue
		}
		return DeserializeServerResponse(data)
	}
}

// Writer is the write half of a Conn.
type Writer struct {
	c *Conn
}

// WriteRequest serializes and sends a frame to the client daemon.
func (w *Writer) WriteRequest(req *ClientRequest) error {
	b, err := req.Serialize()
	if err != nil {
		return err
	}
	return w.c.ws.WriteMessage(websocket.BinaryMessage, b)
}

// Close closes the underlying connection, unblocking the Reader.
func (w *Writer) Close() error {
	return w.c.Close()
}

// SPDX-FileCopyrightText: © 2026 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package socks5 provides the messages tunneled through the overlay between
// the socks5 client and the network requester.  The socks5 handshake itself
// happens on the client side; only its outcome travels in these messages.
package socks5

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/katzenpost/netrequester/overlay"
)

// ErrInvalidMessage is returned for payloads that fail to decode or do not
// carry exactly one variant.
var ErrInvalidMessage = errors.New("socks5: invalid message")

// ConnectionID correlates every message of one proxied TCP connection.
type ConnectionID = uint64

// ConnectRequest asks the network requester to open a connection to
// RemoteAddr.  ReturnAddress is set by clients that reveal their address.
type ConnectRequest struct {
	ConnID        ConnectionID
	RemoteAddr    string
	ReturnAddress *overlay.Recipient `cbor:",omitempty"`
}

// SendRequest carries data for an established connection.  Closed marks
// the last data the client will send.
type SendRequest struct {
	ConnID ConnectionID
	Data   []byte
	Closed bool
}

// Request is a client to network requester request.
type Request struct {
	Connect *ConnectRequest `cbor:",omitempty"`
	Send    *SendRequest    `cbor:",omitempty"`
}

// Response carries data read from the remote host back to the client.
type Response struct {
	ConnID   ConnectionID
	Data     []byte
	IsClosed bool
}

// NetworkRequesterResponse is a notice from the network requester itself,
// such as a rejected connect.
type NetworkRequesterResponse struct {
	ConnID  ConnectionID
	Message string
}

// Message is the envelope of everything tunneled between the socks5 client
// and the network requester.
type Message struct {
	Request                  *Request                  `cbor:",omitempty"`
	Response                 *Response                 `cbor:",omitempty"`
	NetworkRequesterResponse *NetworkRequesterResponse `cbor:",omitempty"`
}

// NewConnect returns a connect request message.
func NewConnect(id ConnectionID, remoteAddr string, returnAddress *overlay.Recipient) *Message {
	return &Message{Request: &Request{Connect: &ConnectRequest{
		ConnID:        id,
		RemoteAddr:    remoteAddr,
		ReturnAddress: returnAddress,
	}}}
}

// NewSend returns a send request message.
func NewSend(id ConnectionID, data []byte, closed bool) *Message {
	return &Message{Request: &Request{Send: &SendRequest{ConnID: id, Data: data, Closed: closed}}}
}

// NewResponse returns a response message.
func NewResponse(id ConnectionID, data []byte, closed bool) *Message {
	return &Message{Response: &Response{ConnID: id, Data: data, IsClosed: closed}}
}

// NewNetworkRequesterResponse returns a network requester notice message.
func NewNetworkRequesterResponse(id ConnectionID, message string) *Message {
	return &Message{NetworkRequesterResponse: &NetworkRequesterResponse{ConnID: id, Message: message}}
}

// ConnID returns the connection the message belongs to.
func (m *Message) ConnID() ConnectionID {
	switch {
	case m.Request != nil && m.Request.Connect != nil:
		return m.Request.Connect.ConnID
	case m.Request != nil && m.Request.Send != nil:
		return m.Request.Send.ConnID
	case m.Response != nil:
		return m.Response.ConnID
	case m.NetworkRequesterResponse != nil:
		return m.NetworkRequesterResponse.ConnID
	}
	return 0
}

// Size returns the number of proxied data bytes in the message.
func (m *Message) Size() int {
	switch {
	case m.Request != nil && m.Request.Send != nil:
		return len(m.Request.Send.Data)
	case m.Response != nil:
		return len(m.Response.Data)
	}
	return 0
}

func (m *Message) validate() error {
	n := 0
	if m.Request != nil {
		n++
		if (m.Request.Connect == nil) == (m.Request.Send == nil) {
			return fmt.Errorf("%w: request must carry exactly one of connect or send", ErrInvalidMessage)
		}
	}
	if m.Response != nil {
		n++
	}
	if m.NetworkRequesterResponse != nil {
		n++
	}
	if n != 1 {
		return fmt.Errorf("%w: message carries %d variants", ErrInvalidMessage, n)
	}
	return nil
}

// Marshal encodes the message.
func (m *Message) Marshal() ([]byte, error) {
	if err := m.validate(); err != nil {
		return nil, err
	}
	return cbor.Marshal(m)
}

// Unmarshal decodes b into the message.
func (m *Message) Unmarshal(b []byte) error {
	if err := cbor.Unmarshal(b, m); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return m.validate()
}

// ParseMessage decodes a message received from the overlay.
func ParseMessage(b []byte) (*Message, error) {
	m := new(Message)
	if err := m.Unmarshal(b); err != nil {
		return nil, err
	}
	return m, nil
}

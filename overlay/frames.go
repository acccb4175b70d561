// SPDX-FileCopyrightText: © 2026 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

package overlay

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// ErrMalformedFrame is returned when a frame fails to deserialize or does
// not carry exactly one variant.
var ErrMalformedFrame = errors.New("overlay: malformed frame")

// Send asks the client daemon to deliver Message to a known Recipient.
type Send struct {
	Recipient Recipient
	Message   []byte
	ConnID    *uint64 `cbor:",omitempty"`
}

// Reply asks the client daemon to deliver Message using the single use
// reply blocks held for an anonymous SenderTag.
type Reply struct {
	Message   []byte
	SenderTag SenderTag
	ConnID    *uint64 `cbor:",omitempty"`
}

// ClosedConnection tells the client daemon that a connection ended and that
// its transmission lane can be dropped.
type ClosedConnection struct {
	ConnID uint64
}

// GetLaneQueueLength asks the client daemon to report the backlog of the
// transmission lane of a connection.
type GetLaneQueueLength struct {
	ConnID uint64
}

// ClientRequest is a frame sent from the relay to the client daemon.
// Exactly one field is set.
type ClientRequest struct {
	Send               *Send               `cbor:",omitempty"`
	Reply              *Reply              `cbor:",omitempty"`
	ClosedConnection   *ClosedConnection   `cbor:",omitempty"`
	GetLaneQueueLength *GetLaneQueueLength `cbor:",omitempty"`
}

func (r *ClientRequest) variants() int {
	n := 0
	for _, set := range []bool{
		r.Send != nil,
		r.Reply != nil,
		r.ClosedConnection != nil,
		r.GetLaneQueueLength != nil,
	} {
		if set {
			n++
		}
	}
	return n
}

// Serialize encodes the request for the wire.
func (r *ClientRequest) Serialize() ([]byte, error) {
	if r.variants() != 1 {
		return nil, fmt.Errorf("%w: client request has %d variants", ErrMalformedFrame, r.variants())
	}
	return cbor.Marshal(r)
}

// DeserializeClientRequest decodes a ClientRequest frame.
func DeserializeClientRequest(b []byte) (*ClientRequest, error) {
	r := new(ClientRequest)
	if err := cbor.Unmarshal(b, r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if r.variants() != 1 {
		return nil, fmt.Errorf("%w: client request has %d variants", ErrMalformedFrame, r.variants())
	}
	return r, nil
}

// ReconstructedMessage is a message the overlay reassembled for us, along
// with the tag of its sender when the sender attached reply blocks.
type ReconstructedMessage struct {
	Message   []byte
	SenderTag *SenderTag `cbor:",omitempty"`
}

// LaneQueueLength reports the backlog of a transmission lane.
type LaneQueueLength struct {
	Lane   uint64
	Length int
}

// Error is a fatal error reported by the client daemon.
type Error struct {
	Message string
}

// SelfAddress reports the overlay address of the client daemon.
type SelfAddress struct {
	Address Recipient
}

// ServerResponse is a frame sent from the client daemon to the relay.
// A frame that decodes with no field set is a variant this version does
// not know about.
type ServerResponse struct {
	Received        *ReconstructedMessage `cbor:",omitempty"`
	LaneQueueLength *LaneQueueLength      `cbor:",omitempty"`
	Error           *Error                `cbor:",omitempty"`
	SelfAddress     *SelfAddress          `cbor:",omitempty"`
}

// Serialize encodes the response for the wire.
func (r *ServerResponse) Serialize() ([]byte, error) {
	return cbor.Marshal(r)
}

// DeserializeServerResponse decodes a ServerResponse frame.
func DeserializeServerResponse(b []byte) (*ServerResponse, error) {
	r := new(ServerResponse)
	if err := cbor.Unmarshal(b, r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return r, nil
}

// SPDX-FileCopyrightText: © 2026 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

package overlay

import (
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/require"
)

func testRecipient() Recipient {
	r := Recipient{}
	for i := 0; i < KeyLength; i++ {
		r.Identity[i] = byte(i)
		r.Encryption[i] = byte(0x40 + i)
		r.Gateway[i] = byte(0x80 + i)
	}
	return r
}

func TestClientRequestRoundTrip(t *testing.T) {
	require := require.New(t)

	connID := uint64(7)
	tag := SenderTag{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	for _, req := range []*ClientRequest{
		{Send: &Send{Recipient: testRecipient(), Message: []byte("hello"), ConnID: &connID}},
		{Send: &Send{Recipient: testRecipient(), Message: []byte("no conn id")}},
		{Reply: &Reply{Message: []byte("anonymous"), SenderTag: tag, ConnID: &connID}},
		{ClosedConnection: &ClosedConnection{ConnID: 42}},
		{GetLaneQueueLength: &GetLaneQueueLength{ConnID: 43}},
	} {
		b, err := req.Serialize()
		require.NoError(err)
		decoded, err := DeserializeClientRequest(b)
		require.NoError(err)
		require.Equal(req, decoded)
	}
}

func TestClientRequestVariants(t *testing.T) {
	require := require.New(t)

	_, err := (&ClientRequest{}).Serialize()
	require.ErrorIs(err, ErrMalformedFrame)

	both := &ClientRequest{
		ClosedConnection:   &ClosedConnection{ConnID: 1},
		GetLaneQueueLength: &GetLaneQueueLength{ConnID: 1},
	}
	_, err = both.Serialize()
	require.ErrorIs(err, ErrMalformedFrame)

	raw, err := cbor.Marshal(both)
	require.NoError(err)
	_, err = DeserializeClientRequest(raw)
	require.ErrorIs(err, ErrMalformedFrame)
}

func TestServerResponseRoundTrip(t *testing.T) {
	require := require.New(t)

	tag := SenderTag{0xff}
	for _, resp := range []*ServerResponse{
		{Received: &ReconstructedMessage{Message: []byte("payload"), SenderTag: &tag}},
		{Received: &ReconstructedMessage{Message: []byte("no reply blocks")}},
		{LaneQueueLength: &LaneQueueLength{Lane: 3, Length: 42}},
		{Error: &Error{Message: "gateway went away"}},
		{SelfAddress: &SelfAddress{Address: testRecipient()}},
	} {
		b, err := resp.Serialize()
		require.NoError(err)
		decoded, err := DeserializeServerResponse(b)
		require.NoError(err)
		require.Equal(resp, decoded)
	}
}

func TestServerResponseMalformed(t *testing.T) {
	require := require.New(t)

	_, err := DeserializeServerResponse([]byte{0xff, 0x00, 0x13})
	require.ErrorIs(err, ErrMalformedFrame)
}

// SPDX-FileCopyrightText: © 2026 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

package socks5

import (
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/require"

	"github.com/katzenpost/netrequester/overlay"
)

func TestMessageRoundTrip(t *testing.T) {
	require := require.New(t)

	recipient := &overlay.Recipient{}
	recipient.Identity[0] = 1
	recipient.Gateway[31] = 2

	for _, m := range []*Message{
		NewConnect(1, "example.com:443", nil),
		NewConnect(2, "10.1.2.3:80", recipient),
		NewSend(3, []byte("GET / HTTP/1.0\r\n\r\n"), false),
		NewSend(4, []byte("bye"), true),
		NewResponse(5, []byte("HTTP/1.0 200 OK"), false),
		NewNetworkRequesterResponse(6, `Domain "blocked.example:80" failed filter check`),
	} {
		b, err := m.Marshal()
		require.NoError(err)
		decoded, err := ParseMessage(b)
		require.NoError(err)
		require.Equal(m, decoded)
		require.Equal(m.ConnID(), decoded.ConnID())
	}
}

func TestMessageSize(t *testing.T) {
	require := require.New(t)

	require.Equal(0, NewConnect(1, "a:1", nil).Size())
	require.Equal(3, NewSend(1, []byte("abc"), false).Size())
	require.Equal(5, NewResponse(1, []byte("hello"), true).Size())
	require.Equal(0, NewNetworkRequesterResponse(1, "nope").Size())
	require.Equal(uint64(9), NewResponse(9, nil, true).ConnID())
}

func TestMessageInvalid(t *testing.T) {
	require := require.New(t)

	_, err := ParseMessage([]byte("definitely not cbor \xff"))
	require.ErrorIs(err, ErrInvalidMessage)

	_, err = (&Message{}).Marshal()
	require.ErrorIs(err, ErrInvalidMessage)

	for _, m := range []*Message{
		{},
		{Request: &Request{}},
		{Request: &Request{Connect: &ConnectRequest{}, Send: &SendRequest{}}},
		{Response: &Response{}, NetworkRequesterResponse: &NetworkRequesterResponse{}},
	} {
		raw, err := cbor.Marshal(m)
		require.NoError(err)
		_, err = ParseMessage(raw)
		require.ErrorIs(err, ErrInvalidMessage)
	}
}

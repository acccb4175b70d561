// SPDX-FileCopyrightText: © 2026 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

package relay

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/katzenpost/netrequester/overlay"
)

func testRecipient(b byte) overlay.Recipient {
	var r overlay.Recipient
	for i := range r.Identity {
		r.Identity[i] = b
		r.Encryption[i] = b + 1
		r.Gateway[i] = b + 2
	}
	return r
}

func testSenderTag(b byte) overlay.SenderTag {
	var t overlay.SenderTag
	for i := range t {
		t[i] = b
	}
	return t
}

func TestResolveReturnAddress(t *testing.T) {
	require := require.New(t)

	r := testRecipient(1)
	tag := testSenderTag(9)

	a, ok := ResolveReturnAddress(&r, &tag)
	require.True(ok)
	require.True(a.isKnown(), "an explicit recipient wins over the sender tag")
	require.Equal(r.String(), a.String())

	a, ok = ResolveReturnAddress(nil, &tag)
	require.True(ok)
	require.True(a.isAnonymous())
	require.Equal("anonymous:"+tag.String(), a.String())

	a, ok = ResolveReturnAddress(&r, nil)
	require.True(ok)
	require.True(a.isKnown())

	a, ok = ResolveReturnAddress(nil, nil)
	require.False(ok)
	require.False(a.isKnown())
	require.False(a.isAnonymous())
	require.Equal("unresolved", a.String())
}

func TestReturnAddressIsACopy(t *testing.T) {
	require := require.New(t)

	r := testRecipient(1)
	a, ok := ResolveReturnAddress(&r, nil)
	require.True(ok)
	r.Identity[0] = 0xff

	req := a.FormatResponse([]byte("x"), 1)
	require.Equal(byte(1), req.Send.Recipient.Identity[0])
}

func TestFormatResponse(t *testing.T) {
	require := require.New(t)

	r := testRecipient(3)
	req := KnownAddress(r).FormatResponse([]byte("payload"), 42)
	require.NotNil(req.Send)
	require.Nil(req.Reply)
	require.Equal(r, req.Send.Recipient)
	require.Equal([]byte("payload"), req.Send.Message)
	require.NotNil(req.Send.ConnID)
	require.Equal(uint64(42), *req.Send.ConnID)
	_, err := req.Serialize()
	require.NoError(err)

	tag := testSenderTag(4)
	req = AnonymousAddress(tag).FormatResponse([]byte("payload"), 43)
	require.Nil(req.Send)
	require.NotNil(req.Reply)
	require.Equal(tag, req.Reply.SenderTag)
	require.Equal([]byte("payload"), req.Reply.Message)
	require.Equal(uint64(43), *req.Reply.ConnID)

	require.Panics(func() { ReturnAddress{}.FormatResponse(nil, 1) })
}

// SPDX-FileCopyrightText: © 2026 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

package relay

import (
	"github.com/katzenpost/netrequester/overlay"
)

type addressKind uint8

const (
	knownAddress addressKind = iota + 1
	anonymousAddress
)

// ReturnAddress is where responses of a connection are sent: either a known
// overlay Recipient or the SenderTag of an anonymous client.  It is a value
// type; once resolved for a connect it never changes.
type ReturnAddress struct {
	kind      addressKind
	recipient overlay.Recipient
	tag       overlay.SenderTag
}

// KnownAddress returns a ReturnAddress for a known recipient.
func KnownAddress(r overlay.Recipient) ReturnAddress {
	return ReturnAddress{kind: knownAddress, recipient: r}
}

// AnonymousAddress returns a ReturnAddress for an anonymous sender.
func AnonymousAddress(t overlay.SenderTag) ReturnAddress {
	return ReturnAddress{kind: anonymousAddress, tag: t}
}

// ResolveReturnAddress picks the return address of a connect request.  The
// explicit recipient always wins over the sender tag since it is the easier
// one to use.  It returns false when neither is present.
func ResolveReturnAddress(explicit *overlay.Recipient, tag *overlay.SenderTag) (ReturnAddress, bool) {
	switch {
	case explicit != nil:
		return KnownAddress(*explicit), true
	case tag != nil:
		return AnonymousAddress(*tag), true
	default:
		return ReturnAddress{}, false
	}
}

func (a ReturnAddress) isKnown() bool {
	return a.kind == knownAddress
}

func (a ReturnAddress) isAnonymous() bool {
	return a.kind == anonymousAddress
}

// FormatResponse wraps payload in the client daemon request that delivers
// it to this address.
func (a ReturnAddress) FormatResponse(payload []byte, connID uint64) *overlay.ClientRequest {
	id := connID
	switch {
	case a.isKnown():
		return &overlay.ClientRequest{Send: &overlay.Send{
			Recipient: a.recipient,
			Message:   payload,
			ConnID:    &id,
		}}
	case a.isAnonymous():
		return &overlay.ClientRequest{Reply: &overlay.Reply{
			Message:   payload,
			SenderTag: a.tag,
			ConnID:    &id,
		}}
	}
	panic("BUG: FormatResponse called on an unresolved ReturnAddress")
}

func (a ReturnAddress) String() string {
	switch {
	case a.isKnown():
		return a.recipient.String()
	case a.isAnonymous():
		return "anonymous:" + a.tag.String()
	default:
		return "unresolved"
	}
}

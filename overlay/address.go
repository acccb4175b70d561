// SPDX-FileCopyrightText: © 2026 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

package overlay

import (
	"encoding/hex"
	"fmt"
)

const (
	// KeyLength is the length of each component of a Recipient.
	KeyLength = 32

	// SenderTagLength is the length of an anonymous sender tag.
	SenderTagLength = 16
)

// Recipient is the overlay address of a known client: its identity key,
// its encryption key and the identity of the gateway it is attached to.
type Recipient struct {
	Identity   [KeyLength]byte
	Encryption [KeyLength]byte
	Gateway    [KeyLength]byte
}

// String returns the "identity.encryption@gateway" hex form.
func (r Recipient) String() string {
	return fmt.Sprintf("%x.%x@%x", r.Identity[:], r.Encryption[:], r.Gateway[:])
}

// SenderTag is an opaque handle the overlay uses to route a reply back to
// an anonymous sender.
type SenderTag [SenderTagLength]byte

// String returns the hex form of the tag.
func (t SenderTag) String() string {
	return hex.EncodeToString(t[:])
}

// Package receipt implements the deterministic binary encoding and ed25519
// signature scheme for SignedState, the per-request payment ticket that
// flows from sender to provider over the X-Payment-Channel-State header.
//
// The wire layout must stay bit-exact with the on-chain contract's own
// verification of the same bytes; any drift here would let a sender settle
// a different amount on-chain than the provider accepted off-chain.
package receipt

import (
	"crypto/ed25519"
	"encoding/binary"
	"fmt"
	"unicode/utf8"

	"lukechampine.com/uint128"
)

// MaxChannelNameLen bounds the length-prefixed channel name field so a
// malformed or hostile header can't force an unbounded allocation.
const MaxChannelNameLen = 512

// fixedFieldSize is the fixed overhead of a decoded header: 4-byte name length
// prefix, 16-byte balance, 64-byte signature. The channel name itself is
// variable length and sits between the length prefix and the balance.
const (
	lenPrefixSize  = 4
	balanceSize    = 16
	signatureSize  = ed25519.SignatureSize
	fixedFieldSize = lenPrefixSize + balanceSize + signatureSize
)

// State is the unsigned tuple a sender authorizes: a cumulative spend on a
// named channel. SpentBalance is monotonic, never a delta.
type State struct {
	ChannelName  string
	SpentBalance uint128.Uint128
}

// SignedState is a State plus the ed25519 signature covering its canonical
// encoding. This is what the sender transmits and the provider persists.
type SignedState struct {
	State
	Signature [signatureSize]byte
}

// MalformedError signals the input bytes don't describe a well-formed
// State/SignedState — bad length, truncated field, non-UTF8 name, etc.
type MalformedError struct {
	Reason string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed payment state: %s", e.Reason)
}

// Encode serializes s using the canonical layout:
//
//	len(u32 LE) ∥ channel_name(utf8) ∥ spent_balance(u128 LE)
//
// This is exactly the byte string that gets ed25519-signed and that the
// on-chain contract re-derives when settling.
func Encode(s State) ([]byte, error) {
	if len(s.ChannelName) > MaxChannelNameLen {
		return nil, &MalformedError{Reason: "channel name too long"}
	}

	buf := make([]byte, lenPrefixSize+len(s.ChannelName)+balanceSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(s.ChannelName)))
	copy(buf[4:4+len(s.ChannelName)], s.ChannelName)
	putUint128LE(buf[4+len(s.ChannelName):], s.SpentBalance)

	return buf, nil
}

// Decode parses the canonical (name, spent_balance) layout produced by
// Encode. It does not touch a signature — callers verifying a full header
// should use DecodeHeader instead.
func Decode(b []byte) (State, error) {
	if len(b) < lenPrefixSize {
		return State{}, &MalformedError{Reason: "truncated length prefix"}
	}

	nameLen := binary.LittleEndian.Uint32(b[0:4])
	if nameLen > MaxChannelNameLen {
		return State{}, &MalformedError{Reason: "channel name too long"}
	}

	want := lenPrefixSize + int(nameLen) + balanceSize
	if len(b) != want {
		return State{}, &MalformedError{Reason: "length mismatch"}
	}

	name := b[4 : 4+nameLen]
	if !utf8.Valid(name) {
		return State{}, &MalformedError{Reason: "channel name is not valid UTF-8"}
	}

	spent := uint128FromLE(b[4+nameLen:])

	return State{
		ChannelName:  string(name),
		SpentBalance: spent,
	}, nil
}

// EncodeHeader serializes the full SignedState as transported in the
// X-Payment-Channel-State header: the canonical (name, spent_balance)
// encoding with the raw 64-byte signature appended.
func EncodeHeader(s SignedState) ([]byte, error) {
	body, err := Encode(s.State)
	if err != nil {
		return nil, err
	}
	return append(body, s.Signature[:]...), nil
}

// DecodeHeader parses the full header layout produced by EncodeHeader.
func DecodeHeader(b []byte) (SignedState, error) {
	if len(b) < fixedFieldSize {
		return SignedState{}, &MalformedError{Reason: "header too short"}
	}

	sigStart := len(b) - signatureSize
	state, err := Decode(b[:sigStart])
	if err != nil {
		return SignedState{}, err
	}

	var sig [signatureSize]byte
	copy(sig[:], b[sigStart:])

	return SignedState{State: state, Signature: sig}, nil
}

func putUint128LE(dst []byte, v uint128.Uint128) {
	// uint128.Uint128.PutBytes already writes little-endian, matching the
	// wire format here directly.
	v.PutBytes(dst)
}

func uint128FromLE(src []byte) uint128.Uint128 {
	return uint128.FromBytes(src)
}

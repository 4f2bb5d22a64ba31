package receipt

import (
	"crypto/ed25519"
	"fmt"
)

// SignatureError signals an ed25519 verification failure: either the
// signature doesn't match, or the key/signature are the wrong length.
type SignatureError struct {
	Reason string
}

func (e *SignatureError) Error() string {
	return fmt.Sprintf("signature invalid: %s", e.Reason)
}

// Sign computes the canonical digest of s.State and signs it with priv,
// returning a fully populated SignedState.
func Sign(priv ed25519.PrivateKey, s State) (SignedState, error) {
	msg, err := Encode(s)
	if err != nil {
		return SignedState{}, err
	}

	sig := ed25519.Sign(priv, msg)

	var out SignedState
	out.State = s
	copy(out.Signature[:], sig)
	return out, nil
}

// Verify recomputes the canonical digest of s.State and checks the ed25519
// signature against senderPK. Non-canonical signature encodings (wrong
// length keys/sigs) are rejected before any scalar math runs; stdlib
// ed25519.Verify additionally rejects a non-canonical S component (S >= L)
// by construction, which is what spec.md §4.1 requires to prevent
// malleability — we rely on that rather than reimplementing scalar range
// checks here.
func Verify(s SignedState, senderPK ed25519.PublicKey) error {
	if len(senderPK) != ed25519.PublicKeySize {
		return &SignatureError{Reason: "invalid public key length"}
	}

	msg, err := Encode(s.State)
	if err != nil {
		return &SignatureError{Reason: "cannot encode state: " + err.Error()}
	}

	if !ed25519.Verify(senderPK, msg, s.Signature[:]) {
		return &SignatureError{Reason: "ed25519 verification failed"}
	}

	return nil
}

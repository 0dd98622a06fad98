package vm

import (
	"crypto/sha256"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// ---------------------------------------------------------------------------
// Wire format: canonical CBOR encoding of portable Scripts
// ---------------------------------------------------------------------------
//
// The JSON portable form is the interchange contract; the wire form is a
// compact canonical CBOR encoding of the same structure, suitable for
// content addressing and on-disk script caches.

// cborEncMode uses canonical options for deterministic encoding.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("wire: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// MarshalScript serializes a Script to canonical CBOR bytes.
func MarshalScript(s *Script) ([]byte, error) {
	data, err := cborEncMode.Marshal(s.ToPortable())
	if err != nil {
		return nil, fmt.Errorf("wire: marshal script: %w", err)
	}
	return data, nil
}

// UnmarshalScript deserializes and validates a Script from CBOR bytes.
func UnmarshalScript(data []byte) (*Script, error) {
	var p Portable
	if err := cbor.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("wire: unmarshal script: %w", err)
	}
	return FromPortable(&p)
}

// ContentHash returns the SHA-256 digest of the Script's canonical wire
// form. Behaviorally identical scripts produced by the same compiler
// version hash identically.
func ContentHash(s *Script) ([32]byte, error) {
	data, err := MarshalScript(s)
	if err != nil {
		return [32]byte{}, err
	}
	return sha256.Sum256(data), nil
}

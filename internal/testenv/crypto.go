package testenv

import (
	"crypto/ed25519"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"

	"github.com/CosmWasm/wasmbridge/host"
)

func secp256k1Verify(hash, signature, pubkey []byte) (bool, error) {
	if len(hash) != 32 {
		return false, host.Rejectf("invalid hash length %d", len(hash))
	}
	if len(signature) != 64 {
		return false, host.Rejectf("invalid signature length %d", len(signature))
	}
	key, err := secp256k1.ParsePubKey(pubkey)
	if err != nil {
		return false, host.Rejectf("invalid pubkey: %v", err)
	}
	var r, s secp256k1.ModNScalar
	if r.SetByteSlice(signature[:32]) || s.SetByteSlice(signature[32:]) {
		return false, host.Rejectf("invalid signature: scalar overflow")
	}
	if r.IsZero() || s.IsZero() {
		return false, nil
	}
	return ecdsa.NewSignature(&r, &s).Verify(hash, key), nil
}

// secp256k1Recover returns the uncompressed public key that produced
// signature over hash.
func secp256k1Recover(hash, signature []byte, param uint8) ([]byte, error) {
	if len(hash) != 32 {
		return nil, host.Rejectf("invalid hash length %d", len(hash))
	}
	if len(signature) != 64 {
		return nil, host.Rejectf("invalid signature length %d", len(signature))
	}
	if param > 1 {
		return nil, host.Rejectf("invalid recovery param %d", param)
	}
	// compact form: header byte 27 + recovery id, uncompressed key
	compact := make([]byte, 0, 65)
	compact = append(compact, 27+param)
	compact = append(compact, signature...)
	key, _, err := ecdsa.RecoverCompact(compact, hash)
	if err != nil {
		return nil, host.Rejectf("recover pubkey: %v", err)
	}
	return key.SerializeUncompressed(), nil
}

func ed25519Verify(message, signature, pubkey []byte) (bool, error) {
	if len(signature) != ed25519.SignatureSize {
		return false, host.Rejectf("invalid signature length %d", len(signature))
	}
	if len(pubkey) != ed25519.PublicKeySize {
		return false, host.Rejectf("invalid pubkey length %d", len(pubkey))
	}
	return ed25519.Verify(pubkey, message, signature), nil
}

// ed25519BatchVerify is true for an empty batch.
func ed25519BatchVerify(messages, signatures, pubkeys [][]byte) (bool, error) {
	if len(messages) != len(signatures) || len(signatures) != len(pubkeys) {
		return false, host.Rejectf("batch lengths differ: %d messages, %d signatures, %d pubkeys",
			len(messages), len(signatures), len(pubkeys))
	}
	for i := range signatures {
		ok, err := ed25519Verify(messages[i], signatures[i], pubkeys[i])
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// Package signature implements the Ed25519-SHA3-512 suite: RFC 8032
// Ed25519 with SHA3-512 swapped in for the internal SHA-512. Signatures
// from a stock Ed25519 implementation do not verify here and vice versa,
// so the suite identifier is persisted next to every signature.
package signature

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"

	"filippo.io/edwards25519"
	"golang.org/x/crypto/sha3"
)

const (
	// Suite is the versioned identifier stored alongside signatures.
	Suite = "Ed25519-SHA3-512"

	SeedSize      = 32
	PublicKeySize = 32
	SignatureSize = 64
)

// ErrMalformedCredential means the key or signature is not even the right
// shape; distinct from a well-formed signature that simply does not match.
var ErrMalformedCredential = errors.New("malformed key or signature")

// Verify checks sig over message against publicKey. A well-formed but
// non-matching signature returns (false, nil).
func Verify(publicKey, message, sig []byte) (bool, error) {
	if len(publicKey) != PublicKeySize || len(sig) != SignatureSize {
		return false, ErrMalformedCredential
	}

	a, err := new(edwards25519.Point).SetBytes(publicKey)
	if err != nil {
		return false, ErrMalformedCredential
	}

	h := sha3.New512()
	h.Write(sig[:32])
	h.Write(publicKey)
	h.Write(message)

	k, err := new(edwards25519.Scalar).SetUniformBytes(h.Sum(nil))
	if err != nil {
		return false, errors.New("failed to reduce the challenge hash: " + err.Error())
	}

	s, err := new(edwards25519.Scalar).SetCanonicalBytes(sig[32:])
	if err != nil {
		// non-canonical scalar, the signature cannot be valid
		return false, nil
	}

	minusA := new(edwards25519.Point).Negate(a)
	r := new(edwards25519.Point).VarTimeDoubleScalarBaseMult(k, minusA, s)

	return bytes.Equal(r.Bytes(), sig[:32]), nil
}

// Sign produces a signature over message with the 32-byte private seed.
// Used by the keygen tooling and tests; the server itself only verifies.
func Sign(seed, message []byte) ([]byte, error) {
	if len(seed) != SeedSize {
		return nil, ErrMalformedCredential
	}

	s, prefix, err := expandSeed(seed)
	if err != nil {
		return nil, err
	}
	a := new(edwards25519.Point).ScalarBaseMult(s)

	nh := sha3.New512()
	nh.Write(prefix)
	nh.Write(message)
	r, err := new(edwards25519.Scalar).SetUniformBytes(nh.Sum(nil))
	if err != nil {
		return nil, errors.New("failed to reduce the nonce hash: " + err.Error())
	}
	bigR := new(edwards25519.Point).ScalarBaseMult(r)

	kh := sha3.New512()
	kh.Write(bigR.Bytes())
	kh.Write(a.Bytes())
	kh.Write(message)
	k, err := new(edwards25519.Scalar).SetUniformBytes(kh.Sum(nil))
	if err != nil {
		return nil, errors.New("failed to reduce the challenge hash: " + err.Error())
	}

	bigS := new(edwards25519.Scalar).MultiplyAdd(k, s, r)

	sig := make([]byte, SignatureSize)
	copy(sig[:32], bigR.Bytes())
	copy(sig[32:], bigS.Bytes())
	return sig, nil
}

// PublicKeyFromSeed derives the 32-byte public key for a private seed.
func PublicKeyFromSeed(seed []byte) ([]byte, error) {
	if len(seed) != SeedSize {
		return nil, ErrMalformedCredential
	}

	s, _, err := expandSeed(seed)
	if err != nil {
		return nil, err
	}

	return new(edwards25519.Point).ScalarBaseMult(s).Bytes(), nil
}

// GenerateSeed draws a fresh private seed from crypto/rand.
func GenerateSeed() ([]byte, error) {
	seed := make([]byte, SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, errors.New("failed to generate the seed: " + err.Error())
	}
	return seed, nil
}

func expandSeed(seed []byte) (*edwards25519.Scalar, []byte, error) {
	h := sha3.Sum512(seed)
	s, err := new(edwards25519.Scalar).SetBytesWithClamping(h[:32])
	if err != nil {
		return nil, nil, errors.New("failed to clamp the private scalar: " + err.Error())
	}
	return s, h[32:], nil
}

// DecodePublicKeyHex parses the boundary representation of a public key.
func DecodePublicKeyHex(keyHex string) ([]byte, error) {
	key, err := hex.DecodeString(keyHex)
	if err != nil || len(key) != PublicKeySize {
		return nil, ErrMalformedCredential
	}
	return key, nil
}

// DecodeSignatureB64 parses the boundary representation of a signature.
func DecodeSignatureB64(sigB64 string) ([]byte, error) {
	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil || len(sig) != SignatureSize {
		return nil, ErrMalformedCredential
	}
	return sig, nil
}

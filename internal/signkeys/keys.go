package signkeys

import (
	"blocksign/internal/signature"
	"encoding/hex"
	"errors"
)

// UserKeys holds one Ed25519-SHA3-512 key pair. The seed never leaves the
// client side in production; the server only ever sees the public half.
type UserKeys struct {
	PrivateSeed []byte
	PublicKey   []byte
}

func (u UserKeys) Valid() bool {
	return len(u.PrivateSeed) == signature.SeedSize && len(u.PublicKey) == signature.PublicKeySize
}

func (u UserKeys) PrivateSeedHex() string {
	return hex.EncodeToString(u.PrivateSeed)
}

func (u UserKeys) PublicKeyHex() string {
	return hex.EncodeToString(u.PublicKey)
}

func GenerateKeys() (UserKeys, error) {
	seed, err := signature.GenerateSeed()
	if err != nil {
		return UserKeys{}, errors.New("failed to generate the keys: " + err.Error())
	}

	pub, err := signature.PublicKeyFromSeed(seed)
	if err != nil {
		return UserKeys{}, errors.New("failed to derive the public key: " + err.Error())
	}

	return UserKeys{PrivateSeed: seed, PublicKey: pub}, nil
}

// FromSeedHex rebuilds the key pair from a stored hex seed.
func FromSeedHex(seedHex string) (UserKeys, error) {
	seed, err := hex.DecodeString(seedHex)
	if err != nil {
		return UserKeys{}, errors.New("failed to decode the seed: " + err.Error())
	}

	pub, err := signature.PublicKeyFromSeed(seed)
	if err != nil {
		return UserKeys{}, err
	}

	return UserKeys{PrivateSeed: seed, PublicKey: pub}, nil
}

// Package crypto implements ports.Crypto with EdDSA over Ed25519, RSA-FDH
// blind signatures, SHA-512, HKDF and XSalsa20-Poly1305 secretboxes.
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha512"
	"errors"
	"fmt"
	"io"

	"github.com/taler-go/walletd/internal/core/ports"
	"github.com/taler-go/walletd/pkg/crock"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/nacl/secretbox"
)

var (
	// ErrInvalidKey is returned when a key can't be decoded.
	ErrInvalidKey = errors.New("invalid key")
	// ErrInvalidSignature ...
	ErrInvalidSignature = errors.New("invalid signature")
)

type service struct{}

// NewService returns the crypto implementation of the wallet.
func NewService() ports.Crypto {
	return service{}
}

func (service) RandomBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (s service) CreateEddsaKeyPair() (*ports.EddsaKeyPair, error) {
	seed, err := s.RandomBytes(ed25519.SeedSize)
	if err != nil {
		return nil, err
	}
	return keyPairFromPriv(seed), nil
}

// EddsaKeyPairFromSeed derives a key pair from a seed of any length.
func (service) EddsaKeyPairFromSeed(seed []byte) (*ports.EddsaKeyPair, error) {
	priv, err := kdf(ed25519.SeedSize, seed, []byte("taler-key-from-seed"), nil)
	if err != nil {
		return nil, err
	}
	return keyPairFromPriv(priv), nil
}

func (service) EddsaGetPublic(priv string) (string, error) {
	key, err := decodeEddsaPriv(priv)
	if err != nil {
		return "", err
	}
	return crock.Encode(key.Public().(ed25519.PublicKey)), nil
}

func (service) Hash(data []byte) string {
	return crock.Encode(hash(data))
}

func (service) HashDenomPub(denomPub string) (string, error) {
	buf, err := crock.Decode(denomPub)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrInvalidKey, err)
	}
	return crock.Encode(hash(buf)), nil
}

func (service) Kdf(outLen int, ikm, salt, info []byte) ([]byte, error) {
	return kdf(outLen, ikm, salt, info)
}

func (service) SecretboxSeal(msg []byte, nonce *[24]byte, key *[32]byte) []byte {
	return secretbox.Seal(nil, msg, nonce, key)
}

func (service) SecretboxOpen(
	box []byte, nonce *[24]byte, key *[32]byte,
) ([]byte, bool) {
	return secretbox.Open(nil, box, nonce, key)
}

func hash(data []byte) []byte {
	h := sha512.Sum512(data)
	return h[:]
}

func kdf(outLen int, ikm, salt, info []byte) ([]byte, error) {
	out := make([]byte, outLen)
	if _, err := io.ReadFull(hkdf.New(sha512.New, ikm, salt, info), out); err != nil {
		return nil, err
	}
	return out, nil
}

func keyPairFromPriv(priv []byte) *ports.EddsaKeyPair {
	key := ed25519.NewKeyFromSeed(priv)
	return &ports.EddsaKeyPair{
		Pub:  crock.Encode(key.Public().(ed25519.PublicKey)),
		Priv: crock.Encode(priv),
	}
}

func decodeEddsaPriv(priv string) (ed25519.PrivateKey, error) {
	seed, err := crock.Decode(priv)
	if err != nil || len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("%w: eddsa private key", ErrInvalidKey)
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

func decodeEddsaPub(pub string) (ed25519.PublicKey, error) {
	buf, err := crock.Decode(pub)
	if err != nil || len(buf) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: eddsa public key", ErrInvalidKey)
	}
	return ed25519.PublicKey(buf), nil
}

func decodeHash(h string) ([]byte, error) {
	buf, err := crock.Decode(h)
	if err != nil || len(buf) != sha512.Size {
		return nil, fmt.Errorf("invalid hash %q", h)
	}
	return buf, nil
}

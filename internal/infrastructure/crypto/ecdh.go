package crypto

import (
	"crypto/ed25519"
	"crypto/sha512"
	"math/big"

	"github.com/taler-go/walletd/pkg/crock"
	"golang.org/x/crypto/curve25519"
)

var fieldPrime = new(big.Int).Sub(
	new(big.Int).Lsh(big.NewInt(1), 255), big.NewInt(19),
)

// KeyExchange derives the secret shared between the owner of the EdDSA
// private key priv and the owner of the EdDSA public key pub. Swapping
// the roles of the 2 parties yields the same secret.
func KeyExchange(priv, pub string) (string, error) {
	secret, err := keyExchange(priv, pub)
	if err != nil {
		return "", err
	}
	return crock.Encode(secret), nil
}

func keyExchange(priv, pub string) ([]byte, error) {
	seed, err := crock.Decode(priv)
	if err != nil || len(seed) != ed25519.SeedSize {
		return nil, ErrInvalidKey
	}
	edPub, err := decodeEddsaPub(pub)
	if err != nil {
		return nil, err
	}

	h := sha512.Sum512(seed)
	point, err := curve25519.X25519(h[:32], edwardsToMontgomery(edPub))
	if err != nil {
		return nil, err
	}
	return hash(point), nil
}

// edwardsToMontgomery maps the y coordinate of an Ed25519 point to the u
// coordinate of the birationally equivalent Curve25519 point:
// u = (1 + y) / (1 - y).
func edwardsToMontgomery(pub ed25519.PublicKey) []byte {
	le := make([]byte, len(pub))
	copy(le, pub)
	le[31] &= 0x7f
	y := new(big.Int).SetBytes(reverse(le))

	num := new(big.Int).Add(big.NewInt(1), y)
	den := new(big.Int).Sub(big.NewInt(1), y)
	den.Mod(den, fieldPrime)
	den.ModInverse(den, fieldPrime)
	u := num.Mul(num, den).Mod(num, fieldPrime)

	return reverse(u.FillBytes(make([]byte, 32)))
}

func reverse(buf []byte) []byte {
	out := make([]byte, len(buf))
	for i, b := range buf {
		out[len(buf)-1-i] = b
	}
	return out
}

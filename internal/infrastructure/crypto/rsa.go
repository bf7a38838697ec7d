package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/taler-go/walletd/pkg/crock"
)

var (
	fdhSalt      = []byte("RSA-FDA FTpsW!")
	blindingSalt = []byte("Blinding KDF extrator HMAC key")
	one          = big.NewInt(1)
)

// GenerateDenominationKey returns a fresh RSA denomination key and its
// encoded public part. It is what an exchange does when creating a
// denomination.
func GenerateDenominationKey(bits int) (*rsa.PrivateKey, string, error) {
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, "", err
	}
	return key, EncodeDenomPub(&key.PublicKey), nil
}

func EncodeDenomPub(pub *rsa.PublicKey) string {
	return crock.Encode(x509.MarshalPKCS1PublicKey(pub))
}

// RsaSignBlinded signs a blinded envelope, as done by the exchange on
// withdraw and reveal.
func RsaSignBlinded(key *rsa.PrivateKey, ev string) (string, error) {
	buf, err := crock.Decode(ev)
	if err != nil {
		return "", err
	}
	m := new(big.Int).SetBytes(buf)
	if m.Cmp(key.N) >= 0 {
		return "", fmt.Errorf("envelope out of range")
	}
	s := new(big.Int).Exp(m, key.D, key.N)
	return crock.Encode(padded(s, key.N)), nil
}

func (service) RsaUnblind(blindedSig, blindingKey, denomPub string) (string, error) {
	pub, err := decodeDenomPub(denomPub)
	if err != nil {
		return "", err
	}
	bks, err := crock.Decode(blindingKey)
	if err != nil {
		return "", fmt.Errorf("%w: blinding key", ErrInvalidKey)
	}
	buf, err := crock.Decode(blindedSig)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrInvalidSignature, err)
	}

	r, err := blindingFactor(bks, pub)
	if err != nil {
		return "", err
	}
	rInv := new(big.Int).ModInverse(r, pub.N)
	s := new(big.Int).SetBytes(buf)
	s.Mul(s, rInv).Mod(s, pub.N)
	return crock.Encode(padded(s, pub.N)), nil
}

func (service) CoinEvHash(coinPub, blindingKey, denomPub string) (string, error) {
	ev, err := blindCoinPub(coinPub, blindingKey, denomPub)
	if err != nil {
		return "", err
	}
	return crock.Encode(hash(ev)), nil
}

func (service) VerifyCoinSignature(coinPub, denomSig, denomPub string) (bool, error) {
	pub, err := decodeDenomPub(denomPub)
	if err != nil {
		return false, err
	}
	pubBytes, err := crock.Decode(coinPub)
	if err != nil {
		return false, fmt.Errorf("%w: coin public key", ErrInvalidKey)
	}
	sigBytes, err := crock.Decode(denomSig)
	if err != nil {
		return false, nil
	}

	s := new(big.Int).SetBytes(sigBytes)
	if s.Cmp(pub.N) >= 0 {
		return false, nil
	}
	m := new(big.Int).Exp(s, big.NewInt(int64(pub.E)), pub.N)
	expected, err := fullDomainHash(hash(pubBytes), pub)
	if err != nil {
		return false, err
	}
	return m.Cmp(expected) == 0, nil
}

// blindCoinPub returns the blinded envelope of the hash of the coin public
// key.
func blindCoinPub(coinPub, blindingKey, denomPub string) ([]byte, error) {
	pubBytes, err := crock.Decode(coinPub)
	if err != nil {
		return nil, fmt.Errorf("%w: coin public key", ErrInvalidKey)
	}
	bks, err := crock.Decode(blindingKey)
	if err != nil {
		return nil, fmt.Errorf("%w: blinding key", ErrInvalidKey)
	}
	pub, err := decodeDenomPub(denomPub)
	if err != nil {
		return nil, err
	}
	return rsaBlind(hash(pubBytes), bks, pub)
}

func rsaBlind(msg, bks []byte, pub *rsa.PublicKey) ([]byte, error) {
	m, err := fullDomainHash(msg, pub)
	if err != nil {
		return nil, err
	}
	r, err := blindingFactor(bks, pub)
	if err != nil {
		return nil, err
	}
	re := new(big.Int).Exp(r, big.NewInt(int64(pub.E)), pub.N)
	m.Mul(m, re).Mod(m, pub.N)
	return padded(m, pub.N), nil
}

func fullDomainHash(msg []byte, pub *rsa.PublicKey) (*big.Int, error) {
	buf, err := kdf(modulusLen(pub), msg, fdhSalt, pub.N.Bytes())
	if err != nil {
		return nil, err
	}
	return new(big.Int).Mod(new(big.Int).SetBytes(buf), pub.N), nil
}

// blindingFactor derives from the blinding key secret a value coprime
// with the modulus.
func blindingFactor(bks []byte, pub *rsa.PublicKey) (*big.Int, error) {
	gcd := new(big.Int)
	info := make([]byte, 4)
	for counter := uint32(0); ; counter++ {
		binary.BigEndian.PutUint32(info, counter)
		buf, err := kdf(
			modulusLen(pub), bks, blindingSalt, append(pub.N.Bytes(), info...),
		)
		if err != nil {
			return nil, err
		}
		r := new(big.Int).Mod(new(big.Int).SetBytes(buf), pub.N)
		if r.Cmp(one) > 0 && gcd.GCD(nil, nil, r, pub.N).Cmp(one) == 0 {
			return r, nil
		}
	}
}

func decodeDenomPub(denomPub string) (*rsa.PublicKey, error) {
	buf, err := crock.Decode(denomPub)
	if err != nil {
		return nil, fmt.Errorf("%w: denomination public key", ErrInvalidKey)
	}
	pub, err := x509.ParsePKCS1PublicKey(buf)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidKey, err)
	}
	return pub, nil
}

func modulusLen(pub *rsa.PublicKey) int {
	return (pub.N.BitLen() + 7) / 8
}

func padded(n, modulus *big.Int) []byte {
	return n.FillBytes(make([]byte, (modulus.BitLen()+7)/8))
}

package crypto

import (
	"bytes"
	"crypto/ed25519"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
	"github.com/taler-go/walletd/internal/core/domain"
	"github.com/taler-go/walletd/internal/core/ports"
	"github.com/taler-go/walletd/pkg/crock"
)

const (
	purposeMasterDenominationKeyValidity = 1025
	purposeWalletReserveWithdraw         = 1200
	purposeWalletCoinMelt                = 1202
	purposeWalletCoinLink                = 1204
	purposeSyncBackupUpload              = 1450

	amountCurrencyLen = 12
)

var fractionBase = decimal.New(1, 8)

// signaturePurpose builds the message covered by an EdDSA signature: a
// header with size and purpose followed by the fixed-size fields. The first
// decoding error is kept and returned by bytes().
type signaturePurpose struct {
	purpose uint32
	payload bytes.Buffer
	err     error
}

func newSignaturePurpose(purpose uint32) *signaturePurpose {
	return &signaturePurpose{purpose: purpose}
}

func (s *signaturePurpose) raw(buf []byte) *signaturePurpose {
	s.payload.Write(buf)
	return s
}

func (s *signaturePurpose) encoded(str string) *signaturePurpose {
	if s.err != nil {
		return s
	}
	buf, err := crock.Decode(str)
	if err != nil {
		s.err = fmt.Errorf("purpose %d: %w", s.purpose, err)
		return s
	}
	return s.raw(buf)
}

func (s *signaturePurpose) amount(a domain.Amount) *signaturePurpose {
	whole := a.Value.Truncate(0)
	fraction := a.Value.Sub(whole).Mul(fractionBase)
	binary.Write(&s.payload, binary.BigEndian, uint64(whole.IntPart()))
	binary.Write(&s.payload, binary.BigEndian, uint32(fraction.IntPart()))

	currency := make([]byte, amountCurrencyLen)
	copy(currency, a.Currency)
	return s.raw(currency)
}

func (s *signaturePurpose) timestamp(t time.Time) *signaturePurpose {
	us := uint64(math.MaxUint64)
	if !t.IsZero() && t.Before(ports.Never) {
		us = uint64(t.UnixMicro())
	}
	binary.Write(&s.payload, binary.BigEndian, us)
	return s
}

func (s *signaturePurpose) bytes() ([]byte, error) {
	if s.err != nil {
		return nil, s.err
	}
	buf := make([]byte, 8, 8+s.payload.Len())
	binary.BigEndian.PutUint32(buf[:4], uint32(8+s.payload.Len()))
	binary.BigEndian.PutUint32(buf[4:], s.purpose)
	return append(buf, s.payload.Bytes()...), nil
}

func (s *signaturePurpose) sign(priv string) (string, error) {
	key, err := decodeEddsaPriv(priv)
	if err != nil {
		return "", err
	}
	msg, err := s.bytes()
	if err != nil {
		return "", err
	}
	return crock.Encode(ed25519.Sign(key, msg)), nil
}

func (s *signaturePurpose) verify(sig, pub string) (bool, error) {
	key, err := decodeEddsaPub(pub)
	if err != nil {
		return false, err
	}
	msg, err := s.bytes()
	if err != nil {
		return false, err
	}
	sigBytes, err := crock.Decode(sig)
	if err != nil || len(sigBytes) != ed25519.SignatureSize {
		return false, nil
	}
	return ed25519.Verify(key, msg, sigBytes), nil
}

func denominationPurpose(
	denom *domain.Denomination, masterPub string,
) *signaturePurpose {
	s := newSignaturePurpose(purposeMasterDenominationKeyValidity).
		encoded(masterPub).
		timestamp(denom.StampStart).
		timestamp(denom.StampExpireWithdraw).
		timestamp(denom.StampExpireDeposit).
		timestamp(denom.StampExpireLegal).
		amount(denom.Value).
		amount(denom.FeeWithdraw).
		amount(denom.FeeDeposit).
		amount(denom.FeeRefresh).
		amount(denom.FeeRefund)

	denomPub, err := crock.Decode(denom.DenomPub)
	if err != nil {
		s.err = fmt.Errorf("%w: denomination public key", ErrInvalidKey)
		return s
	}
	return s.raw(hash(denomPub))
}

// SignDenomination returns the master signature of an exchange over the
// given denomination.
func SignDenomination(
	denom *domain.Denomination, masterPriv string,
) (string, error) {
	masterPub, err := service{}.EddsaGetPublic(masterPriv)
	if err != nil {
		return "", err
	}
	return denominationPurpose(denom, masterPub).sign(masterPriv)
}

func (service) IsValidDenom(
	denom *domain.Denomination, masterPub string,
) (bool, error) {
	return denominationPurpose(denom, masterPub).verify(denom.MasterSig, masterPub)
}

// MakeSyncSignature signs the transition of the backup stored at a sync
// provider from oldHash to newHash. An empty oldHash stands for the first
// upload.
func (service) MakeSyncSignature(
	accountPriv, oldHash, newHash string,
) (string, error) {
	s := newSignaturePurpose(purposeSyncBackupUpload)
	if oldHash == "" {
		s.raw(make([]byte, 64))
	} else {
		s.encoded(oldHash)
	}
	return s.encoded(newHash).sign(accountPriv)
}

// VerifySyncSignature is the check done by the sync provider on upload.
func VerifySyncSignature(sig, accountPub, oldHash, newHash string) (bool, error) {
	s := newSignaturePurpose(purposeSyncBackupUpload)
	if oldHash == "" {
		s.raw(make([]byte, 64))
	} else {
		s.encoded(oldHash)
	}
	return s.encoded(newHash).verify(sig, accountPub)
}

func (service) SignCoinLink(
	oldCoinPriv, newDenomHash, oldCoinPub, transferPub, coinEv string,
) (string, error) {
	ev, err := crock.Decode(coinEv)
	if err != nil {
		return "", fmt.Errorf("invalid coin envelope: %w", err)
	}
	return newSignaturePurpose(purposeWalletCoinLink).
		encoded(newDenomHash).
		encoded(oldCoinPub).
		encoded(transferPub).
		raw(hash(ev)).
		sign(oldCoinPriv)
}

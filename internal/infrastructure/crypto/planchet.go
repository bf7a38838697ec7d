package crypto

import (
	"bytes"
	"crypto/rsa"
	"encoding/binary"
	"fmt"

	"github.com/taler-go/walletd/internal/core/ports"
	"github.com/taler-go/walletd/pkg/crock"
)

var (
	withdrawalCoinSalt = []byte("taler-withdrawal-coin-derivation")
	transferKeySalt    = []byte("taler-transfer-pub-derivation")
	refreshCoinSalt    = []byte("taler-coin-derivation")
)

// coinSecrets are the private key and blinding key secret of a coin, both
// derived from a secret and an index.
type coinSecrets struct {
	keys        *ports.EddsaKeyPair
	blindingKey []byte
}

func deriveCoin(secret, salt []byte, index int) (*coinSecrets, error) {
	out, err := kdf(64, secret, salt, uint32be(index))
	if err != nil {
		return nil, err
	}
	return &coinSecrets{
		keys:        keyPairFromPriv(out[:32]),
		blindingKey: out[32:],
	}, nil
}

func (service) CreatePlanchet(
	req ports.PlanchetCreationRequest,
) (*ports.PlanchetCreationResult, error) {
	seed, err := crock.Decode(req.SecretSeed)
	if err != nil {
		return nil, fmt.Errorf("invalid secret seed: %w", err)
	}
	pub, err := decodeDenomPub(req.DenomPub)
	if err != nil {
		return nil, err
	}
	denomPubHash, err := service{}.HashDenomPub(req.DenomPub)
	if err != nil {
		return nil, err
	}
	coin, err := deriveCoin(seed, withdrawalCoinSalt, req.CoinIndex)
	if err != nil {
		return nil, err
	}

	coinPub, _ := crock.Decode(coin.keys.Pub)
	ev, err := rsaBlind(hash(coinPub), coin.blindingKey, pub)
	if err != nil {
		return nil, err
	}
	evHash := hash(ev)

	amountWithFee, err := req.Value.Add(req.FeeWithdraw)
	if err != nil {
		return nil, err
	}
	sig, err := newSignaturePurpose(purposeWalletReserveWithdraw).
		encoded(req.ReservePub).
		amount(amountWithFee).
		encoded(denomPubHash).
		raw(evHash).
		sign(req.ReservePriv)
	if err != nil {
		return nil, err
	}

	return &ports.PlanchetCreationResult{
		CoinPub:      coin.keys.Pub,
		CoinPriv:     coin.keys.Priv,
		BlindingKey:  crock.Encode(coin.blindingKey),
		CoinEv:       crock.Encode(ev),
		CoinEvHash:   crock.Encode(evHash),
		DenomPubHash: denomPubHash,
		WithdrawSig:  sig,
	}, nil
}

func (service) DeriveRefreshSession(
	req ports.DeriveRefreshSessionRequest,
) (*ports.DerivedRefreshSession, error) {
	if req.Kappa <= 0 {
		return nil, fmt.Errorf("invalid kappa %d", req.Kappa)
	}
	seed, err := crock.Decode(req.SessionSecretSeed)
	if err != nil {
		return nil, fmt.Errorf("invalid session secret seed: %w", err)
	}
	meltCoinPub, err := crock.Decode(req.MeltCoinPub)
	if err != nil {
		return nil, fmt.Errorf("%w: melt coin public key", ErrInvalidKey)
	}

	valueWithFee := req.FeeRefresh
	denomPubs := make([]*publicDenom, 0, len(req.NewCoinDenoms))
	for _, d := range req.NewCoinDenoms {
		pub, err := decodeDenomPub(d.DenomPub)
		if err != nil {
			return nil, err
		}
		raw, _ := crock.Decode(d.DenomPub)
		denomPubs = append(denomPubs, &publicDenom{d, pub, hash(raw)})

		cost, err := d.Value.Add(d.FeeWithdraw)
		if err != nil {
			return nil, err
		}
		if valueWithFee, err = valueWithFee.Add(cost.Mul(d.Count)); err != nil {
			return nil, err
		}
	}

	session := &ports.DerivedRefreshSession{
		TransferPubs:       make([]string, 0, req.Kappa),
		TransferPrivs:      make([]string, 0, req.Kappa),
		PlanchetsForGammas: make([][]ports.RefreshPlanchet, 0, req.Kappa),
		MeltValueWithFee:   valueWithFee,
	}

	var evs bytes.Buffer
	for i := 0; i < req.Kappa; i++ {
		transferPriv, err := kdf(32, seed, transferKeySalt, uint32be(i))
		if err != nil {
			return nil, err
		}
		transfer := keyPairFromPriv(transferPriv)
		transferSecret, err := keyExchange(transfer.Priv, req.MeltCoinPub)
		if err != nil {
			return nil, err
		}

		planchets := make([]ports.RefreshPlanchet, 0)
		coinIndex := 0
		for _, d := range denomPubs {
			for j := 0; j < d.Count; j++ {
				coin, err := deriveCoin(transferSecret, refreshCoinSalt, coinIndex)
				if err != nil {
					return nil, err
				}
				coinIndex++

				coinPub, _ := crock.Decode(coin.keys.Pub)
				ev, err := rsaBlind(hash(coinPub), coin.blindingKey, d.pub)
				if err != nil {
					return nil, err
				}
				evs.Write(ev)

				planchets = append(planchets, ports.RefreshPlanchet{
					CoinPub:     coin.keys.Pub,
					CoinPriv:    coin.keys.Priv,
					BlindingKey: crock.Encode(coin.blindingKey),
					CoinEv:      crock.Encode(ev),
					CoinEvHash:  crock.Encode(hash(ev)),
				})
			}
		}

		session.TransferPubs = append(session.TransferPubs, transfer.Pub)
		session.TransferPrivs = append(session.TransferPrivs, transfer.Priv)
		session.PlanchetsForGammas = append(session.PlanchetsForGammas, planchets)
	}

	sessionHash := newSignaturePurpose(0)
	for _, pub := range session.TransferPubs {
		sessionHash.encoded(pub)
	}
	for _, d := range denomPubs {
		for j := 0; j < d.Count; j++ {
			sessionHash.raw(d.hash)
		}
	}
	sessionHash.raw(meltCoinPub).amount(valueWithFee).raw(evs.Bytes())
	if sessionHash.err != nil {
		return nil, sessionHash.err
	}
	session.Hash = crock.Encode(hash(sessionHash.payload.Bytes()))

	confirmSig, err := newSignaturePurpose(purposeWalletCoinMelt).
		encoded(session.Hash).
		encoded(req.MeltCoinDenomPubHash).
		amount(valueWithFee).
		amount(req.FeeRefresh).
		raw(meltCoinPub).
		sign(req.MeltCoinPriv)
	if err != nil {
		return nil, err
	}
	session.ConfirmSig = confirmSig

	return session, nil
}

type publicDenom struct {
	ports.RefreshNewDenom
	pub  *rsa.PublicKey
	hash []byte
}

func uint32be(n int) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, uint32(n))
	return buf
}

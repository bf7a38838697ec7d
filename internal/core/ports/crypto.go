package ports

import (
	"github.com/taler-go/walletd/internal/core/domain"
)

// All keys, hashes and signatures crossing this port are Crockford base32
// encoded strings.

type EddsaKeyPair struct {
	Pub  string
	Priv string
}

type PlanchetCreationRequest struct {
	SecretSeed  string
	CoinIndex   int
	DenomPub    string
	Value       domain.Amount
	FeeWithdraw domain.Amount
	ReservePub  string
	ReservePriv string
}

type PlanchetCreationResult struct {
	CoinPub      string
	CoinPriv     string
	BlindingKey  string
	CoinEv       string
	CoinEvHash   string
	DenomPubHash string
	WithdrawSig  string
}

type RefreshNewDenom struct {
	DenomPub    string
	Value       domain.Amount
	FeeWithdraw domain.Amount
	Count       int
}

type DeriveRefreshSessionRequest struct {
	SessionSecretSeed    string
	Kappa                int
	MeltCoinPub          string
	MeltCoinPriv         string
	MeltCoinDenomPubHash string
	NewCoinDenoms        []RefreshNewDenom
	FeeRefresh           domain.Amount
}

type RefreshPlanchet struct {
	CoinPub     string
	CoinPriv    string
	BlindingKey string
	CoinEv      string
	CoinEvHash  string
}

// DerivedRefreshSession holds everything needed to melt a coin and reveal
// the new ones. PlanchetsForGammas has Kappa entries, one per transfer key.
type DerivedRefreshSession struct {
	Hash               string
	ConfirmSig         string
	TransferPubs       []string
	TransferPrivs      []string
	PlanchetsForGammas [][]RefreshPlanchet
	MeltValueWithFee   domain.Amount
}

// Crypto is the set of cryptographic primitives the wallet relies on.
type Crypto interface {
	RandomBytes(n int) ([]byte, error)
	CreateEddsaKeyPair() (*EddsaKeyPair, error)
	EddsaKeyPairFromSeed(seed []byte) (*EddsaKeyPair, error)
	EddsaGetPublic(priv string) (string, error)

	Hash(data []byte) string
	HashDenomPub(denomPub string) (string, error)
	Kdf(outLen int, ikm, salt, info []byte) ([]byte, error)

	SecretboxSeal(msg []byte, nonce *[24]byte, key *[32]byte) []byte
	SecretboxOpen(box []byte, nonce *[24]byte, key *[32]byte) ([]byte, bool)

	// CoinEvHash recomputes the hash of the blinded envelope of a coin from
	// its secrets.
	CoinEvHash(coinPub, blindingKey, denomPub string) (string, error)
	RsaUnblind(blindedSig, blindingKey, denomPub string) (string, error)
	// VerifyCoinSignature checks the unblinded denomination signature over
	// the hash of the coin public key.
	VerifyCoinSignature(coinPub, denomSig, denomPub string) (bool, error)

	CreatePlanchet(req PlanchetCreationRequest) (*PlanchetCreationResult, error)
	DeriveRefreshSession(
		req DeriveRefreshSessionRequest,
	) (*DerivedRefreshSession, error)
	SignCoinLink(
		oldCoinPriv, newDenomHash, oldCoinPub, transferPub, coinEv string,
	) (string, error)

	IsValidDenom(denom *domain.Denomination, masterPub string) (bool, error)
	MakeSyncSignature(accountPriv, oldHash, newHash string) (string, error)
}

package application_test

import (
	"context"
	"crypto/rsa"
	"net/http"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/taler-go/walletd/internal/core/domain"
	"github.com/taler-go/walletd/internal/core/ports"
	"github.com/taler-go/walletd/internal/infrastructure/crypto"
	"github.com/taler-go/walletd/pkg/crock"
)

// **** Clock ****

type mockClock struct {
	lock sync.Mutex
	now  time.Time
}

func newMockClock(now time.Time) *mockClock {
	return &mockClock{now: now}
}

func (c *mockClock) Now() time.Time {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.now
}

func (c *mockClock) Advance(d time.Duration) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.now = c.now.Add(d)
}

// **** Bank ****

type mockBankClient struct {
	mock.Mock
}

func (m *mockBankClient) GetConfig(
	ctx context.Context, configURL string, timeout time.Duration,
) (*ports.BankConfig, error) {
	args := m.Called(configURL)

	var res *ports.BankConfig
	if a := args.Get(0); a != nil {
		res = a.(*ports.BankConfig)
	}
	return res, args.Error(1)
}

func (m *mockBankClient) GetWithdrawalOperationStatus(
	ctx context.Context, statusURL string, timeout time.Duration,
) (*ports.BankWithdrawalOperationStatus, error) {
	args := m.Called(statusURL)

	var res *ports.BankWithdrawalOperationStatus
	if a := args.Get(0); a != nil {
		res = a.(*ports.BankWithdrawalOperationStatus)
	}
	return res, args.Error(1)
}

func (m *mockBankClient) RegisterWithdrawalOperation(
	ctx context.Context, statusURL string, req ports.BankRegistrationRequest,
	timeout time.Duration,
) error {
	args := m.Called(statusURL, req)
	return args.Error(0)
}

// **** Pay flow ****

type mockPayFlow struct {
	mock.Mock
}

func (m *mockPayFlow) PreparePay(
	ctx context.Context, talerPayURI string,
) (*ports.PreparePayResult, error) {
	args := m.Called(talerPayURI)

	var res *ports.PreparePayResult
	if a := args.Get(0); a != nil {
		res = a.(*ports.PreparePayResult)
	}
	return res, args.Error(1)
}

func (m *mockPayFlow) ConfirmPay(ctx context.Context, proposalID string) error {
	args := m.Called(proposalID)
	return args.Error(0)
}

// **** Exchange ****

type testDenom struct {
	value       string
	feeWithdraw string
	feeRefresh  string
}

// fakeExchange behaves like an exchange with real denomination keys, so
// that the coins it signs pass the checks of the wallet.
type fakeExchange struct {
	lock sync.Mutex

	masterPriv string
	keys       *ports.ExchangeKeys
	denomKeys  map[string]*rsa.PrivateKey

	reserves      map[string]*ports.ReserveStatus
	refusedCoins  map[string]bool
	failWithdraw  bool
	norevealIndex int
	withdrawCalls int
	meltCalls     int
}

func newFakeExchange(
	currency string, now time.Time, denoms []testDenom,
) (*fakeExchange, error) {
	master, err := cryptoSvc.CreateEddsaKeyPair()
	if err != nil {
		return nil, err
	}

	e := &fakeExchange{
		masterPriv:    master.Priv,
		denomKeys:     make(map[string]*rsa.PrivateKey),
		reserves:      make(map[string]*ports.ReserveStatus),
		refusedCoins:  make(map[string]bool),
		norevealIndex: 1,
		keys: &ports.ExchangeKeys{
			Version:         "8:0:0",
			Currency:        currency,
			MasterPublicKey: master.Pub,
			Denoms:          make([]ports.ExchangeDenomination, 0, len(denoms)),
			ListIssueDate:   ports.NewTimestamp(now),
		},
	}

	zero := currency + ":0"
	for _, d := range denoms {
		priv, pub, err := denomKey(d.value)
		if err != nil {
			return nil, err
		}
		hash, err := cryptoSvc.HashDenomPub(pub)
		if err != nil {
			return nil, err
		}
		ed := ports.ExchangeDenomination{
			DenomPub:            pub,
			Value:               domain.MustParseAmount(currency + ":" + d.value),
			FeeWithdraw:         domain.MustParseAmount(currency + ":" + d.feeWithdraw),
			FeeDeposit:          domain.MustParseAmount(zero),
			FeeRefresh:          domain.MustParseAmount(currency + ":" + d.feeRefresh),
			FeeRefund:           domain.MustParseAmount(zero),
			StampStart:          ports.NewTimestamp(now.Add(-time.Hour)),
			StampExpireWithdraw: ports.NewTimestamp(now.Add(30 * 24 * time.Hour)),
			StampExpireDeposit:  ports.NewTimestamp(now.Add(90 * 24 * time.Hour)),
			StampExpireLegal:    ports.NewTimestamp(now.Add(365 * 24 * time.Hour)),
		}
		if ed.MasterSig, err = crypto.SignDenomination(&domain.Denomination{
			DenomPub:            ed.DenomPub,
			Value:               ed.Value,
			FeeWithdraw:         ed.FeeWithdraw,
			FeeDeposit:          ed.FeeDeposit,
			FeeRefresh:          ed.FeeRefresh,
			FeeRefund:           ed.FeeRefund,
			StampStart:          ed.StampStart.Time,
			StampExpireWithdraw: ed.StampExpireWithdraw.Time,
			StampExpireDeposit:  ed.StampExpireDeposit.Time,
			StampExpireLegal:    ed.StampExpireLegal.Time,
		}, master.Priv); err != nil {
			return nil, err
		}
		e.keys.Denoms = append(e.keys.Denoms, ed)
		e.denomKeys[hash] = priv
	}
	return e, nil
}

// fund credits the reserve with the given amount, as if a wire transfer
// was received.
func (e *fakeExchange) fund(reservePub string, amount domain.Amount) {
	e.lock.Lock()
	defer e.lock.Unlock()

	status, ok := e.reserves[reservePub]
	if !ok {
		status = &ports.ReserveStatus{
			Balance: domain.ZeroAmount(amount.Currency),
			History: []ports.ReserveTransaction{},
		}
		e.reserves[reservePub] = status
	}
	status.Balance, _ = status.Balance.Add(amount)
	status.History = append(status.History, ports.ReserveTransaction{
		Type:   ports.ReserveTransactionCredit,
		Amount: amount,
	})
}

func (e *fakeExchange) GetKeys(
	ctx context.Context, baseURL string, timeout time.Duration,
) (*ports.ExchangeKeys, error) {
	e.lock.Lock()
	defer e.lock.Unlock()

	keys := *e.keys
	keys.Denoms = append([]ports.ExchangeDenomination{}, e.keys.Denoms...)
	return &keys, nil
}

func (e *fakeExchange) GetReserveStatus(
	ctx context.Context, baseURL, reservePub string, timeout time.Duration,
) (*ports.ReserveStatus, error) {
	e.lock.Lock()
	defer e.lock.Unlock()

	status, ok := e.reserves[reservePub]
	if !ok {
		return nil, httpError(http.StatusNotFound)
	}
	res := *status
	res.History = append([]ports.ReserveTransaction{}, status.History...)
	return &res, nil
}

func (e *fakeExchange) Withdraw(
	ctx context.Context, baseURL string, req ports.WithdrawRequest,
	timeout time.Duration,
) (*ports.WithdrawResponse, error) {
	e.lock.Lock()
	defer e.lock.Unlock()

	e.withdrawCalls++
	if e.failWithdraw {
		return nil, httpError(http.StatusInternalServerError)
	}
	status, ok := e.reserves[req.ReservePub]
	if !ok {
		return nil, httpError(http.StatusNotFound)
	}
	key, ok := e.denomKeys[req.DenomPubHash]
	if !ok {
		return nil, httpError(http.StatusNotFound)
	}
	ed := e.denomByHash(req.DenomPubHash)
	cost, _ := ed.Value.Add(ed.FeeWithdraw)
	balance, ok := status.Balance.Sub(cost)
	if !ok {
		return nil, httpError(http.StatusConflict)
	}

	sig, err := crypto.RsaSignBlinded(key, req.CoinEv)
	if err != nil {
		return nil, httpError(http.StatusBadRequest)
	}
	ev, _ := crock.Decode(req.CoinEv)
	status.Balance = balance
	status.History = append(status.History, ports.ReserveTransaction{
		Type:          ports.ReserveTransactionWithdraw,
		Amount:        cost,
		HCoinEnvelope: cryptoSvc.Hash(ev),
	})
	return &ports.WithdrawResponse{EvSig: sig}, nil
}

func (e *fakeExchange) Melt(
	ctx context.Context, baseURL string, req ports.MeltRequest,
	timeout time.Duration,
) (*ports.MeltResponse, error) {
	e.lock.Lock()
	defer e.lock.Unlock()

	e.meltCalls++
	if e.refusedCoins[req.CoinPub] {
		return nil, httpError(http.StatusNotFound)
	}
	return &ports.MeltResponse{NorevealIndex: e.norevealIndex}, nil
}

func (e *fakeExchange) Reveal(
	ctx context.Context, baseURL string, req ports.RevealRequest,
	timeout time.Duration,
) (*ports.RevealResponse, error) {
	e.lock.Lock()
	defer e.lock.Unlock()

	if len(req.TransferPrivs) != domain.Kappa-1 ||
		len(req.CoinEvs) != len(req.NewDenomsH) ||
		len(req.CoinEvs) != len(req.LinkSigs) {
		return nil, httpError(http.StatusBadRequest)
	}

	res := &ports.RevealResponse{
		EvSigs: make([]ports.RevealedSig, 0, len(req.CoinEvs)),
	}
	for i, ev := range req.CoinEvs {
		key, ok := e.denomKeys[req.NewDenomsH[i]]
		if !ok {
			return nil, httpError(http.StatusNotFound)
		}
		sig, err := crypto.RsaSignBlinded(key, ev)
		if err != nil {
			return nil, httpError(http.StatusBadRequest)
		}
		res.EvSigs = append(res.EvSigs, ports.RevealedSig{EvSig: sig})
	}
	return res, nil
}

func (e *fakeExchange) denomByHash(hash string) ports.ExchangeDenomination {
	for _, d := range e.keys.Denoms {
		if h, _ := cryptoSvc.HashDenomPub(d.DenomPub); h == hash {
			return d
		}
	}
	return ports.ExchangeDenomination{}
}

func (e *fakeExchange) setFailWithdraw(fail bool) {
	e.lock.Lock()
	defer e.lock.Unlock()
	e.failWithdraw = fail
}

func (e *fakeExchange) refuseCoin(coinPub string) {
	e.lock.Lock()
	defer e.lock.Unlock()
	e.refusedCoins[coinPub] = true
}

// **** Sync provider ****

type storedBackup struct {
	hash string
	blob []byte
}

// fakeSyncProvider stores one backup per account and enforces the if-match
// precondition of uploads.
type fakeSyncProvider struct {
	lock sync.Mutex

	terms          ports.SyncTermsOfService
	backups        map[string]storedBackup
	requirePayment bool
	paid           bool
	failStatus     int
	failingURLs    map[string]int
	uploads        int
}

func newFakeSyncProvider(currency string) *fakeSyncProvider {
	return &fakeSyncProvider{
		terms: ports.SyncTermsOfService{
			StorageLimitInMegabytes: 16,
			AnnualFee:               domain.MustParseAmount(currency + ":0.1"),
			Version:                 "0:0:0",
		},
		backups:     make(map[string]storedBackup),
		failingURLs: make(map[string]int),
	}
}

func (p *fakeSyncProvider) GetConfig(
	ctx context.Context, baseURL string,
) (*ports.SyncTermsOfService, error) {
	terms := p.terms
	return &terms, nil
}

func (p *fakeSyncProvider) UploadBackup(
	ctx context.Context, baseURL string, req ports.BackupUploadRequest,
) (*ports.BackupUploadResponse, error) {
	p.lock.Lock()
	defer p.lock.Unlock()

	p.uploads++
	if p.failStatus > 0 {
		return &ports.BackupUploadResponse{Status: p.failStatus}, nil
	}
	if status, ok := p.failingURLs[baseURL]; ok {
		return &ports.BackupUploadResponse{Status: status}, nil
	}
	if p.requirePayment && !p.paid {
		return &ports.BackupUploadResponse{
			Status:   http.StatusPaymentRequired,
			TalerURI: "taler://pay/backup.test/-/-/2021.001",
		}, nil
	}

	newHash := cryptoSvc.Hash(req.Blob)
	if newHash != req.IfNoneMatch {
		return &ports.BackupUploadResponse{Status: http.StatusBadRequest}, nil
	}
	ok, err := crypto.VerifySyncSignature(
		req.SyncSignature, req.AccountPub, req.IfMatch, newHash,
	)
	if err != nil || !ok {
		return &ports.BackupUploadResponse{Status: http.StatusUnauthorized}, nil
	}

	stored, exists := p.backups[req.AccountPub]
	if exists && stored.hash == newHash {
		return &ports.BackupUploadResponse{Status: http.StatusNotModified}, nil
	}
	if exists && stored.hash != req.IfMatch {
		return &ports.BackupUploadResponse{
			Status: http.StatusConflict,
			Body:   append([]byte{}, stored.blob...),
		}, nil
	}

	p.backups[req.AccountPub] = storedBackup{
		hash: newHash,
		blob: append([]byte{}, req.Blob...),
	}
	return &ports.BackupUploadResponse{Status: http.StatusNoContent}, nil
}

func (p *fakeSyncProvider) onlyStoredHash() string {
	p.lock.Lock()
	defer p.lock.Unlock()
	for _, b := range p.backups {
		return b.hash
	}
	return ""
}

// failUploadsTo makes the uploads to baseURL answer with status.
func (p *fakeSyncProvider) failUploadsTo(baseURL string, status int) {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.failingURLs[baseURL] = status
}

func (p *fakeSyncProvider) markPaid() {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.paid = true
}

func httpError(status int) error {
	opErr := domain.NewOperationError(
		domain.CodeUnexpectedRequestError, http.StatusText(status), nil,
	)
	opErr.HTTPStatus = status
	return opErr
}

package application

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/taler-go/walletd/internal/core/domain"
	"github.com/taler-go/walletd/internal/core/ports"
	"github.com/taler-go/walletd/pkg/crock"
)

const (
	// maxBackupConflicts bounds the number of conflicting backups merged in
	// a single cycle.
	maxBackupConflicts   = 3
	backupProviderUIDLen = 32
	// backupPaymentValidity is how long a payment to a provider lasts.
	backupPaymentValidity = 365 * 24 * time.Hour
)

type AddBackupProviderRequest struct {
	BaseURL string
	Name    string
	// Activate makes the provider used right away. Otherwise it's only
	// stored, until added again with Activate set.
	Activate bool
}

type ProviderPaymentStatus string

const (
	ProviderPaymentUnpaid  ProviderPaymentStatus = "unpaid"
	ProviderPaymentPending ProviderPaymentStatus = "pending"
	ProviderPaymentPaid    ProviderPaymentStatus = "paid"
)

type ProviderInfo struct {
	Active                        bool
	SyncProviderBaseURL           string
	Name                          string
	Terms                         *domain.BackupProviderTerms
	LastError                     *domain.ErrorDetail
	LastSuccessfulBackupTimestamp time.Time
	PaymentProposalIDs            []string
	PaymentStatus                 ProviderPaymentStatus
	// PaidUntil is set only if PaymentStatus is paid.
	PaidUntil time.Time
}

type BackupInfo struct {
	WalletRootPub string
	DeviceID      string
	Providers     []ProviderInfo
}

type LoadBackupRecoveryRequest struct {
	Recovery domain.BackupRecovery
	// Strategy is required only if the recovered root key differs from the
	// one of the wallet and the wallet already has providers.
	Strategy domain.BackupRecoveryStrategy
}

type BackupService interface {
	// ExportBackup returns a snapshot of the wallet.
	ExportBackup(ctx context.Context) (*domain.WalletBackupContent, error)
	ExportBackupEncrypted(ctx context.Context) ([]byte, error)
	EncryptBackup(
		cfg *domain.BackupConfig, content *domain.WalletBackupContent,
	) ([]byte, error)
	DecryptBackup(
		cfg *domain.BackupConfig, blob []byte,
	) (*domain.WalletBackupContent, error)
	ComputeBackupCryptoData(
		content *domain.WalletBackupContent,
	) (*domain.BackupCryptoData, error)
	// ImportBackup merges the snapshot into the wallet.
	ImportBackup(
		ctx context.Context, content *domain.WalletBackupContent,
		data *domain.BackupCryptoData,
	) error
	ImportBackupPlain(ctx context.Context, content *domain.WalletBackupContent) error
	ImportBackupEncrypted(ctx context.Context, blob []byte) error

	AddBackupProvider(ctx context.Context, req AddBackupProviderRequest) error
	RemoveBackupProvider(ctx context.Context, baseURL string) error
	// ProcessBackupForProvider runs a backup cycle for the provider,
	// recording any failure on it.
	ProcessBackupForProvider(ctx context.Context, baseURL string) error
	// RunBackupCycle backs up to the given providers, or to all the known
	// ones if none is given.
	RunBackupCycle(ctx context.Context, providers []string) error

	GetBackupInfo(ctx context.Context) (*BackupInfo, error)
	GetBackupRecovery(ctx context.Context) (*domain.BackupRecovery, error)
	LoadBackupRecovery(ctx context.Context, req LoadBackupRecoveryRequest) error
	SetWalletDeviceID(ctx context.Context, deviceID string) error
}

type backupService struct {
	*walletState
}

func (s *backupService) ExportBackup(
	ctx context.Context,
) (*domain.WalletBackupContent, error) {
	return s.exportBackup(ctx)
}

func (s *backupService) ExportBackupEncrypted(ctx context.Context) ([]byte, error) {
	content, err := s.exportBackup(ctx)
	if err != nil {
		return nil, err
	}
	cfg, err := s.getOrCreateBackupConfig(ctx)
	if err != nil {
		return nil, err
	}
	return s.encryptBackup(cfg, content)
}

func (s *backupService) EncryptBackup(
	cfg *domain.BackupConfig, content *domain.WalletBackupContent,
) ([]byte, error) {
	return s.encryptBackup(cfg, content)
}

func (s *backupService) DecryptBackup(
	cfg *domain.BackupConfig, blob []byte,
) (*domain.WalletBackupContent, error) {
	return s.decryptBackup(cfg, blob)
}

func (s *backupService) ComputeBackupCryptoData(
	content *domain.WalletBackupContent,
) (*domain.BackupCryptoData, error) {
	return s.computeBackupCryptoData(content)
}

func (s *backupService) ImportBackup(
	ctx context.Context, content *domain.WalletBackupContent,
	data *domain.BackupCryptoData,
) error {
	return s.importBackup(ctx, content, data)
}

func (s *backupService) ImportBackupPlain(
	ctx context.Context, content *domain.WalletBackupContent,
) error {
	data, err := s.computeBackupCryptoData(content)
	if err != nil {
		return err
	}
	return s.importBackup(ctx, content, data)
}

func (s *backupService) ImportBackupEncrypted(
	ctx context.Context, blob []byte,
) error {
	cfg, err := s.getOrCreateBackupConfig(ctx)
	if err != nil {
		return err
	}
	content, err := s.decryptBackup(cfg, blob)
	if err != nil {
		return err
	}
	return s.ImportBackupPlain(ctx, content)
}

func (s *backupService) AddBackupProvider(
	ctx context.Context, req AddBackupProviderRequest,
) error {
	if _, err := s.getOrCreateBackupConfig(ctx); err != nil {
		return err
	}
	baseURL := domain.CanonicalizeBaseURL(req.BaseURL)
	providerRepo := s.repo.BackupProviderRepository()

	provider, err := providerRepo.GetBackupProvider(ctx, baseURL)
	if err != nil {
		return err
	}
	if provider != nil {
		if !req.Activate {
			return nil
		}
		log.WithField("provider", baseURL).Info("activating backup provider")
		return providerRepo.UpdateBackupProvider(
			ctx, baseURL,
			func(p *domain.BackupProvider) (*domain.BackupProvider, error) {
				p.State = domain.NewReadyBackupState(s.now())
				return p, nil
			},
		)
	}

	terms, err := s.sync.GetConfig(ctx, baseURL)
	if err != nil {
		return err
	}
	uid, err := s.crypto.RandomBytes(backupProviderUIDLen)
	if err != nil {
		return err
	}

	state := domain.NewProvisionalBackupState()
	if req.Activate {
		state = domain.NewReadyBackupState(s.now())
	}
	if err := providerRepo.AddOrUpdateBackupProvider(ctx, &domain.BackupProvider{
		BaseURL: baseURL,
		Name:    req.Name,
		Terms: &domain.BackupProviderTerms{
			SupportedProtocolVersion: terms.Version,
			AnnualFee:                terms.AnnualFee,
			StorageLimitInMegabytes:  terms.StorageLimitInMegabytes,
		},
		State:              state,
		PaymentProposalIDs: []string{},
		UIDs:               []string{crock.Encode(uid)},
	}); err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"provider": baseURL,
		"active":   req.Activate,
	}).Info("backup provider added")
	return nil
}

func (s *backupService) RemoveBackupProvider(
	ctx context.Context, baseURL string,
) error {
	return s.repo.BackupProviderRepository().DeleteBackupProvider(
		ctx, domain.CanonicalizeBaseURL(baseURL),
	)
}

func (s *backupService) ProcessBackupForProvider(
	ctx context.Context, baseURL string,
) error {
	baseURL = domain.CanonicalizeBaseURL(baseURL)
	return s.coalesce("backup:"+baseURL, func() error {
		provider, err := s.repo.BackupProviderRepository().GetBackupProvider(
			ctx, baseURL,
		)
		if err != nil {
			return err
		}
		if provider == nil {
			return ErrUnknownBackupProvider
		}

		return s.guardOperation(
			ctx, string(PendingBackup),
			func() error {
				return s.runBackupCycleForProvider(ctx, baseURL, true, 0)
			},
			func(ctx context.Context, detail *domain.ErrorDetail) error {
				return s.backupFailed(ctx, baseURL, detail)
			},
		)
	})
}

func (s *backupService) RunBackupCycle(
	ctx context.Context, providers []string,
) error {
	providerRepo := s.repo.BackupProviderRepository()
	baseURLs := make([]string, 0, len(providers))
	if len(providers) > 0 {
		for _, url := range providers {
			provider, err := providerRepo.GetBackupProvider(
				ctx, domain.CanonicalizeBaseURL(url),
			)
			if err != nil {
				return err
			}
			if provider != nil {
				baseURLs = append(baseURLs, provider.BaseURL)
			}
		}
	} else {
		all, err := providerRepo.GetAllBackupProviders(ctx)
		if err != nil {
			return err
		}
		for _, p := range all {
			baseURLs = append(baseURLs, p.BaseURL)
		}
	}

	// A failing provider has its error recorded and does not prevent the
	// others from being backed up.
	var errs []error
	for _, baseURL := range baseURLs {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		err := s.ProcessBackupForProvider(ctx, baseURL)
		if err == nil || errors.Is(err, ErrUnknownBackupProvider) {
			continue
		}
		if isInvariantViolation(err) {
			return err
		}
		log.WithError(err).WithField("provider", baseURL).Warn(
			"backup cycle failed for provider",
		)
		errs = append(errs, fmt.Errorf("%s: %w", baseURL, err))
	}
	return errors.Join(errs...)
}

// runBackupCycleForProvider uploads the current backup to the provider and
// handles its answer. A conflicting backup is merged and the cycle is run
// again, up to maxBackupConflicts times.
func (s *backupService) runBackupCycleForProvider(
	ctx context.Context, baseURL string, retryAfterPayment bool, conflicts int,
) error {
	providerRepo := s.repo.BackupProviderRepository()
	provider, err := providerRepo.GetBackupProvider(ctx, baseURL)
	if err != nil {
		return err
	}
	if provider == nil {
		log.WithField("provider", baseURL).Warn("backup provider disappeared")
		return nil
	}

	content, err := s.exportBackup(ctx)
	if err != nil {
		return err
	}
	cfg, err := s.getOrCreateBackupConfig(ctx)
	if err != nil {
		return err
	}
	blob, err := s.encryptBackup(cfg, content)
	if err != nil {
		return err
	}
	newHash := s.crypto.Hash(blob)
	account, err := s.deriveAccountKeyPair(cfg, provider.BaseURL)
	if err != nil {
		return err
	}
	syncSig, err := s.crypto.MakeSyncSignature(
		account.Priv, provider.LastBackupHash, newHash,
	)
	if err != nil {
		return err
	}

	logger := log.WithField("provider", baseURL)
	logger.Debugf("uploading backup, old hash %q new hash %s", provider.LastBackupHash, newHash)

	res, err := s.sync.UploadBackup(ctx, provider.BaseURL, ports.BackupUploadRequest{
		AccountPub:    account.Pub,
		Blob:          blob,
		SyncSignature: syncSig,
		IfNoneMatch:   newHash,
		IfMatch:       provider.LastBackupHash,
	})
	if err != nil {
		return err
	}
	backupUploads.WithLabelValues(strconv.Itoa(res.Status)).Inc()

	switch res.Status {
	case http.StatusNotModified:
		logger.Debug("backup already up to date")
		return s.backupSucceeded(ctx, baseURL, "")

	case http.StatusNoContent:
		logger.Info("backup uploaded")
		return s.backupSucceeded(ctx, baseURL, newHash)

	case http.StatusPaymentRequired:
		if err := s.payBackupProvider(ctx, baseURL, res.TalerURI); err != nil {
			return err
		}
		if retryAfterPayment {
			return s.runBackupCycleForProvider(ctx, baseURL, false, conflicts)
		}
		return nil

	case http.StatusConflict:
		if conflicts >= maxBackupConflicts {
			return errTooManyBackupConflicts
		}
		logger.Info("conflicting backup found, merging")
		if err := s.mergeConflictingBackup(ctx, cfg, baseURL, res.Body); err != nil {
			return err
		}
		return s.runBackupCycleForProvider(ctx, baseURL, false, conflicts+1)

	default:
		opErr := domain.NewOperationError(
			domain.CodeBackupProviderUnexpectedResponseStatus,
			fmt.Sprintf("unexpected status %d from backup provider", res.Status),
			map[string]interface{}{"provider": baseURL},
		)
		opErr.HTTPStatus = res.Status
		return opErr
	}
}

// mergeConflictingBackup imports the backup found at the provider, whose
// hash becomes the base of the next upload.
func (s *backupService) mergeConflictingBackup(
	ctx context.Context, cfg *domain.BackupConfig, baseURL string, blob []byte,
) error {
	content, err := s.decryptBackup(cfg, blob)
	if err != nil {
		return err
	}
	data, err := s.computeBackupCryptoData(content)
	if err != nil {
		return err
	}
	if err := s.importBackup(ctx, content, data); err != nil {
		return err
	}

	remoteHash := s.crypto.Hash(blob)
	return s.repo.BackupProviderRepository().UpdateBackupProvider(
		ctx, baseURL,
		func(p *domain.BackupProvider) (*domain.BackupProvider, error) {
			p.LastBackupHash = remoteHash
			p.State = domain.NewRetryingBackupState(domain.NewRetryInfo(s.now()), nil)
			return p, nil
		},
	)
}

// payBackupProvider starts the payment requested by the provider. The
// provider is retried afterwards whatever the outcome of the payment.
func (s *backupService) payBackupProvider(
	ctx context.Context, baseURL, talerURI string,
) error {
	logger := log.WithField("provider", baseURL)
	if len(talerURI) <= 0 {
		opErr := domain.NewOperationError(
			domain.CodeBackupProviderUnexpectedResponseStatus,
			"payment required by backup provider but no taler uri given",
			map[string]interface{}{"provider": baseURL},
		)
		opErr.HTTPStatus = http.StatusPaymentRequired
		return opErr
	}

	res, err := s.payFlow.PreparePay(ctx, talerURI)
	if err != nil {
		return err
	}
	switch res.Status {
	case ports.PreparePayInsufficientBalance:
		logger.Warn("insufficient balance to pay backup provider")
	case ports.PreparePayAlreadyConfirmed:
		logger.Debug("backup provider already paid")
	}

	if err := s.repo.BackupProviderRepository().UpdateBackupProvider(
		ctx, baseURL,
		func(p *domain.BackupProvider) (*domain.BackupProvider, error) {
			p.AddPaymentProposal(res.ProposalID)
			sort.Strings(p.PaymentProposalIDs)
			p.BackupFailed(nil, s.now())
			return p, nil
		},
	); err != nil {
		return err
	}

	if res.Status == ports.PreparePayPaymentPossible {
		if err := s.payFlow.ConfirmPay(ctx, res.ProposalID); err != nil {
			logger.WithError(err).Warn("failed to pay backup provider")
		}
	}
	return nil
}

func (s *backupService) backupSucceeded(
	ctx context.Context, baseURL, hash string,
) error {
	err := s.repo.BackupProviderRepository().UpdateBackupProvider(
		ctx, baseURL,
		func(p *domain.BackupProvider) (*domain.BackupProvider, error) {
			p.BackupSucceeded(hash, s.now())
			return p, nil
		},
	)
	if errors.Is(err, domain.ErrRecordNotFound) {
		return nil
	}
	return err
}

func (s *backupService) backupFailed(
	ctx context.Context, baseURL string, detail *domain.ErrorDetail,
) error {
	err := s.repo.BackupProviderRepository().UpdateBackupProvider(
		ctx, baseURL,
		func(p *domain.BackupProvider) (*domain.BackupProvider, error) {
			p.BackupFailed(detail, s.now())
			return p, nil
		},
	)
	if errors.Is(err, domain.ErrRecordNotFound) {
		return nil
	}
	return err
}

func (s *backupService) GetBackupInfo(ctx context.Context) (*BackupInfo, error) {
	cfg, err := s.getOrCreateBackupConfig(ctx)
	if err != nil {
		return nil, err
	}
	providers, err := s.repo.BackupProviderRepository().GetAllBackupProviders(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(providers, func(i, j int) bool {
		return providers[i].BaseURL < providers[j].BaseURL
	})

	info := &BackupInfo{
		WalletRootPub: cfg.WalletRootPub,
		DeviceID:      cfg.DeviceID,
		Providers:     make([]ProviderInfo, 0, len(providers)),
	}
	for _, p := range providers {
		status, paidUntil, err := s.providerPaymentStatus(ctx, p)
		if err != nil {
			return nil, err
		}
		info.Providers = append(info.Providers, ProviderInfo{
			Active:                        p.State.Tag != domain.BackupProviderProvisional,
			SyncProviderBaseURL:           p.BaseURL,
			Name:                          p.Name,
			Terms:                         p.Terms,
			LastError:                     p.LastError(),
			LastSuccessfulBackupTimestamp: p.LastBackupCycleTimestamp,
			PaymentProposalIDs:            p.PaymentProposalIDs,
			PaymentStatus:                 status,
			PaidUntil:                     paidUntil,
		})
	}
	return info, nil
}

// providerPaymentStatus tells whether the wallet paid the provider, based
// on the purchase of its current payment proposal.
func (s *backupService) providerPaymentStatus(
	ctx context.Context, p *domain.BackupProvider,
) (ProviderPaymentStatus, time.Time, error) {
	if len(p.CurrentPaymentProposalID) <= 0 {
		return ProviderPaymentUnpaid, time.Time{}, nil
	}
	purchase, err := s.repo.PurchaseRepository().GetPurchase(
		ctx, p.CurrentPaymentProposalID,
	)
	if err != nil {
		return "", time.Time{}, err
	}
	if purchase == nil || !purchase.Paid {
		return ProviderPaymentPending, time.Time{}, nil
	}
	return ProviderPaymentPaid,
		purchase.TimestampAccepted.Add(backupPaymentValidity), nil
}

func (s *backupService) GetBackupRecovery(
	ctx context.Context,
) (*domain.BackupRecovery, error) {
	cfg, err := s.getOrCreateBackupConfig(ctx)
	if err != nil {
		return nil, err
	}
	providers, err := s.repo.BackupProviderRepository().GetAllBackupProviders(ctx)
	if err != nil {
		return nil, err
	}

	recovery := &domain.BackupRecovery{
		WalletRootPriv: cfg.WalletRootPriv,
		Providers:      make([]domain.BackupRecoveryProvider, 0, len(providers)),
	}
	for _, p := range providers {
		if p.State.Tag == domain.BackupProviderProvisional {
			continue
		}
		recovery.Providers = append(
			recovery.Providers, domain.BackupRecoveryProvider{URL: p.BaseURL},
		)
	}
	sort.Slice(recovery.Providers, func(i, j int) bool {
		return recovery.Providers[i].URL < recovery.Providers[j].URL
	})
	return recovery, nil
}

func (s *backupService) LoadBackupRecovery(
	ctx context.Context, req LoadBackupRecoveryRequest,
) error {
	cfg, err := s.getOrCreateBackupConfig(ctx)
	if err != nil {
		return err
	}
	providers, err := s.repo.BackupProviderRepository().GetAllBackupProviders(ctx)
	if err != nil {
		return err
	}

	strategy := req.Strategy
	if len(strategy) <= 0 {
		if req.Recovery.WalletRootPriv != cfg.WalletRootPriv && len(providers) > 0 {
			return domain.NewOperationError(
				domain.CodeBackupRecoveryStrategyRequired,
				"recovery strategy required for a wallet with backup providers",
				nil,
			)
		}
		strategy = domain.RecoveryStrategyTheirs
	}

	switch strategy {
	case domain.RecoveryStrategyTheirs:
		return s.recoverTheirs(ctx, req.Recovery)
	default:
		return domain.NewOperationError(
			domain.CodeBackupRecoveryStrategyUnsupported,
			fmt.Sprintf("recovery strategy %q not supported", strategy),
			nil,
		)
	}
}

// recoverTheirs adopts the root key and the providers of the recovered
// wallet. The backup bookkeeping starts over, so that the next cycle merges
// what the providers hold.
func (s *backupService) recoverTheirs(
	ctx context.Context, recovery domain.BackupRecovery,
) error {
	rootPub, err := s.crypto.EddsaGetPublic(recovery.WalletRootPriv)
	if err != nil {
		return fmt.Errorf("%w: invalid wallet root key", ErrMalformedBackup)
	}
	uids := make([][]byte, 0, len(recovery.Providers))
	for range recovery.Providers {
		uid, err := s.crypto.RandomBytes(backupProviderUIDLen)
		if err != nil {
			return err
		}
		uids = append(uids, uid)
	}

	_, err = s.repo.RunTransaction(
		ctx, false, func(ctx context.Context) (interface{}, error) {
			configRepo := s.repo.BackupConfigRepository()
			providerRepo := s.repo.BackupProviderRepository()

			cfg, err := configRepo.GetBackupConfig(ctx)
			if err != nil {
				return nil, err
			}
			if cfg == nil {
				return nil, ErrBackupConfigMissing
			}
			cfg.WalletRootPriv = recovery.WalletRootPriv
			cfg.WalletRootPub = rootPub
			cfg.LastBackupNonce = ""
			cfg.LastBackupPlainHash = ""
			cfg.LastBackupTimestamp = time.Time{}
			cfg.LastBackupCheckTimestamp = time.Time{}
			if err := configRepo.SaveBackupConfig(ctx, cfg); err != nil {
				return nil, err
			}

			now := s.now()
			for i, rp := range recovery.Providers {
				baseURL := domain.CanonicalizeBaseURL(rp.URL)
				existing, err := providerRepo.GetBackupProvider(ctx, baseURL)
				if err != nil {
					return nil, err
				}
				if existing != nil {
					continue
				}
				if err := providerRepo.AddOrUpdateBackupProvider(
					ctx, &domain.BackupProvider{
						BaseURL:            baseURL,
						Name:               "not-defined",
						State:              domain.NewReadyBackupState(now),
						PaymentProposalIDs: []string{},
						UIDs:               []string{crock.Encode(uids[i])},
					},
				); err != nil {
					return nil, err
				}
			}

			all, err := providerRepo.GetAllBackupProviders(ctx)
			if err != nil {
				return nil, err
			}
			for _, p := range all {
				p.LastBackupHash = ""
				p.LastBackupCycleTimestamp = time.Time{}
				if err := providerRepo.AddOrUpdateBackupProvider(ctx, p); err != nil {
					return nil, err
				}
			}
			return nil, nil
		},
	)
	if err != nil {
		return err
	}

	log.WithField("wallet_root_pub", rootPub).Info("wallet root key recovered")
	return nil
}

func (s *backupService) SetWalletDeviceID(
	ctx context.Context, deviceID string,
) error {
	if len(deviceID) <= 0 {
		return fmt.Errorf("device id must not be empty")
	}
	if _, err := s.getOrCreateBackupConfig(ctx); err != nil {
		return err
	}
	_, err := s.repo.RunTransaction(
		ctx, false, func(ctx context.Context) (interface{}, error) {
			configRepo := s.repo.BackupConfigRepository()
			cfg, err := configRepo.GetBackupConfig(ctx)
			if err != nil {
				return nil, err
			}
			if cfg == nil {
				return nil, ErrBackupConfigMissing
			}
			cfg.DeviceID = deviceID
			if cfg.Clocks == nil {
				cfg.Clocks = make(map[string]int)
			}
			if _, ok := cfg.Clocks[deviceID]; !ok {
				cfg.Clocks[deviceID] = 0
			}
			return nil, configRepo.SaveBackupConfig(ctx, cfg)
		},
	)
	return err
}

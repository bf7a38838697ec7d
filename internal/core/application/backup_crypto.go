package application

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/taler-go/walletd/internal/core/domain"
	"github.com/taler-go/walletd/internal/core/ports"
	"github.com/taler-go/walletd/pkg/canonicaljson"
	"github.com/taler-go/walletd/pkg/crock"
)

const (
	backupBlobMagic = "TLRWBK01"
	backupNonceLen  = 24

	blobSecretSalt  = "taler-sync-blob-secret-salt"
	blobSecretInfo  = "taler-sync-blob-secret-info"
	accountKeySalt  = "taler-sync-account-key-salt"
	backupSecretLen = 32
)

func (s *walletState) deriveBlobSecret(cfg *domain.BackupConfig) (*[32]byte, error) {
	rootPriv, err := crock.Decode(cfg.WalletRootPriv)
	if err != nil {
		return nil, fmt.Errorf("invalid wallet root key: %w", err)
	}
	buf, err := s.crypto.Kdf(
		backupSecretLen, rootPriv, []byte(blobSecretSalt), []byte(blobSecretInfo),
	)
	if err != nil {
		return nil, err
	}
	var key [32]byte
	copy(key[:], buf)
	return &key, nil
}

// deriveAccountKeyPair returns the key pair identifying the wallet at the
// given sync provider. Every provider sees a different account.
func (s *walletState) deriveAccountKeyPair(
	cfg *domain.BackupConfig, providerBaseURL string,
) (*ports.EddsaKeyPair, error) {
	rootPriv, err := crock.Decode(cfg.WalletRootPriv)
	if err != nil {
		return nil, fmt.Errorf("invalid wallet root key: %w", err)
	}
	seed, err := s.crypto.Kdf(
		backupSecretLen, rootPriv, []byte(accountKeySalt), []byte(providerBaseURL),
	)
	if err != nil {
		return nil, err
	}
	return s.crypto.EddsaKeyPairFromSeed(seed)
}

// encryptBackup returns the blob uploaded to sync providers:
// magic | nonce | secretbox(gzip(canonical json)). The nonce comes from the
// backup config, so that the same content always gives the same blob.
func (s *walletState) encryptBackup(
	cfg *domain.BackupConfig, content *domain.WalletBackupContent,
) ([]byte, error) {
	if len(cfg.LastBackupNonce) <= 0 {
		return nil, fmt.Errorf(
			"%w: backup nonce not set", domain.ErrInvariantViolated,
		)
	}
	nonceBuf, err := crock.Decode(cfg.LastBackupNonce)
	if err != nil || len(nonceBuf) < backupNonceLen {
		return nil, fmt.Errorf(
			"%w: invalid backup nonce", domain.ErrInvariantViolated,
		)
	}
	var nonce [backupNonceLen]byte
	copy(nonce[:], nonceBuf)

	plain, err := canonicaljson.Marshal(content)
	if err != nil {
		return nil, err
	}
	compressed := &bytes.Buffer{}
	w := gzip.NewWriter(compressed)
	if _, err := w.Write(plain); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	key, err := s.deriveBlobSecret(cfg)
	if err != nil {
		return nil, err
	}

	blob := make([]byte, 0, len(backupBlobMagic)+backupNonceLen+compressed.Len())
	blob = append(blob, backupBlobMagic...)
	blob = append(blob, nonce[:]...)
	blob = append(blob, s.crypto.SecretboxSeal(compressed.Bytes(), &nonce, key)...)
	return blob, nil
}

func (s *walletState) decryptBackup(
	cfg *domain.BackupConfig, blob []byte,
) (*domain.WalletBackupContent, error) {
	headerLen := len(backupBlobMagic) + backupNonceLen
	if len(blob) < headerLen ||
		string(blob[:len(backupBlobMagic)]) != backupBlobMagic {
		return nil, backupDecryptionFailed("invalid magic")
	}
	var nonce [backupNonceLen]byte
	copy(nonce[:], blob[len(backupBlobMagic):headerLen])

	key, err := s.deriveBlobSecret(cfg)
	if err != nil {
		return nil, err
	}
	compressed, ok := s.crypto.SecretboxOpen(blob[headerLen:], &nonce, key)
	if !ok {
		return nil, backupDecryptionFailed("authentication failed")
	}

	r, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, backupDecryptionFailed(err.Error())
	}
	defer r.Close()
	plain, err := io.ReadAll(r)
	if err != nil {
		return nil, backupDecryptionFailed(err.Error())
	}

	content, err := parseBackupContent(plain)
	if err != nil {
		return nil, backupDecryptionFailed(err.Error())
	}
	return content, nil
}

func backupDecryptionFailed(reason string) error {
	return domain.NewOperationError(
		domain.CodeBackupDecryptionFailed,
		fmt.Sprintf("failed to decrypt backup: %s", reason),
		nil,
	)
}

package ports

import (
	"context"

	"github.com/taler-go/walletd/internal/core/domain"
)

// SyncTermsOfService is the response of GET config of a sync provider.
type SyncTermsOfService struct {
	StorageLimitInMegabytes int           `json:"storage_limit_in_megabytes"`
	AnnualFee               domain.Amount `json:"annual_fee"`
	Version                 string        `json:"version"`
}

type BackupUploadRequest struct {
	AccountPub    string
	Blob          []byte
	SyncSignature string
	// IfNoneMatch is the hash of the uploaded blob.
	IfNoneMatch string
	// IfMatch is the hash of the previous upload, if any.
	IfMatch string
}

// BackupUploadResponse is returned for every status code, the caller
// decides how to handle it. TalerURI is the value of the Taler header of a
// 402 response, Body the content of a 409 one.
type BackupUploadResponse struct {
	Status   int
	TalerURI string
	Body     []byte
}

type SyncClient interface {
	GetConfig(ctx context.Context, baseURL string) (*SyncTermsOfService, error)
	UploadBackup(
		ctx context.Context, baseURL string, req BackupUploadRequest,
	) (*BackupUploadResponse, error)
}

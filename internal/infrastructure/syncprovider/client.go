// Package syncprovider implements ports.SyncClient over the API of a backup
// storage provider.
package syncprovider

import (
	"context"
	"net/http"

	"github.com/taler-go/walletd/internal/core/ports"
	"github.com/taler-go/walletd/internal/infrastructure/transport"
)

type client struct {
	transport *transport.Client
}

func NewClient(t *transport.Client) ports.SyncClient {
	return &client{t}
}

func (c *client) GetConfig(
	ctx context.Context, baseURL string,
) (*ports.SyncTermsOfService, error) {
	terms := &ports.SyncTermsOfService{}
	url := transport.JoinURL(baseURL, "config")
	if err := c.transport.GetJSON(ctx, url, 0, terms); err != nil {
		return nil, err
	}
	return terms, nil
}

// UploadBackup returns the response for any status code, including errors,
// since the backup cycle reacts to each of them.
func (c *client) UploadBackup(
	ctx context.Context, baseURL string, req ports.BackupUploadRequest,
) (*ports.BackupUploadResponse, error) {
	url := transport.JoinURL(baseURL, "backups", req.AccountPub)
	header := map[string]string{
		"Content-Type":   "application/octet-stream",
		"Sync-Signature": req.SyncSignature,
		"If-None-Match":  req.IfNoneMatch,
	}
	if len(req.IfMatch) > 0 {
		header["If-Match"] = req.IfMatch
	}

	resp, err := c.transport.Do(ctx, http.MethodPost, url, req.Blob, header, 0)
	if err != nil {
		return nil, err
	}

	res := &ports.BackupUploadResponse{Status: resp.Status}
	switch resp.Status {
	case http.StatusPaymentRequired:
		res.TalerURI = resp.Header.Get("Taler")
	case http.StatusConflict:
		res.Body = resp.Body
	}
	return res, nil
}

// Package payflow provides the pay flow used when the wallet runs without a
// payment backend. It recognizes payment requests but never pays them.
package payflow

import (
	"context"
	"net/url"
	"strings"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/taler-go/walletd/internal/core/ports"
)

type logOnly struct{}

func NewLogOnly() ports.PayFlow {
	return logOnly{}
}

func (logOnly) PreparePay(
	_ context.Context, talerPayURI string,
) (*ports.PreparePayResult, error) {
	u, err := url.Parse(talerPayURI)
	if err != nil || u.Scheme != "taler" || !strings.EqualFold(u.Host, "pay") {
		return nil, ErrInvalidPayURI
	}

	// Proposal ids are stable for a given uri so that repeated payment
	// requests of a provider are recognized.
	proposalID := uuid.NewSHA1(uuid.NameSpaceURL, []byte(talerPayURI)).String()
	log.WithFields(log.Fields{
		"uri":         talerPayURI,
		"proposal_id": proposalID,
	}).Info("payment requested, no pay flow configured")

	return &ports.PreparePayResult{
		Status:     ports.PreparePayInsufficientBalance,
		ProposalID: proposalID,
	}, nil
}

func (logOnly) ConfirmPay(_ context.Context, proposalID string) error {
	log.WithField("proposal_id", proposalID).Warn(
		"payment confirmation requested, no pay flow configured",
	)
	return ErrPaymentUnsupported
}

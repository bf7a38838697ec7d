package domain_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/taler-go/walletd/internal/core/domain"
)

func TestParseWithdrawURI(t *testing.T) {
	tests := []struct {
		uri       string
		baseURL   string
		opID      string
		statusURL string
	}{
		{
			uri:       "taler://withdraw/bank.test/api/abc-123",
			baseURL:   "https://bank.test/api/",
			opID:      "abc-123",
			statusURL: "https://bank.test/api/withdrawal-operation/abc-123",
		},
		{
			uri:       "taler+http://withdraw/localhost:8080/wop",
			baseURL:   "http://localhost:8080/",
			opID:      "wop",
			statusURL: "http://localhost:8080/withdrawal-operation/wop",
		},
	}
	for _, tt := range tests {
		u, err := domain.ParseWithdrawURI(tt.uri)
		require.NoError(t, err)
		require.Equal(t, tt.baseURL, u.BankIntegrationAPIBaseURL)
		require.Equal(t, tt.opID, u.WithdrawalOperationID)
		require.Equal(t, tt.statusURL, u.StatusURL())
	}

	for _, uri := range []string{
		"https://bank.test/api/abc", "taler://withdraw/", "taler://withdraw/bank.test",
		"taler://pay/bank.test/abc",
	} {
		_, err := domain.ParseWithdrawURI(uri)
		require.ErrorIs(t, err, domain.ErrMalformedWithdrawURI, uri)
	}
}

package exchange_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/taler-go/walletd/internal/core/domain"
	"github.com/taler-go/walletd/internal/core/ports"
	"github.com/taler-go/walletd/internal/infrastructure/exchange"
	"github.com/taler-go/walletd/internal/infrastructure/transport"
	"github.com/taler-go/walletd/pkg/util"
)

var ctx = context.Background()

func newTestExchange(t *testing.T) (ports.ExchangeClient, string) {
	mux := http.NewServeMux()
	mux.HandleFunc("/keys", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"version": "8:0:0",
			"currency": "KUDOS",
			"master_public_key": "MASTER",
			"denoms": [{
				"denom_pub": "DENOM",
				"value": "KUDOS:1",
				"fee_withdraw": "KUDOS:0.01",
				"fee_deposit": "KUDOS:0.01",
				"fee_refresh": "KUDOS:0.01",
				"fee_refund": "KUDOS:0.01",
				"stamp_start": {"t_ms": 1600000000000},
				"stamp_expire_withdraw": {"t_ms": 1700000000000},
				"stamp_expire_deposit": {"t_ms": 1800000000000},
				"stamp_expire_legal": {"t_ms": "never"},
				"master_sig": "SIG"
			}],
			"recoup": [{"h_denom_pub": "REVOKED"}],
			"list_issue_date": {"t_ms": 1600000000000}
		}`))
	})
	mux.HandleFunc("/reserves/KNOWN", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"balance": "KUDOS:4",
			"history": [
				{"type": "CREDIT", "amount": "KUDOS:5", "wire_reference": "W1"},
				{"type": "WITHDRAW", "amount": "KUDOS:1", "h_coin_envelope": "EV"}
			]
		}`))
	})
	mux.HandleFunc("/reserves/KNOWN/withdraw", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		var req ports.WithdrawRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "KNOWN", req.ReservePub)
		w.Write([]byte(`{"ev_sig": "BLINDSIG"}`))
	})
	mux.HandleFunc("/coins/COIN/melt", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"noreveal_index": 2}`))
	})
	mux.HandleFunc("/coins/GONE/melt", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"code": 1301, "hint": "coin unknown"}`))
	})
	mux.HandleFunc("/refreshes/RC/reveal", func(w http.ResponseWriter, r *http.Request) {
		var req ports.RevealRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.TransferPrivs, 2)
		w.Write([]byte(`{"ev_sigs": [{"ev_sig": "S1"}, {"ev_sig": "S2"}]}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client := exchange.NewClient(
		transport.NewClient(util.NewClient(5*time.Second, 0)),
	)
	return client, srv.URL + "/"
}

func TestGetKeys(t *testing.T) {
	client, baseURL := newTestExchange(t)

	keys, err := client.GetKeys(ctx, baseURL, 0)
	require.NoError(t, err)
	require.Equal(t, "KUDOS", keys.Currency)
	require.Len(t, keys.Denoms, 1)
	require.Equal(t, "KUDOS:1", keys.Denoms[0].Value.String())
	require.Equal(t, int64(1700000000000), keys.Denoms[0].StampExpireWithdraw.UnixMilli())
	require.Equal(t, ports.Never, keys.Denoms[0].StampExpireLegal.Time)
	require.Len(t, keys.Recoup, 1)
}

func TestGetReserveStatus(t *testing.T) {
	client, baseURL := newTestExchange(t)

	status, err := client.GetReserveStatus(ctx, baseURL, "KNOWN", 0)
	require.NoError(t, err)
	require.Equal(t, "KUDOS:4", status.Balance.String())
	require.Len(t, status.History, 2)
	require.Equal(t, ports.ReserveTransactionWithdraw, status.History[1].Type)
	require.Equal(t, "EV", status.History[1].HCoinEnvelope)

	_, err = client.GetReserveStatus(ctx, baseURL, "UNKNOWN", 0)
	require.Error(t, err)
	require.True(t, domain.IsHTTPStatus(err, http.StatusNotFound))
}

func TestWithdrawMeltReveal(t *testing.T) {
	client, baseURL := newTestExchange(t)

	withdrawRes, err := client.Withdraw(ctx, baseURL, ports.WithdrawRequest{
		ReservePub: "KNOWN",
		CoinEv:     "EV",
	}, 0)
	require.NoError(t, err)
	require.Equal(t, "BLINDSIG", withdrawRes.EvSig)

	meltRes, err := client.Melt(ctx, baseURL, ports.MeltRequest{CoinPub: "COIN"}, 0)
	require.NoError(t, err)
	require.Equal(t, 2, meltRes.NorevealIndex)

	_, err = client.Melt(ctx, baseURL, ports.MeltRequest{CoinPub: "GONE"}, 0)
	opErr, ok := domain.AsOperationError(err)
	require.True(t, ok)
	require.Equal(t, http.StatusNotFound, opErr.HTTPStatus)
	require.Equal(t, domain.ErrorCode(1301), opErr.Detail.Code)

	revealRes, err := client.Reveal(ctx, baseURL, ports.RevealRequest{
		Rc:            "RC",
		TransferPrivs: []string{"T0", "T2"},
	}, 0)
	require.NoError(t, err)
	require.Len(t, revealRes.EvSigs, 2)
}

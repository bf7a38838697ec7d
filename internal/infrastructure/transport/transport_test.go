package transport_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/taler-go/walletd/internal/core/domain"
	"github.com/taler-go/walletd/internal/infrastructure/transport"
	"github.com/taler-go/walletd/pkg/util"
)

var ctx = context.Background()

func newClient() *transport.Client {
	return transport.NewClient(util.NewClient(time.Second, 0))
}

func TestGetJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/ok":
				w.Write([]byte(`{"name":"taler"}`))
			case "/malformed":
				w.Write([]byte(`{"name":`))
			case "/throttled":
				w.WriteHeader(http.StatusTooManyRequests)
			case "/coded":
				w.WriteHeader(http.StatusConflict)
				w.Write([]byte(`{"code":1250,"hint":"unknown"}`))
			case "/slow":
				time.Sleep(200 * time.Millisecond)
				w.Write([]byte(`{}`))
			default:
				w.WriteHeader(http.StatusNotFound)
			}
		},
	))
	defer srv.Close()

	client := newClient()

	var out struct {
		Name string `json:"name"`
	}
	err := client.GetJSON(ctx, srv.URL+"/ok", 0, &out)
	require.NoError(t, err)
	require.Equal(t, "taler", out.Name)

	tests := []struct {
		path       string
		timeout    time.Duration
		code       domain.ErrorCode
		httpStatus int
	}{
		{"/malformed", 0, domain.CodeReceivedMalformedResponse, 0},
		{"/throttled", 0, domain.CodeHTTPRequestThrottled, 429},
		{"/coded", 0, domain.CodeExchangeReservesGetStatusUnknown, 409},
		{"/missing", 0, domain.CodeUnexpectedRequestError, 404},
		{"/slow", 50 * time.Millisecond, domain.CodeHTTPRequestGenericTimeout, 0},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			err := client.GetJSON(ctx, srv.URL+tt.path, tt.timeout, &out)
			opErr, ok := domain.AsOperationError(err)
			require.True(t, ok)
			require.Equal(t, tt.code, opErr.Detail.Code)
			require.Equal(t, tt.httpStatus, opErr.HTTPStatus)
		})
	}
}

func TestNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	err := newClient().PostJSON(ctx, url+"/withdraw", map[string]string{}, 0, nil)
	opErr, ok := domain.AsOperationError(err)
	require.True(t, ok)
	require.Equal(t, domain.CodeNetworkError, opErr.Detail.Code)
}

func TestJoinURL(t *testing.T) {
	tests := []struct {
		base string
		path []string
		want string
	}{
		{"https://exchange.test/", []string{"keys"}, "https://exchange.test/keys"},
		{"https://exchange.test", []string{"/keys"}, "https://exchange.test/keys"},
		{"https://ex.test/api/", []string{"reserves", "PUB", "withdraw"}, "https://ex.test/api/reserves/PUB/withdraw"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, transport.JoinURL(tt.base, tt.path...))
	}
}

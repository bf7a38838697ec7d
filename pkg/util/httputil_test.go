package util_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/taler-go/walletd/pkg/util"
)

func TestNewHTTPRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/echo":
				body, _ := io.ReadAll(r.Body)
				w.Header().Set("X-Method", r.Method)
				w.Header().Set("X-Custom", r.Header.Get("X-Custom"))
				w.WriteHeader(http.StatusCreated)
				w.Write(body)
			case "/fail":
				w.WriteHeader(http.StatusBadGateway)
				w.Write([]byte("oops"))
			case "/slow":
				time.Sleep(200 * time.Millisecond)
			}
		},
	))
	defer srv.Close()

	client := util.NewClient(5*time.Second, 0)
	ctx := context.Background()

	t.Run("post", func(t *testing.T) {
		res, err := client.NewHTTPRequest(
			ctx, http.MethodPost, srv.URL+"/echo", []byte("hello"),
			map[string]string{"X-Custom": "v"}, 0,
		)
		require.NoError(t, err)
		require.Equal(t, http.StatusCreated, res.Status)
		require.Equal(t, "hello", string(res.Body))
		require.Equal(t, "POST", res.Header.Get("X-Method"))
		require.Equal(t, "v", res.Header.Get("X-Custom"))
	})

	t.Run("server_error_is_a_response", func(t *testing.T) {
		res, err := client.NewHTTPRequest(
			ctx, http.MethodGet, srv.URL+"/fail", nil, nil, 0,
		)
		require.NoError(t, err)
		require.Equal(t, http.StatusBadGateway, res.Status)
		require.Equal(t, "oops", string(res.Body))
	})

	t.Run("timeout", func(t *testing.T) {
		_, err := client.NewHTTPRequest(
			ctx, http.MethodGet, srv.URL+"/slow", nil, nil, 20*time.Millisecond,
		)
		require.Error(t, err)
		require.True(t, util.IsTimeout(err))
	})

	t.Run("unsupported_method", func(t *testing.T) {
		_, err := client.NewHTTPRequest(
			ctx, http.MethodDelete, srv.URL+"/echo", nil, nil, 0,
		)
		require.ErrorIs(t, err, util.ErrUnsupportedMethod)
	})
}

func TestNewHTTPRequestNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client := util.NewClient(time.Second, 10)
	_, err := client.NewHTTPRequest(
		context.Background(), http.MethodGet, url, nil, nil, 0,
	)
	require.Error(t, err)
	require.False(t, util.IsTimeout(err))
}

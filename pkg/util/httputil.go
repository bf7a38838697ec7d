package util

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"github.com/taler-go/walletd/pkg/circuitbreaker"
	"go.uber.org/ratelimit"
)

var (
	// ErrUnsupportedMethod ...
	ErrUnsupportedMethod = errors.New("http method not supported")

	errServerFailure = errors.New("server failure")
)

// Response is the outcome of a request that reached the server, whatever
// the status code.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Client performs http requests, with a circuit breaker and a rate limiter
// for every host contacted. The breaker counts only transport errors and
// 5xx responses as failures.
type Client struct {
	client    *http.Client
	rateLimit int

	lock     sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
	limiters map[string]ratelimit.Limiter
}

// NewClient returns a client whose requests time out after the given
// duration unless a different timeout is given per request. rateLimit is
// the max number of requests per second per host, 0 means no limit.
func NewClient(timeout time.Duration, rateLimit int) *Client {
	return &Client{
		client:    &http.Client{Timeout: timeout},
		rateLimit: rateLimit,
		breakers:  make(map[string]*gobreaker.CircuitBreaker),
		limiters:  make(map[string]ratelimit.Limiter),
	}
}

// NewHTTPRequest function builds and sends an http request.
// @param method <string>: GET or POST
// @param rawURL <string>: URL http to call
// @param timeout <time.Duration>: per-request timeout, 0 to use the default
func (c *Client) NewHTTPRequest(
	ctx context.Context, method, rawURL string, body []byte,
	header map[string]string, timeout time.Duration,
) (*Response, error) {
	if method != http.MethodGet && method != http.MethodPost {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMethod, method)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}

	cb, limiter := c.forHost(u.Host)
	limiter.Take()

	res, err := cb.Execute(func() (interface{}, error) {
		resp, err := c.do(ctx, method, rawURL, body, header, timeout)
		if err != nil {
			return nil, err
		}
		if resp.Status >= http.StatusInternalServerError {
			return resp, errServerFailure
		}
		return resp, nil
	})
	if err != nil {
		if errors.Is(err, errServerFailure) {
			return res.(*Response), nil
		}
		return nil, err
	}
	return res.(*Response), nil
}

// IsTimeout returns whether the request failed because it took too long.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func (c *Client) do(
	ctx context.Context, method, rawURL string, body []byte,
	header map[string]string, timeout time.Duration,
) (*Response, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, err
	}
	for key, value := range header {
		req.Header.Set(key, value)
	}

	rs, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer rs.Body.Close()

	bodyBytes, err := io.ReadAll(rs.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return &Response{
		Status: rs.StatusCode,
		Header: rs.Header,
		Body:   bodyBytes,
	}, nil
}

func (c *Client) forHost(
	host string,
) (*gobreaker.CircuitBreaker, ratelimit.Limiter) {
	c.lock.Lock()
	defer c.lock.Unlock()

	cb, ok := c.breakers[host]
	if !ok {
		cb = circuitbreaker.NewCircuitBreaker(host)
		c.breakers[host] = cb
	}
	limiter, ok := c.limiters[host]
	if !ok {
		limiter = ratelimit.NewUnlimited()
		if c.rateLimit > 0 {
			limiter = ratelimit.New(c.rateLimit)
		}
		c.limiters[host] = limiter
	}
	return cb, limiter
}

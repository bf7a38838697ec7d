// Package transport maps http exchanges with the services the wallet talks
// to into JSON values and *domain.OperationError failures.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/taler-go/walletd/internal/core/domain"
	"github.com/taler-go/walletd/pkg/util"
)

// Client sends requests through a util.Client, which takes care of circuit
// breaking and rate limiting per host.
type Client struct {
	http *util.Client
}

func NewClient(httpClient *util.Client) *Client {
	return &Client{httpClient}
}

// Do sends the request and returns the response whatever its status. Only a
// request that didn't get a response fails, with a network or timeout
// error code.
func (c *Client) Do(
	ctx context.Context, method, url string, body []byte,
	header map[string]string, timeout time.Duration,
) (*util.Response, error) {
	log.Debugf("%s %s", method, url)

	resp, err := c.http.NewHTTPRequest(ctx, method, url, body, header, timeout)
	if err != nil {
		details := map[string]interface{}{
			"requestUrl":    url,
			"requestMethod": method,
		}
		if util.IsTimeout(err) {
			details["timeoutMs"] = timeout.Milliseconds()
			return nil, domain.NewOperationError(
				domain.CodeHTTPRequestGenericTimeout,
				fmt.Sprintf("request to %s timed out", url), details,
			)
		}
		return nil, domain.NewOperationError(
			domain.CodeNetworkError,
			fmt.Sprintf("request to %s failed: %s", url, err), details,
		)
	}
	return resp, nil
}

// GetJSON sends a GET request and decodes a 200 response into out.
func (c *Client) GetJSON(
	ctx context.Context, url string, timeout time.Duration, out interface{},
) error {
	resp, err := c.Do(ctx, http.MethodGet, url, nil, nil, timeout)
	if err != nil {
		return err
	}
	return ReadSuccessResponse(url, resp, out)
}

// PostJSON sends body encoded as JSON and decodes a 2xx response into out,
// if not nil.
func (c *Client) PostJSON(
	ctx context.Context, url string, body interface{}, timeout time.Duration,
	out interface{},
) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return err
	}
	header := map[string]string{"Content-Type": "application/json"}
	resp, err := c.Do(ctx, http.MethodPost, url, buf, header, timeout)
	if err != nil {
		return err
	}
	return ReadSuccessResponse(url, resp, out)
}

// ReadSuccessResponse decodes the body of a 2xx response into out, or turns
// any other response into an error.
func ReadSuccessResponse(url string, resp *util.Response, out interface{}) error {
	if resp.Status < 200 || resp.Status > 299 {
		return ErrorFromResponse(url, resp)
	}
	if out == nil || resp.Status == http.StatusNoContent {
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return domain.NewOperationError(
			domain.CodeReceivedMalformedResponse,
			fmt.Sprintf("malformed response from %s: %s", url, err),
			map[string]interface{}{
				"requestUrl": url,
				"httpStatus": resp.Status,
			},
		)
	}
	return nil
}

// ErrorFromResponse builds the error for a response whose status is not the
// expected one. The error code reported by the server, if any, is kept.
func ErrorFromResponse(url string, resp *util.Response) *domain.OperationError {
	var body struct {
		Code int    `json:"code"`
		Hint string `json:"hint"`
	}
	json.Unmarshal(resp.Body, &body)

	code := domain.CodeUnexpectedRequestError
	switch {
	case body.Code > 0:
		code = domain.ErrorCode(body.Code)
	case resp.Status == http.StatusTooManyRequests:
		code = domain.CodeHTTPRequestThrottled
	}

	details := map[string]interface{}{
		"requestUrl": url,
		"httpStatus": resp.Status,
	}
	if len(body.Hint) > 0 {
		details["errorResponse"] = body.Hint
	}

	err := domain.NewOperationError(
		code,
		fmt.Sprintf("unexpected response status %d from %s", resp.Status, url),
		details,
	)
	err.HTTPStatus = resp.Status
	return err
}

// JoinURL appends the given path to a base url, taking care of the
// separator.
func JoinURL(baseURL string, path ...string) string {
	return strings.TrimSuffix(baseURL, "/") + "/" +
		strings.TrimPrefix(strings.Join(path, "/"), "/")
}

package domain

import (
	"strings"
)

// WithdrawURI is a parsed taler://withdraw URI, pointing to a withdrawal
// operation started at a bank.
type WithdrawURI struct {
	BankIntegrationAPIBaseURL string
	WithdrawalOperationID     string
}

// StatusURL returns the url of the withdrawal operation at the bank.
func (u WithdrawURI) StatusURL() string {
	return u.BankIntegrationAPIBaseURL + "withdrawal-operation/" + u.WithdrawalOperationID
}

// ConfigURL ...
func (u WithdrawURI) ConfigURL() string {
	return u.BankIntegrationAPIBaseURL + "config"
}

// ParseWithdrawURI parses URIs in the form
// taler://withdraw/<host>/<path>/<operation id>. The taler+http scheme
// makes the bank be contacted over plain http.
func ParseWithdrawURI(uri string) (*WithdrawURI, error) {
	scheme := "https://"
	var rest string
	switch {
	case strings.HasPrefix(strings.ToLower(uri), "taler://withdraw/"):
		rest = uri[len("taler://withdraw/"):]
	case strings.HasPrefix(strings.ToLower(uri), "taler+http://withdraw/"):
		rest = uri[len("taler+http://withdraw/"):]
		scheme = "http://"
	default:
		return nil, ErrMalformedWithdrawURI
	}
	if i := strings.IndexAny(rest, "?#"); i >= 0 {
		rest = rest[:i]
	}
	rest = strings.TrimSuffix(rest, "/")
	lastSlash := strings.LastIndex(rest, "/")
	if lastSlash <= 0 || lastSlash == len(rest)-1 {
		return nil, ErrMalformedWithdrawURI
	}
	return &WithdrawURI{
		BankIntegrationAPIBaseURL: scheme + rest[:lastSlash] + "/",
		WithdrawalOperationID:     rest[lastSlash+1:],
	}, nil
}

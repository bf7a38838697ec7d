package domain

import (
	"strings"
	"time"
)

// AutoRefreshMaxCheckDelay is the max delay between 2 checks for coins to
// refresh of an exchange.
const AutoRefreshMaxCheckDelay = 24 * time.Hour

// Exchange is an exchange known to the wallet.
type Exchange struct {
	BaseURL          string
	MasterPublicKey  string
	Currency         string
	LastUpdate       time.Time
	NextRefreshCheck time.Time
	RetryInfo        RetryInfo
	LastError        *ErrorDetail
}

// CanonicalizeBaseURL returns the given url with a trailing slash and a
// default https scheme.
func CanonicalizeBaseURL(url string) string {
	url = strings.TrimSpace(url)
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		url = "https://" + url
	}
	if !strings.HasSuffix(url, "/") {
		url += "/"
	}
	return url
}

// NeedsUpdate returns whether the keys of the exchange are outdated.
func (e *Exchange) NeedsUpdate(now time.Time, interval time.Duration) bool {
	return e.LastUpdate.IsZero() || now.Sub(e.LastUpdate) >= interval
}

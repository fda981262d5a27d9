package provider

import (
	"fmt"
	"net/http"
	"strings"
)

// Kind is the provider failure category the classifier keys on
type Kind string

const (
	KindQuota        Kind = "quota"
	KindAuth         Kind = "auth"
	KindInvalidInput Kind = "invalid_input"
	KindNotFound     Kind = "not_found"
	KindServer       Kind = "server"
	KindRateLimited  Kind = "rate_limited"
	KindUnknown      Kind = "unknown"
)

// Error is a failure reported by the provider, over HTTP or in a poll result
type Error struct {
	Op         string
	Kind       Kind
	StatusCode int
	Code       string
	Message    string
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "provider %s failed", e.Op)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " with status %d", e.StatusCode)
	}
	if e.Code != "" {
		fmt.Fprintf(&b, " [%s]", e.Code)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	return b.String()
}

// kindFor maps an HTTP status and provider error code to a Kind.
// A recognised code wins over the status.
func kindFor(status int, code string) Kind {
	switch strings.ToLower(code) {
	case "quota_exceeded", "insufficient_quota", "credits_exhausted":
		return KindQuota
	case "invalid_api_key", "unauthorized":
		return KindAuth
	case "content_policy_violation", "invalid_request", "invalid_params":
		return KindInvalidInput
	case "rate_limited":
		return KindRateLimited
	case "internal_error", "upstream_unavailable":
		return KindServer
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuth
	case status == http.StatusPaymentRequired:
		return KindQuota
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return KindInvalidInput
	case status == http.StatusNotFound || status == http.StatusGone:
		return KindNotFound
	case status >= 500:
		return KindServer
	}
	return KindUnknown
}

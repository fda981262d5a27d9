// Package classifier decides whether a failed generation attempt is worth
// retrying.
package classifier

import (
	"context"
	"errors"
	"net"
	"regexp"
	"strings"

	"github.com/reelforge-backend/internal/credentials"
	"github.com/reelforge-backend/internal/platform/provider"
)

// Verdict is the outcome of classifying one error
type Verdict int

const (
	Retryable Verdict = iota
	Terminal
)

func (v Verdict) String() string {
	if v == Terminal {
		return "terminal"
	}
	return "retryable"
}

// RetryableError wraps a failure the queue should retry
type RetryableError struct{ Err error }

func (e *RetryableError) Error() string { return "retryable: " + e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

// TerminalError wraps a failure that ends the job
type TerminalError struct{ Err error }

func (e *TerminalError) Error() string { return "terminal: " + e.Err.Error() }
func (e *TerminalError) Unwrap() error { return e.Err }

type rule struct {
	verdict Verdict
	pattern *regexp.Regexp
}

// Terminal rules run before retryable ones, so "invalid api key (timeout)"
// is terminal
var rules = []rule{
	{Terminal, regexp.MustCompile(`quota|insufficient[ _]?(credit|quota|balance)|credits? (exhausted|depleted)|billing`)},
	{Terminal, regexp.MustCompile(`unauthori[sz]ed|forbidden|invalid[ _]api[ _]key|authentication failed|permission denied`)},
	{Terminal, regexp.MustCompile(`invalid|malformed|policy|content violation|unsupported|bad request`)},
	{Terminal, regexp.MustCompile(`not found|no such (file|resource|generation)`)},
	{Retryable, regexp.MustCompile(`\b5\d\d\b|bad gateway|gateway time-?out|service unavailable|internal server error|overloaded`)},
	{Retryable, regexp.MustCompile(`connection (refused|reset)|broken pipe|eof`)},
	{Retryable, regexp.MustCompile(`time-?out|timed out|deadline exceeded`)},
	{Retryable, regexp.MustCompile(`no such host|dns|name resolution`)},
	{Retryable, regexp.MustCompile(`temporar|try again|rate limit|too many requests`)},
}

var quotaPattern = rules[0].pattern

// Classifier maps errors to verdicts. Structured provider errors are trusted
// first; message rules are the fallback for opaque errors.
type Classifier struct {
	defaultVerdict Verdict
}

// New returns a classifier whose verdict for unrecognised errors is
// retryable when defaultRetryable is set
func New(defaultRetryable bool) *Classifier {
	v := Terminal
	if defaultRetryable {
		v = Retryable
	}
	return &Classifier{defaultVerdict: v}
}

func (c *Classifier) Classify(err error) Verdict {
	if err == nil {
		return Retryable
	}

	var retryable *RetryableError
	if errors.As(err, &retryable) {
		return Retryable
	}
	var terminal *TerminalError
	if errors.As(err, &terminal) {
		return Terminal
	}

	if perr, ok := provider.AsError(err); ok {
		switch perr.Kind {
		case provider.KindQuota, provider.KindAuth, provider.KindInvalidInput, provider.KindNotFound:
			return Terminal
		case provider.KindServer, provider.KindRateLimited:
			return Retryable
		}
	}

	if errors.Is(err, credentials.ErrNoAvailableCredential) || errors.Is(err, context.DeadlineExceeded) {
		return Retryable
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return Retryable
	}

	msg := strings.ToLower(err.Error())
	for _, r := range rules {
		if r.pattern.MatchString(msg) {
			return r.verdict
		}
	}
	return c.defaultVerdict
}

// IsQuotaExhausted reports whether err means the credential ran out of quota
func IsQuotaExhausted(err error) bool {
	if err == nil {
		return false
	}
	if perr, ok := provider.AsError(err); ok && perr.Kind == provider.KindQuota {
		return true
	}
	return quotaPattern.MatchString(strings.ToLower(err.Error()))
}

package dispatcher

import (
	"strings"

	"github.com/plexusgw/plexus/internal/config"
)

// isRetryableStatus reports whether statusCode is in the configured
// retryable set (spec §4.6 step 5, default {429,500,502,503,504}).
func isRetryableStatus(statusCode int, failover config.FailoverConfig) bool {
	for _, c := range failover.EffectiveRetryableStatusCodes() {
		if c == statusCode {
			return true
		}
	}
	return false
}

// isCooldownWorthyStatus reports whether statusCode should mark the target
// for cooldown on failure, per spec §4.6/§7: {401, 403, 408, 429, >=500}.
// Note this is independent of retryability: a 400/413/422 is neither
// retryable nor cooldown-worthy.
func isCooldownWorthyStatus(statusCode int) bool {
	switch statusCode {
	case 401, 403, 408, 429:
		return true
	}
	return statusCode >= 500
}

// isRetryableNetworkError reports whether err's message names one of the
// configured retryable network error codes (spec §4.6 step 5, default
// {ECONNREFUSED, ETIMEDOUT, ENOTFOUND}). Matching on substring mirrors how
// these codes surface from Go's net package errors (e.g. "dial tcp ...:
// connect: connection refused"). A message containing "context deadline
// exceeded" or "i/o timeout" is also reported retryable, whatever the
// configured codes.
func isRetryableNetworkError(err error, failover config.FailoverConfig) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, code := range failover.EffectiveRetryableErrors() {
		if strings.Contains(msg, code) {
			return true
		}
	}
	return strings.Contains(msg, "context deadline exceeded") || strings.Contains(msg, "i/o timeout")
}

func containsString(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

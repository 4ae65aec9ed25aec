package advisory

import (
	"bytes"
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"syscall"
)

// Markers that identify an anti-bot challenge page. A 403 carrying one of
// these is a hard block for the domain, not a transient failure.
var botChallengeMarkers = [][]byte{
	[]byte("cf-challenge"),
	[]byte("cf-browser-verification"),
	[]byte("attention required! | cloudflare"),
	[]byte("reference #18."),
	[]byte("request unsuccessful. incapsula"),
	[]byte("verify you are human"),
	[]byte("enable javascript and cookies to continue"),
}

// Classify maps a strategy attempt outcome into the error taxonomy.
// A nil error with a 2xx status yields ErrorNone.
func Classify(resp FetchResponse, err error) ErrorKind {
	if err == nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return ErrorNone
	}
	if kind := classifyStatus(resp); kind != ErrorNone {
		return kind
	}
	return classifyError(err)
}

func classifyStatus(resp FetchResponse) ErrorKind {
	switch {
	case resp.StatusCode == 0:
		return ErrorNone
	case resp.StatusCode == http.StatusForbidden:
		if IsBotChallenge(resp.Body) {
			return ErrorBotBlocked
		}
		// Plain 403s are not retried either; hammering a forbidden endpoint
		// is how domains end up refusing the whole run.
		return ErrorNetworkTerminal
	case resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusGone:
		return ErrorNetworkTerminal
	case resp.StatusCode == http.StatusRequestTimeout, resp.StatusCode == http.StatusTooManyRequests:
		return ErrorNetworkTransient
	case resp.StatusCode >= 500:
		return ErrorNetworkTransient
	case resp.StatusCode >= 400:
		return ErrorNetworkTerminal
	}
	return ErrorNone
}

func classifyError(err error) ErrorKind {
	if err == nil {
		return ErrorNone
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ErrorNetworkTransient
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return ErrorNetworkTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ErrorNetworkTransient
		}
		return ErrorNetworkTerminal
	}
	if strings.Contains(err.Error(), "connection reset") {
		return ErrorNetworkTransient
	}
	return ErrorNetworkTransient
}

// Retryable reports whether a failure of the given kind is worth another
// attempt against the same strategy.
func Retryable(kind ErrorKind) bool {
	return kind == ErrorNetworkTransient
}

// IsBotChallenge scans a response body for known challenge signatures.
func IsBotChallenge(body []byte) bool {
	if len(body) == 0 {
		return false
	}
	lower := bytes.ToLower(body)
	for _, marker := range botChallengeMarkers {
		if bytes.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// Package vision holds the HTTP clients for the remote inference services:
// object detection, DINO visual search and Jina image embeddings.
package vision

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/timmy/fitfinder/internal/domain"
	"github.com/timmy/fitfinder/internal/logger"
)

// ClientConfig configures one remote service client.
type ClientConfig struct {
	BaseURL string
	APIKey  string
	// Timeout bounds a single attempt, not the whole call.
	Timeout    time.Duration
	RetryCount int
	RetryWait  time.Duration
	Logger     *logger.Logger
}

// newRestyClient builds a client that retries transport errors and 5xx
// responses up to RetryCount times. 4xx responses are never retried.
func newRestyClient(cfg ClientConfig, upstream string) *resty.Client {
	client := resty.New()
	client.SetBaseURL(strings.TrimSuffix(cfg.BaseURL, "/"))
	client.SetHeader("Content-Type", "application/json")
	client.SetHeader("Accept", "application/json")
	if cfg.APIKey != "" {
		client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	}
	if cfg.Timeout > 0 {
		client.SetTimeout(cfg.Timeout)
	}
	client.SetLogger(logger.ForResty(cfg.Logger, upstream))

	wait := cfg.RetryWait
	if wait <= 0 {
		wait = 100 * time.Millisecond
	}
	client.SetRetryCount(cfg.RetryCount)
	client.SetRetryWaitTime(wait)
	client.SetRetryMaxWaitTime(4 * wait)
	client.AddRetryCondition(shouldRetry)

	return client
}

// shouldRetry retries only when no response arrived or the upstream answered 5xx.
// An error alongside a received response is a body decode failure and is final.
func shouldRetry(resp *resty.Response, err error) bool {
	if resp != nil && resp.Request != nil && resp.Request.Context().Err() != nil {
		return false
	}
	if err != nil {
		return resp == nil || resp.RawResponse == nil
	}
	return resp != nil && resp.StatusCode() >= http.StatusInternalServerError
}

// classify maps a finished call to the domain taxonomy. It returns nil for 2xx.
func classify(upstream string, resp *resty.Response, err error, unavailable, invalid domain.Reason) *domain.Error {
	if err != nil {
		return domain.WrapError(unavailable, fmt.Errorf("%s request failed: %w", upstream, err))
	}
	status := resp.StatusCode()
	switch {
	case status >= 200 && status < 300:
		return nil
	case status >= 400 && status < 500:
		return domain.NewError(invalid, "%s rejected request: status %d: %s", upstream, status, snippet(resp.String()))
	default:
		return domain.NewError(unavailable, "%s returned status %d", upstream, status)
	}
}

func snippet(s string) string {
	const max = 200
	s = strings.TrimSpace(s)
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}

// errUnexpectedPayload marks 2xx responses whose body could not be used.
var errUnexpectedPayload = errors.New("unexpected response payload")

package dingtalk

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/keepmind9/cardbot/internal/logger"
	"github.com/keepmind9/cardbot/pkg/constants"
	"github.com/sirupsen/logrus"
)

// ErrNoToken is returned when an API call is attempted before a token exists
var ErrNoToken = errors.New("dingtalk: no access token available")

// TokenSource is the read side of the token cache
type TokenSource interface {
	CurrentToken() string
	IsNearlyExpired() bool
}

// Transport sets the access token header on every request it forwards
type Transport struct {
	Source TokenSource
	Base   http.RoundTripper
}

// RoundTrip implements http.RoundTripper
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	tok := t.Source.CurrentToken()
	if tok == "" {
		if req.Body != nil {
			req.Body.Close()
		}
		return nil, ErrNoToken
	}

	if t.Source.IsNearlyExpired() {
		// The API will most likely reject it; callers handle that.
		logger.WithFields(logrus.Fields{
			"method": req.Method,
			"path":   req.URL.Path,
		}).Warn("sending-request-with-expired-access-token")
	}

	out := req.Clone(req.Context())
	out.Header.Set(constants.AccessTokenHeader, tok)
	return t.base().RoundTrip(out)
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

// NewHTTPClient returns an http.Client that authenticates with source
func NewHTTPClient(source TokenSource, timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = constants.DefaultHTTPTimeout
	}
	return &http.Client{
		Transport: &Transport{Source: source},
		Timeout:   timeout,
	}
}

// Client performs authenticated calls against the DingTalk open API
type Client struct {
	endpoint string
	http     *http.Client
}

// NewClient creates an API client for endpoint using tokens from source
func NewClient(endpoint string, source TokenSource, timeout time.Duration) *Client {
	if endpoint == "" {
		endpoint = constants.DefaultDingTalkEndpoint
	}
	return &Client{
		endpoint: strings.TrimSuffix(endpoint, "/"),
		http:     NewHTTPClient(source, timeout),
	}
}

// APIResponse is the raw result of an API call
type APIResponse struct {
	StatusCode int
	Body       []byte
}

// Do sends body (may be nil) to path with method and returns the raw response
func (c *Client) Do(ctx context.Context, method, path string, body []byte) (*APIResponse, error) {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"method": method,
		"path":   path,
		"status": resp.StatusCode,
	}).Debug("dingtalk-api-call")

	return &APIResponse{StatusCode: resp.StatusCode, Body: data}, nil
}

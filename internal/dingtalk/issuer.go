// Package dingtalk talks to the DingTalk open API over HTTPS.
//
// Issuer exchanges an application's client id and secret for an access
// token through the oauth2_1_0 SDK client. Transport and Client attach the
// cached token to every outbound API request.
package dingtalk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	openapi "github.com/alibabacloud-go/darabonba-openapi/v2/client"
	dingtalkoauth2_1_0 "github.com/alibabacloud-go/dingtalk/oauth2_1_0"
	"github.com/alibabacloud-go/tea/tea"
	"github.com/google/uuid"
	"github.com/keepmind9/cardbot/internal/logger"
	"github.com/keepmind9/cardbot/internal/token"
	"github.com/keepmind9/cardbot/pkg/constants"
	"github.com/sirupsen/logrus"
)

// Error codes produced locally rather than by the API
const (
	CodeInvalidResponse = "InvalidResponse"
	CodeRequestFailed   = "RequestFailed"
)

// IssueError describes a failed access token request
type IssueError struct {
	StatusCode int
	Code       string
	Message    string
	RequestID  string
	Err        error
}

func (e *IssueError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "dingtalk access token request failed: code=%s", e.Code)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " status=%d", e.StatusCode)
	}
	if e.Message != "" {
		fmt.Fprintf(&b, " message=%q", e.Message)
	}
	if e.RequestID != "" {
		fmt.Fprintf(&b, " request_id=%s", e.RequestID)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *IssueError) Unwrap() error {
	return e.Err
}

// apiErrorBody is the JSON error body the SDK keeps in SDKError.Data
type apiErrorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"requestid"`
}

// Issuer obtains application access tokens from the DingTalk OAuth2 API
type Issuer struct {
	client *dingtalkoauth2_1_0.Client
}

var _ token.Issuer = (*Issuer)(nil)

// NewIssuer creates an issuer for endpoint (defaults to the public API).
// A non-positive timeout uses constants.DefaultHTTPTimeout.
func NewIssuer(endpoint string, timeout time.Duration) (*Issuer, error) {
	if endpoint == "" {
		endpoint = constants.DefaultDingTalkEndpoint
	}
	if timeout <= 0 {
		timeout = constants.DefaultHTTPTimeout
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid dingtalk endpoint %q: %w", endpoint, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid dingtalk endpoint %q: scheme and host are required", endpoint)
	}

	millis := int(timeout / time.Millisecond)
	config := &openapi.Config{
		Protocol:       tea.String(u.Scheme),
		RegionId:       tea.String("central"),
		Endpoint:       tea.String(u.Host),
		ReadTimeout:    tea.Int(millis),
		ConnectTimeout: tea.Int(millis),
	}
	client, err := dingtalkoauth2_1_0.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create dingtalk oauth2 client: %w", err)
	}
	return &Issuer{client: client}, nil
}

type issueResult struct {
	resp *dingtalkoauth2_1_0.GetAccessTokenResponse
	err  error
}

// Issue requests a new access token for the application.
// The SDK call is not context aware, so ctx only bounds how long Issue waits.
func (i *Issuer) Issue(ctx context.Context, clientID, clientSecret string) (token.Issued, error) {
	attemptID := uuid.NewString()
	log := logger.WithFields(logrus.Fields{
		"attempt_id": attemptID,
		"client_id":  logger.MaskClientID(clientID),
	})

	request := &dingtalkoauth2_1_0.GetAccessTokenRequest{
		AppKey:    tea.String(clientID),
		AppSecret: tea.String(clientSecret),
	}

	log.Debug("requesting-access-token")
	start := time.Now()

	done := make(chan issueResult, 1)
	go func() {
		resp, err := i.getAccessToken(request)
		done <- issueResult{resp: resp, err: err}
	}()

	var result issueResult
	select {
	case <-ctx.Done():
		return token.Issued{}, &IssueError{Code: CodeRequestFailed, Err: ctx.Err()}
	case result = <-done:
	}

	if result.err != nil {
		issueErr := toIssueError(result.err)
		log.WithFields(logrus.Fields{
			"status": issueErr.StatusCode,
			"code":   issueErr.Code,
		}).Warn("access-token-request-rejected")
		return token.Issued{}, issueErr
	}

	var body *dingtalkoauth2_1_0.GetAccessTokenResponseBody
	if result.resp != nil {
		body = result.resp.Body
	}
	if body == nil {
		body = &dingtalkoauth2_1_0.GetAccessTokenResponseBody{}
	}
	accessToken := tea.StringValue(body.AccessToken)
	expireIn := tea.Int64Value(body.ExpireIn)
	if accessToken == "" || expireIn <= 0 {
		return token.Issued{}, &IssueError{
			Code:    CodeInvalidResponse,
			Message: fmt.Sprintf("accessToken empty=%v expireIn=%d", accessToken == "", expireIn),
		}
	}

	log.WithFields(logrus.Fields{
		"expire_in": expireIn,
		"latency":   time.Since(start).String(),
	}).Info("access-token-issued")

	return token.Issued{
		Token: accessToken,
		TTL:   time.Duration(expireIn) * time.Second,
	}, nil
}

// getAccessToken calls the SDK, turning its panics into errors
func (i *Issuer) getAccessToken(request *dingtalkoauth2_1_0.GetAccessTokenRequest) (_resp *dingtalkoauth2_1_0.GetAccessTokenResponse, _err error) {
	defer func() {
		if r := tea.Recover(recover()); r != nil {
			_err = r
		}
	}()
	return i.client.GetAccessToken(request)
}

func toIssueError(err error) *IssueError {
	var sdkErr *tea.SDKError
	if !errors.As(err, &sdkErr) {
		return &IssueError{Code: CodeRequestFailed, Err: err}
	}

	issueErr := &IssueError{
		StatusCode: tea.IntValue(sdkErr.StatusCode),
		Code:       tea.StringValue(sdkErr.Code),
		Message:    tea.StringValue(sdkErr.Message),
	}
	if issueErr.Code == "" {
		issueErr.Code = CodeRequestFailed
	}

	var apiErr apiErrorBody
	if data := tea.StringValue(sdkErr.Data); data != "" && json.Unmarshal([]byte(data), &apiErr) == nil {
		if apiErr.Message != "" {
			issueErr.Message = apiErr.Message
		}
		issueErr.RequestID = apiErr.RequestID
	}
	return issueErr
}

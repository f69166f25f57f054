package token

import "errors"

// Sentinel errors for the token cache
var (
	// ErrConfiguration means Initialize was called without usable credentials.
	ErrConfiguration = errors.New("token: missing application credentials")
	// ErrFatalIssuance means every startup issuance attempt failed.
	ErrFatalIssuance = errors.New("token: failed to obtain initial access token")
	// ErrNotInitialized means a token was requested before Initialize succeeded.
	ErrNotInitialized = errors.New("token: cache not initialized")
	// ErrInvalidIssue means the issuer reported success with an empty token or non-positive TTL.
	ErrInvalidIssue = errors.New("token: issuer returned an unusable token")
)

package constants

import "time"

// Token lifecycle defaults
const (
	// DefaultIssueMaxAttempts is the number of issuance attempts made at startup
	DefaultIssueMaxAttempts = 3
	// DefaultIssueRetryPause is the fixed pause between startup issuance attempts
	DefaultIssueRetryPause = 100 * time.Millisecond
	// DefaultIssueTimeout bounds a single issuance call
	DefaultIssueTimeout = 10 * time.Second
	// DefaultRefreshCheckInterval is how often the refresher checks the token
	DefaultRefreshCheckInterval = 60 * time.Second
	// DefaultRefreshMargin is the remaining lifetime below which a refresh is attempted
	DefaultRefreshMargin = 10 * time.Minute
	// DefaultExpiryTolerance is how far past expiry a token is still considered usable
	DefaultExpiryTolerance = 5 * time.Second
)

// DingTalk API
const (
	// DefaultDingTalkEndpoint is the base URL of the DingTalk open API
	DefaultDingTalkEndpoint = "https://api.dingtalk.com"
	// AccessTokenHeader carries the application access token on outbound API calls
	AccessTokenHeader = "x-acs-dingtalk-access-token"
	// MaxDingTalkMessageLength is DingTalk's message character limit
	MaxDingTalkMessageLength = 20000
)

// Engine
const (
	// MessageChannelBufferSize is the size of the bot message queue
	MessageChannelBufferSize = 100
)

// Timeouts and delays
const (
	// DefaultHTTPTimeout is the timeout for outbound API requests
	DefaultHTTPTimeout = 15 * time.Second
	// StatusServerShutdownTimeout is the graceful shutdown window of the status server
	StatusServerShutdownTimeout = 5 * time.Second
	// StatusClientTimeout is the timeout used by the status command
	StatusClientTimeout = 5 * time.Second
)

// Token masking
const (
	// MinTokenLengthForMasking is the minimum token length to apply masking
	MinTokenLengthForMasking = 10
	// TokenMaskPrefixLength is the length of prefix to show before masking
	TokenMaskPrefixLength = 4
	// TokenMaskSuffixLength is the length of suffix to show after masking
	TokenMaskSuffixLength = 4
)

// ClientID masking
const (
	// MinClientIDLengthForMasking is the minimum client ID length to apply masking
	MinClientIDLengthForMasking = 8
	// ClientIDMaskPrefixLength is the length of prefix to show before masking
	ClientIDMaskPrefixLength = 4
	// ClientIDMaskSuffixLength is the length of suffix to show after masking
	ClientIDMaskSuffixLength = 4
)

// Logging defaults
const (
	// DefaultLogMaxSize is the default maximum log file size in MB
	DefaultLogMaxSize = 100
	// DefaultLogMaxAge is the default maximum number of days to retain old logs
	DefaultLogMaxAge = 30
)

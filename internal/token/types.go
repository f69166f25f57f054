// Package token owns the application access token.
//
// A Cache acquires the token once at startup, retrying a bounded number of
// times, and keeps exactly one current Credential that many goroutines read
// concurrently. A Refresher calls Cache.RefreshIfNeeded on a fixed interval
// and the cache swaps in a new Credential once the current one is inside the
// refresh margin.
//
// # Concurrency
//
// Readers (CurrentToken, Token, IsNearlyExpired) only load an atomic pointer.
// They never wait on the issuer or on a writer. The write path calls the
// issuer without holding any lock and publishes the result with a single
// atomic store. Overlapping refresh checks are coalesced.
//
// # Usage
//
//	cache := token.NewCache(issuer, token.DefaultConfig())
//	if err := cache.Initialize(ctx, clientID, clientSecret); err != nil {
//	    log.Fatal(err) // ErrConfiguration or ErrFatalIssuance
//	}
//	go token.NewRefresher(cache, time.Minute).Start(ctx)
//
//	req.Header.Set("x-acs-dingtalk-access-token", cache.CurrentToken())
package token

import (
	"context"
	"time"

	"github.com/keepmind9/cardbot/pkg/constants"
)

// Credential is one issued access token. It is never mutated after creation.
type Credential struct {
	Token     string
	ExpiresAt time.Time
}

// Issued is the issuer's answer to a successful request.
type Issued struct {
	Token string
	TTL   time.Duration
}

// Issuer mints access tokens for an application.
type Issuer interface {
	Issue(ctx context.Context, clientID, clientSecret string) (Issued, error)
}

// IssuerFunc adapts a function to the Issuer interface.
type IssuerFunc func(ctx context.Context, clientID, clientSecret string) (Issued, error)

// Issue calls f.
func (f IssuerFunc) Issue(ctx context.Context, clientID, clientSecret string) (Issued, error) {
	return f(ctx, clientID, clientSecret)
}

// Clock is the time source used for expiry computation.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the wall clock.
var SystemClock Clock = systemClock{}

// Config tunes the cache. Zero fields fall back to DefaultConfig values.
type Config struct {
	// MaxAttempts is the number of issuer calls Initialize makes before giving up.
	MaxAttempts int
	// RetryPause is the fixed pause between Initialize attempts.
	RetryPause time.Duration
	// IssueTimeout bounds each issuer call.
	IssueTimeout time.Duration
	// RefreshMargin is the remaining lifetime at or below which RefreshIfNeeded issues.
	RefreshMargin time.Duration
	// ExpiryTolerance is how long past ExpiresAt the token still counts as usable.
	ExpiryTolerance time.Duration
	// Clock defaults to SystemClock.
	Clock Clock
}

// DefaultConfig returns the default cache configuration
func DefaultConfig() Config {
	return Config{
		MaxAttempts:     constants.DefaultIssueMaxAttempts,
		RetryPause:      constants.DefaultIssueRetryPause,
		IssueTimeout:    constants.DefaultIssueTimeout,
		RefreshMargin:   constants.DefaultRefreshMargin,
		ExpiryTolerance: constants.DefaultExpiryTolerance,
		Clock:           SystemClock,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.RetryPause <= 0 {
		c.RetryPause = def.RetryPause
	}
	if c.IssueTimeout <= 0 {
		c.IssueTimeout = def.IssueTimeout
	}
	if c.RefreshMargin <= 0 {
		c.RefreshMargin = def.RefreshMargin
	}
	if c.ExpiryTolerance <= 0 {
		c.ExpiryTolerance = def.ExpiryTolerance
	}
	if c.Clock == nil {
		c.Clock = def.Clock
	}
	return c
}

// Status is a point-in-time view of the cache. It never carries the token.
type Status struct {
	Initialized      bool      `json:"initialized"`
	ExpiresAt        time.Time `json:"expires_at,omitempty"`
	RemainingSeconds float64   `json:"remaining_seconds"`
	NearlyExpired    bool      `json:"nearly_expired"`
	LastRefresh      time.Time `json:"last_refresh,omitempty"`
	RefreshCount     int       `json:"refresh_count"`
	FailedRefreshes  int       `json:"failed_refreshes"`
	LastError        string    `json:"last_error,omitempty"`
}

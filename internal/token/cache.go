package token

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/keepmind9/cardbot/internal/logger"
	"github.com/keepmind9/cardbot/internal/metrics"
	"github.com/sirupsen/logrus"
)

// Cache holds the current access token and refreshes it before it expires
type Cache struct {
	issuer Issuer
	config Config

	current    atomic.Pointer[Credential]
	refreshing atomic.Bool

	// mu guards the remembered credentials and the status bookkeeping below,
	// and is held while a new credential is stored so Status sees both
	// together. Token readers never take it.
	mu              sync.Mutex
	clientID        string
	clientSecret    string
	lastRefresh     time.Time
	refreshCount    int
	failedRefreshes int
	lastErr         string
}

// NewCache creates a cache that obtains tokens from issuer
func NewCache(issuer Issuer, config Config) *Cache {
	return &Cache{
		issuer: issuer,
		config: config.withDefaults(),
	}
}

// Initialize obtains the first token, trying up to MaxAttempts times with a
// fixed pause in between. It returns ErrConfiguration without calling the
// issuer when either credential is empty, and ErrFatalIssuance when every
// attempt failed. Callers must not serve traffic after either error.
func (c *Cache) Initialize(ctx context.Context, clientID, clientSecret string) error {
	if clientID == "" {
		return fmt.Errorf("%w: client id is empty", ErrConfiguration)
	}
	if clientSecret == "" {
		return fmt.Errorf("%w: client secret is empty", ErrConfiguration)
	}

	log := logger.WithFields(logrus.Fields{
		"client_id":    logger.MaskClientID(clientID),
		"max_attempts": c.config.MaxAttempts,
	})

	attempt := 0
	operation := func() error {
		attempt++
		cred, issuedAt, err := c.issue(ctx, clientID, clientSecret)
		metrics.RecordIssuance(metrics.PhaseInitialize, err == nil)
		if err != nil {
			log.WithFields(logrus.Fields{
				"attempt": attempt,
				"error":   err,
			}).Warn("initial-token-issue-failed")
			return err
		}

		c.mu.Lock()
		c.clientID = clientID
		c.clientSecret = clientSecret
		c.lastRefresh = issuedAt
		c.lastErr = ""
		c.install(cred)
		c.mu.Unlock()
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.config.RetryPause), uint64(c.config.MaxAttempts-1)),
		ctx,
	)
	if err := backoff.Retry(operation, policy); err != nil {
		c.mu.Lock()
		c.lastErr = err.Error()
		c.mu.Unlock()

		log.WithFields(logrus.Fields{
			"attempts": attempt,
			"error":    err,
		}).Error("initial-token-issue-exhausted")
		return fmt.Errorf("%w after %d attempt(s), check client id and client secret: %w", ErrFatalIssuance, attempt, err)
	}

	cur := c.current.Load()
	log.WithFields(logrus.Fields{
		"attempts":   attempt,
		"expires_at": cur.ExpiresAt,
	}).Info("access-token-initialized")
	return nil
}

// RefreshIfNeeded issues a new token when the current one has RefreshMargin
// or less left. It does nothing before Initialize, while the token is still
// fresh, or while another refresh is in flight. A failed refresh keeps the
// existing token and is retried on the next call.
func (c *Cache) RefreshIfNeeded(ctx context.Context) {
	cur := c.current.Load()
	if cur == nil {
		metrics.RecordRefreshSkipped(metrics.SkipNotInitialized)
		return
	}

	remaining := cur.ExpiresAt.Sub(c.config.Clock.Now())
	if remaining > c.config.RefreshMargin {
		metrics.RecordRefreshSkipped(metrics.SkipFresh)
		return
	}

	if !c.refreshing.CompareAndSwap(false, true) {
		metrics.RecordRefreshSkipped(metrics.SkipInFlight)
		return
	}
	defer c.refreshing.Store(false)

	// another caller may have refreshed between the check above and the swap
	cur = c.current.Load()
	remaining = cur.ExpiresAt.Sub(c.config.Clock.Now())
	if remaining > c.config.RefreshMargin {
		metrics.RecordRefreshSkipped(metrics.SkipFresh)
		return
	}

	c.mu.Lock()
	clientID, clientSecret := c.clientID, c.clientSecret
	c.mu.Unlock()

	cred, issuedAt, err := c.issue(ctx, clientID, clientSecret)
	metrics.RecordIssuance(metrics.PhaseRefresh, err == nil)
	if err != nil {
		c.mu.Lock()
		c.failedRefreshes++
		c.lastErr = err.Error()
		c.mu.Unlock()

		logger.WithFields(logrus.Fields{
			"remaining": remaining.String(),
			"error":     err,
		}).Error("token-refresh-failed-keeping-current-token")
		return
	}

	c.mu.Lock()
	c.refreshCount++
	c.lastRefresh = issuedAt
	c.lastErr = ""
	c.install(cred)
	c.mu.Unlock()

	logger.WithFields(logrus.Fields{
		"previous_remaining": remaining.String(),
		"expires_at":         cred.ExpiresAt,
	}).Info("access-token-refreshed")
}

// CurrentToken returns the installed token, or "" before Initialize has
// succeeded. Calling it before Initialize is a programming error.
func (c *Cache) CurrentToken() string {
	cur := c.current.Load()
	if cur == nil {
		return ""
	}
	return cur.Token
}

// Token is CurrentToken with an explicit error for the uninitialized case
func (c *Cache) Token() (string, error) {
	cur := c.current.Load()
	if cur == nil {
		return "", ErrNotInitialized
	}
	return cur.Token, nil
}

// Credential returns the installed credential, or nil before Initialize
func (c *Cache) Credential() *Credential {
	return c.current.Load()
}

// IsNearlyExpired reports whether the token expired more than
// ExpiryTolerance ago. An uninitialized cache has no usable token and
// reports true.
func (c *Cache) IsNearlyExpired() bool {
	cur := c.current.Load()
	if cur == nil {
		return true
	}
	return c.config.Clock.Now().Sub(cur.ExpiresAt) > c.config.ExpiryTolerance
}

// Status returns a snapshot of the cache state
func (c *Cache) Status() Status {
	c.mu.Lock()
	status := Status{
		LastRefresh:     c.lastRefresh,
		RefreshCount:    c.refreshCount,
		FailedRefreshes: c.failedRefreshes,
		LastError:       c.lastErr,
	}
	cur := c.current.Load()
	c.mu.Unlock()

	if cur == nil {
		status.NearlyExpired = true
		return status
	}

	now := c.config.Clock.Now()
	status.Initialized = true
	status.ExpiresAt = cur.ExpiresAt
	status.RemainingSeconds = cur.ExpiresAt.Sub(now).Seconds()
	status.NearlyExpired = now.Sub(cur.ExpiresAt) > c.config.ExpiryTolerance
	return status
}

// issue performs one bounded issuer call and converts the answer into a Credential
func (c *Cache) issue(ctx context.Context, clientID, clientSecret string) (*Credential, time.Time, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.IssueTimeout)
	defer cancel()

	issued, err := c.issuer.Issue(ctx, clientID, clientSecret)
	if err != nil {
		return nil, time.Time{}, err
	}
	if issued.Token == "" || issued.TTL <= 0 {
		return nil, time.Time{}, fmt.Errorf("%w: token empty=%v ttl=%s", ErrInvalidIssue, issued.Token == "", issued.TTL)
	}

	now := c.config.Clock.Now()
	return &Credential{Token: issued.Token, ExpiresAt: now.Add(issued.TTL)}, now, nil
}

// install publishes cred to readers with a single atomic store. Callers hold mu.
func (c *Cache) install(cred *Credential) {
	c.current.Store(cred)
	metrics.SetTokenExpiry(cred.ExpiresAt)
}

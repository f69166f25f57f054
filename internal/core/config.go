// Package core wires cardbot together.
//
// It loads and validates the YAML configuration, builds the access token
// cache and its refresher, connects the DingTalk stream bot, and serves the
// status and metrics endpoints.
//
// # Example Configuration
//
//	dingtalk:
//	  client_id: "${DINGTALK_APP_CLIENT_ID}"
//	  client_secret: "${DINGTALK_APP_CLIENT_SECRET}"
//	token:
//	  check_interval: "60s"
//	  refresh_margin: "10m"
//	status_server:
//	  addr: "127.0.0.1:9090"
//	security:
//	  admins: ["manager1234"]
package core

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/keepmind9/cardbot/internal/logger"
	"github.com/keepmind9/cardbot/internal/token"
	"github.com/keepmind9/cardbot/pkg/constants"
	"gopkg.in/yaml.v3"
)

const (
	DefaultStatusAddr      = "127.0.0.1:9090"
	DefaultLogLevel        = "info"
	DefaultLogMaxSize      = constants.DefaultLogMaxSize // MB
	DefaultLogMaxBackups   = 5
	DefaultLogMaxAge       = constants.DefaultLogMaxAge // days
	DefaultLogEnableStdout = true

	// Environment variables used when the config leaves credentials empty
	EnvClientID     = "DINGTALK_APP_CLIENT_ID"
	EnvClientSecret = "DINGTALK_APP_CLIENT_SECRET"

	// Bounds for the refresher check interval
	MinCheckInterval = time.Second
	MaxCheckInterval = 10 * time.Minute
)

// Override adjusts a parsed configuration before it is validated
type Override func(*Config)

// WithCredentials replaces the DingTalk credentials with any non-empty value given
func WithCredentials(clientID, clientSecret string) Override {
	return func(c *Config) {
		if clientID != "" {
			c.DingTalk.ClientID = clientID
		}
		if clientSecret != "" {
			c.DingTalk.ClientSecret = clientSecret
		}
	}
}

// WithStatusAddr replaces the status server listen address
func WithStatusAddr(addr string) Override {
	return func(c *Config) {
		if addr != "" {
			c.StatusServer.Addr = addr
		}
	}
}

// LoadConfig loads configuration from file and expands environment variables.
// A .env file next to the config is loaded first; it never overrides
// variables already present in the environment.
func LoadConfig(configPath string, overrides ...Override) (*Config, error) {
	if err := loadDotEnv(filepath.Join(filepath.Dir(configPath), ".env")); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expandedData, err := expandEnv(string(data))
	if err != nil {
		return nil, fmt.Errorf("failed to expand environment variables: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal([]byte(expandedData), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(&config)
	for _, override := range overrides {
		override(&config)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	logger.WithField("path", path).Debug("dotenv-loaded")
	return nil
}

// expandEnv replaces ${VAR_NAME} patterns with environment variable values
func expandEnv(input string) (string, error) {
	var missingVars []string

	result := os.Expand(input, func(key string) string {
		if val := os.Getenv(key); val != "" {
			return val
		}
		missingVars = append(missingVars, key)
		return ""
	})

	if len(missingVars) > 0 {
		return "", fmt.Errorf("missing required environment variables: %s",
			strings.Join(missingVars, ", "))
	}

	return result, nil
}

func applyDefaults(config *Config) {
	if config.DingTalk.ClientID == "" {
		config.DingTalk.ClientID = os.Getenv(EnvClientID)
	}
	if config.DingTalk.ClientSecret == "" {
		config.DingTalk.ClientSecret = os.Getenv(EnvClientSecret)
	}
	if config.DingTalk.Endpoint == "" {
		config.DingTalk.Endpoint = constants.DefaultDingTalkEndpoint
	}
	if config.DingTalk.HTTPTimeout == "" {
		config.DingTalk.HTTPTimeout = constants.DefaultHTTPTimeout.String()
	}
	if config.DingTalk.StreamEnabled == nil {
		config.DingTalk.StreamEnabled = boolPtr(true)
	}

	if config.Token.MaxAttempts == 0 {
		config.Token.MaxAttempts = constants.DefaultIssueMaxAttempts
	}
	if config.Token.RetryPause == "" {
		config.Token.RetryPause = constants.DefaultIssueRetryPause.String()
	}
	if config.Token.CheckInterval == "" {
		config.Token.CheckInterval = constants.DefaultRefreshCheckInterval.String()
	}
	if config.Token.RefreshMargin == "" {
		config.Token.RefreshMargin = constants.DefaultRefreshMargin.String()
	}
	if config.Token.ExpiryTolerance == "" {
		config.Token.ExpiryTolerance = constants.DefaultExpiryTolerance.String()
	}
	if config.Token.IssueTimeout == "" {
		config.Token.IssueTimeout = constants.DefaultIssueTimeout.String()
	}

	if config.StatusServer.Enabled == nil {
		config.StatusServer.Enabled = boolPtr(true)
	}
	if config.StatusServer.Addr == "" {
		config.StatusServer.Addr = DefaultStatusAddr
	}

	if config.Logging.Level == "" {
		config.Logging.Level = DefaultLogLevel
	}
	if config.Logging.MaxSize == 0 {
		config.Logging.MaxSize = DefaultLogMaxSize
	}
	if config.Logging.MaxBackups == 0 {
		config.Logging.MaxBackups = DefaultLogMaxBackups
	}
	if config.Logging.MaxAge == 0 {
		config.Logging.MaxAge = DefaultLogMaxAge
	}
	if config.Logging.EnableStdout == nil {
		config.Logging.EnableStdout = boolPtr(DefaultLogEnableStdout)
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("duration", func(fl validator.FieldLevel) bool {
		value := fl.Field().String()
		if value == "" {
			return true
		}
		d, err := time.ParseDuration(value)
		return err == nil && d > 0
	})
	return v
}

// Validate checks field constraints and the relations between token timings
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			return formatValidationErrors(fieldErrs)
		}
		return err
	}

	tc, err := c.TokenCacheConfig()
	if err != nil {
		return err
	}
	interval, err := c.CheckInterval()
	if err != nil {
		return err
	}
	if interval < MinCheckInterval || interval > MaxCheckInterval {
		return fmt.Errorf("token.check_interval must be between %v and %v (got %v)", MinCheckInterval, MaxCheckInterval, interval)
	}
	// A check has to land inside the margin before the token runs out.
	if tc.RefreshMargin <= interval {
		return fmt.Errorf("token.refresh_margin (%v) must be greater than token.check_interval (%v)", tc.RefreshMargin, interval)
	}
	if tc.ExpiryTolerance >= tc.RefreshMargin {
		return fmt.Errorf("token.expiry_tolerance (%v) must be less than token.refresh_margin (%v)", tc.ExpiryTolerance, tc.RefreshMargin)
	}

	return nil
}

func formatValidationErrors(errs validator.ValidationErrors) error {
	msgs := make([]string, 0, len(errs))
	for _, fe := range errs {
		// Namespace is "Config.dingtalk.client_id"; drop the root type.
		field := fe.Namespace()
		if i := strings.Index(field, "."); i >= 0 {
			field = field[i+1:]
		}
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", field))
		case "duration":
			msgs = append(msgs, fmt.Sprintf("%s must be a positive duration (got %q)", field, fe.Value()))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of [%s] (got %v)", field, fe.Param(), fe.Value()))
		default:
			if fe.Param() != "" {
				msgs = append(msgs, fmt.Sprintf("%s failed %s=%s (got %v)", field, fe.Tag(), fe.Param(), fe.Value()))
			} else {
				msgs = append(msgs, fmt.Sprintf("%s failed %s (got %v)", field, fe.Tag(), fe.Value()))
			}
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}

// TokenCacheConfig converts the token section into a token.Config
func (c *Config) TokenCacheConfig() (token.Config, error) {
	retryPause, err := parseDuration("token.retry_pause", c.Token.RetryPause)
	if err != nil {
		return token.Config{}, err
	}
	refreshMargin, err := parseDuration("token.refresh_margin", c.Token.RefreshMargin)
	if err != nil {
		return token.Config{}, err
	}
	tolerance, err := parseDuration("token.expiry_tolerance", c.Token.ExpiryTolerance)
	if err != nil {
		return token.Config{}, err
	}
	issueTimeout, err := parseDuration("token.issue_timeout", c.Token.IssueTimeout)
	if err != nil {
		return token.Config{}, err
	}

	return token.Config{
		MaxAttempts:     c.Token.MaxAttempts,
		RetryPause:      retryPause,
		IssueTimeout:    issueTimeout,
		RefreshMargin:   refreshMargin,
		ExpiryTolerance: tolerance,
	}, nil
}

// CheckInterval returns how often the refresher checks the token
func (c *Config) CheckInterval() (time.Duration, error) {
	return parseDuration("token.check_interval", c.Token.CheckInterval)
}

// HTTPTimeout returns the timeout for DingTalk API calls
func (c *Config) HTTPTimeout() (time.Duration, error) {
	return parseDuration("dingtalk.http_timeout", c.DingTalk.HTTPTimeout)
}

// StreamEnabled reports whether the chatbot stream connection should be opened
func (c *Config) StreamEnabled() bool {
	return c.DingTalk.StreamEnabled == nil || *c.DingTalk.StreamEnabled
}

// StatusServerEnabled reports whether the status server should listen
func (c *Config) StatusServerEnabled() bool {
	return c.StatusServer.Enabled == nil || *c.StatusServer.Enabled
}

// IsAdmin checks if a staff ID may run operator commands.
// An empty admin list allows everyone.
func (c *Config) IsAdmin(staffID string) bool {
	if len(c.Security.Admins) == 0 {
		return true
	}
	for _, adminID := range c.Security.Admins {
		if adminID == staffID {
			return true
		}
	}
	return false
}

// LoggerConfig converts the logging section into a logger.Config
func (c *Config) LoggerConfig() logger.Config {
	return logger.Config{
		Level:        c.Logging.Level,
		File:         c.Logging.File,
		MaxSize:      c.Logging.MaxSize,
		MaxBackups:   c.Logging.MaxBackups,
		MaxAge:       c.Logging.MaxAge,
		Compress:     c.Logging.Compress,
		EnableStdout: c.Logging.EnableStdout == nil || *c.Logging.EnableStdout,
	}
}

func parseDuration(field, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", field, err)
	}
	return d, nil
}

func boolPtr(b bool) *bool {
	return &b
}

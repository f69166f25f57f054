package core

// Config represents the complete cardbot configuration structure
type Config struct {
	DingTalk     DingTalkConfig     `yaml:"dingtalk"`
	Token        TokenConfig        `yaml:"token"`
	StatusServer StatusServerConfig `yaml:"status_server"`
	Security     SecurityConfig     `yaml:"security"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// DingTalkConfig holds the application credentials and API settings
type DingTalkConfig struct {
	ClientID      string `yaml:"client_id" validate:"required"`
	ClientSecret  string `yaml:"client_secret" validate:"required"`
	Endpoint      string `yaml:"endpoint" validate:"required,url"`
	HTTPTimeout   string `yaml:"http_timeout" validate:"duration"`
	StreamEnabled *bool  `yaml:"stream_enabled"` // Connect the chatbot stream (default: true)
}

// TokenConfig tunes the access token cache and its refresher
type TokenConfig struct {
	MaxAttempts     int    `yaml:"max_attempts" validate:"min=1,max=10"`
	RetryPause      string `yaml:"retry_pause" validate:"duration"`
	CheckInterval   string `yaml:"check_interval" validate:"duration"`
	RefreshMargin   string `yaml:"refresh_margin" validate:"duration"`
	ExpiryTolerance string `yaml:"expiry_tolerance" validate:"duration"`
	IssueTimeout    string `yaml:"issue_timeout" validate:"duration"`
}

// StatusServerConfig represents the status/metrics HTTP server configuration
type StatusServerConfig struct {
	Enabled *bool  `yaml:"enabled"` // default: true
	Addr    string `yaml:"addr" validate:"required,hostname_port"`
}

// SecurityConfig restricts operator commands sent through the bot
type SecurityConfig struct {
	Admins []string `yaml:"admins"` // DingTalk staff IDs; empty allows everyone
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level" validate:"oneof=debug info warn warning error"` // debug, info, warn, error
	File         string `yaml:"file"`                                                 // Log file path
	MaxSize      int    `yaml:"max_size" validate:"min=0"`                            // Single file max size in MB (default: 100)
	MaxBackups   int    `yaml:"max_backups" validate:"min=0"`                         // Number of backups to keep (default: 5)
	MaxAge       int    `yaml:"max_age" validate:"min=0"`                             // Maximum days to retain (default: 30)
	Compress     bool   `yaml:"compress"`                                             // Whether to compress old logs
	EnableStdout *bool  `yaml:"enable_stdout"`                                        // Also output to stdout (default: true)
}

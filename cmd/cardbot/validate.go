package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"

	"github.com/keepmind9/cardbot/internal/core"
	"github.com/keepmind9/cardbot/internal/logger"
	"github.com/spf13/cobra"
)

var validateJSON bool

// ValidationResult represents the validation result
type ValidationResult struct {
	Valid         bool     `json:"valid"`
	Config        string   `json:"config"`
	ClientID      string   `json:"client_id,omitempty"`
	Endpoint      string   `json:"endpoint,omitempty"`
	StreamEnabled bool     `json:"stream_enabled"`
	StatusServer  string   `json:"status_server,omitempty"`
	Admins        int      `json:"admins"`
	Errors        []string `json:"errors,omitempty"`
	Warnings      []string `json:"warnings,omitempty"`
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate cardbot configuration file",
	Long: `Validate the cardbot configuration file without contacting DingTalk.

This command checks:
  - YAML syntax and environment variable expansion
  - Required credentials
  - Token timing settings
  - Status server and logging settings

Exit codes:
  0 - Configuration is valid
  1 - Configuration has errors`,
	Run: func(cmd *cobra.Command, args []string) {
		result := validateConfigFile(configFile, core.WithCredentials(clientID, clientSecret))
		outputValidationResult(os.Stdout, result, validateJSON)
		if !result.Valid {
			os.Exit(1)
		}
	},
}

func validateConfigFile(path string, overrides ...core.Override) ValidationResult {
	cfg, err := core.LoadConfig(path, overrides...)
	if err != nil {
		return ValidationResult{
			Valid:  false,
			Config: path,
			Errors: []string{err.Error()},
		}
	}

	result := ValidationResult{
		Valid:         true,
		Config:        path,
		ClientID:      logger.MaskClientID(cfg.DingTalk.ClientID),
		Endpoint:      cfg.DingTalk.Endpoint,
		StreamEnabled: cfg.StreamEnabled(),
		Admins:        len(cfg.Security.Admins),
		Warnings:      validateConfigDetails(cfg),
	}
	if cfg.StatusServerEnabled() {
		result.StatusServer = cfg.StatusServer.Addr
	}
	return result
}

// validateConfigDetails returns non-fatal findings
func validateConfigDetails(cfg *core.Config) []string {
	var warnings []string

	if cfg.StreamEnabled() && len(cfg.Security.Admins) == 0 {
		warnings = append(warnings, "security.admins is empty - every chat user can run operator commands")
	}

	if cfg.StatusServerEnabled() {
		host, _, err := net.SplitHostPort(cfg.StatusServer.Addr)
		if err == nil && !isLoopback(host) {
			warnings = append(warnings, fmt.Sprintf("status server listens on %s - token status is reachable from the network", cfg.StatusServer.Addr))
		}
	}

	if !cfg.LoggerConfig().EnableStdout && cfg.Logging.File == "" {
		warnings = append(warnings, "logging.enable_stdout is false and logging.file is empty - logs are discarded")
	}

	return warnings
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func outputValidationResult(w io.Writer, result ValidationResult, jsonFormat bool) {
	if jsonFormat {
		output, err := json.Marshal(result)
		if err != nil {
			fmt.Fprintf(w, "{\"error\": \"failed to marshal json: %v\"}\n", err)
			return
		}
		fmt.Fprintln(w, string(output))
		return
	}

	if !result.Valid {
		fmt.Fprintln(w, "❌ Configuration validation failed:")
		fmt.Fprintln(w, "\nErrors:")
		for _, errMsg := range result.Errors {
			fmt.Fprintf(w, "  - %s\n", errMsg)
		}
		return
	}

	fmt.Fprintln(w, "✓ Configuration is valid")
	fmt.Fprintf(w, "  - Config: %s\n", result.Config)
	fmt.Fprintf(w, "  - Client ID: %s\n", result.ClientID)
	fmt.Fprintf(w, "  - Endpoint: %s\n", result.Endpoint)
	fmt.Fprintf(w, "  - Stream enabled: %v\n", result.StreamEnabled)
	if result.StatusServer != "" {
		fmt.Fprintf(w, "  - Status server: %s\n", result.StatusServer)
	} else {
		fmt.Fprintln(w, "  - Status server: disabled")
	}
	fmt.Fprintf(w, "  - Admins: %d\n", result.Admins)
	if len(result.Warnings) > 0 {
		fmt.Fprintln(w, "\n⚠️  Warnings:")
		for _, warning := range result.Warnings {
			fmt.Fprintf(w, "  - %s\n", warning)
		}
	}
}

func init() {
	addCredentialFlags(validateCmd)
	validateCmd.Flags().BoolVar(&validateJSON, "json", false, "Output in JSON format")
}

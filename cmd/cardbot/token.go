package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/keepmind9/cardbot/internal/core"
	"github.com/keepmind9/cardbot/internal/logger"
	"github.com/keepmind9/cardbot/internal/token"
	"github.com/spf13/cobra"
)

var (
	tokenJSON bool
	tokenShow bool
)

// TokenOutput is the result of the token command
type TokenOutput struct {
	Token            string    `json:"token"`
	ExpiresAt        time.Time `json:"expires_at"`
	RemainingSeconds float64   `json:"remaining_seconds"`
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Obtain an access token once and print it",
	Long: `Obtain an application access token with the configured credentials and
print it. The token is masked unless --show is given.

Exit codes:
  0 - Token obtained
  1 - Configuration error or every attempt failed`,
	Run: func(cmd *cobra.Command, args []string) {
		engine := mustInitializedEngine(cmd.Context())

		cred := engine.Cache().Credential()
		printToken(os.Stdout, cred, time.Now(), tokenShow, tokenJSON)
	},
}

// mustInitializedEngine loads the config and obtains a token, exiting on failure
func mustInitializedEngine(ctx context.Context) *core.Engine {
	config, err := core.LoadConfig(configFile, core.WithCredentials(clientID, clientSecret))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := initCommandLogger(config); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	engine, err := core.NewEngine(config, nil)
	if err != nil {
		log.Fatalf("Failed to create engine: %v", err)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := engine.Initialize(ctx); err != nil {
		log.Fatalf("Failed to obtain access token: %v", err)
	}
	return engine
}

// initCommandLogger sends warnings and errors to stderr so stdout stays parseable
func initCommandLogger(config *core.Config) error {
	lc := config.LoggerConfig()
	lc.File = ""
	lc.EnableStdout = true
	lc.Output = os.Stderr
	if lc.Level != "debug" {
		lc.Level = "warn"
	}
	return logger.InitLogger(lc)
}

func printToken(w io.Writer, cred *token.Credential, now time.Time, show, jsonFormat bool) {
	out := TokenOutput{
		Token:            logger.MaskToken(cred.Token),
		ExpiresAt:        cred.ExpiresAt,
		RemainingSeconds: cred.ExpiresAt.Sub(now).Seconds(),
	}
	if show {
		out.Token = cred.Token
	}

	if jsonFormat {
		data, err := json.Marshal(out)
		if err != nil {
			fmt.Fprintf(w, "{\"error\": \"failed to marshal json: %v\"}\n", err)
			return
		}
		fmt.Fprintln(w, string(data))
		return
	}

	fmt.Fprintf(w, "Access token: %s\n", out.Token)
	fmt.Fprintf(w, "Expires at:   %s (in %s)\n",
		out.ExpiresAt.Format(time.RFC3339), cred.ExpiresAt.Sub(now).Truncate(time.Second))
}

func init() {
	addCredentialFlags(tokenCmd)
	tokenCmd.Flags().BoolVar(&tokenJSON, "json", false, "Output in JSON format")
	tokenCmd.Flags().BoolVar(&tokenShow, "show", false, "Print the raw token instead of a masked one")
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/keepmind9/cardbot/internal/core"
	"github.com/keepmind9/cardbot/internal/token"
	"github.com/keepmind9/cardbot/pkg/constants"
	"github.com/spf13/cobra"
)

var (
	statusServerAddr string
	statusJSON       bool
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the token status of a running cardbot",
	Long: `Query the status endpoint of a running cardbot serve process.

Exit codes:
  0 - Token is initialized and not expired
  1 - Server unreachable, or token missing or expired`,
	Run: func(cmd *cobra.Command, args []string) {
		status, err := fetchStatus(cmd.Context(), statusServerAddr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "❌ %v\n", err)
			os.Exit(1)
		}

		if statusJSON {
			data, _ := json.Marshal(status)
			fmt.Println(string(data))
		} else {
			fmt.Println(core.FormatStatus(status, time.Now()))
		}

		if !status.Initialized || status.NearlyExpired {
			os.Exit(1)
		}
	},
}

// fetchStatus reads the token status from the status server at addr
func fetchStatus(ctx context.Context, addr string) (token.Status, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, constants.StatusClientTimeout)
	defer cancel()

	url := fmt.Sprintf("http://%s%s", addr, core.TokenStatusPath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return token.Status{}, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return token.Status{}, fmt.Errorf("failed to reach cardbot at %s: %w", addr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return token.Status{}, fmt.Errorf("status server returned %d: %s", resp.StatusCode, body)
	}

	var status token.Status
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return token.Status{}, fmt.Errorf("failed to decode status: %w", err)
	}
	return status, nil
}

func init() {
	statusCmd.Flags().StringVar(&statusServerAddr, "addr", core.DefaultStatusAddr, "Status server address")
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output in JSON format")
}

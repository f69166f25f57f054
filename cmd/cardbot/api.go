package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/keepmind9/cardbot/internal/dingtalk"
	"github.com/spf13/cobra"
)

var apiData string

var apiCmd = &cobra.Command{
	Use:   "api <METHOD> <PATH>",
	Short: "Call a DingTalk open API endpoint with the application token",
	Long: `Obtain an access token and send one authenticated request to the
DingTalk open API. The response body is printed as returned.

Example:
  cardbot api GET /v1.0/contact/users/me
  cardbot api POST /v1.0/robot/oToMessages/batchSend --data '{"robotCode":"..."}'

Exit codes:
  0 - Response status below 400
  1 - Request failed or response status 400 and above`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		method := strings.ToUpper(args[0])
		body, err := requestBody(apiData)
		if err != nil {
			log.Fatalf("Invalid --data: %v", err)
		}

		engine := mustInitializedEngine(cmd.Context())

		resp, err := engine.API().Do(cmd.Context(), method, args[1], body)
		if err != nil {
			log.Fatalf("Request failed: %v", err)
		}

		printAPIResponse(os.Stdout, resp)
		if resp.StatusCode >= http.StatusBadRequest {
			os.Exit(1)
		}
	},
}

// requestBody validates data as JSON; empty data means no body
func requestBody(data string) ([]byte, error) {
	if data == "" {
		return nil, nil
	}
	if !json.Valid([]byte(data)) {
		return nil, fmt.Errorf("not valid JSON")
	}
	return []byte(data), nil
}

func printAPIResponse(w io.Writer, resp *dingtalk.APIResponse) {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, resp.Body, "", "  "); err == nil {
		fmt.Fprintln(w, pretty.String())
		return
	}
	fmt.Fprintln(w, string(resp.Body))
}

func init() {
	addCredentialFlags(apiCmd)
	apiCmd.Flags().StringVarP(&apiData, "data", "d", "", "JSON request body")
}

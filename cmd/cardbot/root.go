package main

import (
	"os"

	"github.com/spf13/cobra"
)

const defaultConfigFile = "config.yaml"

var rootCmd = &cobra.Command{
	Use:   "cardbot",
	Short: "cardbot keeps a DingTalk application access token fresh",
	Long: `cardbot is a DingTalk application process. It obtains the application
access token at startup, refreshes it before it expires, and serves it to
the chatbot stream connection, outbound API calls and a local status
endpoint.`,
	SilenceUsage: true,
}

// Execute executes the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(apiCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
}

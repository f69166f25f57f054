package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/keepmind9/cardbot/internal/bot"
	"github.com/keepmind9/cardbot/internal/core"
	"github.com/keepmind9/cardbot/internal/logger"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	configFile   string
	clientID     string
	clientSecret string
	statusAddr   string

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start cardbot main process",
		Long: `Start cardbot main process: obtain the access token, keep it refreshed,
connect the chatbot stream and serve the status endpoint.

The process exits with status 1 when no access token can be obtained at startup.`,
		Run: func(cmd *cobra.Command, args []string) {
			config, err := core.LoadConfig(configFile,
				core.WithCredentials(clientID, clientSecret),
				core.WithStatusAddr(statusAddr),
			)
			if err != nil {
				log.Fatalf("Failed to load config: %v", err)
			}

			if err := logger.InitLogger(config.LoggerConfig()); err != nil {
				log.Fatalf("Failed to initialize logger: %v", err)
			}

			logger.WithFields(logrus.Fields{
				"config_file": configFile,
				"client_id":   logger.MaskClientID(config.DingTalk.ClientID),
				"log_level":   config.Logging.Level,
				"log_file":    config.Logging.File,
			}).Info("logger-initialized")

			engine, err := core.NewEngine(config, nil)
			if err != nil {
				log.Fatalf("Failed to create engine: %v", err)
			}

			if config.StreamEnabled() {
				engine.RegisterBotAdapter(bot.PlatformDingTalk,
					bot.NewDingTalkBot(config.DingTalk.ClientID, config.DingTalk.ClientSecret))
			} else {
				logger.Info("dingtalk-stream-disabled")
			}

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

			engineErrChan := make(chan error, 1)
			go func() {
				fmt.Println("cardbot engine starting...")
				engineErrChan <- engine.Run(context.Background())
			}()

			select {
			case sig := <-sigChan:
				log.Printf("Received signal: %v, shutting down gracefully...", sig)
				if err := engine.Stop(); err != nil {
					log.Printf("Error during shutdown: %v", err)
				}
			case err := <-engineErrChan:
				if err != nil {
					engine.Stop()
					log.Fatalf("Engine error: %v", err)
				}
			}

			log.Println("cardbot stopped")
		},
	}
)

// addCredentialFlags registers the config and credential override flags on cmd
func addCredentialFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&configFile, "config", "c", defaultConfigFile, "Configuration file path")
	cmd.Flags().StringVar(&clientID, "client-id", "", "DingTalk client id (overrides config and "+core.EnvClientID+")")
	cmd.Flags().StringVar(&clientSecret, "client-secret", "", "DingTalk client secret (overrides config and "+core.EnvClientSecret+")")
}

func init() {
	addCredentialFlags(serveCmd)
	serveCmd.Flags().StringVar(&statusAddr, "status-addr", "", "Status server listen address (overrides config)")
}

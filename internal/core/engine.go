package core

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/keepmind9/cardbot/internal/bot"
	"github.com/keepmind9/cardbot/internal/dingtalk"
	"github.com/keepmind9/cardbot/internal/logger"
	"github.com/keepmind9/cardbot/internal/metrics"
	"github.com/keepmind9/cardbot/internal/token"
	"github.com/keepmind9/cardbot/pkg/constants"
	"github.com/sirupsen/logrus"
)

// Operator commands understood by the bot
const (
	CommandPing        = "ping"
	CommandTokenStatus = "token status"
	CommandHelp        = "help"
)

// maxCommandInputLength rejects oversized messages before parsing
const maxCommandInputLength = 1000

// Engine owns the access token cache and everything that serves it
type Engine struct {
	config       *Config
	cache        *token.Cache
	refresher    *token.Refresher
	api          *dingtalk.Client
	activeBots   map[string]bot.BotAdapter // Platform -> adapter
	botsMu       sync.RWMutex
	messageChan  chan bot.BotMessage
	statusServer *http.Server
	statusAddr   net.Addr
	serverMu     sync.Mutex
	wg           sync.WaitGroup
	ctx          context.Context
	cancel       context.CancelFunc
}

// NewEngine builds an engine from config. A nil issuer uses the DingTalk OAuth2 API.
func NewEngine(config *Config, issuer token.Issuer) (*Engine, error) {
	cacheConfig, err := config.TokenCacheConfig()
	if err != nil {
		return nil, err
	}
	interval, err := config.CheckInterval()
	if err != nil {
		return nil, err
	}
	httpTimeout, err := config.HTTPTimeout()
	if err != nil {
		return nil, err
	}

	if issuer == nil {
		issuer, err = dingtalk.NewIssuer(config.DingTalk.Endpoint, httpTimeout)
		if err != nil {
			return nil, err
		}
	}

	cache := token.NewCache(issuer, cacheConfig)
	ctx, cancel := context.WithCancel(context.Background())

	return &Engine{
		config:      config,
		cache:       cache,
		refresher:   token.NewRefresher(cache, interval),
		api:         dingtalk.NewClient(config.DingTalk.Endpoint, cache, httpTimeout),
		activeBots:  make(map[string]bot.BotAdapter),
		messageChan: make(chan bot.BotMessage, constants.MessageChannelBufferSize),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// RegisterBotAdapter registers a bot adapter
func (e *Engine) RegisterBotAdapter(platform string, adapter bot.BotAdapter) {
	e.botsMu.Lock()
	defer e.botsMu.Unlock()
	e.activeBots[platform] = adapter
}

// Cache returns the access token cache
func (e *Engine) Cache() *token.Cache {
	return e.cache
}

// API returns a DingTalk API client authenticated by the cache
func (e *Engine) API() *dingtalk.Client {
	return e.api
}

// StatusAddr returns the address the status server listens on, or nil
func (e *Engine) StatusAddr() net.Addr {
	e.serverMu.Lock()
	defer e.serverMu.Unlock()
	return e.statusAddr
}

// Initialize obtains the first access token. Any error is fatal for the process.
func (e *Engine) Initialize(ctx context.Context) error {
	return e.cache.Initialize(ctx, e.config.DingTalk.ClientID, e.config.DingTalk.ClientSecret)
}

// Run initializes the token, starts the refresher, status server and bots,
// then processes bot messages until ctx is cancelled or Stop is called.
func (e *Engine) Run(ctx context.Context) error {
	logger.Info("starting-cardbot-engine")

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-e.ctx.Done():
			cancel()
		case <-runCtx.Done():
		}
	}()

	if err := e.Initialize(runCtx); err != nil {
		return err
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		_ = e.refresher.Start(runCtx)
	}()

	if e.config.StatusServerEnabled() {
		if err := e.startStatusServer(); err != nil {
			return err
		}
	}

	e.startBots()

	e.runEventLoop(runCtx)
	return nil
}

func (e *Engine) startBots() {
	e.botsMu.RLock()
	defer e.botsMu.RUnlock()

	for platform, adapter := range e.activeBots {
		logger.WithField("platform", platform).Info("starting-bot")
		go func(p string, ba bot.BotAdapter) {
			defer func() {
				if r := recover(); r != nil {
					logger.WithFields(logrus.Fields{
						"platform": p,
						"panic":    r,
					}).Error("bot-start-panic-recovered")
				}
			}()
			if err := ba.Start(e.HandleBotMessage); err != nil {
				logger.WithFields(logrus.Fields{
					"platform": p,
					"error":    err,
				}).Error("failed-to-start-bot")
			}
		}(platform, adapter)
	}
}

// runEventLoop runs the main event loop for processing messages
func (e *Engine) runEventLoop(ctx context.Context) {
	logger.Info("engine-event-loop-started")

	for {
		select {
		case <-ctx.Done():
			logger.Info("event-loop-shutting-down")
			return
		case msg := <-e.messageChan:
			e.HandleUserMessage(msg)
		}
	}
}

// HandleBotMessage is the callback function for bots to deliver messages.
// Messages are dropped when the queue is full so the stream callback never blocks.
func (e *Engine) HandleBotMessage(msg bot.BotMessage) {
	select {
	case e.messageChan <- msg:
	default:
		metrics.RecordBotMessage(msg.Platform, false)
		logger.WithFields(logrus.Fields{
			"platform": msg.Platform,
			"user_id":  msg.UserID,
		}).Warn("bot-message-dropped-queue-full")
	}
}

// HandleUserMessage runs an operator command. Anything else is logged and ignored.
func (e *Engine) HandleUserMessage(msg bot.BotMessage) {
	command, ok := parseCommand(msg.Content)
	log := logger.WithFields(logrus.Fields{
		"platform": msg.Platform,
		"user_id":  msg.UserID,
		"channel":  msg.Channel,
	})

	if !ok {
		metrics.RecordBotMessage(msg.Platform, false)
		log.WithField("length", len(msg.Content)).Info("ignoring-non-command-message")
		return
	}

	if !e.config.IsAdmin(msg.UserID) {
		metrics.RecordBotMessage(msg.Platform, false)
		log.WithField("command", command).Warn("unauthorized-command-rejected")
		e.SendToBot(msg.Platform, msg.ReplyTarget, "Permission denied: operator commands are restricted to admins.")
		return
	}

	metrics.RecordBotMessage(msg.Platform, true)
	log.WithField("command", command).Info("running-operator-command")

	switch command {
	case CommandPing:
		e.SendToBot(msg.Platform, msg.ReplyTarget, "pong")
	case CommandTokenStatus:
		e.SendToBot(msg.Platform, msg.ReplyTarget, FormatStatus(e.cache.Status(), time.Now()))
	case CommandHelp:
		e.SendToBot(msg.Platform, msg.ReplyTarget, helpText)
	}
}

const helpText = `Available commands:
  ping          check the bot is alive
  token status  show the access token state
  help          show this help`

// parseCommand normalizes input and reports whether it is a known command
func parseCommand(input string) (string, bool) {
	if len(input) > maxCommandInputLength {
		return "", false
	}
	normalized := strings.ToLower(strings.Join(strings.Fields(input), " "))
	switch normalized {
	case CommandPing, CommandTokenStatus, CommandHelp:
		return normalized, true
	case "status":
		return CommandTokenStatus, true
	}
	return "", false
}

// FormatStatus renders a status snapshot for chat replies and the CLI
func FormatStatus(s token.Status, now time.Time) string {
	if !s.Initialized {
		return "Access token: not initialized"
	}

	var b strings.Builder
	b.WriteString("Access token: ")
	if s.NearlyExpired {
		b.WriteString("EXPIRED\n")
	} else {
		b.WriteString("valid\n")
	}
	fmt.Fprintf(&b, "Expires at: %s (in %s)\n",
		s.ExpiresAt.Format(time.RFC3339),
		s.ExpiresAt.Sub(now).Truncate(time.Second))
	if !s.LastRefresh.IsZero() {
		fmt.Fprintf(&b, "Last refresh: %s\n", s.LastRefresh.Format(time.RFC3339))
	}
	fmt.Fprintf(&b, "Refreshes: %d (failed: %d)", s.RefreshCount, s.FailedRefreshes)
	if s.LastError != "" {
		fmt.Fprintf(&b, "\nLast error: %s", s.LastError)
	}
	return b.String()
}

// SendToBot sends a message through the adapter registered for platform
func (e *Engine) SendToBot(platform, replyTarget, message string) {
	e.botsMu.RLock()
	adapter, exists := e.activeBots[platform]
	e.botsMu.RUnlock()
	if !exists {
		logger.WithField("platform", platform).Warn("no-bot-adapter-for-platform")
		return
	}

	if err := adapter.SendMessage(replyTarget, message); err != nil {
		logger.WithFields(logrus.Fields{
			"platform": platform,
			"error":    err,
		}).Error("failed-to-send-message-to-bot")
		return
	}

	logger.WithFields(logrus.Fields{
		"platform": platform,
		"length":   len(message),
	}).Debug("message-sent-to-bot")
}

// Stop gracefully stops the engine
func (e *Engine) Stop() error {
	logger.Info("stopping-cardbot-engine")

	if e.cancel != nil {
		e.cancel()
	}

	e.stopStatusServer()

	e.botsMu.RLock()
	for platform, adapter := range e.activeBots {
		logger.WithField("platform", platform).Info("stopping-bot")
		if err := adapter.Stop(); err != nil {
			logger.WithFields(logrus.Fields{
				"platform": platform,
				"error":    err,
			}).Error("failed-to-stop-bot")
		}
	}
	e.botsMu.RUnlock()

	e.wg.Wait()
	logger.Info("engine-stopped")
	return nil
}

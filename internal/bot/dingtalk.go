package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/keepmind9/cardbot/internal/logger"
	"github.com/keepmind9/cardbot/internal/metrics"
	"github.com/keepmind9/cardbot/pkg/constants"
	"github.com/open-dingtalk/dingtalk-stream-sdk-go/chatbot"
	"github.com/open-dingtalk/dingtalk-stream-sdk-go/client"
	sdklogger "github.com/open-dingtalk/dingtalk-stream-sdk-go/logger"
	"github.com/sirupsen/logrus"
)

// PlatformDingTalk is the BotMessage.Platform value for this adapter
const PlatformDingTalk = "dingtalk"

const replyTimeout = 10 * time.Second

// ErrNoReplyTarget is returned when SendMessage has no session webhook
var ErrNoReplyTarget = errors.New("dingtalk: session webhook is required to reply")

// textReplier is the part of chatbot.ChatbotReplier the bot uses
type textReplier interface {
	SimpleReplyText(ctx context.Context, sessionWebhook string, content []byte) error
}

// streamConn is an open or openable stream connection
type streamConn interface {
	Start(ctx context.Context) error
	Close()
}

type sdkStream struct {
	cli *client.StreamClient
}

func (s sdkStream) Start(ctx context.Context) error { return s.cli.Start(ctx) }
func (s sdkStream) Close()                          { s.cli.Close() }

func newSDKStream(clientID, clientSecret string, handler chatbot.IChatBotMessageHandler) streamConn {
	credential := client.NewAppCredentialConfig(clientID, clientSecret)
	cli := client.NewStreamClient(client.WithAppCredential(credential))
	cli.RegisterChatBotCallbackRouter(handler)
	return sdkStream{cli: cli}
}

// DingTalkBot implements BotAdapter over the DingTalk stream connection
type DingTalkBot struct {
	mu             sync.RWMutex
	clientID       string
	clientSecret   string
	stream         streamConn
	replier        textReplier
	messageHandler func(BotMessage)
	ctx            context.Context
	cancel         context.CancelFunc

	// newStream is replaced in tests
	newStream func(clientID, clientSecret string, handler chatbot.IChatBotMessageHandler) streamConn
}

// NewDingTalkBot creates a new DingTalk bot instance
func NewDingTalkBot(clientID, clientSecret string) *DingTalkBot {
	return &DingTalkBot{
		clientID:     clientID,
		clientSecret: clientSecret,
		replier:      chatbot.NewChatbotReplier(),
		newStream:    newSDKStream,
	}
}

// Start opens the stream connection and begins delivering messages to messageHandler
func (d *DingTalkBot) Start(messageHandler func(BotMessage)) error {
	d.SetMessageHandler(messageHandler)
	sdklogger.SetLogger(logger.NewSDKLogger("dingtalk-stream"))

	log := logger.WithField("client_id", logger.MaskClientID(d.clientID))
	log.Info("starting-dingtalk-stream-connection")

	ctx, cancel := context.WithCancel(context.Background())
	stream := d.newStream(d.clientID, d.clientSecret, d.handleMessageReceive)

	d.mu.Lock()
	d.ctx, d.cancel = ctx, cancel
	d.stream = stream
	d.mu.Unlock()

	if err := stream.Start(ctx); err != nil {
		cancel()
		log.WithField("error", err).Error("dingtalk-stream-connection-failed")
		return fmt.Errorf("failed to start dingtalk stream: %w", err)
	}

	log.Info("dingtalk-stream-connection-started")
	return nil
}

// handleMessageReceive handles incoming chatbot callbacks from DingTalk
func (d *DingTalkBot) handleMessageReceive(ctx context.Context, data *chatbot.BotCallbackDataModel) ([]byte, error) {
	if data == nil {
		return []byte(""), nil
	}

	logger.WithFields(logrus.Fields{
		"platform":          PlatformDingTalk,
		"conversation_id":   data.ConversationId,
		"conversation_type": data.ConversationType,
		"sender_staff_id":   data.SenderStaffId,
		"sender_nick":       data.SenderNick,
		"msg_id":            data.MsgId,
		"msg_type":          data.Msgtype,
		"is_in_at_list":     data.IsInAtList,
	}).Debug("received-dingtalk-message")

	if data.Msgtype != "text" {
		metrics.RecordBotMessage(PlatformDingTalk, false)
		logger.WithField("msg_type", data.Msgtype).Debug("ignoring-non-text-dingtalk-message")
		return []byte(""), nil
	}

	handler := d.GetMessageHandler()
	if handler != nil {
		handler(BotMessage{
			Platform:    PlatformDingTalk,
			UserID:      data.SenderStaffId,
			UserName:    data.SenderNick,
			Channel:     data.ConversationId,
			Content:     strings.TrimSpace(data.Text.Content),
			ReplyTarget: data.SessionWebhook,
			Timestamp:   time.Now(),
		})
	}

	return []byte(""), nil
}

// SendMessage replies through a session webhook
func (d *DingTalkBot) SendMessage(sessionWebhook, message string) error {
	if sessionWebhook == "" {
		return ErrNoReplyTarget
	}

	if len(message) > constants.MaxDingTalkMessageLength {
		logger.WithFields(logrus.Fields{
			"original_length": len(message),
			"max_length":      constants.MaxDingTalkMessageLength,
		}).Info("truncating-message-for-dingtalk-limit")
		message = truncateUTF8(message, constants.MaxDingTalkMessageLength)
	}

	d.mu.RLock()
	parent := d.ctx
	d.mu.RUnlock()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, replyTimeout)
	defer cancel()

	if err := d.replier.SimpleReplyText(ctx, sessionWebhook, []byte(message)); err != nil {
		logger.WithField("error", err).Error("dingtalk-reply-failed")
		return fmt.Errorf("failed to reply to dingtalk: %w", err)
	}

	logger.WithField("message_length", len(message)).Debug("dingtalk-reply-sent")
	return nil
}

// Stop closes the stream connection
func (d *DingTalkBot) Stop() error {
	d.mu.Lock()
	cancel := d.cancel
	stream := d.stream
	d.stream = nil
	d.cancel = nil
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if stream != nil {
		stream.Close()
		logger.Info("dingtalk-stream-connection-stopped")
	}

	return nil
}

// truncateUTF8 cuts s to at most limit bytes without splitting a rune
func truncateUTF8(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// SetMessageHandler sets the message handler in a thread-safe manner
func (d *DingTalkBot) SetMessageHandler(handler func(BotMessage)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.messageHandler = handler
}

// GetMessageHandler gets the message handler in a thread-safe manner
func (d *DingTalkBot) GetMessageHandler() func(BotMessage) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.messageHandler
}

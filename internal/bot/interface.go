// Package bot connects cardbot to the DingTalk chatbot stream.
//
// The adapter keeps a long-lived stream connection open, turns chatbot
// callbacks into BotMessage values for the engine, and replies through the
// session webhook carried by each message.
//
// Example:
//
//	b := bot.NewDingTalkBot(clientID, clientSecret)
//	err := b.Start(func(msg bot.BotMessage) {
//		_ = b.SendMessage(msg.ReplyTarget, "pong")
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer b.Stop()
package bot

import "time"

// BotAdapter defines the interface for bot adapters
type BotAdapter interface {
	// Start starts the bot, establishes connection and begins listening for messages
	Start(messageHandler func(BotMessage)) error

	// SendMessage sends a message to replyTarget.
	// Adapter is responsible for truncating to platform limits.
	SendMessage(replyTarget, message string) error

	// Stop stops the bot and cleans up resources
	Stop() error
}

// BotMessage represents a bot message structure
type BotMessage struct {
	Platform    string // dingtalk
	UserID      string // Staff ID (for permission control)
	UserName    string
	Channel     string // Conversation ID
	Content     string
	ReplyTarget string // Session webhook to answer this message
	Timestamp   time.Time
}

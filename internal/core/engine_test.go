package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/keepmind9/cardbot/internal/bot"
	"github.com/keepmind9/cardbot/internal/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockBotAdapter is a mock implementation of BotAdapter for testing
type MockBotAdapter struct {
	mu               sync.Mutex
	startCalled      bool
	stopCalled       bool
	messageHandler   func(message bot.BotMessage)
	sendMessageCalls []SendMessageCall
	startError       error
	sendMessageError error
}

type SendMessageCall struct {
	ReplyTarget string
	Message     string
}

func (m *MockBotAdapter) Start(messageHandler func(bot.BotMessage)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startCalled = true
	m.messageHandler = messageHandler
	return m.startError
}

func (m *MockBotAdapter) SendMessage(replyTarget, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendMessageCalls = append(m.sendMessageCalls, SendMessageCall{ReplyTarget: replyTarget, Message: message})
	return m.sendMessageError
}

func (m *MockBotAdapter) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopCalled = true
	return nil
}

// SimulateMessage simulates receiving a message from this bot
func (m *MockBotAdapter) SimulateMessage(msg bot.BotMessage) {
	m.mu.Lock()
	handler := m.messageHandler
	m.mu.Unlock()
	if handler != nil {
		handler(msg)
	}
}

func (m *MockBotAdapter) Started() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startCalled
}

func (m *MockBotAdapter) Calls() []SendMessageCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SendMessageCall(nil), m.sendMessageCalls...)
}

func testConfig() *Config {
	config := &Config{
		DingTalk: DingTalkConfig{ClientID: "dingclient0001", ClientSecret: "secret"},
		Token:    TokenConfig{RetryPause: "1ms"},
	}
	applyDefaults(config)
	config.StatusServer.Addr = "127.0.0.1:0"
	return config
}

func staticIssuer(tok string, ttl time.Duration) token.Issuer {
	return token.IssuerFunc(func(ctx context.Context, clientID, clientSecret string) (token.Issued, error) {
		return token.Issued{Token: tok, TTL: ttl}, nil
	})
}

func newTestEngine(t *testing.T, config *Config, issuer token.Issuer) *Engine {
	t.Helper()
	engine, err := NewEngine(config, issuer)
	require.NoError(t, err)
	return engine
}

func message(userID, content string) bot.BotMessage {
	return bot.BotMessage{
		Platform:    "dingtalk",
		UserID:      userID,
		Channel:     "cid-1",
		Content:     content,
		ReplyTarget: "https://hook",
		Timestamp:   time.Now(),
	}
}

func TestNewEngine_DefaultIssuer(t *testing.T) {
	engine := newTestEngine(t, testConfig(), nil)

	assert.NotNil(t, engine.Cache())
	assert.NotNil(t, engine.API())
	assert.Empty(t, engine.Cache().CurrentToken())
	assert.Nil(t, engine.StatusAddr())
}

func TestNewEngine_InvalidDuration(t *testing.T) {
	config := testConfig()
	config.Token.CheckInterval = "often"

	_, err := NewEngine(config, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token.check_interval")
}

func TestEngine_Run_InitializeFailureIsFatal(t *testing.T) {
	var calls atomic.Int32
	issuer := token.IssuerFunc(func(ctx context.Context, clientID, clientSecret string) (token.Issued, error) {
		calls.Add(1)
		return token.Issued{}, errors.New("invalid client secret")
	})
	engine := newTestEngine(t, testConfig(), issuer)

	err := engine.Run(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, token.ErrFatalIssuance)
	assert.EqualValues(t, 3, calls.Load())
	assert.Nil(t, engine.StatusAddr(), "nothing is served without a token")
}

func TestEngine_StopCancelsInitialize(t *testing.T) {
	var calls atomic.Int32
	issuer := token.IssuerFunc(func(ctx context.Context, clientID, clientSecret string) (token.Issued, error) {
		calls.Add(1)
		<-ctx.Done()
		return token.Issued{}, ctx.Err()
	})
	config := testConfig()
	config.Token.RetryPause = "1h"
	config.Token.IssueTimeout = "1h"
	engine := newTestEngine(t, config, issuer)

	done := make(chan error, 1)
	go func() { done <- engine.Run(context.Background()) }()

	require.Eventually(t, func() bool { return calls.Load() == 1 }, 2*time.Second, time.Millisecond)
	require.NoError(t, engine.Stop())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, token.ErrFatalIssuance)
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Initialize kept retrying after Stop")
	}
	assert.EqualValues(t, 1, calls.Load())
}

func TestEngine_Run_MissingCredentials(t *testing.T) {
	config := testConfig()
	config.DingTalk.ClientSecret = ""
	engine := newTestEngine(t, config, staticIssuer("abc", time.Hour))

	err := engine.Run(context.Background())
	assert.ErrorIs(t, err, token.ErrConfiguration)
}

func TestEngine_RunAndStop(t *testing.T) {
	engine := newTestEngine(t, testConfig(), staticIssuer("abc", 2*time.Hour))
	adapter := &MockBotAdapter{}
	engine.RegisterBotAdapter("dingtalk", adapter)

	done := make(chan error, 1)
	go func() { done <- engine.Run(context.Background()) }()

	require.Eventually(t, func() bool { return engine.StatusAddr() != nil && adapter.Started() },
		2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "abc", engine.Cache().CurrentToken())

	resp, err := http.Get(fmt.Sprintf("http://%s%s", engine.StatusAddr(), HealthzPath))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	adapter.SimulateMessage(message("manager1234", "ping"))
	require.Eventually(t, func() bool { return len(adapter.Calls()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, SendMessageCall{ReplyTarget: "https://hook", Message: "pong"}, adapter.Calls()[0])

	require.NoError(t, engine.Stop())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
	assert.True(t, adapter.stopCalled)
}

func TestEngine_RunStopsWhenContextCancelled(t *testing.T) {
	config := testConfig()
	config.StatusServer.Enabled = boolPtr(false)
	engine := newTestEngine(t, config, staticIssuer("abc", 2*time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- engine.Run(ctx) }()

	require.Eventually(t, func() bool { return engine.Cache().CurrentToken() == "abc" }, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Nil(t, engine.StatusAddr())
	require.NoError(t, engine.Stop())
}

func TestEngine_HandleUserMessage(t *testing.T) {
	tests := []struct {
		name      string
		admins    []string
		userID    string
		content   string
		wantReply string
		contains  bool
	}{
		{name: "ping", userID: "u1", content: "ping", wantReply: "pong"},
		{name: "case and spacing are normalized", userID: "u1", content: "  Token   STATUS ", wantReply: "Access token: valid", contains: true},
		{name: "status alias", userID: "u1", content: "status", wantReply: "Refreshes: 0 (failed: 0)", contains: true},
		{name: "help", userID: "u1", content: "help", wantReply: "token status", contains: true},
		{name: "admin allowed", admins: []string{"boss"}, userID: "boss", content: "ping", wantReply: "pong"},
		{name: "non admin rejected", admins: []string{"boss"}, userID: "u1", content: "ping", wantReply: "Permission denied", contains: true},
		{name: "plain chat ignored", userID: "u1", content: "hello there"},
		{name: "non admin chat ignored", admins: []string{"boss"}, userID: "u1", content: "hello there"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := testConfig()
			config.Security.Admins = tt.admins
			engine := newTestEngine(t, config, staticIssuer("abc", 2*time.Hour))
			require.NoError(t, engine.Initialize(context.Background()))

			adapter := &MockBotAdapter{}
			engine.RegisterBotAdapter("dingtalk", adapter)

			engine.HandleUserMessage(message(tt.userID, tt.content))

			calls := adapter.Calls()
			if tt.wantReply == "" {
				assert.Empty(t, calls)
				return
			}
			require.Len(t, calls, 1)
			assert.Equal(t, "https://hook", calls[0].ReplyTarget)
			if tt.contains {
				assert.Contains(t, calls[0].Message, tt.wantReply)
			} else {
				assert.Equal(t, tt.wantReply, calls[0].Message)
			}
		})
	}
}

func TestEngine_HandleBotMessage_DropsWhenQueueFull(t *testing.T) {
	engine := newTestEngine(t, testConfig(), staticIssuer("abc", time.Hour))

	done := make(chan struct{})
	go func() {
		for i := 0; i < cap(engine.messageChan)+5; i++ {
			engine.HandleBotMessage(message("u1", "ping"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("HandleBotMessage blocked on a full queue")
	}
	assert.Len(t, engine.messageChan, cap(engine.messageChan))
}

func TestEngine_SendToBot(t *testing.T) {
	engine := newTestEngine(t, testConfig(), staticIssuer("abc", time.Hour))

	// unknown platform is logged, not fatal
	engine.SendToBot("slack", "https://hook", "hi")

	adapter := &MockBotAdapter{sendMessageError: errors.New("webhook expired")}
	engine.RegisterBotAdapter("dingtalk", adapter)
	engine.SendToBot("dingtalk", "https://hook", "hi")
	assert.Len(t, adapter.Calls(), 1)
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		input  string
		want   string
		wantOK bool
	}{
		{"ping", CommandPing, true},
		{"PING", CommandPing, true},
		{"token status", CommandTokenStatus, true},
		{"token\tstatus", CommandTokenStatus, true},
		{"status", CommandTokenStatus, true},
		{"help", CommandHelp, true},
		{"token", "", false},
		{"ping me", "", false},
		{"", "", false},
		{string(make([]byte, maxCommandInputLength+1)), "", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := parseCommand(tt.input)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatStatus(t *testing.T) {
	now := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)

	t.Run("not initialized", func(t *testing.T) {
		assert.Equal(t, "Access token: not initialized", FormatStatus(token.Status{}, now))
	})

	t.Run("valid", func(t *testing.T) {
		out := FormatStatus(token.Status{
			Initialized:  true,
			ExpiresAt:    now.Add(90 * time.Minute),
			LastRefresh:  now.Add(-30 * time.Minute),
			RefreshCount: 2,
		}, now)

		assert.Equal(t, "Access token: valid\n"+
			"Expires at: 2026-01-02T11:30:00Z (in 1h30m0s)\n"+
			"Last refresh: 2026-01-02T09:30:00Z\n"+
			"Refreshes: 2 (failed: 0)", out)
	})

	t.Run("expired with error", func(t *testing.T) {
		out := FormatStatus(token.Status{
			Initialized:     true,
			ExpiresAt:       now.Add(-time.Minute),
			NearlyExpired:   true,
			FailedRefreshes: 4,
			LastError:       "dingtalk access token request failed: code=TransportError",
		}, now)

		assert.Contains(t, out, "Access token: EXPIRED")
		assert.Contains(t, out, "(in -1m0s)")
		assert.Contains(t, out, "Refreshes: 0 (failed: 4)")
		assert.Contains(t, out, "Last error: dingtalk access token request failed")
		assert.NotContains(t, out, "Last refresh")
	})
}

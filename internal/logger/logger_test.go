package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitLogger(t *testing.T) {
	tmpDir := t.TempDir()

	tests := []struct {
		name   string
		config Config
	}{
		{
			name: "file output",
			config: Config{
				Level:      "info",
				File:       filepath.Join(tmpDir, "cardbot.log"),
				MaxSize:    1,
				MaxBackups: 1,
				MaxAge:     1,
			},
		},
		{
			name:   "stdout only",
			config: Config{Level: "debug", EnableStdout: true},
		},
		{
			name: "file and stdout",
			config: Config{
				Level:        "warn",
				File:         filepath.Join(tmpDir, "both.log"),
				EnableStdout: true,
			},
		},
		{
			name:   "no outputs",
			config: Config{Level: "info"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, InitLogger(tt.config))
			assert.NotNil(t, GetLogger())
		})
	}
}

func TestInitLogger_CreatesLogDirectory(t *testing.T) {
	logDir := filepath.Join(t.TempDir(), "nested", "logs")

	err := InitLogger(Config{Level: "info", File: filepath.Join(logDir, "cardbot.log")})
	require.NoError(t, err)

	info, err := os.Stat(logDir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestLogLevelSetting(t *testing.T) {
	tests := []struct {
		level    string
		expected logrus.Level
	}{
		{"debug", logrus.DebugLevel},
		{"info", logrus.InfoLevel},
		{"warn", logrus.WarnLevel},
		{"error", logrus.ErrorLevel},
		{"invalid", logrus.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			require.NoError(t, InitLogger(Config{Level: tt.level}))
			assert.Equal(t, tt.expected, GetLogger().GetLevel())
		})
	}
}

func TestFormatterSetting(t *testing.T) {
	require.NoError(t, InitLogger(Config{Level: "debug"}))
	assert.IsType(t, &logrus.TextFormatter{}, GetLogger().Formatter)

	require.NoError(t, InitLogger(Config{Level: "info"}))
	assert.IsType(t, &logrus.JSONFormatter{}, GetLogger().Formatter)
}

func TestWithFields_WritesJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, InitLogger(Config{Level: "info", EnableStdout: true, Output: &buf}))

	WithFields(logrus.Fields{"client_id": "ding***abcd", "attempt": 2}).Info("token-issue-attempt")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "token-issue-attempt", entry["msg"])
	assert.Equal(t, "ding***abcd", entry["client_id"])
	assert.Equal(t, float64(2), entry["attempt"])
}

func TestLogFunctions_RespectLevel(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, InitLogger(Config{Level: "info", EnableStdout: true, Output: &buf}))

	Debug("debug message")
	Info("info message")
	Warn("warn message")
	Errorf("error %s", "message")

	output := buf.String()
	assert.Contains(t, output, "info message")
	assert.Contains(t, output, "warn message")
	assert.Contains(t, output, "error message")
	assert.NotContains(t, output, "debug message")
}

func TestSDKLogger(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, InitLogger(Config{Level: "info", EnableStdout: true, Output: &buf}))

	sdk := NewSDKLogger("dingtalk-stream")
	sdk.Infof("connect %s", "ok")
	sdk.Warningf("reconnect in %ds", 3)
	sdk.Fatalf("endpoint %s unreachable", "wss://example")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)

	var last map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[2]), &last))
	assert.Equal(t, "error", last["level"])
	assert.Equal(t, "dingtalk-stream", last["component"])
	assert.Equal(t, "endpoint wss://example unreachable", last["msg"])
}

func TestMasking(t *testing.T) {
	assert.Equal(t, "***", MaskClientID("short"))
	assert.Equal(t, "ding***7890", MaskClientID("dingabcdef1234567890"))
	assert.Equal(t, "***", MaskToken("0123456789"))
	assert.Equal(t, "abcd***wxyz", MaskToken("abcdefghijklmnopqrstuvwxyz"))
}

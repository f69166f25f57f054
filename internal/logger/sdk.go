package logger

import (
	"github.com/keepmind9/cardbot/pkg/constants"
	"github.com/sirupsen/logrus"
)

// SDKLogger adapts the global logger to the dingtalk stream SDK logger
// interface so SDK output lands in the same sinks and format.
type SDKLogger struct {
	entry *logrus.Entry
}

// NewSDKLogger returns an SDK logger tagged with the given component name
func NewSDKLogger(component string) *SDKLogger {
	return &SDKLogger{entry: GetLogger().WithField("component", component)}
}

func (s *SDKLogger) Debugf(format string, args ...interface{}) {
	s.entry.Debugf(format, args...)
}

func (s *SDKLogger) Infof(format string, args ...interface{}) {
	s.entry.Infof(format, args...)
}

func (s *SDKLogger) Warningf(format string, args ...interface{}) {
	s.entry.Warnf(format, args...)
}

func (s *SDKLogger) Errorf(format string, args ...interface{}) {
	s.entry.Errorf(format, args...)
}

// Fatalf logs at error level. The SDK must not be able to exit the process.
func (s *SDKLogger) Fatalf(format string, args ...interface{}) {
	s.entry.Errorf(format, args...)
}

// MaskClientID masks an application client ID for logging
func MaskClientID(clientID string) string {
	return mask(clientID, constants.MinClientIDLengthForMasking,
		constants.ClientIDMaskPrefixLength, constants.ClientIDMaskSuffixLength)
}

// MaskToken masks an access token for logging and display
func MaskToken(token string) string {
	return mask(token, constants.MinTokenLengthForMasking,
		constants.TokenMaskPrefixLength, constants.TokenMaskSuffixLength)
}

func mask(s string, minLen, prefix, suffix int) string {
	if len(s) <= minLen {
		return "***"
	}
	return s[:prefix] + "***" + s[len(s)-suffix:]
}

package identity_test

import (
	"context"
	"fmt"
	"testing"

	identity "github.com/goliatone/go-identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureLogger struct {
	lines []string
}

func (l *captureLogger) logf(format string, args ...any) {
	l.lines = append(l.lines, fmt.Sprintf(format, args...))
}

func (l *captureLogger) Debug(format string, args ...any) { l.logf(format, args...) }
func (l *captureLogger) Info(format string, args ...any)  { l.logf(format, args...) }
func (l *captureLogger) Warn(format string, args ...any)  { l.logf(format, args...) }
func (l *captureLogger) Error(format string, args ...any) { l.logf(format, args...) }

func TestDevSenderLogsWithoutCodeValue(t *testing.T) {
	logger := &captureLogger{}
	sender := identity.NewDevSender(logger)

	err := sender.Send(context.Background(), identity.ChannelSMS, "+14155552671", "123456", identity.PurposeTwoFactor)
	require.NoError(t, err)

	require.Len(t, logger.lines, 1)
	line := logger.lines[0]

	assert.Contains(t, line, "+14155552671")
	assert.Contains(t, line, identity.ChannelSMS)
	assert.NotContains(t, line, "123456", "the code value never reaches the log")
	assert.NotContains(t, line, "%!", "arguments match the format verbs")
}

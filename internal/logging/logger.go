package logging

import (
	"regexp"
	"strings"

	"go.uber.org/zap"
)

// NewLogger creates a new structured logger
func NewLogger(serviceName string) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	config.InitialFields = map[string]interface{}{
		"service": serviceName,
	}

	logger, err := config.Build()
	if err != nil {
		return nil, err
	}

	return logger, nil
}

// WithRequestID returns a logger with request_id field
func WithRequestID(logger *zap.Logger, requestID string) *zap.Logger {
	if requestID == "" {
		return logger
	}
	return logger.With(zap.String("request_id", requestID))
}

// WithEntry returns a logger scoped to a config entry. The username is masked.
func WithEntry(logger *zap.Logger, entryID, username string) *zap.Logger {
	return logger.With(
		zap.String("entry_id", entryID),
		zap.String("username", MaskUsername(username)),
	)
}

// WithAccount returns a logger with account_code field
func WithAccount(logger *zap.Logger, accountCode string) *zap.Logger {
	return logger.With(zap.String("account_code", accountCode))
}

var usernameMask = regexp.MustCompile(`^(\W*)(.).*(.)$`)

// MaskUsername keeps the first and last character of every part around '@'
func MaskUsername(username string) string {
	parts := strings.Split(username, "@")
	for i, part := range parts {
		parts[i] = usernameMask.ReplaceAllString(part, "${1}${2}***${3}")
	}
	return strings.Join(parts, "@")
}

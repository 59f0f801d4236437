package mail

import (
	"context"

	"github.com/avdeyev/authcore/internal/logging"
	"github.com/google/uuid"
)

// LogMailer writes messages to the log instead of delivering them. The
// development stand-in for a real provider.
type LogMailer struct {
	from   string
	logger logging.Logger
}

// NewLogMailer constructs a LogMailer that logs with the given sender address.
func NewLogMailer(from string, logger logging.Logger) *LogMailer {
	return &LogMailer{from: from, logger: logger}
}

// Send logs the message with a generated message ID and always succeeds.
func (m *LogMailer) Send(ctx context.Context, msg Message) error {
	m.logger.Info(ctx, "outbound mail",
		"message_id", uuid.NewString(),
		"from", m.from,
		"to", msg.To,
		"subject", msg.Subject,
		"body", msg.Body,
	)
	return nil
}

package channels

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"tinko_recovery/internal/models"
)

// LogSender only logs the message. It stands in for a provider in dry-run mode
// and when a channel has no credentials configured.
type LogSender struct {
	channel models.Channel
	log     *zap.Logger
}

func NewLogSender(ch models.Channel, log *zap.Logger) *LogSender {
	return &LogSender{channel: ch, log: log}
}

func (s *LogSender) Send(ctx context.Context, recipient string, msg Message) (SendResult, error) {
	s.log.Info("Reminder not delivered, dry-run sender",
		zap.String("channel", string(s.channel)),
		zap.String("recipient", recipient),
		zap.String("subject", msg.Subject),
		zap.String("body", msg.Body),
	)
	return SendResult{
		MessageID: fmt.Sprintf("log-%d", time.Now().UnixNano()),
		SentAt:    time.Now(),
	}, nil
}

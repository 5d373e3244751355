package notifier

import (
	"context"

	"go.uber.org/zap"
)

// Message is a notification dispatched to a partner contact. Delivery is
// fire-and-forget: failures are logged by callers, never propagated.
type Message struct {
	Recipient string
	Subject   string
	Body      string
}

// Notifier delivers messages over an out-of-band channel (SMS, email).
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// LoggerNotifier writes notifications to the log instead of delivering
// them. Used in development and tests.
type LoggerNotifier struct {
	log *zap.Logger
}

func NewLoggerNotifier(log *zap.Logger) *LoggerNotifier {
	if log == nil {
		log = zap.L()
	}
	return &LoggerNotifier{log: log}
}

func (n *LoggerNotifier) Send(_ context.Context, msg Message) error {
	n.log.Info("notification dispatched",
		zap.String("recipient", msg.Recipient),
		zap.String("subject", msg.Subject),
		zap.String("body", msg.Body),
	)
	return nil
}

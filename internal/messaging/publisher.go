package messaging

import (
	"context"

	"github.com/sirupsen/logrus"
)

// Publisher delivers an encoded event to a subject
type Publisher interface {
	Publish(ctx context.Context, subject string, payload []byte) error
}

// LogPublisher writes events to the log instead of a transport
type LogPublisher struct {
	logger *logrus.Logger
}

func NewLogPublisher(logger *logrus.Logger) *LogPublisher {
	if logger == nil {
		logger = logrus.New()
	}
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, subject string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.logger.WithFields(logrus.Fields{
		"subject": subject,
		"bytes":   len(payload),
	}).Info(string(payload))
	return nil
}

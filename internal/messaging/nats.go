package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/sirupsen/logrus"
)

// MessageHandler processes one delivery. A nil return acks the message;
// an error naks it for redelivery.
type MessageHandler func(ctx context.Context, data []byte) error

// StreamOptions describes the stream the client ensures at startup
type StreamOptions struct {
	Name     string
	Subjects []string
	MaxMsgs  int64
	MaxBytes int64
	MaxAge   time.Duration
}

// NATSClient wraps a JetStream connection for publishing events and
// consuming job triggers.
type NATSClient struct {
	conn      *nats.Conn
	jetStream jetstream.JetStream
	logger    *logrus.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	consumers map[string]jetstream.MessagesContext
	mu        sync.Mutex
	wg        sync.WaitGroup
}

// NewNATSClient connects, creates the JetStream context and ensures the stream.
//
// Parameters:
//   - natsURL: Server URL.
//   - stream: Stream to create or update.
//   - logger: Logger for connection events.
//
// Returns:
//   - The connected client.
//   - Error if the connection or stream setup fails.
func NewNATSClient(natsURL string, stream StreamOptions, logger *logrus.Logger) (*NATSClient, error) {
	if logger == nil {
		logger = logrus.New()
	}

	nc, err := nats.Connect(natsURL,
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.WithError(err).Warn("NATS connection lost")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.WithField("url", nc.ConnectedUrl()).Info("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	client := &NATSClient{
		conn:      nc,
		jetStream: js,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		consumers: make(map[string]jetstream.MessagesContext),
	}

	if err := client.setupStream(ctx, stream); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

func (c *NATSClient) setupStream(ctx context.Context, opts StreamOptions) error {
	cfg := jetstream.StreamConfig{
		Name:        opts.Name,
		Subjects:    opts.Subjects,
		Description: "matching job triggers and match events",
		Retention:   jetstream.LimitsPolicy,
		MaxMsgs:     opts.MaxMsgs,
		MaxBytes:    opts.MaxBytes,
		MaxAge:      opts.MaxAge,
	}
	if cfg.MaxMsgs == 0 {
		cfg.MaxMsgs = 100000
	}
	if cfg.MaxBytes == 0 {
		cfg.MaxBytes = 100 * 1024 * 1024
	}
	if cfg.MaxAge == 0 {
		cfg.MaxAge = 7 * 24 * time.Hour
	}

	if _, err := c.jetStream.CreateOrUpdateStream(ctx, cfg); err != nil {
		return fmt.Errorf("failed to create stream %s: %w", cfg.Name, err)
	}
	c.logger.WithFields(logrus.Fields{
		"stream":   cfg.Name,
		"subjects": cfg.Subjects,
	}).Info("JetStream stream ready")
	return nil
}

// Publish sends payload to subject and waits for the stream ack
func (c *NATSClient) Publish(ctx context.Context, subject string, payload []byte) error {
	if _, err := c.jetStream.Publish(ctx, subject, payload); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	c.logger.WithFields(logrus.Fields{
		"subject": subject,
		"bytes":   len(payload),
	}).Debug("Published message")
	return nil
}

// Subscribe attaches a durable explicit-ack consumer and processes
// deliveries one at a time until Close.
func (c *NATSClient) Subscribe(ctx context.Context, streamName, consumerName, filterSubject string, handler MessageHandler) error {
	consumer, err := c.jetStream.CreateOrUpdateConsumer(ctx, streamName, jetstream.ConsumerConfig{
		Durable:       consumerName,
		Description:   fmt.Sprintf("%s consumer", consumerName),
		FilterSubject: filterSubject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverAllPolicy,
		ReplayPolicy:  jetstream.ReplayInstantPolicy,
	})
	if err != nil {
		return fmt.Errorf("failed to create consumer %s: %w", consumerName, err)
	}

	iter, err := consumer.Messages(jetstream.PullMaxMessages(1))
	if err != nil {
		return fmt.Errorf("failed to open message iterator for %s: %w", consumerName, err)
	}

	c.mu.Lock()
	if previous, ok := c.consumers[consumerName]; ok {
		previous.Stop()
	}
	c.consumers[consumerName] = iter
	c.mu.Unlock()

	c.wg.Add(1)
	go c.consumeMessages(iter, consumerName, handler)

	c.logger.WithFields(logrus.Fields{
		"stream":   streamName,
		"consumer": consumerName,
		"subject":  filterSubject,
	}).Info("Subscribed to subject")
	return nil
}

func (c *NATSClient) consumeMessages(iter jetstream.MessagesContext, consumerName string, handler MessageHandler) {
	defer c.wg.Done()
	log := c.logger.WithField("consumer", consumerName)

	for {
		msg, err := iter.Next()
		if err != nil {
			if errors.Is(err, jetstream.ErrMsgIteratorClosed) || c.ctx.Err() != nil {
				log.Info("Consumer stopped")
				return
			}
			log.WithError(err).Warn("Failed to fetch message")
			time.Sleep(time.Second)
			continue
		}

		if err := c.handle(handler, msg); err != nil {
			log.WithError(err).Warn("Message handling failed, requesting redelivery")
			if nakErr := msg.Nak(); nakErr != nil {
				log.WithError(nakErr).Error("Failed to nak message")
			}
			continue
		}
		if ackErr := msg.Ack(); ackErr != nil {
			log.WithError(ackErr).Error("Failed to ack message")
		}
	}
}

// handle runs the handler and turns a panic into an error
func (c *NATSClient) handle(handler MessageHandler, msg jetstream.Msg) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(c.ctx, msg.Data())
}

// HealthCheck reports whether the connection is up
func (c *NATSClient) HealthCheck(_ context.Context) error {
	if !c.IsConnected() {
		return errors.New("nats is not connected")
	}
	return nil
}

// IsConnected reports the connection state
func (c *NATSClient) IsConnected() bool {
	return c.conn != nil && c.conn.IsConnected()
}

// Close stops every consumer, waits for in-flight handlers and closes the connection
func (c *NATSClient) Close() {
	c.cancel()

	c.mu.Lock()
	for name, iter := range c.consumers {
		iter.Stop()
		delete(c.consumers, name)
	}
	c.mu.Unlock()

	c.wg.Wait()

	if c.conn != nil {
		c.conn.Close()
	}
	c.logger.Info("NATS connection closed")
}

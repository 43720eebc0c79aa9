// Package messaging provides a NATS client wrapper for the moderation
// service. It handles connection lifecycle, subject-based subscriptions,
// request/reply for moderation checks and the events the engine emits
// toward the transport layer.
package messaging

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

// NATS subjects used between the transport layer and the moderator.
const (
	SubjectCheck          = "moderation.check"           // request/reply, ModerationRequest -> Envelope
	SubjectResult         = "moderation.result"          // + .<subject_id> when the request had no reply subject
	SubjectContextEnded   = "moderation.context.ended"   // payload: {"context_id": ...}
	SubjectTimeoutExpired = "moderation.timeout.expired" // + .<context_id>
	SubjectTerminated     = "moderation.terminated"      // + .<context_id>

	// QueueModerators load-balances checks across moderator instances.
	QueueModerators = "moderators"
)

// NATSClient wraps the NATS connection with helper methods for pub/sub.
type NATSClient struct {
	conn *nats.Conn
	log  *logrus.Entry
	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        `mapstructure:"url"`            // nats://localhost:4222
	Name          string        `mapstructure:"name"`           // client name for identification
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"` // time between reconnect attempts
	MaxReconnects int           `mapstructure:"max_reconnects"` // max reconnect attempts (-1 for infinite)
	Workers       int           `mapstructure:"workers"`        // concurrent moderation checks
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		Name:          "whisper-moderator",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1, // infinite reconnects
		Workers:       64,
	}
}

// NewNATSClient connects to NATS with the given config and returns a ready client.
// It returns an error if the initial connection fails.
func NewNATSClient(config NATSConfig, logger *logrus.Logger) (*NATSClient, error) {
	log := logger.WithField("component", "nats")
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.WithError(err).Warn("disconnected")
			} else {
				log.Info("disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.WithField("url", nc.ConnectedUrl()).Info("reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Info("connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	log.WithField("url", nc.ConnectedUrl()).Info("connected")

	return &NATSClient{
		conn: nc,
		log:  log,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

// Publish sends data to the given NATS subject.
func (c *NATSClient) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

// Subscribe registers a handler for the given subject and stores the
// subscription internally for later cleanup.
func (c *NATSClient) Subscribe(subject string, handler nats.MsgHandler) error {
	sub, err := c.conn.Subscribe(subject, handler)
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}
	c.track(subject, sub)
	return nil
}

// QueueSubscribe is Subscribe within a queue group: each message goes to
// one member of the group.
func (c *NATSClient) QueueSubscribe(subject, queue string, handler nats.MsgHandler) error {
	sub, err := c.conn.QueueSubscribe(subject, queue, handler)
	if err != nil {
		return fmt.Errorf("nats queue subscribe %s: %w", subject, err)
	}
	c.track(subject+"#"+queue, sub)
	return nil
}

// Request sends data to subject and waits for a single reply.
func (c *NATSClient) Request(ctx context.Context, subject string, data []byte) ([]byte, error) {
	msg, err := c.conn.RequestWithContext(ctx, subject, data)
	if err != nil {
		return nil, fmt.Errorf("nats request %s: %w", subject, err)
	}
	return msg.Data, nil
}

// SubscribeChecks serves moderation checks as a member of the moderators
// queue group. Up to workers checks run concurrently; further messages
// wait for a free slot. handle returns the reply payload; it is sent to
// the request's reply subject, or to moderation.result.<subject_id> when
// the request was fire-and-forget.
func (c *NATSClient) SubscribeChecks(workers int, handle func(data []byte) (subjectID string, reply []byte)) error {
	pool := make(chan struct{}, max(workers, 1)) // semaphore limiting concurrent checks
	return c.QueueSubscribe(SubjectCheck, QueueModerators, func(msg *nats.Msg) {
		pool <- struct{}{}
		go func() {
			defer func() { <-pool }()

			subjectID, reply := handle(msg.Data)
			if reply == nil {
				return
			}
			var err error
			if msg.Reply != "" {
				err = msg.Respond(reply)
			} else if subjectID != "" {
				err = c.PublishResult(subjectID, reply)
			}
			if err != nil {
				c.log.WithError(err).Warn("reply to moderation check failed")
			}
		}()
	})
}

// PublishResult publishes a moderation result for a specific subject.
func (c *NATSClient) PublishResult(subjectID string, data []byte) error {
	return c.Publish(SubjectResult+"."+subjectID, data)
}

// SubscribeContextEnded subscribes to context teardown notices.
func (c *NATSClient) SubscribeContextEnded(handler func(data []byte)) error {
	return c.Subscribe(SubjectContextEnded, func(msg *nats.Msg) {
		handler(msg.Data)
	})
}

// Close drains all active subscriptions and closes the NATS connection.
func (c *NATSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for subject, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			c.log.WithError(err).WithField("subject", subject).Warn("drain failed")
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		c.log.WithError(err).Warn("connection drain failed")
	}

	c.log.Info("client closed")
}

func (c *NATSClient) track(key string, sub *nats.Subscription) {
	c.mu.Lock()
	c.subs[key] = sub
	c.mu.Unlock()
}

package mqtt

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
)

// Handler is a function that processes a message received on a topic
type Handler func(topic string, payload []byte)

// Config holds broker connection configuration
type Config struct {
	BrokerHost string
	BrokerPort int
	ClientID   string
}

// Client wraps a single logical MQTT connection and routes inbound
// messages to per-topic handlers. Subscriptions use QoS 1; publishes
// are fire-and-forget QoS 0.
type Client struct {
	conn   paho.Client
	logger *logrus.Logger

	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewClient creates a new MQTT client. Reconnects are handled by the
// underlying library with exponential backoff capped at 30 seconds;
// registered subscriptions are replayed on every (re)connect.
func NewClient(cfg Config, logger *logrus.Logger) *Client {
	c := &Client{
		logger:   logger,
		handlers: make(map[string]Handler),
	}

	opts := paho.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.BrokerHost, cfg.BrokerPort)).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(30 * time.Second).
		SetConnectRetry(true).
		SetConnectRetryInterval(time.Second).
		SetOrderMatters(true)

	opts.SetOnConnectHandler(func(conn paho.Client) {
		logger.Info("Connected to MQTT broker")
		c.resubscribe()
	})
	opts.SetConnectionLostHandler(func(conn paho.Client, err error) {
		logger.WithError(err).Warn("MQTT connection lost, reconnecting")
	})

	c.conn = paho.NewClient(opts)
	return c
}

// Connect establishes the broker connection
func (c *Client) Connect() error {
	token := c.conn.Connect()
	if !token.WaitTimeout(30 * time.Second) {
		return fmt.Errorf("mqtt connect timed out")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect failed: %w", err)
	}
	return nil
}

// Subscribe registers a handler for a topic and subscribes to it.
// Registering before Connect is fine; the OnConnect hook subscribes
// every registered topic, which also makes re-subscription after a
// reconnect idempotent.
func (c *Client) Subscribe(topic string, handler Handler) {
	c.mu.Lock()
	c.handlers[topic] = handler
	c.mu.Unlock()

	if c.conn.IsConnected() {
		c.subscribeTopic(topic)
	}
}

func (c *Client) resubscribe() {
	c.mu.RLock()
	topics := make([]string, 0, len(c.handlers))
	for topic := range c.handlers {
		topics = append(topics, topic)
	}
	c.mu.RUnlock()

	for _, topic := range topics {
		c.subscribeTopic(topic)
	}
}

func (c *Client) subscribeTopic(topic string) {
	token := c.conn.Subscribe(topic, 1, c.route)
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			c.logger.WithError(err).WithField("topic", topic).Error("MQTT subscribe failed")
			return
		}
		c.logger.WithField("topic", topic).Info("Subscribed to topic")
	}()
}

// route dispatches an inbound message to the handler registered for
// its topic. It runs on the paho reader goroutine, so handlers must
// hand work off quickly and never block indefinitely on anything
// other than pipeline backpressure.
func (c *Client) route(_ paho.Client, msg paho.Message) {
	c.mu.RLock()
	handler, ok := c.handlers[msg.Topic()]
	c.mu.RUnlock()

	if !ok {
		c.logger.WithField("topic", msg.Topic()).Warn("No handler registered for topic")
		return
	}
	handler(msg.Topic(), msg.Payload())
}

// Publish marshals v to JSON and publishes it. Publish errors are
// logged and dropped; delivery is best-effort.
func (c *Client) Publish(topic string, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("mqtt publish: marshal payload: %w", err)
	}

	token := c.conn.Publish(topic, 0, false, payload)
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			c.logger.WithError(err).WithField("topic", topic).Error("MQTT publish failed")
		}
	}()
	return nil
}

// IsConnected reports whether the broker connection is up
func (c *Client) IsConnected() bool {
	return c.conn.IsConnected()
}

// Disconnect closes the connection, allowing in-flight work to finish
func (c *Client) Disconnect() {
	c.conn.Disconnect(250)
}

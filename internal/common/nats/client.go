// filename: internal/common/nats/client.go
package nats

import (
	"fmt"
	"os"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nkeys"
)

// Client представляет клиент NATS
type Client struct {
	conn     *nats.Conn
	js       nats.JetStreamContext
	config   Config
	subjects map[string]*nats.Subscription
}

// Config представляет конфигурацию NATS
type Config struct {
	URLs         []string      `yaml:"urls"`
	ClientID     string        `yaml:"client_id"`
	QueueGroup   string        `yaml:"queue_group"`
	Credentials  string        `yaml:"credentials"`
	NKeySeedFile string        `yaml:"nkey_seed_file"`
	Timeout      time.Duration `yaml:"timeout"`
}

// NewClient создает новый клиент NATS // v1.0
func NewClient(config Config) (*Client, error) {
	opts := []nats.Option{
		nats.Name(config.ClientID),
		nats.Timeout(config.Timeout),
		nats.ReconnectWait(1 * time.Second),
		nats.MaxReconnects(-1),
	}

	// Добавляем аутентификацию если указана
	if config.Credentials != "" {
		opts = append(opts, nats.UserCredentials(config.Credentials))
	}

	if config.NKeySeedFile != "" {
		nkeyOpt, err := nkeyOptionFromSeedFile(config.NKeySeedFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load nkey seed: %w", err)
		}
		opts = append(opts, nkeyOpt)
	}

	// Подключаемся к NATS
	conn, err := nats.Connect(config.URLs[0], opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	// Создаем JetStream контекст
	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	// Создаем потоки если не существуют
	if err := ensureStreams(js); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ensure streams: %w", err)
	}

	return &Client{
		conn:     conn,
		js:       js,
		config:   config,
		subjects: make(map[string]*nats.Subscription),
	}, nil
}

// nkeyOptionFromSeedFile строит опцию аутентификации из seed-файла NKey // v1.0
func nkeyOptionFromSeedFile(path string) (nats.Option, error) {
	seed, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	kp, err := nkeys.FromSeed(seed)
	if err != nil {
		return nil, fmt.Errorf("invalid nkey seed: %w", err)
	}

	pub, err := kp.PublicKey()
	if err != nil {
		return nil, fmt.Errorf("failed to derive public key: %w", err)
	}

	return nats.Nkey(pub, func(nonce []byte) ([]byte, error) {
		return kp.Sign(nonce)
	}), nil
}

// ensureStreams создает необходимые потоки // v1.0
func ensureStreams(js nats.JetStreamContext) error {
	streams := map[string]string{
		"EVENTS": "events.>",
		"ALERTS": "alerts.>",
	}

	for streamName, subjects := range streams {
		stream, err := js.StreamInfo(streamName)
		if err == nil && stream != nil {
			continue // Поток уже существует
		}

		streamConfig := &nats.StreamConfig{
			Name:      streamName,
			Subjects:  []string{subjects},
			Storage:   nats.FileStorage,
			Retention: nats.LimitsPolicy,
			MaxAge:    24 * time.Hour,
			MaxMsgs:   1000000,
		}

		if _, err := js.AddStream(streamConfig); err != nil {
			return fmt.Errorf("failed to create stream %s: %w", streamName, err)
		}
	}

	return nil
}

// PublishRaw публикует сериализованное сообщение в поток // v1.0
func (c *Client) PublishRaw(subject string, data []byte) error {
	if _, err := c.js.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}

// SubscribeToEvents подписывается на события // v1.0
func (c *Client) SubscribeToEvents(subject string, handler func([]byte)) error {
	sub, err := c.js.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
		msg.Ack()
	}, nats.AckWait(30*time.Second))
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}

	c.subjects[subject] = sub
	return nil
}

// SubscribeToEventsWithQueue подписывается на события с очередью // v1.0
func (c *Client) SubscribeToEventsWithQueue(subject, queue string, handler func([]byte)) error {
	sub, err := c.js.QueueSubscribe(subject, queue, func(msg *nats.Msg) {
		handler(msg.Data)
		msg.Ack()
	}, nats.AckWait(30*time.Second))
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s with queue %s: %w", subject, queue, err)
	}

	c.subjects[subject] = sub
	return nil
}

// Unsubscribe отписывается от субъекта // v1.0
func (c *Client) Unsubscribe(subject string) error {
	if sub, exists := c.subjects[subject]; exists {
		if err := sub.Unsubscribe(); err != nil {
			return fmt.Errorf("failed to unsubscribe from %s: %w", subject, err)
		}
		delete(c.subjects, subject)
	}
	return nil
}

// Close закрывает соединение с NATS // v1.0
func (c *Client) Close() error {
	for subject := range c.subjects {
		_ = c.Unsubscribe(subject)
	}

	if c.conn != nil {
		c.conn.Close()
	}

	return nil
}

// IsConnected проверяет, подключен ли клиент // v1.0
func (c *Client) IsConnected() bool {
	return c.conn != nil && c.conn.IsConnected()
}

// GetConnectionInfo возвращает информацию о соединении // v1.0
func (c *Client) GetConnectionInfo() map[string]interface{} {
	if c.conn == nil {
		return nil
	}

	return map[string]interface{}{
		"connected":      c.conn.IsConnected(),
		"url":            c.conn.ConnectedUrl(),
		"server_id":      c.conn.ConnectedServerId(),
		"server_version": c.conn.ConnectedServerVersion(),
		"in_msgs":        c.conn.Stats().InMsgs,
		"out_msgs":       c.conn.Stats().OutMsgs,
	}
}

// Flush выполняет flush буферов // v1.0
func (c *Client) Flush() error {
	return c.conn.Flush()
}

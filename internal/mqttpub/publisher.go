// Package mqttpub forwards board snapshots and submitted moves to an MQTT
// broker.
package mqttpub

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/park285/cheese-board/internal/gamelog"
	"github.com/park285/cheese-board/internal/tracker"
)

// Client is the subset of mqtt.Client used for publishing.
type Client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

type message struct {
	topic    string
	retained bool
	payload  []byte
}

// Publisher queues messages from callers and publishes them from Run. Board
// snapshots are retained so late subscribers see the current position.
type Publisher struct {
	client  Client
	prefix  string
	timeout time.Duration
	log     *zap.Logger
	queue   chan message
}

// Connect dials broker and returns a publisher for it.
func Connect(broker, clientID, prefix string, logger *zap.Logger) (*Publisher, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectTimeout(5 * time.Second)
	c := mqtt.NewClient(opts)
	if token := c.Connect(); token.WaitTimeout(10*time.Second) && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", broker, token.Error())
	}
	return New(c, prefix, logger), nil
}

func New(c Client, prefix string, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	prefix = strings.TrimRight(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		prefix = "cheese"
	}
	return &Publisher{client: c, prefix: prefix, timeout: 5 * time.Second, log: logger, queue: make(chan message, 64)}
}

// Publish implements tracker.Sink.
func (p *Publisher) Publish(s tracker.Snapshot) {
	p.enqueue(p.prefix+"/board", true, s)
}

// PublishMove is called by the bridge for each submitted move.
func (p *Publisher) PublishMove(m gamelog.MoveRecord) {
	p.enqueue(p.prefix+"/move", false, m)
}

func (p *Publisher) enqueue(topic string, retained bool, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		p.log.Warn("mqtt_marshal_error", zap.String("topic", topic), zap.Error(err))
		return
	}
	select {
	case p.queue <- message{topic: topic, retained: retained, payload: payload}:
	default:
		p.log.Debug("mqtt_queue_full", zap.String("topic", topic))
	}
}

// Run publishes queued messages until ctx ends, then disconnects.
func (p *Publisher) Run(ctx context.Context) error {
	defer p.client.Disconnect(250)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m := <-p.queue:
			token := p.client.Publish(m.topic, 0, m.retained, m.payload)
			if !token.WaitTimeout(p.timeout) {
				p.log.Warn("mqtt_publish_timeout", zap.String("topic", m.topic))
				continue
			}
			if err := token.Error(); err != nil {
				p.log.Warn("mqtt_publish_error", zap.String("topic", m.topic), zap.Error(err))
			}
		}
	}
}

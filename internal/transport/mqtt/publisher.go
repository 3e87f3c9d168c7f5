// Package mqtt mirrors team events to an MQTT broker.
package mqtt

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/op/go-logging"
)

var log = logging.MustGetLogger("mqtt")

// Quality-of-Service (at least once) for MQTT messages
const QOS = 1

const connectTimeout = 5 * time.Second

type Config struct {
	Broker      string
	ClientID    string
	TopicPrefix string
	Team        string
}

// Client is the part of paho.Client the publisher uses.
type Client interface {
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Disconnect(quiesce uint)
}

type message struct {
	topic    string
	payload  []byte
	retained bool
}

// Publisher sends JSON payloads under <prefix>/<team>/... Messages published before the broker
// connection is up are queued and flushed on connect.
type Publisher struct {
	client Client
	base   string

	mu        sync.Mutex
	toPublish []message
	failed    uint64
}

func Dial(cfg Config) (*Publisher, error) {
	p := &Publisher{base: Topic(cfg.TopicPrefix, cfg.Team)}

	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetConnectionLostHandler(func(c paho.Client, err error) {
		log.Errorf("connection to MQTT broker lost: %v", err)
	})
	opts.SetOnConnectHandler(func(c paho.Client) {
		log.Notice("connected to MQTT broker")
		p.flush()
	})

	log.Noticef("connecting to MQTT broker at %s as %s", cfg.Broker, cfg.ClientID)
	client := paho.NewClient(opts)
	p.client = client
	tok := client.Connect()
	if tok.WaitTimeout(connectTimeout) && tok.Error() != nil {
		return nil, tok.Error()
	}
	// Still connecting: messages queue until the connect handler flushes them.
	return p, nil
}

// NewPublisher wraps an existing client.
func NewPublisher(c Client, prefix, team string) *Publisher {
	return &Publisher{client: c, base: Topic(prefix, team)}
}

// Topic joins the non-empty parts with '/'.
func Topic(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.Trim(p, "/"); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "/")
}

// PublishJSON marshals v to <base>/<sub>. Retained messages replace the broker's last value.
func (p *Publisher) PublishJSON(sub string, v any, retained bool) {
	if p == nil {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		log.Warningf("marshal %s: %v", sub, err)
		return
	}
	m := message{topic: Topic(p.base, sub), payload: b, retained: retained}
	if !p.client.IsConnected() {
		p.mu.Lock()
		p.toPublish = append(p.toPublish, m)
		p.mu.Unlock()
		return
	}
	p.publish(m)
}

func (p *Publisher) publish(m message) {
	tok := p.client.Publish(m.topic, QOS, m.retained, m.payload)
	go func() {
		if tok.WaitTimeout(connectTimeout) && tok.Error() == nil {
			return
		}
		p.mu.Lock()
		p.failed++
		p.mu.Unlock()
		log.Errorf("failed to publish message to %s: %v", m.topic, tok.Error())
	}()
}

func (p *Publisher) flush() {
	p.mu.Lock()
	pending := p.toPublish
	p.toPublish = nil
	p.mu.Unlock()
	for _, m := range pending {
		p.publish(m)
		log.Debugf("published queued message to %s", m.topic)
	}
}

// Pending is the number of messages waiting for a connection.
func (p *Publisher) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.toPublish)
}

func (p *Publisher) Failed() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failed
}

func (p *Publisher) Close() {
	if p == nil || p.client == nil {
		return
	}
	p.client.Disconnect(250)
}

package mqtt

import (
	"context"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/sweeney/buttonpanel/internal/logging"
	"github.com/sweeney/buttonpanel/internal/logic"
)

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
	bufferSize     = 32
)

var (
	ErrConnectTimeout = errors.Errorf("MQTT connect timeout after %s", connectTimeout)
	ErrPublishTimeout = errors.Errorf("MQTT publish timeout after %s", publishTimeout)
)

// Options configures a RealTransport.
type Options struct {
	Broker   string
	ClientID string
	Username string
	Password string
	// Prefix roots the system topic.
	Prefix string
}

// RealTransport talks to an actual MQTT broker.
//
// Auto-reconnect is disabled: the run loop owns reconnection so that
// buttons are deliberately not serviced while the broker is away.
// Messages published while disconnected are buffered and replayed on the
// next successful connect.
type RealTransport struct {
	client paho.Client
	opts   Options
	log    logrus.FieldLogger
	inbox  chan logic.Message

	mu        sync.Mutex
	topics    []string
	buf       *ringBuffer
	connected bool // has connected at least once
}

// NewRealTransport creates a transport for the given broker. It does not
// connect; call Connect.
func NewRealTransport(opts Options) *RealTransport {
	t := &RealTransport{
		opts:  opts,
		log:   logging.For("mqtt"),
		inbox: make(chan logic.Message, InboxSize),
		buf:   newRingBuffer(bufferSize),
	}

	// LWT: broker publishes this if we disconnect unexpectedly.
	will, _ := FormatSystemPayload(SystemEvent{
		Timestamp: time.Now(),
		Event:     "SHUTDOWN",
		Reason:    "MQTT_DISCONNECT",
	})

	po := paho.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(false).
		SetConnectTimeout(connectTimeout).
		SetBinaryWill(SystemTopic(opts.Prefix), will, 1, true).
		SetOnConnectHandler(t.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			t.log.WithError(err).Warn("connection lost")
		})
	if opts.Username != "" {
		po.SetUsername(opts.Username)
		po.SetPassword(opts.Password)
	}

	t.client = paho.NewClient(po)
	return t
}

// Connect makes one connection attempt.
func (t *RealTransport) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	token := t.client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(connectTimeout):
		return ErrConnectTimeout
	}
	if err := token.Error(); err != nil {
		return errors.Wrapf(err, "connect to broker %s", t.opts.Broker)
	}
	return nil
}

// onConnect runs on paho's goroutine after every successful connect.
func (t *RealTransport) onConnect(c paho.Client) {
	t.mu.Lock()
	topics := append([]string(nil), t.topics...)
	dropped := t.buf.dropped
	pending := t.buf.drainAll()
	reconnect := t.connected
	t.connected = true
	t.mu.Unlock()

	t.log.WithField("broker", t.opts.Broker).Info("connected")

	for _, topic := range topics {
		if err := t.subscribe(c, topic); err != nil {
			t.log.WithError(err).WithField("topic", topic).Error("resubscribe failed")
		}
	}

	if reconnect {
		payload, _ := FormatSystemPayload(SystemEvent{Timestamp: time.Now(), Event: "RECONNECTED"})
		c.Publish(SystemTopic(t.opts.Prefix), 1, false, payload)
	}

	if len(pending) > 0 {
		t.log.WithFields(logrus.Fields{"count": len(pending), "dropped": dropped}).Info("replaying buffered messages")
	}
	for _, m := range pending {
		c.Publish(m.topic, m.qos, m.retained, m.payload)
	}
}

func (t *RealTransport) subscribe(c paho.Client, topic string) error {
	token := c.Subscribe(topic, 0, t.handle)
	if !token.WaitTimeout(publishTimeout) {
		return errors.Errorf("subscribe to %s timed out", topic)
	}
	return errors.Wrapf(token.Error(), "subscribe to %s", topic)
}

// handle forwards a message to the run loop. It runs on paho's goroutine
// and must not block or touch hardware.
func (t *RealTransport) handle(_ paho.Client, m paho.Message) {
	msg := logic.Message{Topic: m.Topic(), Payload: string(m.Payload())}
	select {
	case t.inbox <- msg:
	default:
		t.log.WithField("topic", msg.Topic).Warn("inbox full, dropping message")
	}
}

// IsConnected reports whether the connection is active.
func (t *RealTransport) IsConnected() bool {
	return t.client.IsConnectionOpen()
}

// Publish sends a button message to the broker.
func (t *RealTransport) Publish(msg logic.Message) error {
	return t.publish(msg.Topic, 0, false, []byte(msg.Payload))
}

// PublishSystem sends a system lifecycle event to the broker.
func (t *RealTransport) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return errors.Wrap(err, "format system payload")
	}
	// QoS 1 (at-least-once) - we want lifecycle events delivered
	return t.publish(SystemTopic(t.opts.Prefix), 1, event.Retained, payload)
}

func (t *RealTransport) publish(topic string, qos byte, retained bool, payload []byte) error {
	if !t.IsConnected() {
		t.mu.Lock()
		t.buf.push(bufferedMsg{topic: topic, payload: payload, qos: qos, retained: retained})
		t.mu.Unlock()
		t.log.WithField("topic", topic).Debug("not connected, buffered")
		return nil
	}

	token := t.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return ErrPublishTimeout
	}
	return errors.Wrapf(token.Error(), "publish to %s", topic)
}

// Subscribe registers topics and subscribes immediately when connected.
func (t *RealTransport) Subscribe(topics ...string) error {
	t.mu.Lock()
	t.topics = append(t.topics, topics...)
	t.mu.Unlock()

	if !t.IsConnected() {
		return nil
	}
	for _, topic := range topics {
		if err := t.subscribe(t.client, topic); err != nil {
			return err
		}
	}
	return nil
}

// Inbox delivers inbound messages.
func (t *RealTransport) Inbox() <-chan logic.Message {
	return t.inbox
}

// Close disconnects from the broker.
func (t *RealTransport) Close() error {
	t.client.Disconnect(1000) // 1 second timeout
	return nil
}

package mqtt

import (
	"context"
	"errors"

	"github.com/sweeney/buttonpanel/internal/logic"
)

// FakeTransport records published messages for test assertions.
type FakeTransport struct {
	// Messages contains all button messages that were published.
	Messages []logic.Message

	// SystemEvents contains all system events that were published.
	SystemEvents []SystemEvent

	// SystemPayloads contains the JSON payloads for system events.
	SystemPayloads [][]byte

	// Topics contains every subscribed topic.
	Topics []string

	// ConnectResults scripts the outcome of successive Connect calls.
	// A nil entry (or running out of entries) connects successfully.
	ConnectResults []error

	// ConnectCalls counts Connect invocations.
	ConnectCalls int

	// OnConnect, if set, runs at the start of every Connect call.
	OnConnect func()

	// PublishError, if set, will be returned by Publish.
	PublishError error

	// PublishSystemError, if set, will be returned by PublishSystem.
	PublishSystemError error

	// Closed tracks if Close was called.
	Closed bool

	// Connected controls the return value of IsConnected.
	Connected bool

	inbox chan logic.Message
}

// NewFakeTransport creates a connected FakeTransport for testing.
func NewFakeTransport() *FakeTransport {
	return &FakeTransport{
		Connected: true,
		inbox:     make(chan logic.Message, InboxSize),
	}
}

// Connect consumes the next scripted result.
func (f *FakeTransport) Connect(ctx context.Context) error {
	if f.OnConnect != nil {
		f.OnConnect()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	i := f.ConnectCalls
	f.ConnectCalls++
	if i < len(f.ConnectResults) && f.ConnectResults[i] != nil {
		return f.ConnectResults[i]
	}
	f.Connected = true
	return nil
}

// IsConnected reports whether the fake transport is "connected".
func (f *FakeTransport) IsConnected() bool {
	return f.Connected
}

// Publish records the message.
func (f *FakeTransport) Publish(msg logic.Message) error {
	if f.PublishError != nil {
		return f.PublishError
	}
	f.Messages = append(f.Messages, msg)
	return nil
}

// PublishSystem records the system event.
func (f *FakeTransport) PublishSystem(event SystemEvent) error {
	if f.PublishSystemError != nil {
		return f.PublishSystemError
	}

	f.SystemEvents = append(f.SystemEvents, event)

	payload, err := FormatSystemPayload(event)
	if err != nil {
		return err
	}
	f.SystemPayloads = append(f.SystemPayloads, payload)

	return nil
}

// Subscribe records the topics.
func (f *FakeTransport) Subscribe(topics ...string) error {
	f.Topics = append(f.Topics, topics...)
	return nil
}

// Inbox delivers messages queued with Deliver.
func (f *FakeTransport) Inbox() <-chan logic.Message {
	return f.inbox
}

// Deliver queues an inbound message as if the broker had sent it.
func (f *FakeTransport) Deliver(topic, payload string) error {
	select {
	case f.inbox <- logic.Message{Topic: topic, Payload: payload}:
		return nil
	default:
		return errors.New("fake inbox full")
	}
}

// Close marks the transport as closed.
func (f *FakeTransport) Close() error {
	f.Closed = true
	return nil
}

// SystemEventNames returns the Event field of every recorded system event.
func (f *FakeTransport) SystemEventNames() []string {
	var out []string
	for _, e := range f.SystemEvents {
		out = append(out, e.Event)
	}
	return out
}

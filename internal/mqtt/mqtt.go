// Package mqtt provides the MQTT transport with abstraction for testing.
package mqtt

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sweeney/buttonpanel/internal/logic"
)

// Transport carries button messages to and from the broker.
type Transport interface {
	// Connect makes one connection attempt. It returns an error if the
	// broker cannot be reached; callers decide whether to retry.
	Connect(ctx context.Context) error

	// IsConnected reports whether the connection is active.
	IsConnected() bool

	// Publish sends a button message (QoS 0, not retained).
	// Returns error if publishing fails (should not crash the process).
	Publish(msg logic.Message) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Subscribe registers topics whose messages are delivered to Inbox.
	// Subscriptions survive reconnects.
	Subscribe(topics ...string) error

	// Inbox delivers inbound messages. It is never closed.
	Inbox() <-chan logic.Message

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemTopic is the topic for lifecycle events under prefix.
func SystemTopic(prefix string) string {
	return prefix + "/system"
}

// InboxSize bounds inbound messages waiting for the run loop.
const InboxSize = 16

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT", "RECONNECTED"
	Reason     string // e.g., "SIGTERM", "SIGINT", "MQTT_DISCONNECT"
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}

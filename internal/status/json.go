package status

import (
	"encoding/json"
	"fmt"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string         `json:"event,omitempty"`
	Reason        string         `json:"reason,omitempty"`
	DeviceID      string         `json:"device_id"`
	Mode          string         `json:"mode"`
	Active        int            `json:"active"`
	LEDs          []bool         `json:"leds"`
	LockedOut     bool           `json:"locked_out"`
	LockoutMs     int64          `json:"lockout_remaining_ms"`
	LastPress     string         `json:"last_press,omitempty"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	StartTime     string         `json:"start_time"`
	Timestamp     string         `json:"timestamp"`
	MQTT          MQTTStatus     `json:"mqtt"`
	Presses       map[string]int `json:"presses"`
	Remote        RemoteJSON     `json:"remote"`
	Network       *NetworkJSON   `json:"network,omitempty"`
	Config        ConfigJSON     `json:"config"`
	Reloads       ReloadJSON     `json:"reloads"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// RemoteJSON counts inbound player messages.
type RemoteJSON struct {
	Messages int `json:"messages"`
	Unknown  int `json:"unknown"`
}

// ReloadJSON counts SIGHUP config reloads.
type ReloadJSON struct {
	OK     int `json:"ok"`
	Failed int `json:"failed"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	Prefix      string `json:"topic_prefix"`
	Base        int    `json:"base"`
	PollMs      int64  `json:"poll_ms"`
	LockoutMs   int64  `json:"lockout_ms"`
	IdleMs      int64  `json:"idle_ms"`
	HeartbeatMs int64  `json:"heartbeat_ms"`
	Broker      string `json:"broker"`
	HTTPAddr    string `json:"http_addr"`
}

func buildInner(snap Snapshot) StatusInner {
	presses := make(map[string]int)
	for b, n := range snap.Panel.Presses {
		if n > 0 {
			presses[fmt.Sprintf("b%d", b)] = n
		}
	}

	leds := snap.Panel.LEDs
	if leds == nil {
		leds = []bool{}
	}

	inner := StatusInner{
		DeviceID:      snap.Config.DeviceID,
		Mode:          string(snap.Config.Mode),
		Active:        int(snap.Panel.Active),
		LEDs:          leds,
		LockedOut:     snap.Panel.LockedOut,
		LockoutMs:     snap.LockoutRemaining().Milliseconds(),
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Presses:       presses,
		Remote: RemoteJSON{
			Messages: snap.Panel.RemoteMessages,
			Unknown:  snap.Panel.UnknownMessages,
		},
		Config: ConfigJSON{
			Prefix:      snap.Config.Prefix,
			Base:        snap.Config.Base,
			PollMs:      snap.Config.PollMs,
			LockoutMs:   snap.Config.LockoutMs,
			IdleMs:      snap.Config.IdleMs,
			HeartbeatMs: snap.Config.HeartbeatMs,
			Broker:      snap.Config.Broker,
			HTTPAddr:    snap.Config.HTTPAddr,
		},
		Reloads: ReloadJSON{OK: snap.Reloads, Failed: snap.ReloadFailures},
	}
	if !snap.Panel.LastPress.IsZero() {
		inner.LastPress = snap.Panel.LastPress.UTC().Format(time.RFC3339)
	}
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
	return inner
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}

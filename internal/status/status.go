// Package status provides a thread-safe status tracker for the buttonpanel daemon.
// The run loop writes to it; HTTP handlers and MQTT system events read it.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/buttonpanel/internal/logic"
)

// NetworkInfo contains network state as reported by pi-helper.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	Mode        logic.Mode
	DeviceID    string
	Prefix      string
	Base        int
	PollMs      int64
	LockoutMs   int64
	IdleMs      int64
	HeartbeatMs int64
	Broker      string
	HTTPAddr    string
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type and stays valid after the lock is released.
type Snapshot struct {
	Panel         logic.MachineSnapshot
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *NetworkInfo
	Config        Config

	Reloads        int
	ReloadFailures int
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// LockoutRemaining returns how long presses stay suppressed, or zero.
func (s Snapshot) LockoutRemaining() time.Duration {
	if !s.Panel.LockedOut {
		return 0
	}
	if d := s.Panel.LockoutUntil.Sub(s.Now); d > 0 {
		return d
	}
	return 0
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
	now  func() time.Time
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
		now: time.Now,
	}
}

// Update stores the latest state machine snapshot.
// Called from the run loop on every tick.
func (t *Tracker) Update(panel logic.MachineSnapshot) {
	t.mu.Lock()
	t.snap.Panel = panel
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// SetTimings records reloaded lockout and idle intervals.
func (t *Tracker) SetTimings(lockout, idle time.Duration) {
	t.mu.Lock()
	t.snap.Config.LockoutMs = lockout.Milliseconds()
	t.snap.Config.IdleMs = idle.Milliseconds()
	t.mu.Unlock()
}

// SetReloads records the config reload totals.
func (t *Tracker) SetReloads(ok, failed int) {
	t.mu.Lock()
	t.snap.Reloads = ok
	t.snap.ReloadFailures = failed
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	s.Panel.LEDs = append([]bool(nil), t.snap.Panel.LEDs...)
	t.mu.RUnlock()
	s.Now = t.now()
	s.Panel.LockedOut = s.Now.Before(s.Panel.LockoutUntil)
	return s
}

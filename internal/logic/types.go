// Package logic contains the button panel state machine.
// This package has NO external dependencies (no GPIO, MQTT, OS, or time.Sleep).
// Time is always injectable via time.Time parameters.
package logic

import (
	"fmt"
	"time"
)

// Button is a logical button identity. Valid buttons are 1..8; 0 means
// "none" and Unknown marks a remote payload that did not map to a button.
type Button int

const (
	None    Button = 0
	Unknown Button = -1
)

// MaxButton is the highest logical button across both boards.
const MaxButton Button = 8

// Mode selects how presses and remote messages are handled.
type Mode string

const (
	// ModeLocal publishes <prefix>/b<N> and lights the pressed button at once.
	ModeLocal Mode = "local"
	// ModeFollower asks the remote player to start a playlist and lights
	// only what the player's status echo confirms.
	ModeFollower Mode = "follower"
)

// ParseMode validates a mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeLocal, ModeFollower:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown mode %q (want %q or %q)", s, ModeLocal, ModeFollower)
}

// Message is an MQTT message travelling in either direction.
type Message struct {
	Topic   string
	Payload string
}

// Step is the outcome of a single Tick.
type Step struct {
	// LEDs holds the new output states, or nil if they did not change.
	LEDs []bool
	// Publish lists messages to send, in order.
	Publish []Message
	// Pressed is the button accepted on this tick, or None.
	Pressed Button
}

// Default timings.
const (
	DefaultLockout = 10 * time.Second
	DefaultIdle    = time.Second
)

// PressCounts tracks accepted presses per logical button (index 1..8).
type PressCounts [MaxButton + 1]int

// Total returns the number of accepted presses.
func (c PressCounts) Total() int {
	n := 0
	for _, v := range c {
		n += v
	}
	return n
}

// MachineSnapshot is a point-in-time view of the state machine.
type MachineSnapshot struct {
	Mode            Mode
	Active          Button
	LEDs            []bool
	LockedOut       bool
	LockoutUntil    time.Time
	Presses         PressCounts
	RemoteMessages  int
	UnknownMessages int
	LastPress       time.Time
}

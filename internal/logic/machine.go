package logic

import "time"

// MachineConfig configures a Machine.
type MachineConfig struct {
	Mode Mode
	// Lines is the number of buttons (and indicator lines) on this board.
	Lines int
	// Base offsets logical buttons: 0 for buttons 1-4, 4 for buttons 5-8.
	Base int
	// Prefix is the topic prefix for local-mode press messages.
	Prefix string
	// Lockout suppresses scanning after an accepted press.
	Lockout time.Duration
	// Idle is the animation step interval.
	Idle time.Duration
}

// Machine arbitrates buttons, indicators and remote state.
// It is not safe for concurrent use; the run loop owns it.
type Machine struct {
	cfg MachineConfig
	ind *Indicator

	active       Button
	lockoutUntil time.Time
	idleUntil    time.Time

	// pending is the remote value recorded by Receive for the next Tick.
	pending Button

	presses         PressCounts
	remoteMessages  int
	unknownMessages int
	lastPress       time.Time
}

// NewMachine creates a machine. Both deadlines start elapsed so the first
// Tick scans (and animates) immediately. In local mode every indicator is lit
// until then; a follower starts dark because nothing has been confirmed.
func NewMachine(cfg MachineConfig) *Machine {
	if cfg.Mode == "" {
		cfg.Mode = ModeLocal
	}
	if cfg.Lines <= 0 {
		cfg.Lines = 4
	}
	if cfg.Lockout <= 0 {
		cfg.Lockout = DefaultLockout
	}
	if cfg.Idle <= 0 {
		cfg.Idle = DefaultIdle
	}

	m := &Machine{
		cfg: cfg,
		ind: NewIndicator(cfg.Lines, cfg.Base),
	}
	if cfg.Mode == ModeLocal {
		m.ind.AllOn()
	}
	return m
}

// Mode returns the configured mode.
func (m *Machine) Mode() Mode {
	return m.cfg.Mode
}

// Active returns the currently lit button, or None.
func (m *Machine) Active() Button {
	return m.active
}

// LEDs returns the current desired indicator states.
func (m *Machine) LEDs() []bool {
	return m.ind.Lines()
}

// SetTimings replaces the lockout and idle intervals. Zero or negative
// values leave the current setting. Armed deadlines are not moved.
func (m *Machine) SetTimings(lockout, idle time.Duration) {
	if lockout > 0 {
		m.cfg.Lockout = lockout
	}
	if idle > 0 {
		m.cfg.Idle = idle
	}
}

// Timings returns the lockout and idle intervals.
func (m *Machine) Timings() (lockout, idle time.Duration) {
	return m.cfg.Lockout, m.cfg.Idle
}

// Receive records an inbound message for the next Tick to consume.
// It never touches indicators directly. Local-mode machines ignore it.
// Only the last message before a Tick counts, so a set command echoed back
// after a status message turns the indicators off until the next status.
func (m *Machine) Receive(msg Message) {
	if m.cfg.Mode != ModeFollower {
		return
	}
	b := ParseRemote(msg.Topic, msg.Payload)
	m.remoteMessages++
	if b == Unknown {
		m.unknownMessages++
	}
	m.pending = b
}

// Tick advances the machine to now given the logical input states.
func (m *Machine) Tick(now time.Time, pressed []bool) Step {
	if m.cfg.Mode == ModeFollower {
		return m.tickFollower(now, pressed)
	}
	return m.tickLocal(now, pressed)
}

func (m *Machine) tickLocal(now time.Time, pressed []bool) Step {
	var step Step

	// Locked out: buttons and animation both wait.
	if now.Before(m.lockoutUntil) {
		return step
	}

	if b := Scan(pressed, m.cfg.Base); b > None {
		m.accept(now, b)
		m.active = b
		m.ind.SetSolo(b)
		step.Pressed = b
		step.Publish = []Message{{Topic: PressTopic(m.cfg.Prefix, b), Payload: "1"}}
		step.LEDs = m.ind.Lines()
		return step
	}

	if !now.Before(m.idleUntil) {
		m.active = m.ind.Advance(m.active)
		m.idleUntil = now.Add(m.cfg.Idle)
		step.LEDs = m.ind.Lines()
	}
	return step
}

func (m *Machine) tickFollower(now time.Time, pressed []bool) Step {
	var step Step

	if m.pending != None {
		if m.pending > None {
			m.active = m.pending
			m.ind.SetSolo(m.pending)
		} else {
			m.active = None
			m.ind.AllOff()
		}
		m.lockoutUntil = now.Add(m.cfg.Lockout)
		m.pending = None
		step.LEDs = m.ind.Lines()
	}

	if now.Before(m.lockoutUntil) {
		return step
	}

	if b := Scan(pressed, m.cfg.Base); b > None {
		m.accept(now, b)
		m.active = None
		m.ind.AllOff()
		step.Pressed = b
		step.Publish = PlaylistCommands(b)
		step.LEDs = m.ind.Lines()
	}
	return step
}

func (m *Machine) accept(now time.Time, b Button) {
	m.lockoutUntil = now.Add(m.cfg.Lockout)
	m.lastPress = now
	if b > None && b <= MaxButton {
		m.presses[b]++
	}
}

// Snapshot returns the machine state as seen at now.
func (m *Machine) Snapshot(now time.Time) MachineSnapshot {
	return MachineSnapshot{
		Mode:            m.cfg.Mode,
		Active:          m.active,
		LEDs:            m.ind.Lines(),
		LockedOut:       now.Before(m.lockoutUntil),
		LockoutUntil:    m.lockoutUntil,
		Presses:         m.presses,
		RemoteMessages:  m.remoteMessages,
		UnknownMessages: m.unknownMessages,
		LastPress:       m.lastPress,
	}
}

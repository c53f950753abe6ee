package gpio

import "errors"

// FakeButtons is a test double that returns scripted button states.
type FakeButtons struct {
	// Samples contains scripted logical states to return.
	// Each call to Read() consumes the next sample.
	Samples [][]bool

	// index tracks current position in Samples
	index int

	// Closed tracks if Close was called
	Closed bool

	// ReadError, if set, will be returned by Read()
	ReadError error
}

// NewFakeButtons creates a FakeButtons with the given samples.
func NewFakeButtons(samples ...[]bool) *FakeButtons {
	return &FakeButtons{Samples: samples}
}

// Read returns the next scripted sample.
// If samples are exhausted, returns the last sample repeatedly.
func (f *FakeButtons) Read() ([]bool, error) {
	if f.ReadError != nil {
		return nil, f.ReadError
	}

	if len(f.Samples) == 0 {
		return nil, errors.New("no samples configured")
	}

	sample := f.Samples[f.index]
	if f.index < len(f.Samples)-1 {
		f.index++
	}

	out := make([]bool, len(sample))
	copy(out, sample)
	return out, nil
}

// Close marks the buttons as closed.
func (f *FakeButtons) Close() error {
	f.Closed = true
	return nil
}

// Reset resets the reader to the beginning of samples.
func (f *FakeButtons) Reset() {
	f.index = 0
	f.Closed = false
}

// FakeLEDs records every write for test assertions.
type FakeLEDs struct {
	// Writes contains every state slice passed to Write, in order.
	Writes [][]bool

	// WriteError, if set, will be returned by Write.
	WriteError error

	// Closed tracks if Close was called
	Closed bool
}

// NewFakeLEDs creates a FakeLEDs.
func NewFakeLEDs() *FakeLEDs {
	return &FakeLEDs{}
}

// Write records the states.
func (f *FakeLEDs) Write(states []bool) error {
	if f.WriteError != nil {
		return f.WriteError
	}
	out := make([]bool, len(states))
	copy(out, states)
	f.Writes = append(f.Writes, out)
	return nil
}

// Last returns the most recent write, or nil.
func (f *FakeLEDs) Last() []bool {
	if len(f.Writes) == 0 {
		return nil
	}
	return f.Writes[len(f.Writes)-1]
}

// Close marks the LEDs as closed.
func (f *FakeLEDs) Close() error {
	f.Closed = true
	return nil
}

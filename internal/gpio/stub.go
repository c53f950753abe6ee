//go:build !linux

package gpio

import "errors"

// Board is not available on non-Linux platforms.
type Board struct{}

// Open returns an error on non-Linux platforms.
func Open(chipName string, buttonPins, ledPins []int) (*Board, error) {
	return nil, errors.New("gpio: not supported on this platform (requires Linux)")
}

// Read is not implemented on non-Linux platforms.
func (b *Board) Read() ([]bool, error) {
	return nil, errors.New("gpio: not supported")
}

// Write is not implemented on non-Linux platforms.
func (b *Board) Write(states []bool) error {
	return errors.New("gpio: not supported")
}

// Close is not implemented on non-Linux platforms.
func (b *Board) Close() error {
	return nil
}

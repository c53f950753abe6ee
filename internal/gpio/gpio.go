// Package gpio provides button input and LED output with hardware abstraction.
// The real implementation uses the Linux GPIO character device.
// The fake implementations allow testing without hardware.
package gpio

// Buttons reads the button input lines.
type Buttons interface {
	// Read returns the logical state of every button line in priority order.
	// Lines are active-low with pull-up: raw 0 = pressed = true.
	Read() ([]bool, error)

	// Close releases GPIO resources.
	Close() error
}

// LEDs drives the indicator output lines.
type LEDs interface {
	// Write sets every indicator line; true = lit (driven high).
	Write(states []bool) error

	// Close releases GPIO resources.
	Close() error
}

// Default pin definitions (BCM numbering). Button i pairs with LED i.
var (
	DefaultButtonPins = []int{17, 27, 22, 23}
	DefaultLEDPins    = []int{5, 6, 13, 19}
)

// DefaultChip is the GPIO character device on a Raspberry Pi.
const DefaultChip = "gpiochip0"

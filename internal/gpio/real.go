//go:build linux

package gpio

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// Board reads buttons and drives LEDs on actual hardware using the Linux
// GPIO character device.
type Board struct {
	chip    *gpiocdev.Chip
	buttons *gpiocdev.Lines
	leds    *gpiocdev.Lines
	raw     []int
}

// Open requests the button lines as pulled-up inputs and the LED lines as
// outputs driven low.
func Open(chipName string, buttonPins, ledPins []int) (*Board, error) {
	if len(buttonPins) != len(ledPins) {
		return nil, fmt.Errorf("gpio: %d button pins but %d led pins", len(buttonPins), len(ledPins))
	}

	chip, err := gpiocdev.NewChip(chipName, gpiocdev.WithConsumer("buttonpanel"))
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	buttons, err := chip.RequestLines(buttonPins, gpiocdev.AsInput, gpiocdev.WithPullUp)
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request button pins %v: %w", buttonPins, err)
	}

	leds, err := chip.RequestLines(ledPins, gpiocdev.AsOutput(make([]int, len(ledPins))...))
	if err != nil {
		buttons.Close()
		chip.Close()
		return nil, fmt.Errorf("request led pins %v: %w", ledPins, err)
	}

	return &Board{
		chip:    chip,
		buttons: buttons,
		leds:    leds,
		raw:     make([]int, len(buttonPins)),
	}, nil
}

// Read returns the logical button states.
// Inverts raw GPIO: raw low (0) = pressed, raw high (1) = released.
func (b *Board) Read() ([]bool, error) {
	if err := b.buttons.Values(b.raw); err != nil {
		return nil, fmt.Errorf("read button pins: %w", err)
	}

	pressed := make([]bool, len(b.raw))
	for i, v := range b.raw {
		pressed[i] = v == 0
	}
	return pressed, nil
}

// Write drives the LED lines; lit = high.
func (b *Board) Write(states []bool) error {
	vals := make([]int, len(states))
	for i, on := range states {
		if on {
			vals[i] = 1
		}
	}
	if err := b.leds.SetValues(vals); err != nil {
		return fmt.Errorf("set led pins: %w", err)
	}
	return nil
}

// Close releases GPIO resources.
// LED pins are reconfigured to input with pull-down (matching Pi boot
// defaults) before closing so the indicators go dark when the daemon exits.
func (b *Board) Close() error {
	var errs []error

	if b.leds != nil {
		if err := b.leds.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure led pins: %w", err))
		}
		if err := b.leds.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close led pins: %w", err))
		}
	}
	if b.buttons != nil {
		if err := b.buttons.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close button pins: %w", err))
		}
	}
	if b.chip != nil {
		if err := b.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}

package logic

// Indicator holds the desired state of a board's indicator lines.
// Line i represents logical button base+i+1.
type Indicator struct {
	base  int
	lines []bool
}

// NewIndicator creates an indicator for n lines with every line off.
func NewIndicator(n, base int) *Indicator {
	return &Indicator{base: base, lines: make([]bool, n)}
}

// SetSolo lights b and turns everything else off. A button outside this
// board's range (including None and Unknown) turns all lines off.
func (ind *Indicator) SetSolo(b Button) {
	idx := int(b) - ind.base - 1
	for i := range ind.lines {
		ind.lines[i] = i == idx
	}
}

// AllOn lights every line.
func (ind *Indicator) AllOn() {
	for i := range ind.lines {
		ind.lines[i] = true
	}
}

// AllOff turns every line off.
func (ind *Indicator) AllOff() {
	for i := range ind.lines {
		ind.lines[i] = false
	}
}

// Advance returns the button after cur in round-robin order and makes it
// the solo line. The sequence wraps from the last line back to the first;
// any cur outside the board starts at the first line.
func (ind *Indicator) Advance(cur Button) Button {
	n := len(ind.lines)
	if n == 0 {
		return None
	}
	rel := int(cur) - ind.base
	if rel < 0 || rel > n {
		rel = 0
	}
	next := Button(ind.base + rel%n + 1)
	ind.SetSolo(next)
	return next
}

// Lines returns a copy of the current line states.
func (ind *Indicator) Lines() []bool {
	out := make([]bool, len(ind.lines))
	copy(out, ind.lines)
	return out
}

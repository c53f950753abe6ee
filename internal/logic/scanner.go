package logic

// Scan maps the logical input states to a button. Lines are checked in
// priority order; when several are asserted the lowest index wins.
// base offsets the result so a board can represent buttons 5-8.
// Returns None if no line is asserted.
func Scan(pressed []bool, base int) Button {
	for i, p := range pressed {
		if p {
			return Button(base + i + 1)
		}
	}
	return None
}

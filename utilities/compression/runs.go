package compression

// RunScanner walks a byte slice as a sequence of maximal stretches of one
// repeated value. Track buffers are always fully in memory here, so the
// scanner works on the slice directly.
type RunScanner struct {
	data []byte
	pos  int
}

func NewRunScanner(data []byte) *RunScanner {
	return &RunScanner{data: data}
}

// Next returns the value and length of the next stretch. ok is false once
// the input is exhausted; length is always at least 1 otherwise.
func (s *RunScanner) Next() (value byte, length int, ok bool) {
	if s.pos >= len(s.data) {
		return 0, 0, false
	}
	value = s.data[s.pos]
	start := s.pos
	for s.pos < len(s.data) && s.data[s.pos] == value {
		s.pos++
	}
	return value, s.pos - start, true
}

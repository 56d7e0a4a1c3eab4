package redact

import "strings"

// maxHeldBack bounds how long an unterminated "[..." tail may wait for its
// closing bracket before it is passed through as plain text.
const maxHeldBack = 64

// Restorer restores placeholders in a reply that arrives in pieces. A
// placeholder split across chunks is held back until it is complete.
type Restorer struct {
	res     Result
	pending string
}

// Restorer returns a streaming restorer for r's mapping.
func (r Result) Restorer() *Restorer {
	return &Restorer{res: r}
}

// Push adds chunk and returns the restored text that is safe to emit now.
// The result may be empty.
func (s *Restorer) Push(chunk string) string {
	s.pending += chunk
	if !s.res.Changed() {
		out := s.pending
		s.pending = ""
		return out
	}

	// Placeholders never contain '[', so everything before the last open
	// bracket without a matching ']' is complete.
	cut := len(s.pending)
	if i := strings.LastIndexByte(s.pending, '['); i >= 0 &&
		!strings.Contains(s.pending[i:], "]") &&
		len(s.pending)-i < maxHeldBack {
		cut = i
	}
	out := s.res.Restore(s.pending[:cut])
	s.pending = s.pending[cut:]
	return out
}

// Flush returns whatever is still held back, restored.
func (s *Restorer) Flush() string {
	out := s.res.Restore(s.pending)
	s.pending = ""
	return out
}

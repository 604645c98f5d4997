package backend

import "strings"

// sentenceSplitter incrementally turns a stream of token deltas into
// sentence-granularity units. A sentence ends at a newline, or at a
// terminator (. ! ?) followed by whitespace; a terminator at the end of
// the buffer is held back until the next delta shows what follows it.
type sentenceSplitter struct {
	buf   string
	ready []string
}

func newSentenceSplitter() *sentenceSplitter {
	return &sentenceSplitter{}
}

// feed appends a delta and extracts any completed sentences.
func (s *sentenceSplitter) feed(text string) {
	s.buf += text
	for {
		end, ok := s.findBoundary()
		if !ok {
			return
		}
		s.emit(s.buf[:end])
		s.buf = s.buf[end:]
	}
}

// findBoundary returns the exclusive end index of the first complete
// sentence in the buffer.
func (s *sentenceSplitter) findBoundary() (int, bool) {
	for i := 0; i < len(s.buf); i++ {
		c := s.buf[i]
		if c == '\n' {
			return i + 1, true
		}
		if c == '.' || c == '!' || c == '?' {
			if i+1 >= len(s.buf) {
				// terminator at the buffer edge could be mid-number or
				// mid-ellipsis; wait for more input
				return 0, false
			}
			next := s.buf[i+1]
			if next == ' ' || next == '\n' {
				return i + 1, true
			}
		}
	}
	return 0, false
}

// flush emits whatever remains in the buffer as a final sentence.
func (s *sentenceSplitter) flush() {
	s.emit(s.buf)
	s.buf = ""
}

func (s *sentenceSplitter) emit(raw string) {
	sentence := strings.TrimSpace(raw)
	if sentence == "" {
		return
	}
	s.ready = append(s.ready, sentence)
}

// pop returns the next completed sentence, if any.
func (s *sentenceSplitter) pop() (string, bool) {
	if len(s.ready) == 0 {
		return "", false
	}
	sentence := s.ready[0]
	s.ready = s.ready[1:]
	return sentence, true
}

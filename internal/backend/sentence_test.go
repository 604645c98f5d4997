package backend

import "testing"

func collect(s *sentenceSplitter) []string {
	var out []string
	for {
		sentence, ok := s.pop()
		if !ok {
			return out
		}
		out = append(out, sentence)
	}
}

func TestSplitterSentenceBoundaries(t *testing.T) {
	s := newSentenceSplitter()
	s.feed("Hello there. How are you? ")

	got := collect(s)
	want := []string{"Hello there.", "How are you?"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestSplitterHoldsTerminatorAtBufferEdge(t *testing.T) {
	s := newSentenceSplitter()

	// "3." could be the start of "3.14"; nothing emits until the next
	// delta shows what follows
	s.feed("Pi is about 3.")
	if got := collect(s); len(got) != 0 {
		t.Fatalf("premature emit: %v", got)
	}

	s.feed("14, roughly. Neat!")
	got := collect(s)
	if len(got) != 1 || got[0] != "Pi is about 3.14, roughly." {
		t.Fatalf("got %v", got)
	}

	// the trailing sentence only appears on flush
	s.flush()
	got = collect(s)
	if len(got) != 1 || got[0] != "Neat!" {
		t.Fatalf("got %v", got)
	}
}

func TestSplitterNewlineIsABoundary(t *testing.T) {
	s := newSentenceSplitter()
	s.feed("first line\nsecond line\n")

	got := collect(s)
	if len(got) != 2 || got[0] != "first line" || got[1] != "second line" {
		t.Fatalf("got %v", got)
	}
}

func TestSplitterDropsBlankSentences(t *testing.T) {
	s := newSentenceSplitter()
	s.feed("\n  \n\nreal content\n")

	got := collect(s)
	if len(got) != 1 || got[0] != "real content" {
		t.Fatalf("got %v", got)
	}
}

func TestSplitterAccumulatesAcrossDeltas(t *testing.T) {
	s := newSentenceSplitter()
	for _, delta := range []string{"Th", "is arriv", "es in pie", "ces. Done"} {
		s.feed(delta)
	}
	s.flush()

	got := collect(s)
	if len(got) != 2 || got[0] != "This arrives in pieces." || got[1] != "Done" {
		t.Fatalf("got %v", got)
	}
}

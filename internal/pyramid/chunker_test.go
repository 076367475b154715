package pyramid

import (
	"strings"
	"testing"
)

func TestChunkEmptyInput(t *testing.T) {
	c := NewWordChunker(50)
	if got := c.Chunk(""); got != nil {
		t.Errorf("Chunk(\"\") = %v", got)
	}
	if got := c.Chunk("   \n\n  \t"); got != nil {
		t.Errorf("Chunk(whitespace) = %v", got)
	}
}

func TestChunkPacksParagraphs(t *testing.T) {
	c := NewWordChunker(10)
	text := "one two three four.\n\nfive six seven eight.\n\nnine ten eleven twelve."

	chunks := c.Chunk(text)
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks: %v", len(chunks), chunks)
	}
	// First two paragraphs fit in one chunk, third overflows.
	if !strings.Contains(chunks[0], "one two") || !strings.Contains(chunks[0], "five six") {
		t.Errorf("first chunk = %q", chunks[0])
	}
	if !strings.Contains(chunks[1], "nine ten") {
		t.Errorf("second chunk = %q", chunks[1])
	}
}

func TestChunkSplitsLongParagraphOnSentences(t *testing.T) {
	c := NewWordChunker(6)
	para := "Alpha beta gamma delta done. Epsilon zeta eta theta over. Iota kappa lambda mu end."

	chunks := c.Chunk(para)
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks: %v", len(chunks), chunks)
	}
	for _, ch := range chunks {
		if !strings.HasSuffix(ch, ".") {
			t.Errorf("chunk does not end on a sentence boundary: %q", ch)
		}
	}
}

func TestChunkNeverBreaksSingleSentence(t *testing.T) {
	c := NewWordChunker(3)
	sentence := "this single sentence runs well past the chunk target without a break."

	chunks := c.Chunk(sentence)
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks: %v", len(chunks), chunks)
	}
	if chunks[0] != sentence {
		t.Errorf("chunk = %q", chunks[0])
	}
}

func TestSplitSentences(t *testing.T) {
	got := splitSentences(`He said "stop." Then he left! Did it work? yes`)
	want := []string{`He said "stop."`, "Then he left!", "Did it work?", "yes"}
	if len(got) != len(want) {
		t.Fatalf("got %d sentences: %v", len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sentence %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestSplitSentencesAbbreviationMidWord(t *testing.T) {
	// A period not followed by whitespace must not split.
	got := splitSentences("visit example.com for details.")
	if len(got) != 1 {
		t.Errorf("got %d sentences: %v", len(got), got)
	}
}

func TestCountWords(t *testing.T) {
	if n := countWords("  one   two\nthree "); n != 3 {
		t.Errorf("countWords = %d, want 3", n)
	}
	if n := countWords(""); n != 0 {
		t.Errorf("countWords(\"\") = %d", n)
	}
}

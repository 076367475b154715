package pyramid

import "strings"

// Chunker splits raw text into word-bounded base chunks.
type Chunker interface {
	Chunk(text string) []string
}

// DefaultChunkWords is the target size of one L0 chunk.
const DefaultChunkWords = 200

// WordChunker is a paragraph- and sentence-aware chunker. It packs whole
// paragraphs into a chunk until the word target is reached, splitting
// oversized paragraphs at sentence boundaries so chunks never cut a
// sentence in half.
type WordChunker struct {
	chunkWords int
}

// NewWordChunker creates a WordChunker targeting the given words per chunk.
// Non-positive values fall back to DefaultChunkWords.
func NewWordChunker(chunkWords int) *WordChunker {
	if chunkWords <= 0 {
		chunkWords = DefaultChunkWords
	}
	return &WordChunker{chunkWords: chunkWords}
}

// Chunk splits text into chunks of roughly chunkWords words each.
// Whitespace-only input yields no chunks.
func (c *WordChunker) Chunk(text string) []string {
	var chunks []string
	var current []string
	currentWords := 0

	flush := func() {
		if len(current) > 0 {
			chunks = append(chunks, strings.Join(current, "\n\n"))
			current = nil
			currentWords = 0
		}
	}

	for _, para := range splitParagraphs(text) {
		words := countWords(para)
		if words == 0 {
			continue
		}

		// A paragraph larger than a whole chunk is split on sentences.
		if words > c.chunkWords {
			flush()
			for _, piece := range c.splitLongParagraph(para) {
				chunks = append(chunks, piece)
			}
			continue
		}

		if currentWords+words > c.chunkWords {
			flush()
		}
		current = append(current, para)
		currentWords += words
	}
	flush()
	return chunks
}

// splitLongParagraph packs sentences into word-bounded pieces. A single
// sentence longer than the target becomes its own piece rather than being
// broken mid-sentence.
func (c *WordChunker) splitLongParagraph(para string) []string {
	var pieces []string
	var current []string
	currentWords := 0

	for _, sentence := range splitSentences(para) {
		words := countWords(sentence)
		if words == 0 {
			continue
		}
		if currentWords > 0 && currentWords+words > c.chunkWords {
			pieces = append(pieces, strings.Join(current, " "))
			current = nil
			currentWords = 0
		}
		current = append(current, sentence)
		currentWords += words
	}
	if len(current) > 0 {
		pieces = append(pieces, strings.Join(current, " "))
	}
	return pieces
}

// splitParagraphs splits on blank lines.
func splitParagraphs(text string) []string {
	raw := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n")
	paras := make([]string, 0, len(raw))
	for _, p := range raw {
		p = strings.TrimSpace(p)
		if p != "" {
			paras = append(paras, p)
		}
	}
	return paras
}

// splitSentences splits on terminal punctuation followed by whitespace.
// Good enough for chat logs and articles; abbreviations may over-split,
// which only shortens a chunk slightly.
func splitSentences(text string) []string {
	var sentences []string
	start := 0
	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r == '.' || r == '!' || r == '?' {
			// Consume trailing closers like quotes or parens.
			j := i + 1
			for j < len(runes) && (runes[j] == '"' || runes[j] == '\'' || runes[j] == ')' || runes[j] == ']') {
				j++
			}
			if j >= len(runes) || runes[j] == ' ' || runes[j] == '\n' || runes[j] == '\t' {
				s := strings.TrimSpace(string(runes[start:j]))
				if s != "" {
					sentences = append(sentences, s)
				}
				start = j
				i = j
			}
		}
	}
	if start < len(runes) {
		s := strings.TrimSpace(string(runes[start:]))
		if s != "" {
			sentences = append(sentences, s)
		}
	}
	return sentences
}

// countWords counts whitespace-separated words.
func countWords(text string) int {
	return len(strings.Fields(text))
}

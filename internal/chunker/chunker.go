package chunker

import (
	"sort"
	"strings"
	"unicode"

	pkgerrors "github.com/knowgraph/knowgraph-backend/internal/pkg/errors"
)

// Params are the word-window knobs. Boundaries are searched inside
// [MinWords, MaxWords]; the next chunk starts OverlapWords behind the end
// of the previous one.
type Params struct {
	TargetWords  int
	MinWords     int
	MaxWords     int
	OverlapWords int
}

func DefaultParams() Params {
	return Params{
		TargetWords:  1000,
		MinWords:     800,
		MaxWords:     1500,
		OverlapWords: 200,
	}
}

// WithDefaults fills zero fields from the defaults.
func (p Params) WithDefaults() Params {
	d := DefaultParams()
	if p.TargetWords <= 0 {
		p.TargetWords = d.TargetWords
	}
	if p.MinWords <= 0 {
		p.MinWords = d.MinWords
	}
	if p.MaxWords <= 0 {
		p.MaxWords = d.MaxWords
	}
	if p.OverlapWords < 0 {
		p.OverlapWords = d.OverlapWords
	}
	return p
}

func (p Params) Validate() error {
	if p.MinWords <= 0 || p.TargetWords < p.MinWords || p.MaxWords < p.TargetWords {
		return pkgerrors.ErrInvalidArgument
	}
	if p.OverlapWords < 0 || p.OverlapWords >= p.MinWords {
		return pkgerrors.ErrInvalidArgument
	}
	return nil
}

// Chunk is one word-bounded window. Offsets are byte offsets into the
// original text; Text is the exact slice between them.
type Chunk struct {
	Text            string `json:"text"`
	ChunkIndex      int    `json:"chunk_index"`
	CharOffsetStart int    `json:"char_offset_start"`
	CharOffsetEnd   int    `json:"char_offset_end"`
	LineStart       int    `json:"line_start"`
	LineEnd         int    `json:"line_end"`
	OverlapChars    int    `json:"overlap_chars"`
}

// ChunkMethod names the algorithm recorded on Source nodes.
const ChunkMethod = "word_window_v1"

type wordSpan struct {
	start int
	end   int
}

// Split cuts text into chunks: greedy word packing to TargetWords with a
// paragraph-break preference inside [MinWords, MaxWords], then a sentence
// terminator, then a hard cut at MaxWords. Deterministic for a given
// (text, params). Whitespace-only input yields zero chunks.
func Split(text string, p Params) ([]Chunk, error) {
	p = p.WithDefaults()
	if err := p.Validate(); err != nil {
		return nil, err
	}

	words := scanWords(text)
	if len(words) == 0 {
		return []Chunk{}, nil
	}
	newlines := newlineOffsets(text)

	var chunks []Chunk
	start := 0
	prevEndChar := -1
	for start < len(words) {
		endCount := chunkEnd(text, words, start, p)
		last := start + endCount - 1

		cs := words[start].start
		ce := words[last].end
		overlap := 0
		if prevEndChar > cs {
			overlap = prevEndChar - cs
		}
		chunks = append(chunks, Chunk{
			Text:            text[cs:ce],
			ChunkIndex:      len(chunks),
			CharOffsetStart: cs,
			CharOffsetEnd:   ce,
			LineStart:       lineAt(newlines, cs),
			LineEnd:         lineAt(newlines, ce-1),
			OverlapChars:    overlap,
		})
		prevEndChar = ce

		if start+endCount >= len(words) {
			break
		}
		next := start + endCount - p.OverlapWords
		if next <= start {
			next = start + 1
		}
		start = next
	}
	return chunks, nil
}

// chunkEnd returns how many words the chunk starting at word index start
// should take.
func chunkEnd(text string, words []wordSpan, start int, p Params) int {
	remaining := len(words) - start
	if remaining <= p.MaxWords {
		return remaining
	}

	// Prefer a paragraph break nearest the target.
	best := -1
	for n := p.MinWords; n <= p.MaxWords && n < remaining; n++ {
		if hasParagraphBreak(text, words, start+n-1) {
			if best == -1 || absInt(n-p.TargetWords) < absInt(best-p.TargetWords) {
				best = n
			}
		}
	}
	if best != -1 {
		return best
	}

	// Then a sentence terminator nearest the target.
	for n := p.MinWords; n <= p.MaxWords && n < remaining; n++ {
		if endsSentence(text, words[start+n-1]) {
			if best == -1 || absInt(n-p.TargetWords) < absInt(best-p.TargetWords) {
				best = n
			}
		}
	}
	if best != -1 {
		return best
	}
	return p.MaxWords
}

func scanWords(text string) []wordSpan {
	var words []wordSpan
	inWord := false
	start := 0
	for i, r := range text {
		if unicode.IsSpace(r) {
			if inWord {
				words = append(words, wordSpan{start: start, end: i})
				inWord = false
			}
			continue
		}
		if !inWord {
			start = i
			inWord = true
		}
	}
	if inWord {
		words = append(words, wordSpan{start: start, end: len(text)})
	}
	return words
}

// hasParagraphBreak reports whether the gap after word i contains a blank
// line.
func hasParagraphBreak(text string, words []wordSpan, i int) bool {
	if i+1 >= len(words) {
		return true
	}
	gap := text[words[i].end:words[i+1].start]
	return strings.Count(gap, "\n") >= 2
}

func endsSentence(text string, w wordSpan) bool {
	word := text[w.start:w.end]
	word = strings.TrimRight(word, `"')]”’`)
	if word == "" {
		return false
	}
	switch word[len(word)-1] {
	case '.', '!', '?':
		return true
	}
	return false
}

func newlineOffsets(text string) []int {
	var offs []int
	for i := 0; i < len(text); i++ {
		if text[i] == '\n' {
			offs = append(offs, i)
		}
	}
	return offs
}

// lineAt returns the 1-based line number of the byte at off.
func lineAt(newlines []int, off int) int {
	return 1 + sort.SearchInts(newlines, off)
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// WordCount counts whitespace-separated words; the analyzer and the
// engine share this definition.
func WordCount(text string) int {
	return len(scanWords(text))
}

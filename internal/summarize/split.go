package summarize

import (
	"regexp"
	"strings"
)

var (
	paragraphBreak = regexp.MustCompile(`\n\s*\n`)
	sentenceEnd    = regexp.MustCompile(`[.!?]["')\]]*\s+`)
)

type piece struct {
	text string
	sep  string
	cost int
}

// splitter cuts text into chunks of at most size tokens. Oversized
// paragraphs are broken into sentences and oversized sentences into
// words. Each chunk after the first starts with up to overlap tokens of
// the previous chunk's tail.
type splitter struct {
	tok     *Tokenizer
	size    int
	overlap int
}

func newSplitter(tok *Tokenizer, size, overlap int) *splitter {
	if overlap >= size/2 {
		overlap = size / 2
	}
	if overlap < 0 {
		overlap = 0
	}
	return &splitter{tok: tok, size: size, overlap: overlap}
}

func (s *splitter) split(text string) []string {
	var pieces []piece
	for _, para := range paragraphBreak.Split(text, -1) {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		pieces = append(pieces, s.pieces(para, "\n\n", levelParagraph)...)
	}
	return s.pack(pieces)
}

const (
	levelParagraph = iota
	levelSentence
	levelWord
)

// pieces breaks text down the paragraph, sentence, word chain until every
// piece fits the chunk budget. A single oversized word is kept whole.
func (s *splitter) pieces(text, sep string, level int) []piece {
	cost := s.tok.Count(sep + text)
	if cost <= s.size-s.overlap || level == levelWord {
		return []piece{{text: text, sep: sep, cost: cost}}
	}

	var parts []string
	next := levelWord
	if level == levelParagraph {
		parts = splitSentences(text)
		next = levelSentence
	}
	if len(parts) <= 1 {
		parts = strings.Fields(text)
		next = levelWord
	}

	out := make([]piece, 0, len(parts))
	for i, p := range parts {
		psep := " "
		if i == 0 {
			psep = sep
		}
		out = append(out, s.pieces(p, psep, next)...)
	}
	return out
}

func splitSentences(text string) []string {
	var out []string
	last := 0
	for _, loc := range sentenceEnd.FindAllStringIndex(text, -1) {
		out = append(out, strings.TrimSpace(text[last:loc[1]]))
		last = loc[1]
	}
	if rest := strings.TrimSpace(text[last:]); rest != "" {
		out = append(out, rest)
	}
	return out
}

func (s *splitter) pack(pieces []piece) []string {
	var (
		chunks []string
		cur    strings.Builder
		used   int
	)
	budget := s.size
	flush := func() {
		if cur.Len() == 0 {
			return
		}
		chunks = append(chunks, cur.String())
		tail := s.tail(cur.String())
		cur.Reset()
		used = 0
		if tail != "" {
			cur.WriteString(tail)
			used = s.tok.Count(tail)
		}
	}

	fresh := 0
	for _, p := range pieces {
		if fresh > 0 && used+p.cost > budget {
			flush()
			fresh = 0
		}
		if cur.Len() > 0 {
			cur.WriteString(p.sep)
		}
		cur.WriteString(p.text)
		used += p.cost
		fresh++
	}
	if fresh > 0 {
		chunks = append(chunks, cur.String())
	}
	return chunks
}

// tail returns the longest word suffix of text within the overlap budget.
func (s *splitter) tail(text string) string {
	if s.overlap == 0 {
		return ""
	}
	words := strings.Fields(text)
	start := len(words)
	for start > 0 && s.tok.Count(strings.Join(words[start-1:], " ")) <= s.overlap {
		start--
	}
	return strings.Join(words[start:], " ")
}

// Package sentence splits article text into ordered speakable segments.
package sentence

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/dgnsrekt/readaloud/tts"
)

// Parser splits plain text into sentence-scoped segments.
type Parser struct {
	maxRunes int
}

// Option configures a Parser.
type Option func(*Parser)

// WithMaxRunes caps segment length. Sentences longer than n runes are broken
// at the last whitespace before the limit. Zero means unlimited.
func WithMaxRunes(n int) Option {
	return func(p *Parser) {
		if n > 0 {
			p.maxRunes = n
		}
	}
}

// NewParser creates a sentence parser.
func NewParser(opts ...Option) *Parser {
	p := &Parser{}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Split implements tts.Splitter.
func (p *Parser) Split(text string) []tts.Segment {
	var segments []tts.Segment
	for _, b := range findBoundaries(text) {
		for _, piece := range p.limit(text[b.start:b.end], b.start) {
			trimmed := strings.TrimSpace(text[piece.start:piece.end])
			if trimmed == "" {
				continue
			}
			segments = append(segments, tts.Segment{
				Index: len(segments),
				Text:  trimmed,
				Start: piece.start,
				End:   piece.end,
			})
		}
	}
	return segments
}

// Split splits text with a default parser.
func Split(text string) []tts.Segment {
	return NewParser().Split(text)
}

// boundary is a byte range in the source text.
type boundary struct {
	start int
	end   int
}

func isTerminal(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

func isClosing(r rune) bool {
	switch r {
	case '"', '\'', ')', ']', '}', '’', '”', '»':
		return true
	}
	return false
}

// findBoundaries returns the byte ranges of each sentence. A sentence ends
// after a run of terminal punctuation, plus any closing quotes or brackets,
// when followed by whitespace or the end of the text. "3.14" and "a.b" do
// not split.
func findBoundaries(text string) []boundary {
	var (
		out   []boundary
		start int
	)

	runes := []rune(text)
	offsets := make([]int, len(runes)+1)
	off := 0
	for i, r := range runes {
		offsets[i] = off
		off += utf8.RuneLen(r)
	}
	offsets[len(runes)] = off

	for i := 0; i < len(runes); i++ {
		if !isTerminal(runes[i]) {
			continue
		}
		end := i + 1
		for end < len(runes) && isTerminal(runes[end]) {
			end++
		}
		for end < len(runes) && isClosing(runes[end]) {
			end++
		}
		if end < len(runes) && !unicode.IsSpace(runes[end]) {
			i = end - 1
			continue
		}

		out = append(out, boundary{start: offsets[start], end: offsets[end]})
		start = end
		i = end - 1
	}

	if start < len(runes) {
		out = append(out, boundary{start: offsets[start], end: offsets[len(runes)]})
	}
	return out
}

// limit breaks s, located at byte offset base, into pieces of at most
// maxRunes runes, cutting at whitespace where possible.
func (p *Parser) limit(s string, base int) []boundary {
	if p.maxRunes == 0 || utf8.RuneCountInString(strings.TrimSpace(s)) <= p.maxRunes {
		return []boundary{{start: base, end: base + len(s)}}
	}

	var out []boundary
	pos := 0
	for pos < len(s) {
		// skip leading whitespace so the rune budget applies to content
		for pos < len(s) {
			r, size := utf8.DecodeRuneInString(s[pos:])
			if !unicode.IsSpace(r) {
				break
			}
			pos += size
		}
		if pos >= len(s) {
			break
		}

		cut, lastSpace, count := pos, -1, 0
		for cut < len(s) && count < p.maxRunes {
			r, size := utf8.DecodeRuneInString(s[cut:])
			if unicode.IsSpace(r) {
				lastSpace = cut
			}
			cut += size
			count++
		}
		if cut < len(s) {
			if r, _ := utf8.DecodeRuneInString(s[cut:]); unicode.IsSpace(r) {
				lastSpace = cut
			}
			if lastSpace > pos {
				cut = lastSpace
			}
		}

		out = append(out, boundary{start: base + pos, end: base + cut})
		pos = cut
	}
	return out
}

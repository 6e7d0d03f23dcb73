package client

import (
	"regexp"
	"unicode"
	"unicode/utf8"
)

// mentionPattern matches @ followed by a maximal run of word characters.
var mentionPattern = regexp.MustCompile(`@(\w+)`)

// ExtractMentions returns every @name token in text, left to right,
// duplicates retained in source order.
func ExtractMentions(text string) []string {
	var mentions []string
	for _, match := range mentionPattern.FindAllStringSubmatch(text, -1) {
		mentions = append(mentions, match[1])
	}
	return mentions
}

// SpanKind labels what a text span highlights.
type SpanKind int

const (
	SpanMention SpanKind = iota
	SpanSearchMatch
)

// Span is a half-open byte range [Start, End) over plain text. The
// rendering layer turns spans into safe output; the engine never builds
// markup strings.
type Span struct {
	Start int
	End   int
	Kind  SpanKind
}

// MentionSpans returns the spans covering each @name token in text,
// including the @ sigil, in order.
func MentionSpans(text string) []Span {
	var spans []Span
	for _, loc := range mentionPattern.FindAllStringIndex(text, -1) {
		spans = append(spans, Span{Start: loc[0], End: loc[1], Kind: SpanMention})
	}
	return spans
}

// SearchSpans returns the non-overlapping case-insensitive occurrences of
// query in text, in order. Case is folded rune by rune so span offsets
// always index the original text, even where lowercasing changes a
// rune's byte length. An empty query matches nothing.
func SearchSpans(text, query string) []Span {
	if query == "" {
		return nil
	}
	queryRunes := []rune(query)

	var spans []Span
	for start := 0; start < len(text); {
		if end, ok := foldMatch(text, start, queryRunes); ok {
			spans = append(spans, Span{Start: start, End: end, Kind: SpanSearchMatch})
			start = end
			continue
		}
		_, size := utf8.DecodeRuneInString(text[start:])
		start += size
	}
	return spans
}

// foldMatch matches query against text at byte offset start, folding
// case rune by rune, and returns the offset just past the match.
func foldMatch(text string, start int, query []rune) (int, bool) {
	offset := start
	for _, want := range query {
		r, size := utf8.DecodeRuneInString(text[offset:])
		if size == 0 {
			return 0, false
		}
		if unicode.ToLower(r) != unicode.ToLower(want) {
			return 0, false
		}
		offset += size
	}
	return offset, true
}

// Package text prepares input text for synthesis: segmentation into chunks the
// engine can handle and emotion cues.
package text

import (
	"regexp"
	"strings"
)

// Default chunk lengths, in characters.
const (
	DesiredLength = 200
	MaxLength     = 300
)

// EscapedNewline is the two-character delimiter that stands for a line break.
const EscapedNewline = `\n`

const (
	sentenceEnders = "!?\n"
	splitBackStops = "!?.\n "
	repeatedEnders = "!?."
)

var (
	blankLinesPattern  = regexp.MustCompile(`\n\n+`)
	whitespacePattern  = regexp.MustCompile(`\s+`)
	punctuationPattern = regexp.MustCompile(`^[\s.,;:!?]*$`)
	quoteReplacer      = strings.NewReplacer("“", `"`, "”", `"`)
)

// Split cuts text into synthesis segments. A non-empty delimiter that occurs in
// the text splits it verbatim, dropping blank segments; otherwise the
// recombining splitter is used.
func Split(text, delimiter string) []string {
	if delimiter == EscapedNewline {
		delimiter = "\n"
	}

	if delimiter != "" && strings.Contains(text, delimiter) {
		parts := strings.Split(text, delimiter)
		segments := parts[:0]

		for _, part := range parts {
			if strings.TrimSpace(part) != "" {
				segments = append(segments, part)
			}
		}

		return segments
	}

	return SplitAndRecombine(text, DesiredLength, MaxLength)
}

// SplitAndRecombine splits text at sentence boundaries into chunks of roughly
// desiredLength characters, never exceeding maxLength. Quoted spans are only
// split when a chunk would otherwise grow past maxLength.
func SplitAndRecombine(text string, desiredLength, maxLength int) []string {
	text = blankLinesPattern.ReplaceAllString(text, "\n")
	text = whitespacePattern.ReplaceAllString(text, " ")
	text = quoteReplacer.Replace(text)

	s := &splitter{
		text:    []rune(text),
		pos:     -1,
		desired: desiredLength,
		max:     maxLength,
	}

	return s.run()
}

type splitter struct {
	text     []rune
	current  []rune
	chunks   []string
	splitPos []int
	pos      int
	desired  int
	max      int
	inQuote  bool
}

func (s *splitter) run() []string {
	endPos := len(s.text) - 1

	for s.pos < endPos {
		c := s.seek(1)

		switch {
		case len(s.current) >= s.max:
			s.forceSplit(c)
		case !s.inQuote && s.atSentenceEnd(c):
			for s.pos < endPos && len(s.current) < s.max && isRepeatedEnder(s.peek(1)) {
				s.seek(1)
			}

			s.splitPos = append(s.splitPos, s.pos)

			if len(s.current) >= s.desired {
				s.commit()
			}
		case s.inQuote && s.peek(1) == '"' && isSpaceOrNewline(s.peek(2)):
			s.seek(2)
			s.splitPos = append(s.splitPos, s.pos)
		}
	}

	s.chunks = append(s.chunks, string(s.current))

	result := make([]string, 0, len(s.chunks))

	for _, chunk := range s.chunks {
		chunk = strings.TrimSpace(chunk)
		if chunk == "" || punctuationPattern.MatchString(chunk) {
			continue
		}

		result = append(result, chunk)
	}

	return result
}

// forceSplit commits the current chunk once it reached the maximum length,
// preferring the last sentence boundary and falling back to the last word break.
func (s *splitter) forceSplit(c rune) {
	if len(s.splitPos) > 0 && len(s.current) > s.desired/2 {
		s.seek(s.splitPos[len(s.splitPos)-1] - s.pos)
	} else {
		for !strings.ContainsRune(splitBackStops, c) && s.pos > 0 && len(s.current) > s.desired {
			c = s.seek(-1)
		}
	}

	s.commit()
}

func (s *splitter) atSentenceEnd(c rune) bool {
	return strings.ContainsRune(sentenceEnders, c) || (c == '.' && isSpaceOrNewline(s.peek(1)))
}

func (s *splitter) seek(delta int) rune {
	step := 1
	if delta < 0 {
		step = -1
		delta = -delta
	}

	for range delta {
		if step < 0 {
			s.pos--
			s.current = s.current[:len(s.current)-1]
		} else {
			s.pos++
			s.current = append(s.current, s.text[s.pos])
		}

		if s.text[s.pos] == '"' {
			s.inQuote = !s.inQuote
		}
	}

	return s.text[s.pos]
}

// peek returns the rune delta positions ahead, or 0 past the last-but-one rune.
func (s *splitter) peek(delta int) rune {
	p := s.pos + delta
	if p < 0 || p >= len(s.text)-1 {
		return 0
	}

	return s.text[p]
}

func (s *splitter) commit() {
	s.chunks = append(s.chunks, string(s.current))
	s.current = nil
	s.splitPos = nil
}

// isSpaceOrNewline treats the end of the text as a break.
func isSpaceOrNewline(r rune) bool {
	return r == 0 || r == ' ' || r == '\n'
}

func isRepeatedEnder(r rune) bool {
	return r == 0 || strings.ContainsRune(repeatedEnders, r)
}

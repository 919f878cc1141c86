// Package chunk splits long reply text into pieces that fit in a single
// Slack message. Splits land on line boundaries, and a fenced code block
// cut by a split is closed at the end of one chunk and reopened with its
// original fence line at the start of the next, so every chunk renders
// on its own.
package chunk

import (
	"strings"
	"unicode/utf8"
)

// DefaultMaxSize is the ceiling for a single plain-text Slack message.
// Slack truncates text around 4000 characters, so fallback delivery
// splits anything longer.
const DefaultMaxSize = 4000

// SplitMarkdown splits text into chunks of at most maxSize bytes. A
// maxSize of zero or less uses DefaultMaxSize.
func SplitMarkdown(text string, maxSize int) []string {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if text == "" {
		return nil
	}
	if len(text) <= maxSize {
		return []string{text}
	}

	s := &splitter{maxSize: maxSize}
	for _, line := range strings.Split(text, "\n") {
		for _, piece := range s.fit(line) {
			s.appendLine(piece)
		}
	}
	s.flush()
	return s.chunks
}

// splitter accumulates lines into the current chunk and tracks whether
// the cursor sits inside a fenced code block.
type splitter struct {
	maxSize int
	chunks  []string
	current strings.Builder

	fence    string // active fence marker (``` or ~~~), empty outside blocks
	openLine string // full opening fence line, replayed after a split
}

// fit returns line unchanged when it can ever fit in a chunk, or hard
// pieces cut at rune boundaries when it cannot. Inside a code block the
// budget also reserves room for the reopened fence line and the closing
// fence.
func (s *splitter) fit(line string) []string {
	budget := s.maxSize
	if s.fence != "" {
		budget -= len(s.openLine) + len(s.fence) + 2
	}
	if budget < 1 {
		budget = 1
	}
	if len(line) <= budget {
		return []string{line}
	}

	var pieces []string
	for len(line) > budget {
		cut := budget
		for cut > 0 && !utf8.RuneStart(line[cut]) {
			cut--
		}
		if cut == 0 {
			cut = budget
		}
		pieces = append(pieces, line[:cut])
		line = line[cut:]
	}
	return append(pieces, line)
}

func (s *splitter) appendLine(line string) {
	needed := len(line)
	if s.current.Len() > 0 {
		needed++
	}
	if s.current.Len() > 0 && s.current.Len()+needed > s.limit() {
		s.split()
	}
	if s.current.Len() > 0 {
		s.current.WriteByte('\n')
	}
	s.current.WriteString(line)
	s.trackFence(line)
}

// limit is the usable chunk size: inside a code block, space is held
// back for the closing fence a split would have to add.
func (s *splitter) limit() int {
	if s.fence != "" {
		return s.maxSize - len(s.fence) - 1
	}
	return s.maxSize
}

// split finishes the current chunk and starts the next one. A split
// inside a code block closes the fence first and reopens the block in
// the new chunk.
func (s *splitter) split() {
	if s.fence != "" {
		s.current.WriteByte('\n')
		s.current.WriteString(s.fence)
		open := s.openLine
		s.flush()
		s.current.WriteString(open)
		return
	}
	s.flush()
}

func (s *splitter) flush() {
	chunk := strings.TrimSpace(s.current.String())
	s.current.Reset()
	if chunk != "" {
		s.chunks = append(s.chunks, chunk)
	}
}

func (s *splitter) trackFence(line string) {
	trimmed := strings.TrimSpace(line)
	if s.fence == "" {
		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			s.fence = trimmed[:3]
			s.openLine = line
		}
		return
	}
	if strings.HasPrefix(trimmed, s.fence) {
		s.fence = ""
		s.openLine = ""
	}
}

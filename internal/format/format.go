// Package format renders Discord markdown.
package format

import (
	"strings"
	"unicode/utf8"
)

// MaxMessageLength is the longest message Discord accepts.
const MaxMessageLength = 2000

const (
	fence        = "```"
	fenceEscaped = "´´´"
)

// CodeBlock wraps text in a multi-line code block. Inner fences are replaced
// so they cannot close the block early.
func CodeBlock(text string) string {
	return fence + "\n" + strings.ReplaceAll(text, fence, fenceEscaped) + "\n" + fence
}

// Code wraps text in an inline code span.
func Code(text string) string {
	return "`" + strings.ReplaceAll(text, "`", "´") + "`"
}

func Italic(text string) string {
	return "*" + strings.ReplaceAll(text, "*", `\*`) + "*"
}

func Bold(text string) string {
	return "**" + strings.ReplaceAll(text, "**", `\*\*`) + "**"
}

// Chunk splits text into pieces of at most limit bytes, preferring line breaks.
// A single line longer than limit is cut at a rune boundary.
func Chunk(text string, limit int) []string {
	if limit <= 0 || len(text) <= limit {
		return []string{text}
	}

	var (
		chunks []string
		cur    strings.Builder
	)
	flush := func() {
		if cur.Len() > 0 {
			chunks = append(chunks, cur.String())
			cur.Reset()
		}
	}

	for _, line := range strings.SplitAfter(text, "\n") {
		for len(line) > limit {
			flush()
			cut := limit
			for cut > 0 && !utf8.RuneStart(line[cut]) {
				cut--
			}
			if cut == 0 {
				cut = limit
			}
			chunks = append(chunks, line[:cut])
			line = line[cut:]
		}
		if cur.Len()+len(line) > limit {
			flush()
		}
		cur.WriteString(line)
	}
	flush()
	return chunks
}

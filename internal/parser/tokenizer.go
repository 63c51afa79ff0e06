// Package parser turns message text into a command token and bound arguments.
package parser

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/keshon/salabot/internal/platform"
)

// Tokenize drops the first character (the prefix), trims the rest and splits it
// on whitespace. Double quotes group words and are removed; "" yields an empty
// token and an unterminated quote runs to the end of the text.
func Tokenize(content string) []string {
	_, size := utf8.DecodeRuneInString(content)
	rest := strings.TrimSpace(content[size:])

	var (
		tokens []string
		cur    strings.Builder
		inWord bool
		quoted bool
	)
	flush := func() {
		if inWord {
			tokens = append(tokens, cur.String())
		}
		cur.Reset()
		inWord = false
	}

	for _, r := range rest {
		switch {
		case r == '"':
			quoted = !quoted
			inWord = true
		case unicode.IsSpace(r) && !quoted:
			flush()
		default:
			cur.WriteRune(r)
			inWord = true
		}
	}
	flush()
	return tokens
}

// IsAddressed reports whether msg is a command for the bot: it starts with the
// prefix and was not written by a bot, the bot itself included.
func IsAddressed(msg *platform.Message, self platform.User, prefix string) bool {
	if msg.Author.ID == self.ID || msg.Author.Bot {
		return false
	}
	first, _ := utf8.DecodeRuneInString(msg.Content)
	want, _ := utf8.DecodeRuneInString(prefix)
	return first != utf8.RuneError && first == want
}

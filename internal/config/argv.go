package config

import (
	"fmt"
	"strings"
	"unicode"
)

// FilePlaceholder marks where a player command expects the clip path.
// Commands without it get the path appended.
const FilePlaceholder = "{file}"

// tokenizer splits a command line the way a POSIX shell would for the
// subset that matters here: quotes, backslash escapes and blanks.
type tokenizer struct {
	words   []string
	word    strings.Builder
	inWord  bool
	quote   rune
	escaped bool
}

func (t *tokenizer) feed(r rune) {
	switch {
	case t.escaped:
		t.escaped = false
		t.add(r)
	case r == '\\' && t.quote != '\'':
		t.escaped = true
		t.inWord = true
	case t.quote != 0 && r == t.quote:
		t.quote = 0
	case t.quote != 0:
		t.add(r)
	case r == '\'' || r == '"':
		t.quote = r
		t.inWord = true
	case unicode.IsSpace(r):
		t.end()
	default:
		t.add(r)
	}
}

func (t *tokenizer) add(r rune) {
	t.word.WriteRune(r)
	t.inWord = true
}

func (t *tokenizer) end() {
	if !t.inWord {
		return
	}
	t.words = append(t.words, t.word.String())
	t.word.Reset()
	t.inWord = false
}

func parseArgv(input string) ([]string, error) {
	input = strings.TrimSpace(input)
	if input == "" || strings.HasPrefix(input, "#") {
		return nil, nil
	}

	var t tokenizer
	for _, r := range input {
		t.feed(r)
	}
	switch {
	case t.escaped:
		return nil, fmt.Errorf("unterminated escape sequence in command: %q", input)
	case t.quote != 0:
		return nil, fmt.Errorf("unterminated quote in command: %q", input)
	}
	t.end()

	if n := strings.Count(strings.Join(t.words, "\x00"), FilePlaceholder); n > 1 {
		return nil, fmt.Errorf("command uses %s %d times: %q", FilePlaceholder, n, input)
	}
	return t.words, nil
}

package suggest

import (
	"fmt"
	"strings"
	"unicode"
)

// TokenizerKind selects how display values and queries are split into tokens.
type TokenizerKind int

const (
	// Whitespace splits on runs of whitespace.
	Whitespace TokenizerKind = iota
	// NonWord splits on runs of anything that is not a letter or a digit,
	// so "foo-bar_baz" yields three tokens.
	NonWord
)

func (k TokenizerKind) String() string {
	switch k {
	case Whitespace:
		return "whitespace"
	case NonWord:
		return "nonword"
	default:
		return fmt.Sprintf("TokenizerKind(%d)", int(k))
	}
}

// ParseTokenizerKind maps a config value onto a TokenizerKind.
func ParseTokenizerKind(s string) (TokenizerKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "whitespace":
		return Whitespace, nil
	case "nonword", "non-word", "non_word":
		return NonWord, nil
	}
	return Whitespace, fmt.Errorf("unknown tokenizer %q", s)
}

// Tokenize splits s according to kind and lower-cases every token.
// Empty tokens are never returned.
func Tokenize(kind TokenizerKind, s string) []string {
	var fields []string
	switch kind {
	case NonWord:
		fields = strings.FieldsFunc(s, isNonWord)
	default:
		fields = strings.Fields(s)
	}
	for i, f := range fields {
		fields[i] = strings.ToLower(f)
	}
	return fields
}

func isNonWord(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

// uniqueTokens drops repeated tokens and tokens that are a prefix of another
// token in the list; neither changes the result of a conjunctive prefix query.
func uniqueTokens(tokens []string) []string {
	out := make([]string, 0, len(tokens))
	for i, t := range tokens {
		redundant := false
		for j, o := range tokens {
			if i == j {
				continue
			}
			if o == t && j < i {
				redundant = true
				break
			}
			if o != t && strings.HasPrefix(o, t) {
				redundant = true
				break
			}
		}
		if !redundant {
			out = append(out, t)
		}
	}
	return out
}

// Package token converts raw text into a classified token sequence.
//
// Every character of the input belongs to exactly one token, so joining the
// token texts back together reproduces the input byte for byte. Word tokens
// additionally carry a dense 1-based position index, which is the stable
// identity annotations are keyed by across runs: re-tokenizing the same text
// always yields the same positions.
package token

import (
	"strings"
	"unicode"
)

// Kind classifies a token.
type Kind int

const (
	Word Kind = iota
	Whitespace
	Newline
	Punctuation
)

func (k Kind) String() string {
	switch k {
	case Word:
		return "word"
	case Whitespace:
		return "whitespace"
	case Newline:
		return "newline"
	default:
		return "punctuation"
	}
}

// Token is one maximal run of same-class characters.
type Token struct {
	Text string
	Kind Kind

	// WordPos is the 1-based word position; zero for non-word tokens.
	WordPos int
	// Lower is the lowercased text of word tokens; empty otherwise.
	Lower string
}

// IsWord reports whether the token carries a word position.
func (t Token) IsWord() bool { return t.Kind == Word }

// isWordRune: unicode letters plus the apostrophe variants that occur inside
// contractions ("don't", "l’acqua").
func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || r == '\'' || r == '’'
}

func classify(r rune) Kind {
	switch {
	case isWordRune(r):
		return Word
	case r == '\n':
		return Newline
	case unicode.IsSpace(r):
		return Whitespace
	default:
		return Punctuation
	}
}

// Tokenize splits text into classified tokens and returns them together with
// the total word count. The tokens cover the input exactly: no character is
// dropped, duplicated, or reordered.
func Tokenize(text string) ([]Token, int) {
	if text == "" {
		return nil, 0
	}

	var tokens []Token
	var current strings.Builder
	currentKind := Kind(-1)
	words := 0

	flush := func() {
		if current.Len() == 0 {
			return
		}
		tok := Token{Text: current.String(), Kind: currentKind}
		if currentKind == Word {
			words++
			tok.WordPos = words
			tok.Lower = strings.ToLower(tok.Text)
		}
		tokens = append(tokens, tok)
		current.Reset()
	}

	for _, r := range text {
		k := classify(r)
		if k != currentKind {
			flush()
			currentKind = k
		}
		current.WriteRune(r)
	}
	flush()

	return tokens, words
}

// Join reassembles the original text covered by tokens[from:to+1].
// Indices are clamped to the valid range.
func Join(tokens []Token, from, to int) string {
	if from < 0 {
		from = 0
	}
	if to >= len(tokens) {
		to = len(tokens) - 1
	}
	var b strings.Builder
	for i := from; i <= to; i++ {
		b.WriteString(tokens[i].Text)
	}
	return b.String()
}

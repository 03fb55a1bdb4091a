package token

import (
	"strings"
	"testing"
)

func TestTokenizeRoundTrip(t *testing.T) {
	inputs := []string{
		"Hello, world! Hello again.",
		"line one\nline two\n\nparagraph",
		"  leading spaces\tand tabs ",
		"l’acqua don't it's",
		"多言語 text — mixed; punctuation...",
		"",
		"!!!",
		"\n\n\n",
	}

	for _, in := range inputs {
		tokens, _ := Tokenize(in)
		var b strings.Builder
		for _, tok := range tokens {
			b.WriteString(tok.Text)
		}
		if b.String() != in {
			t.Errorf("round trip failed for %q: got %q", in, b.String())
		}
	}
}

func TestTokenizeWordPositions(t *testing.T) {
	tokens, total := Tokenize("Hello, world! Hello again.")
	if total != 4 {
		t.Fatalf("expected 4 words, got %d", total)
	}

	want := map[int]string{1: "Hello", 2: "world", 3: "Hello", 4: "again"}
	next := 1
	for _, tok := range tokens {
		if !tok.IsWord() {
			if tok.WordPos != 0 {
				t.Errorf("non-word token %q has position %d", tok.Text, tok.WordPos)
			}
			continue
		}
		if tok.WordPos != next {
			t.Errorf("word %q: position %d, expected %d", tok.Text, tok.WordPos, next)
		}
		if want[tok.WordPos] != tok.Text {
			t.Errorf("position %d: got %q, want %q", tok.WordPos, tok.Text, want[tok.WordPos])
		}
		next++
	}
	if next-1 != total {
		t.Errorf("assigned %d positions, count says %d", next-1, total)
	}
}

func TestTokenizeClassification(t *testing.T) {
	cases := []struct {
		text string
		want []Kind
	}{
		{"word", []Kind{Word}},
		{"a b", []Kind{Word, Whitespace, Word}},
		{"a\nb", []Kind{Word, Newline, Word}},
		{"a \n b", []Kind{Word, Whitespace, Newline, Whitespace, Word}},
		{"a.b", []Kind{Word, Punctuation, Word}},
		{"end...", []Kind{Word, Punctuation}},
		{"don't", []Kind{Word}},
		{"l’uomo", []Kind{Word}},
		{"\n\nx", []Kind{Newline, Word}},
	}

	for _, tc := range cases {
		tokens, _ := Tokenize(tc.text)
		if len(tokens) != len(tc.want) {
			t.Errorf("%q: got %d tokens, want %d", tc.text, len(tokens), len(tc.want))
			continue
		}
		for i, tok := range tokens {
			if tok.Kind != tc.want[i] {
				t.Errorf("%q token %d (%q): kind %v, want %v", tc.text, i, tok.Text, tok.Kind, tc.want[i])
			}
		}
	}
}

func TestTokenizeLowercase(t *testing.T) {
	tokens, _ := Tokenize("HeLLo World")
	if tokens[0].Lower != "hello" || tokens[2].Lower != "world" {
		t.Errorf("lowercase forms wrong: %q %q", tokens[0].Lower, tokens[2].Lower)
	}
}

func TestTokenizeDeterminism(t *testing.T) {
	text := "Same text, tokenized twice.\nMust agree."
	a, na := Tokenize(text)
	b, nb := Tokenize(text)
	if na != nb || len(a) != len(b) {
		t.Fatalf("tokenizations differ in shape")
	}
	for i := range a {
		if a[i] != b[i] {
			t.Errorf("token %d differs: %+v vs %+v", i, a[i], b[i])
		}
	}
}

func TestJoin(t *testing.T) {
	text := "Hello, world! Bye."
	tokens, _ := Tokenize(text)
	if got := Join(tokens, 0, len(tokens)-1); got != text {
		t.Errorf("full join: got %q", got)
	}
	if got := Join(tokens, -5, len(tokens)+5); got != text {
		t.Errorf("clamped join: got %q", got)
	}
}

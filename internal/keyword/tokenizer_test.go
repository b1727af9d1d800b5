package keyword

import (
	"testing"
)

func newTestTokenizer(t *testing.T) *Tokenizer {
	t.Helper()
	tok, err := NewTokenizer()
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func contains(tokens []string, want string) bool {
	for _, tok := range tokens {
		if tok == want {
			return true
		}
	}
	return false
}

func TestTokenizer_Chinese(t *testing.T) {
	tok := newTestTokenizer(t)
	tokens := tok.Tokenize("价格与供求关系")
	for _, want := range []string{"价格", "供求", "关系"} {
		if !contains(tokens, want) {
			t.Errorf("tokens %v missing %q", tokens, want)
		}
	}
}

func TestTokenizer_MixedAndPunctuation(t *testing.T) {
	tok := newTestTokenizer(t)
	tokens := tok.Tokenize("Supply, Demand！供求。")
	if !contains(tokens, "supply") || !contains(tokens, "demand") {
		t.Errorf("english words should be lower-cased: %v", tokens)
	}
	for _, tk := range tokens {
		if isPunct(tk) {
			t.Errorf("punctuation token %q kept", tk)
		}
	}
}

func TestTokenizer_Empty(t *testing.T) {
	tok := newTestTokenizer(t)
	if got := tok.Tokenize("   "); len(got) != 0 {
		t.Errorf("blank input produced %v", got)
	}
}

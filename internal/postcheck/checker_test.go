package postcheck

import "testing"

func TestContentHash(t *testing.T) {
	h1 := ContentHash("Реклама: лучший сервис в TON")
	h2 := ContentHash("Реклама: лучший сервис в TON")
	if h1 != h2 {
		t.Error("same text produced different hashes")
	}
	if h1 == ContentHash("Реклама: другой текст") {
		t.Error("different texts produced the same hash")
	}
	if len(h1) != 64 {
		t.Errorf("hash length = %d, want 64 hex chars", len(h1))
	}
}

func TestContentHashNormalizesWhitespace(t *testing.T) {
	base := ContentHash("hello world")
	variants := []string{
		"hello  world",
		"  hello world  ",
		"hello\nworld",
		"hello\t world",
	}
	for _, v := range variants {
		if ContentHash(v) != base {
			t.Errorf("ContentHash(%q) differs from normalized base", v)
		}
	}
	if ContentHash("helloworld") == base {
		t.Error("word boundary collapsed entirely")
	}
}

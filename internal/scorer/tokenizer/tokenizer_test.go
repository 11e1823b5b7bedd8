package tokenizer

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestUnitsWords(t *testing.T) {
	tok, err := New(Config{Scheme: SchemeWords, Preprocess: `[^(\w|\s)]`})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "lowercases and splits",
			text: "The Cat Sat",
			want: []string{"the", "cat", "sat"},
		},
		{
			name: "strips punctuation",
			text: "Hello, world! It's fine.",
			want: []string{"hello", "world", "its", "fine"},
		},
		{
			name: "collapses whitespace",
			text: "  one\ttwo\nthree  ",
			want: []string{"one", "two", "three"},
		},
		{
			name: "empty text",
			text: "",
			want: []string{},
		},
		{
			name: "punctuation only",
			text: "?!...;;",
			want: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tok.Units(tt.text)
			if len(got) == 0 && len(tt.want) == 0 {
				return
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Units(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestUnitsWordLimit(t *testing.T) {
	tok, err := New(Config{Scheme: SchemeWords, WordLimit: 3})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	got := tok.Units("one two three four five")
	want := []string{"one", "two", "three"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Units = %v, want %v", got, want)
	}

	// A limit larger than the sequence keeps everything.
	got = tok.Units("one two")
	if len(got) != 2 {
		t.Errorf("short input truncated: %v", got)
	}
}

func TestUnitsNoPreprocess(t *testing.T) {
	tok, err := New(Config{Scheme: SchemeWords})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got := tok.Units("keep, punctuation!")
	want := []string{"keep,", "punctuation!"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Units = %v, want %v", got, want)
	}
}

func TestUnitsStripEverything(t *testing.T) {
	tok, err := New(Config{Scheme: SchemeWords, Preprocess: `.`})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := tok.Units("anything at all"); len(got) != 0 {
		t.Errorf("expected no units, got %v", got)
	}
}

func TestUnitsTokensScheme(t *testing.T) {
	tok, err := New(Config{Scheme: SchemeTokens, Preprocess: `[^(\w|\s)]`})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	units := tok.Units("the people of the world")
	if len(units) == 0 {
		t.Fatal("expected units from tokens scheme")
	}
	for _, u := range units {
		if u == "" || strings.Contains(u, " ") {
			t.Errorf("unit %q is not a single word piece", u)
		}
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	if _, err := New(Config{Preprocess: `[`}); err == nil {
		t.Error("expected error for invalid preprocess pattern")
	}
	if _, err := New(Config{Scheme: "bytes"}); err == nil {
		t.Error("expected error for unknown scheme")
	}
}

func TestEncoderRoundTrip(t *testing.T) {
	enc, err := LoadEncoder("")
	if err != nil {
		t.Fatalf("LoadEncoder: %v", err)
	}
	if enc.Size() == 0 {
		t.Fatal("embedded vocabulary is empty")
	}

	// Printable ASCII is fully covered, so decode(encode(x)) == x.
	for _, text := range []string{
		"the cat sat on the mat",
		"Scoring 42 completions!",
		"a",
		"",
	} {
		ids := enc.Encode(text)
		if got := enc.Decode(ids); got != text {
			t.Errorf("Decode(Encode(%q)) = %q", text, got)
		}
	}
}

func TestEncoderSkipsUnknownBytes(t *testing.T) {
	enc, err := LoadEncoder("")
	if err != nil {
		t.Fatalf("LoadEncoder: %v", err)
	}
	ids := enc.Encode("café")
	if got := enc.Decode(ids); got != "caf" {
		t.Errorf("Decode = %q, want %q", got, "caf")
	}
}

func TestLoadEncoderValidation(t *testing.T) {
	dir := t.TempDir()

	write := func(name, content string) string {
		t.Helper()
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("writing %s: %v", name, err)
		}
		return path
	}

	tests := []struct {
		name    string
		content string
	}{
		{"not json", `{tokens`},
		{"empty vocab", `{"tokens": []}`},
		{"multi-word entry", `{"tokens": ["a", "of the"]}`},
		{"duplicate entry", `{"tokens": ["a", "a"]}`},
		{"empty entry", `{"tokens": ["a", ""]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := write(strings.ReplaceAll(tt.name, " ", "_")+".json", tt.content)
			if _, err := LoadEncoder(path); err == nil {
				t.Errorf("expected error for %s", tt.name)
			}
		})
	}

	if _, err := LoadEncoder(filepath.Join(dir, "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
}

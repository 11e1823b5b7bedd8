package benchmark

import (
	"strings"
	"testing"

	"github.com/phrasewatch/phrasewatch/internal/scorer/ngram"
	"github.com/phrasewatch/phrasewatch/internal/scorer/tokenizer"
)

var sampleTexts = map[string]string{
	"short": "The quick brown fox jumps over the lazy dog",
	"medium": `Reward models are vulnerable to repetitive phrasing because the same
        high scoring sentence fragments keep reappearing across completions. A
        frequency store over recent output catches those fragments before they
        dominate training. Exact counting works for bounded windows while lossy
        counting keeps memory flat over unbounded streams of generated text.`,
	"long": strings.Repeat(`Language models under reinforcement learning drift toward
        phrases that scored well in the past, and the drift compounds as each
        training batch reinforces the previous one. Detecting the drift requires
        counting n-gram frequencies across completions and scoring each phrase
        by how far its repetition exceeds what independent sampling would
        produce. Sub-word tokenization catches templated fragments that word
        splitting misses, while fuzzy matching catches paraphrases that exact
        lookup misses. `, 20),
}

func newWordTokenizer(b *testing.B) *tokenizer.Tokenizer {
	b.Helper()
	tok, err := tokenizer.New(tokenizer.Config{Scheme: "words"})
	if err != nil {
		b.Fatalf("creating tokenizer: %v", err)
	}
	return tok
}

func newSubwordTokenizer(b *testing.B) *tokenizer.Tokenizer {
	b.Helper()
	tok, err := tokenizer.New(tokenizer.Config{Scheme: "tokens"})
	if err != nil {
		b.Fatalf("creating tokenizer: %v", err)
	}
	return tok
}

func BenchmarkUnitsWords(b *testing.B) {
	tok := newWordTokenizer(b)
	for name, text := range sampleTexts {
		b.Run(name, func(b *testing.B) {
			b.ReportAllocs()
			b.SetBytes(int64(len(text)))
			for i := 0; i < b.N; i++ {
				units := tok.Units(text)
				_ = units
			}
		})
	}
}

func BenchmarkUnitsSubword(b *testing.B) {
	tok := newSubwordTokenizer(b)
	for name, text := range sampleTexts {
		b.Run(name, func(b *testing.B) {
			b.ReportAllocs()
			b.SetBytes(int64(len(text)))
			for i := 0; i < b.N; i++ {
				units := tok.Units(text)
				_ = units
			}
		})
	}
}

func BenchmarkUnitsParallel(b *testing.B) {
	tok := newWordTokenizer(b)
	text := sampleTexts["medium"]
	b.ReportAllocs()
	b.SetBytes(int64(len(text)))
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			units := tok.Units(text)
			_ = units
		}
	})
}

func BenchmarkExtractNgrams(b *testing.B) {
	tok := newWordTokenizer(b)
	units := tok.Units(sampleTexts["long"])
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		grams := ngram.Extract(units, 5, 14)
		_ = grams
	}
}

// Package tokenizer reduces completion text to the unit sequences the
// scoring engines track. Two schemes are supported: lowercase whitespace
// words, and the surface forms of fixed-vocabulary sub-word tokens.
package tokenizer

import (
	"fmt"
	"regexp"
	"strings"
)

// Unit schemes accepted by New.
const (
	SchemeWords  = "words"
	SchemeTokens = "tokens"
)

// Config controls how text is reduced to units.
type Config struct {
	Scheme     string // SchemeWords (default) or SchemeTokens
	Preprocess string // regexp of characters stripped before splitting; "" disables
	WordLimit  int    // maximum units kept; 0 disables
	VocabPath  string // tokens scheme: vocabulary file; "" uses the embedded one
}

// Tokenizer reduces raw text to a bounded unit sequence. It is safe for
// concurrent use.
type Tokenizer struct {
	strip     *regexp.Regexp
	wordLimit int
	scheme    string
	encoder   *Encoder
}

// New builds a Tokenizer from cfg. The preprocess pattern is compiled once;
// the tokens scheme loads its vocabulary eagerly so a bad vocab file fails
// at startup rather than on the scoring path.
func New(cfg Config) (*Tokenizer, error) {
	t := &Tokenizer{
		wordLimit: cfg.WordLimit,
		scheme:    cfg.Scheme,
	}
	if t.scheme == "" {
		t.scheme = SchemeWords
	}
	if t.scheme != SchemeWords && t.scheme != SchemeTokens {
		return nil, fmt.Errorf("unknown unit scheme %q", cfg.Scheme)
	}
	if cfg.Preprocess != "" {
		re, err := regexp.Compile(cfg.Preprocess)
		if err != nil {
			return nil, fmt.Errorf("compiling preprocess pattern %q: %w", cfg.Preprocess, err)
		}
		t.strip = re
	}
	if t.scheme == SchemeTokens {
		enc, err := LoadEncoder(cfg.VocabPath)
		if err != nil {
			return nil, err
		}
		t.encoder = enc
	}
	return t, nil
}

// Scheme returns the active unit scheme.
func (t *Tokenizer) Scheme() string {
	return t.scheme
}

// Units reduces text to its unit sequence. Any input produces a well-defined
// (possibly empty) result; Units never fails.
func (t *Tokenizer) Units(text string) []string {
	if t.strip != nil {
		text = t.strip.ReplaceAllString(text, "")
	}

	var units []string
	if t.scheme == SchemeTokens {
		units = t.tokenUnits(text)
	} else {
		units = strings.Fields(strings.ToLower(text))
	}

	if t.wordLimit > 0 && len(units) > t.wordLimit {
		units = units[:t.wordLimit]
	}
	return units
}

// tokenUnits encodes text into token ids and returns each id's surface form.
// Whitespace-only tokens carry no matchable text and are dropped, so every
// unit is a single space-free word piece.
func (t *Tokenizer) tokenUnits(text string) []string {
	ids := t.encoder.Encode(text)
	units := make([]string, 0, len(ids))
	for _, id := range ids {
		surface := strings.TrimSpace(t.encoder.TokenString(id))
		if surface == "" {
			continue
		}
		units = append(units, surface)
	}
	return units
}

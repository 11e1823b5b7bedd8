package tokenizer

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

//go:embed vocab.json
var embeddedVocab []byte

type vocabFile struct {
	Tokens []string `json:"tokens"`
}

// Encoder maps text to token ids over a fixed vocabulary and back. The
// vocabulary is a flat list of token strings; a token's id is its index.
// Entries may carry one leading space (word-boundary variants) but are never
// multi-word, so every decoded surface form is a single word piece.
type Encoder struct {
	tokens []string
	ids    map[string]int
	maxLen int
}

// LoadEncoder reads a vocabulary from path, or the embedded vocabulary when
// path is empty.
func LoadEncoder(path string) (*Encoder, error) {
	data := embeddedVocab
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading vocabulary %s: %w", path, err)
		}
		data = b
	}

	var vf vocabFile
	if err := json.Unmarshal(data, &vf); err != nil {
		return nil, fmt.Errorf("parsing vocabulary: %w", err)
	}
	if len(vf.Tokens) == 0 {
		return nil, fmt.Errorf("vocabulary is empty")
	}

	enc := &Encoder{
		tokens: vf.Tokens,
		ids:    make(map[string]int, len(vf.Tokens)),
	}
	for id, tok := range vf.Tokens {
		if tok == "" {
			return nil, fmt.Errorf("vocabulary entry %d is empty", id)
		}
		if strings.Contains(tok[1:], " ") {
			return nil, fmt.Errorf("vocabulary entry %d (%q) is multi-word", id, tok)
		}
		if _, dup := enc.ids[tok]; dup {
			return nil, fmt.Errorf("vocabulary entry %d (%q) is a duplicate", id, tok)
		}
		enc.ids[tok] = id
		if len(tok) > enc.maxLen {
			enc.maxLen = len(tok)
		}
	}
	return enc, nil
}

// Size returns the vocabulary size.
func (e *Encoder) Size() int {
	return len(e.tokens)
}

// Encode maps text to token ids by greedy longest match. Bytes with no
// vocabulary entry (the vocabulary covers printable ASCII) are skipped, so
// Encode is total over arbitrary input.
func (e *Encoder) Encode(text string) []int {
	ids := make([]int, 0, len(text)/4)
	for i := 0; i < len(text); {
		limit := min(e.maxLen, len(text)-i)
		matched := 0
		for l := limit; l >= 1; l-- {
			if id, ok := e.ids[text[i:i+l]]; ok {
				ids = append(ids, id)
				matched = l
				break
			}
		}
		if matched == 0 {
			i++
			continue
		}
		i += matched
	}
	return ids
}

// Decode concatenates the surface forms of ids. Unknown ids are skipped.
func (e *Encoder) Decode(ids []int) string {
	var b strings.Builder
	for _, id := range ids {
		b.WriteString(e.TokenString(id))
	}
	return b.String()
}

// TokenString returns the surface form of a token id, or "" when the id is
// outside the vocabulary.
func (e *Encoder) TokenString(id int) string {
	if id < 0 || id >= len(e.tokens) {
		return ""
	}
	return e.tokens[id]
}

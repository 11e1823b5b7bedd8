package ngram

import (
	"reflect"
	"testing"
)

func TestExtract(t *testing.T) {
	units := []string{"the", "cat", "sat"}

	tests := []struct {
		name       string
		units      []string
		nMin, nMax int
		want       []string
	}{
		{
			name:  "bigrams",
			units: units,
			nMin:  2, nMax: 2,
			want: []string{"the cat", "cat sat"},
		},
		{
			name:  "range of lengths shortest first",
			units: units,
			nMin:  1, nMax: 3,
			want: []string{
				"the", "cat", "sat",
				"the cat", "cat sat",
				"the cat sat",
			},
		},
		{
			name:  "sequence shorter than nMin",
			units: []string{"one", "two"},
			nMin:  3, nMax: 5,
			want: nil,
		},
		{
			name:  "nMax clipped to sequence length",
			units: []string{"a", "b"},
			nMin:  2, nMax: 10,
			want: []string{"a b"},
		},
		{
			name:  "nMin below one treated as one",
			units: []string{"x"},
			nMin:  0, nMax: 1,
			want: []string{"x"},
		},
		{
			name:  "inverted range",
			units: units,
			nMin:  3, nMax: 2,
			want:  nil,
		},
		{
			name:  "empty units",
			units: nil,
			nMin:  1, nMax: 3,
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Extract(tt.units, tt.nMin, tt.nMax)
			if len(got) == 0 && len(tt.want) == 0 {
				return
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Extract(%v, %d, %d) = %v, want %v", tt.units, tt.nMin, tt.nMax, got, tt.want)
			}
		})
	}
}

func TestExtractCountPerLength(t *testing.T) {
	units := make([]string, 10)
	for i := range units {
		units[i] = string(rune('a' + i))
	}

	// One length n contributes len(units)-n+1 n-grams.
	for n := 1; n <= len(units); n++ {
		got := Extract(units, n, n)
		if want := len(units) - n + 1; len(got) != want {
			t.Errorf("length %d: got %d n-grams, want %d", n, len(got), want)
		}
	}
}

func TestUnitLen(t *testing.T) {
	tests := []struct {
		phrase string
		want   int
	}{
		{"", 0},
		{"one", 1},
		{"one two", 2},
		{"a b c d", 4},
	}
	for _, tt := range tests {
		if got := UnitLen(tt.phrase); got != tt.want {
			t.Errorf("UnitLen(%q) = %d, want %d", tt.phrase, got, tt.want)
		}
	}
}

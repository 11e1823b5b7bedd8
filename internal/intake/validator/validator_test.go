package validator

import (
	"errors"
	"strings"
	"testing"

	"github.com/phrasewatch/phrasewatch/internal/intake"
)

func TestValidateBatchRequest(t *testing.T) {
	limits := Limits{MaxCompletions: 4, MaxCompletionBytes: 32}

	tests := []struct {
		name      string
		req       intake.BatchRequest
		wantField string
	}{
		{
			name: "valid",
			req:  intake.BatchRequest{ProducerID: "miner-1", Model: "default", Completions: []string{"a completion"}},
		},
		{
			name:      "missing producer",
			req:       intake.BatchRequest{Completions: []string{"x"}},
			wantField: "producer_id",
		},
		{
			name:      "blank producer",
			req:       intake.BatchRequest{ProducerID: "   ", Completions: []string{"x"}},
			wantField: "producer_id",
		},
		{
			name:      "no completions",
			req:       intake.BatchRequest{ProducerID: "miner-1"},
			wantField: "completions",
		},
		{
			name:      "too many completions",
			req:       intake.BatchRequest{ProducerID: "miner-1", Completions: []string{"a", "b", "c", "d", "e"}},
			wantField: "completions",
		},
		{
			name:      "oversized completion",
			req:       intake.BatchRequest{ProducerID: "miner-1", Completions: []string{strings.Repeat("x", 33)}},
			wantField: "completions",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateBatchRequest(&tt.req, limits)
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("err = %v, want ValidationError", err)
			}
			if _, ok := ve.Fields[tt.wantField]; !ok {
				t.Errorf("fields = %v, want %s", ve.Fields, tt.wantField)
			}
		})
	}
}

func TestValidateBatchRequestNoLimits(t *testing.T) {
	req := intake.BatchRequest{
		ProducerID:  "miner-1",
		Completions: make([]string, 1000),
	}
	if err := ValidateBatchRequest(&req, Limits{}); err != nil {
		t.Errorf("zero limits rejected batch: %v", err)
	}
}

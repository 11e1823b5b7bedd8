// Package validator checks completion-batch submissions before they are
// persisted, returning per-field error details for the caller.
package validator

import (
	"fmt"
	"strings"

	"github.com/phrasewatch/phrasewatch/internal/intake"
)

const maxProducerIDLength = 255

// Limits bound what a single batch may carry.
type Limits struct {
	MaxCompletions     int
	MaxCompletionBytes int
}

// ValidationError holds per-field validation failure messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	var parts []string
	for field, msg := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s:%s", field, msg))
	}
	return strings.Join(parts, "; ")
}

// ValidateBatchRequest checks field presence and size limits. Empty
// completion strings are allowed (the engine scores them zero); missing
// required fields and oversized payloads are not.
func ValidateBatchRequest(req *intake.BatchRequest, limits Limits) error {
	errs := make(map[string]string)

	if strings.TrimSpace(req.ProducerID) == "" {
		errs["producer_id"] = "producer_id is required"
	} else if len(req.ProducerID) > maxProducerIDLength {
		errs["producer_id"] = fmt.Sprintf("producer_id must be at most %d characters", maxProducerIDLength)
	}

	if len(req.Completions) == 0 {
		errs["completions"] = "at least one completion is required"
	} else if limits.MaxCompletions > 0 && len(req.Completions) > limits.MaxCompletions {
		errs["completions"] = fmt.Sprintf("at most %d completions per batch", limits.MaxCompletions)
	}

	if limits.MaxCompletionBytes > 0 {
		for i, c := range req.Completions {
			if len(c) > limits.MaxCompletionBytes {
				errs["completions"] = fmt.Sprintf("completion %d exceeds %d bytes", i, limits.MaxCompletionBytes)
				break
			}
		}
	}

	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}

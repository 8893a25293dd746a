package types

import (
	"fmt"
	"strings"
)

// Confidence is the classifier's confidence in an extracted theme
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// IsValid checks if the confidence value is valid
func (c Confidence) IsValid() bool {
	switch c {
	case ConfidenceHigh, ConfidenceMedium, ConfidenceLow:
		return true
	}
	return false
}

// ExtractedTheme is the classifier's output for one support conversation.
// It is owned by the caller and consumed once per match call; the engine
// never mutates it and never persists it standalone.
type ExtractedTheme struct {
	// Signature is the free-text issue category assigned by the classifier
	Signature string `json:"signature"`

	// Intent is the customer's inferred goal, if the classifier produced one
	Intent string `json:"intent,omitempty"`

	// Symptoms are observable problem phrases, in the order the classifier emitted them
	Symptoms []string `json:"symptoms,omitempty"`

	// ProductArea and Component locate the issue in the product taxonomy
	ProductArea string `json:"product_area,omitempty"`
	Component   string `json:"component,omitempty"`

	// Excerpt is a representative quote, already truncated by the caller
	Excerpt string `json:"excerpt,omitempty"`
}

// Validate checks if the theme has valid field values
func (t *ExtractedTheme) Validate() error {
	if strings.TrimSpace(t.Signature) == "" {
		return &ValidationError{Field: "signature", Reason: "is required"}
	}
	if len(t.Signature) > 500 {
		return &ValidationError{Field: "signature", Reason: fmt.Sprintf("must be 500 characters or less (got %d)", len(t.Signature))}
	}
	for i, s := range t.Symptoms {
		if strings.TrimSpace(s) == "" {
			return &ValidationError{Field: "symptoms", Reason: fmt.Sprintf("entry %d is blank", i)}
		}
	}
	return nil
}

// ValidationError indicates malformed input that never reached the store
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

// Package llm adapts the hosted language models that write the radio show.
// It builds the prompts for each generation stage, asks a Provider for text or
// schema-constrained JSON, and validates what comes back.
package llm

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrInvalidConfig = errors.New("invalid LLM configuration")
	ErrEmptyResponse = errors.New("empty LLM response")
)

// Request is one generation call
type Request struct {
	// Prompt is the full user prompt
	Prompt string

	// Schema, when set, asks the provider for JSON matching it
	Schema *Schema

	// SchemaName identifies the schema to providers that need a name
	SchemaName string
}

// Provider is a hosted model. Implementations must be safe for concurrent use.
type Provider interface {
	// Generate returns the raw text of the model answer
	Generate(ctx context.Context, req Request) (string, error)

	// Name identifies the provider in logs
	Name() string
}

// ServiceError is returned by every Service operation that fails
type ServiceError struct {
	Op  string
	Msg string
	Err error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("llm %s: %s: %v", e.Op, e.Msg, e.Err)
	}
	return fmt.Sprintf("llm %s: %s", e.Op, e.Msg)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// Config holds provider options
type Config struct {
	Provider    string
	Model       string
	APIKey      string
	BaseURL     string
	Temperature float64
}

// Package errors provides the standardized error taxonomy of the answer pipeline.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	// Non-fatal, degraded outcomes.
	ErrCodeExtractionDegraded ErrorCode = "EXTRACTION_DEGRADED"
	ErrCodeNoEvidence         ErrorCode = "NO_EVIDENCE"

	// Provider failures.
	ErrCodeProviderTransient ErrorCode = "PROVIDER_TRANSIENT"
	ErrCodeProviderFatal     ErrorCode = "PROVIDER_FATAL"
	ErrCodeEmbeddingFailed   ErrorCode = "EMBEDDING_FAILED"
	ErrCodeLLMTimeout        ErrorCode = "LLM_TIMEOUT"

	// Evidence store failures.
	ErrCodeStoreUnavailable ErrorCode = "STORE_UNAVAILABLE"
	ErrCodeStoreTimeout     ErrorCode = "STORE_TIMEOUT"

	// Defects caught defensively.
	ErrCodeInvariantViolation ErrorCode = "CITATION_INVARIANT_VIOLATION"

	// Load-bearing path failures that end the turn.
	ErrCodeComposeFailed ErrorCode = "COMPOSE_FAILED"
)

// StandardError represents a structured application error. Cause carries the
// underlying error so errors.Is still matches package sentinels through it.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Cause     error                  `json:"-"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

func (e *StandardError) Unwrap() error {
	return e.Cause
}

// ==========================
// 2. Error Constructors
// ==========================

// NewProviderTransientError creates a retryable provider error (timeouts,
// rate limits). Retried with bounded backoff at the owning stage.
func NewProviderTransientError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeProviderTransient,
		Message:   "Transient model provider failure",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		Cause:     err,
	}
}

// NewProviderFatalError creates a non-retryable provider error (quota, auth,
// outage). Escalates the turn to Failed.
func NewProviderFatalError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeProviderFatal,
		Message:   "Model provider unavailable",
		Details:   err.Error(),
		Retryable: false,
		Timestamp: time.Now().UTC(),
		Cause:     err,
	}
}

// NewStoreUnavailableError creates a non-retryable evidence store error.
func NewStoreUnavailableError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeStoreUnavailable,
		Message:   "Evidence store unreachable",
		Details:   err.Error(),
		Retryable: false,
		Timestamp: time.Now().UTC(),
		Cause:     err,
	}
}

// NewStoreTimeoutError creates a retryable evidence store timeout. A slow
// store may still answer a later query variant within the turn.
func NewStoreTimeoutError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeStoreTimeout,
		Message:   "Evidence store query timed out",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		Cause:     err,
	}
}

// NewInvariantViolationError records a fact with no surviving citation. The
// offending fact is dropped, the turn continues.
func NewInvariantViolationError(factText string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvariantViolation,
		Message:   "Synthesized fact lost all citations",
		Details:   factText,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// ==========================
// 3. Classification Helpers
// ==========================

// IsRetryable reports whether the error should be retried with backoff by the
// owning stage instead of failing the turn.
func IsRetryable(err error) bool {
	var std *StandardError
	if errors.As(err, &std) {
		return std.Retryable
	}
	return false
}

// CodeOf extracts the taxonomy code, or empty when err is not a StandardError.
func CodeOf(err error) ErrorCode {
	var std *StandardError
	if errors.As(err, &std) {
		return std.Code
	}
	return ""
}

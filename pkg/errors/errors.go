// Copyright 2026 © The Ergon Authors
// SPDX-License-Identifier: Apache-2.0

// Package errors provides typed errors with rich context for Ergon.
//
// Every component that can fail returns an *ErgonError carrying an ErrorCode,
// so hosts can branch on the failure class without string matching.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
)

// ErrorCode classifies Ergon errors for monitoring and recovery.
type ErrorCode string

const (
	// CodeInternal indicates an internal system error.
	CodeInternal ErrorCode = "INTERNAL_ERROR"

	// CodeInvalidInput indicates the input was invalid.
	CodeInvalidInput ErrorCode = "INVALID_INPUT"

	// CodeContextLost indicates the caller context ended mid-operation.
	CodeContextLost ErrorCode = "CONTEXT_LOST"

	// CodeTimeout indicates an operation exceeded its time limit.
	CodeTimeout ErrorCode = "TIMEOUT"

	// CodeNotFound indicates a resource was not found.
	CodeNotFound ErrorCode = "NOT_FOUND"

	// CodeLLMError indicates a model provider error.
	CodeLLMError ErrorCode = "LLM_ERROR"

	// CodeUnknownCapability indicates a dispatch to an unregistered capability.
	CodeUnknownCapability ErrorCode = "UNKNOWN_CAPABILITY"

	// CodeAgentNotFound indicates a delegation to an unregistered agent id.
	CodeAgentNotFound ErrorCode = "AGENT_NOT_FOUND"

	// CodeEntryPointMissing indicates synthesized source has no usable entry point.
	CodeEntryPointMissing ErrorCode = "ENTRY_POINT_MISSING"

	// CodeLoadError indicates synthesized source failed to load or evaluate.
	CodeLoadError ErrorCode = "LOAD_ERROR"

	// CodeCommandBlocked indicates a shell command matched the deny-list.
	CodeCommandBlocked ErrorCode = "COMMAND_BLOCKED"

	// CodeProcessSpawn indicates the OS failed to start a child process.
	CodeProcessSpawn ErrorCode = "PROCESS_SPAWN_ERROR"

	// CodeRetryExhausted indicates the retry loop hit its bound without success.
	CodeRetryExhausted ErrorCode = "RETRY_EXHAUSTED"

	// CodeRemediationUnparseable indicates the model gave no decipherable decision.
	CodeRemediationUnparseable ErrorCode = "REMEDIATION_UNPARSEABLE"
)

// ErgonError is a typed error with rich context for observability.
// It implements the error interface and can be unwrapped with errors.As().
type ErgonError struct {
	Code        ErrorCode
	Message     string
	Err         error
	Context     map[string]interface{}
	Attributes  map[string]string
	Recoverable bool
	StatusCode  int // HTTP-style status for hosts
}

// Error implements the error interface.
func (e *ErgonError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements errors.Unwrap for error chain traversal.
func (e *ErgonError) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *ErgonError with the same code.
// This makes errors.Is(err, errors.New(CodeAgentNotFound, "", nil)) work.
func (e *ErgonError) Is(target error) bool {
	t, ok := target.(*ErgonError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// MarshalJSON implements json.Marshaler for structured logging.
func (e *ErgonError) MarshalJSON() ([]byte, error) {
	out := struct {
		Code        string                 `json:"code"`
		Message     string                 `json:"message"`
		Err         string                 `json:"error,omitempty"`
		Context     map[string]interface{} `json:"context,omitempty"`
		Attributes  map[string]string      `json:"attributes,omitempty"`
		Recoverable bool                   `json:"recoverable"`
		StatusCode  int                    `json:"status_code"`
	}{
		Code:        string(e.Code),
		Message:     e.Message,
		Context:     e.Context,
		Attributes:  e.Attributes,
		Recoverable: e.Recoverable,
		StatusCode:  e.StatusCode,
	}
	if e.Err != nil {
		out.Err = e.Err.Error()
	}
	return json.Marshal(out)
}

// New creates a new ErgonError with the given code, message, and cause.
func New(code ErrorCode, msg string, cause error) *ErgonError {
	return &ErgonError{
		Code:       code,
		Message:    msg,
		Err:        cause,
		Context:    make(map[string]interface{}),
		Attributes: make(map[string]string),
		StatusCode: codeToStatusCode(code),
	}
}

// Newf creates an ErgonError without cause using a format string.
func Newf(code ErrorCode, format string, args ...interface{}) *ErgonError {
	return New(code, fmt.Sprintf(format, args...), nil)
}

// WithContext adds a key-value pair to the error context.
// Returns the error for method chaining.
func (e *ErgonError) WithContext(key string, value interface{}) *ErgonError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithAttribute adds a string attribute for OTEL traces.
// Returns the error for method chaining.
func (e *ErgonError) WithAttribute(key, value string) *ErgonError {
	if e.Attributes == nil {
		e.Attributes = make(map[string]string)
	}
	e.Attributes[key] = value
	return e
}

// WithRecoverable sets whether the error can be recovered from.
// Returns the error for method chaining.
func (e *ErgonError) WithRecoverable(recoverable bool) *ErgonError {
	e.Recoverable = recoverable
	return e
}

// RecoverableString returns "true" or "false" as a string for observability.
func (e *ErgonError) RecoverableString() string {
	if e.Recoverable {
		return "true"
	}
	return "false"
}

// AsErgonError returns the first *ErgonError in err's chain.
// Errors of other types are wrapped as CodeInternal.
func AsErgonError(err error) *ErgonError {
	if err == nil {
		return nil
	}
	var ee *ErgonError
	if stderrors.As(err, &ee) {
		return ee
	}
	return New(CodeInternal, "wrapped error", err)
}

// CodeOf returns the code of the first *ErgonError in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var ee *ErgonError
	if stderrors.As(err, &ee) {
		return ee.Code
	}
	return ""
}

// HasCode reports whether any *ErgonError in err's chain carries code.
// Joined errors are searched too.
func HasCode(err error, code ErrorCode) bool {
	if err == nil {
		return false
	}
	return stderrors.Is(err, &ErgonError{Code: code})
}

// codeToStatusCode maps error codes to HTTP-style status codes.
func codeToStatusCode(code ErrorCode) int {
	switch code {
	case CodeNotFound, CodeUnknownCapability, CodeAgentNotFound:
		return 404
	case CodeInvalidInput, CodeEntryPointMissing, CodeLoadError:
		return 400
	case CodeCommandBlocked:
		return 403
	case CodeTimeout:
		return 408
	case CodeRemediationUnparseable, CodeLLMError:
		return 502
	case CodeRetryExhausted:
		return 422
	default:
		return 500
	}
}

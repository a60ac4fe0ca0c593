package errors

import (
	"fmt"
	"runtime"
	"time"
)

// AppError is the standardized error shape used across the pipeline.
type AppError struct {
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	Component  string                 `json:"component"`
	Operation  string                 `json:"operation"`
	Cause      error                  `json:"cause,omitempty"`
	StackTrace string                 `json:"stack_trace,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
	Severity   Severity               `json:"severity"`
}

// Severity levels for errors.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// Error codes, one per kind named in the pipeline's error taxonomy.
const (
	CodeFetchTransient   = "FETCH_TRANSIENT"   // timeout, connection refused, 5xx
	CodeFetchPermanent   = "FETCH_PERMANENT"   // 4xx other than rate-limit
	CodeParseError       = "PARSE_ERROR"       // single malformed record, batch continues
	CodeSinkWriteFailed  = "SINK_WRITE_FAILED" // snapshot/report write failure
	CodeHistoryWriteFail = "HISTORY_WRITE_FAILED"
	CodeStartupFailure   = "STARTUP_FAILURE" // fatal, non-zero exit
	CodeConfigInvalid    = "CONFIG_INVALID"
)

// New creates a new standardized error with medium severity.
func New(code, component, operation, message string) *AppError {
	_, file, line, _ := runtime.Caller(1)

	return &AppError{
		Code:       code,
		Message:    message,
		Component:  component,
		Operation:  operation,
		StackTrace: fmt.Sprintf("%s:%d", file, line),
		Metadata:   make(map[string]interface{}),
		Timestamp:  time.Now(),
		Severity:   SeverityMedium,
	}
}

// NewCritical creates a critical error.
func NewCritical(code, component, operation, message string) *AppError {
	err := New(code, component, operation, message)
	err.Severity = SeverityCritical
	return err
}

// NewWithSeverity creates an error with a specific severity.
func NewWithSeverity(severity Severity, code, component, operation, message string) *AppError {
	err := New(code, component, operation, message)
	err.Severity = severity
	return err
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %s: %v", e.Component, e.Operation, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s: %s", e.Component, e.Operation, e.Code, e.Message)
}

// Unwrap makes AppError compatible with errors.Is/errors.As.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Wrap attaches a cause to the error.
func (e *AppError) Wrap(cause error) *AppError {
	e.Cause = cause
	return e
}

// WithMetadata attaches a structured-logging field to the error.
func (e *AppError) WithMetadata(key string, value interface{}) *AppError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// WithSeverity overrides the severity level.
func (e *AppError) WithSeverity(severity Severity) *AppError {
	e.Severity = severity
	return e
}

func (e *AppError) IsCritical() bool {
	return e.Severity == SeverityCritical
}

// ToMap converts the error into fields suitable for logrus.WithFields.
func (e *AppError) ToMap() map[string]interface{} {
	result := map[string]interface{}{
		"error_code":      e.Code,
		"error_message":   e.Message,
		"error_component": e.Component,
		"error_operation": e.Operation,
		"error_severity":  string(e.Severity),
		"error_timestamp": e.Timestamp,
	}

	if e.Cause != nil {
		result["error_cause"] = e.Cause.Error()
	}

	for k, v := range e.Metadata {
		result[fmt.Sprintf("error_meta_%s", k)] = v
	}

	return result
}

// FetchTransient creates a transient fetch error (§7): counted, logged,
// recovered at the next cycle. Does not advance the sync watermark.
func FetchTransient(source string, cause error) *AppError {
	return New(CodeFetchTransient, "adapter", "fetch", "transient fetch error").
		WithMetadata("source", source).Wrap(cause)
}

// FetchPermanent creates a permanent fetch error (4xx other than rate-limit).
func FetchPermanent(source string, cause error) *AppError {
	return New(CodeFetchPermanent, "adapter", "fetch", "permanent fetch error").
		WithMetadata("source", source).Wrap(cause)
}

// ParseError creates a single-record parse error; the batch continues.
func ParseError(source string, cause error) *AppError {
	return New(CodeParseError, "adapter", "parse", "record parse error").
		WithMetadata("source", source).Wrap(cause)
}

// SinkWriteFailed creates a sink-write error; the cycle continues.
func SinkWriteFailed(sink string, cause error) *AppError {
	return New(CodeSinkWriteFailed, "sink", "write", "sink write failure").
		WithMetadata("sink", sink).Wrap(cause)
}

// HistoryWriteFailed creates a history-append persistence error; retried next cycle.
func HistoryWriteFailed(source string, cause error) *AppError {
	return New(CodeHistoryWriteFail, "quality", "persist_history", "history store write failure").
		WithMetadata("source", source).Wrap(cause)
}

// StartupFailure creates a fatal startup error (unwritable data dir, invalid config).
func StartupFailure(operation string, cause error) *AppError {
	return NewCritical(CodeStartupFailure, "startup", operation, "fatal startup error").Wrap(cause)
}

// ConfigError creates a configuration validation error.
func ConfigError(operation, message string) *AppError {
	return New(CodeConfigInvalid, "config", operation, message)
}

// AsAppError converts an error to *AppError if possible.
func AsAppError(err error) (*AppError, bool) {
	appErr, ok := err.(*AppError)
	return appErr, ok
}

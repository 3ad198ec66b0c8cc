// Package errors provides standardized error handling for GeoPatch.
// It defines the error classes used across the data model, the
// serialization engine and the workflow executor, together with
// sentinel error variables and classification helpers for consistent
// wrapping and checking.
package errors

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of errors for handling purposes
type ErrorClass int

const (
	// ErrorValidation represents errors due to invalid feature data,
	// names, bounding boxes or timestamps. Always fatal at the offending call.
	ErrorValidation ErrorClass = iota
	// ErrorNotFound represents missing features, keys or files
	ErrorNotFound
	// ErrorIO represents filesystem and storage backend failures
	ErrorIO
	// ErrorOverwrite represents save-time collisions with existing data
	ErrorOverwrite
)

// String returns the string representation of ErrorClass
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorValidation:
		return "validation"
	case ErrorNotFound:
		return "not_found"
	case ErrorIO:
		return "io"
	case ErrorOverwrite:
		return "overwrite"
	default:
		return "unknown"
	}
}

// Standard error variables for common conditions
var (
	// Data model errors
	ErrInvalidFeatureName  = errors.New("invalid feature name")
	ErrInvalidFeatureData  = errors.New("invalid feature data")
	ErrInvalidBBox         = errors.New("invalid bounding box")
	ErrInvalidTimestamps   = errors.New("invalid timestamps")
	ErrFeatureNotFound     = errors.New("feature not found")
	ErrMismatchedBBox      = errors.New("bounding boxes of patches do not match")
	ErrMismatchedFeature   = errors.New("feature values of patches do not match")
	ErrInvalidFeatureType  = errors.New("feature type does not support this value")
	ErrMissingTimestampCol = errors.New("temporal vector feature is missing a timestamp column")

	// Storage errors
	ErrPathNotFound       = errors.New("path does not exist")
	ErrFileNotFound       = errors.New("file does not exist")
	ErrAmbiguousStorage   = errors.New("multiple stored variants of the same feature")
	ErrAddOnlyCollision   = errors.New("cannot overwrite existing file in ADD_ONLY mode")
	ErrFormatCollision    = errors.New("dense and chunked storage of the same feature collide")
	ErrDenseTemporalRead  = errors.New("partial temporal selection requires chunked storage")
	ErrTemporalSelection  = errors.New("invalid temporal selection")
	ErrMissingTimestamps  = errors.New("saved patch does not have timestamps")
	ErrCorruptedStore     = errors.New("stored data is corrupted")
	ErrUnsupportedVersion = errors.New("unsupported storage format version")

	// Workflow errors
	ErrCyclicWorkflow   = errors.New("workflow graph contains a cycle")
	ErrDuplicateNode    = errors.New("workflow contains duplicated nodes")
	ErrExecutionNames   = errors.New("execution names do not match executions")
	ErrInterrupted      = errors.New("execution interrupted")
	ErrUpstreamFailed   = errors.New("upstream node failed")
	ErrTemporalMismatch = errors.New("temporal dimension mismatch")
)

// ClassifiedError wraps an error with its classification
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Message   string
	Operation string
}

// Error implements the error interface
func (ce *ClassifiedError) Error() string {
	if ce.Message != "" {
		return ce.Message
	}
	return ce.Err.Error()
}

// Unwrap returns the underlying error
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// New creates a classified error wrapping err with a formatted message
func New(class ErrorClass, err error, format string, args ...any) error {
	return &ClassifiedError{
		Class:   class,
		Err:     err,
		Message: fmt.Sprintf(format, args...),
	}
}

// Validation creates a validation error wrapping err
func Validation(err error, format string, args ...any) error {
	return New(ErrorValidation, err, format, args...)
}

// NotFound creates a lookup error wrapping err
func NotFound(err error, format string, args ...any) error {
	return New(ErrorNotFound, err, format, args...)
}

// IO creates an IO error wrapping err
func IO(err error, format string, args ...any) error {
	return New(ErrorIO, err, format, args...)
}

// Overwrite creates an overwrite-conflict error wrapping err
func Overwrite(err error, format string, args ...any) error {
	return New(ErrorOverwrite, err, format, args...)
}

// classOf returns the class of a classified error, or false
func classOf(err error) (ErrorClass, bool) {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class, true
	}
	return 0, false
}

// IsValidation checks whether an error is a validation error
func IsValidation(err error) bool {
	if err == nil {
		return false
	}
	if class, ok := classOf(err); ok {
		return class == ErrorValidation
	}
	return errors.Is(err, ErrInvalidFeatureName) ||
		errors.Is(err, ErrInvalidFeatureData) ||
		errors.Is(err, ErrInvalidBBox) ||
		errors.Is(err, ErrInvalidTimestamps) ||
		errors.Is(err, ErrInvalidFeatureType) ||
		errors.Is(err, ErrTemporalSelection) ||
		errors.Is(err, ErrMissingTimestampCol)
}

// IsNotFound checks whether an error is a lookup error
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	if class, ok := classOf(err); ok {
		return class == ErrorNotFound
	}
	return errors.Is(err, ErrFeatureNotFound) ||
		errors.Is(err, ErrPathNotFound) ||
		errors.Is(err, ErrFileNotFound)
}

// IsIO checks whether an error is an IO error
func IsIO(err error) bool {
	if err == nil {
		return false
	}
	if class, ok := classOf(err); ok {
		return class == ErrorIO
	}
	return errors.Is(err, ErrPathNotFound) ||
		errors.Is(err, ErrFileNotFound) ||
		errors.Is(err, ErrCorruptedStore) ||
		errors.Is(err, ErrDenseTemporalRead) ||
		errors.Is(err, ErrMissingTimestamps)
}

// IsOverwrite checks whether an error is an overwrite conflict
func IsOverwrite(err error) bool {
	if err == nil {
		return false
	}
	if class, ok := classOf(err); ok {
		return class == ErrorOverwrite
	}
	return errors.Is(err, ErrAddOnlyCollision) ||
		errors.Is(err, ErrFormatCollision) ||
		errors.Is(err, ErrAmbiguousStorage)
}

// IsInterrupt checks whether an error aborts a whole executor run
// instead of being recorded per execution
func IsInterrupt(err error) bool {
	return err != nil && errors.Is(err, ErrInterrupted)
}

// Wrap adds operation context to an error, preserving its classification
func Wrap(err error, operation string) error {
	if err == nil {
		return nil
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return &ClassifiedError{
			Class:     ce.Class,
			Err:       err,
			Message:   fmt.Sprintf("%s: %s", operation, ce.Error()),
			Operation: operation,
		}
	}
	return fmt.Errorf("%s: %w", operation, err)
}

// Re-exported standard helpers so callers need a single errors import
var (
	Is   = errors.Is
	As   = errors.As
	Join = errors.Join
)

// Package errors provides the structured error type used by jsonsqlite.
// Every error carries a category, a code, a message and the chain of
// export/import stages it propagated through.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCategory classifies errors by kind.
type ErrorCategory string

const (
	ErrCategoryParse      ErrorCategory = "PARSE"
	ErrCategoryValidation ErrorCategory = "VALIDATION"
	ErrCategoryQuery      ErrorCategory = "QUERY"
	ErrCategoryState      ErrorCategory = "STATE"
	ErrCategorySentinel   ErrorCategory = "SENTINEL"
	ErrCategoryStorage    ErrorCategory = "STORAGE"
	ErrCategoryConfig     ErrorCategory = "CONFIG"
	ErrCategoryInternal   ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Parse codes
	CodeUnbalancedParentheses = "UNBALANCED_PARENTHESES"
	CodeUnexpectedToken       = "UNEXPECTED_TOKEN"
	CodeMalformedDDL          = "MALFORMED_DDL"

	// Validation codes
	CodeInvalidDocument = "INVALID_DOCUMENT"
	CodeInvalidTable    = "INVALID_TABLE"
	CodeInvalidColumn   = "INVALID_COLUMN"
	CodeInvalidIndex    = "INVALID_INDEX"
	CodeInvalidTrigger  = "INVALID_TRIGGER"
	CodeInvalidView     = "INVALID_VIEW"
	CodeInvalidMode     = "INVALID_MODE"
	CodeInvalidRow      = "INVALID_ROW"

	// Query codes
	CodeQueryFailed      = "QUERY_FAILED"
	CodeUnexpectedRow    = "UNEXPECTED_ROW"
	CodeUnsupportedValue = "UNSUPPORTED_VALUE"

	// State codes
	CodeMissingSyncDate  = "MISSING_SYNC_DATE"
	CodeTableMismatch    = "TABLE_MISMATCH"
	CodeConnectionClosed = "CONNECTION_CLOSED"
	CodeNoTables         = "NO_TABLES"
	CodeDatabaseNotOpen  = "DATABASE_NOT_OPEN"

	// Sentinel codes
	CodeImportFailed = "IMPORT_FAILED"

	// Storage codes
	CodeUploadFailed     = "UPLOAD_FAILED"
	CodeDownloadFailed   = "DOWNLOAD_FAILED"
	CodeObjectNotFound   = "OBJECT_NOT_FOUND"
	CodeChecksumMismatch = "CHECKSUM_MISMATCH"

	// Config codes
	CodeInvalidConfig = "INVALID_CONFIG"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// Error is the structured error type used throughout the system.
type Error struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool

	// Stages lists the enclosing operations, outermost first.
	Stages []string
}

// Error returns the stage chain followed by "[CATEGORY:CODE] message: cause".
func (e *Error) Error() string {
	var b strings.Builder
	for _, s := range e.Stages {
		b.WriteString(s)
		b.WriteString(": ")
	}
	fmt.Fprintf(&b, "[%s:%s] %s", e.Category, e.Code, e.Message)
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new Error.
func New(category ErrorCategory, code, message string) *Error {
	return &Error{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Newf creates a new Error with a formatted message.
func Newf(category ErrorCategory, code, format string, args ...interface{}) *Error {
	return New(category, code, fmt.Sprintf(format, args...))
}

// Wrap creates a new Error wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *Error {
	return &Error{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *Error) WithDetails(details map[string]interface{}) *Error {
	cp := *e
	cp.Details = details
	return &cp
}

// WithStage prefixes err with the name of the enclosing stage. Errors that
// are not an *Error are wrapped as INTERNAL first. A nil err stays nil.
func WithStage(err error, stage string) error {
	if err == nil {
		return nil
	}
	var e *Error
	if !errors.As(err, &e) {
		e = Wrap(ErrCategoryInternal, CodeUnexpected, "unexpected failure", err)
	}
	cp := *e
	cp.Stages = make([]string, 0, len(e.Stages)+1)
	cp.Stages = append(cp.Stages, stage)
	cp.Stages = append(cp.Stages, e.Stages...)
	return &cp
}

// Stages returns the stage chain of err, outermost first.
func Stages(err error) []string {
	var e *Error
	if errors.As(err, &e) {
		return append([]string(nil), e.Stages...)
	}
	return nil
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not an *Error.
func GetCategory(err error) ErrorCategory {
	var e *Error
	if errors.As(err, &e) {
		return e.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not an *Error.
func GetCode(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// isRetryable reports the codes worth retrying. Engine errors never are.
func isRetryable(category ErrorCategory, code string) bool {
	switch {
	case category == ErrCategoryStorage && code == CodeUploadFailed:
		return true
	case category == ErrCategoryStorage && code == CodeDownloadFailed:
		return true
	default:
		return false
	}
}

// Convenience constructors for common error types.

// NewParseError creates a parse error for malformed DDL.
func NewParseError(code, message string) *Error {
	return New(ErrCategoryParse, code, message)
}

// NewValidationError creates a validation error.
func NewValidationError(code, message string) *Error {
	return New(ErrCategoryValidation, code, message)
}

// NewQueryError creates a query error wrapping the driver failure.
func NewQueryError(code, message string, cause error) *Error {
	return Wrap(ErrCategoryQuery, code, message, cause)
}

// NewStateError creates a state error.
func NewStateError(code, message string) *Error {
	return New(ErrCategoryState, code, message)
}

// NewSentinelError creates the error reported when an import returns changes == -1.
func NewSentinelError(message string) *Error {
	return New(ErrCategorySentinel, CodeImportFailed, message)
}

// NewStorageError creates a storage error.
func NewStorageError(code, message string, cause error) *Error {
	return Wrap(ErrCategoryStorage, code, message, cause)
}

// IsParse reports whether err is a parse error.
func IsParse(err error) bool { return GetCategory(err) == ErrCategoryParse }

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool { return GetCategory(err) == ErrCategoryValidation }

// IsQuery reports whether err is a query error.
func IsQuery(err error) bool { return GetCategory(err) == ErrCategoryQuery }

// IsState reports whether err is a state error.
func IsState(err error) bool { return GetCategory(err) == ErrCategoryState }

// IsSentinel reports whether err is the import-failed sentinel.
func IsSentinel(err error) bool { return GetCategory(err) == ErrCategorySentinel }

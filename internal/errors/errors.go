// Package errors provides enhanced error types with helpful context and suggestions
package errors

import (
	"fmt"
	"strings"
)

// ErrorCode represents a unique error identifier
type ErrorCode string

const (
	// Answer pipeline errors
	ErrCodeRouting            ErrorCode = "ROUTING_FAILED"
	ErrCodeQueryGeneration    ErrorCode = "QUERY_GENERATION_FAILED"
	ErrCodeBackendUnavailable ErrorCode = "BACKEND_UNAVAILABLE"
	ErrCodeSafetyValidation   ErrorCode = "SAFETY_VALIDATION_FAILED"

	// Template catalog errors
	ErrCodeCatalogLoad      ErrorCode = "CATALOG_LOAD_FAILED"
	ErrCodeTemplateNotFound ErrorCode = "TEMPLATE_NOT_FOUND"
	ErrCodeParameterBinding ErrorCode = "PARAMETER_BINDING_FAILED"

	// Execution errors
	ErrCodeExecutionTimeout   ErrorCode = "EXECUTION_TIMEOUT"
	ErrCodeExecutionRejected  ErrorCode = "EXECUTION_REJECTED"
	ErrCodeExecutionSyntax    ErrorCode = "EXECUTION_SYNTAX_ERROR"
	ErrCodeDatabaseConnection ErrorCode = "DATABASE_CONNECTION_FAILED"
	ErrCodeDatabaseQuery      ErrorCode = "DATABASE_QUERY_FAILED"

	// Authentication errors
	ErrCodeNotAuthenticated ErrorCode = "NOT_AUTHENTICATED"
	ErrCodeRateLimited      ErrorCode = "RATE_LIMITED"

	// Input validation errors
	ErrCodeInvalidInput    ErrorCode = "INVALID_INPUT"
	ErrCodeMissingRequired ErrorCode = "MISSING_REQUIRED_FIELD"

	// Cache errors
	ErrCodeCacheRead  ErrorCode = "CACHE_READ_FAILED"
	ErrCodeCacheWrite ErrorCode = "CACHE_WRITE_FAILED"
)

// EnhancedError represents an error with additional context and helpful information
type EnhancedError struct {
	Code          ErrorCode              `json:"code"`
	Message       string                 `json:"message"`
	Details       string                 `json:"details,omitempty"`
	Suggestion    string                 `json:"suggestion,omitempty"`
	Documentation string                 `json:"documentation,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	Cause         error                  `json:"-"`
}

// Error implements the error interface
func (e *EnhancedError) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[%s] %s", e.Code, e.Message))
	if e.Details != "" {
		sb.WriteString(fmt.Sprintf(": %s", e.Details))
	}
	if e.Cause != nil {
		sb.WriteString(fmt.Sprintf(" (cause: %v)", e.Cause))
	}
	return sb.String()
}

// Unwrap returns the underlying error for error chain unwrapping
func (e *EnhancedError) Unwrap() error {
	return e.Cause
}

// UserMessage returns a user-friendly error message with suggestions
func (e *EnhancedError) UserMessage() string {
	var sb strings.Builder
	sb.WriteString(e.Message)

	if e.Details != "" {
		sb.WriteString(fmt.Sprintf("\n\nDetails: %s", e.Details))
	}

	if e.Suggestion != "" {
		sb.WriteString(fmt.Sprintf("\n\nSuggestion: %s", e.Suggestion))
	}

	if e.Documentation != "" {
		sb.WriteString(fmt.Sprintf("\n\nLearn more: %s", e.Documentation))
	}

	return sb.String()
}

// New creates a new EnhancedError
func New(code ErrorCode, message string) *EnhancedError {
	return &EnhancedError{
		Code:     code,
		Message:  message,
		Metadata: make(map[string]interface{}),
	}
}

// Wrap wraps an existing error with enhanced context
func Wrap(err error, code ErrorCode, message string) *EnhancedError {
	return &EnhancedError{
		Code:     code,
		Message:  message,
		Cause:    err,
		Metadata: make(map[string]interface{}),
	}
}

// WithDetails adds detailed information about the error
func (e *EnhancedError) WithDetails(details string) *EnhancedError {
	e.Details = details
	return e
}

// WithSuggestion adds a suggestion on how to fix the error
func (e *EnhancedError) WithSuggestion(suggestion string) *EnhancedError {
	e.Suggestion = suggestion
	return e
}

// WithMetadata adds additional metadata to the error
func (e *EnhancedError) WithMetadata(key string, value interface{}) *EnhancedError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// Common error constructors with pre-configured messages

// NewRoutingError creates an error for a failed template routing attempt
func NewRoutingError(err error, question string) *EnhancedError {
	return Wrap(err, ErrCodeRouting, "Failed to route question").
		WithDetails(fmt.Sprintf("Could not score templates for question: '%s'", question)).
		WithSuggestion("The question will be answered through query generation instead.")
}

// NewQueryGenerationError creates an error for SQL generation failures
func NewQueryGenerationError(err error) *EnhancedError {
	return Wrap(err, ErrCodeQueryGeneration, "Failed to generate SQL query").
		WithDetails("The AI was unable to convert your question into a query").
		WithSuggestion("Try simplifying your question or naming the period and category you are interested in.")
}

// NewBackendUnavailableError creates an error for an unreachable generation backend
func NewBackendUnavailableError(err error) *EnhancedError {
	return Wrap(err, ErrCodeBackendUnavailable, "Query generation is temporarily unavailable").
		WithDetails("Only questions covered by the template library can be answered right now").
		WithSuggestion("Ask about totals, categories, budgets or recent expenses, or try again in a moment.").
		WithMetadata("retryable", true)
}

// NewSafetyRejectionError creates an error for generated SQL that failed the safety policy
func NewSafetyRejectionError(reasons []string) *EnhancedError {
	return New(ErrCodeSafetyValidation, "Generated query was rejected by the safety policy").
		WithDetails(strings.Join(reasons, "; ")).
		WithSuggestion("Try rephrasing your question.").
		WithMetadata("reasons", reasons)
}

// NewCatalogLoadError creates an error for an invalid template catalog
func NewCatalogLoadError(err error, details string) *EnhancedError {
	return Wrap(err, ErrCodeCatalogLoad, "Failed to load template catalog").
		WithDetails(details)
}

// NewTemplateNotFoundError creates an error for an unknown template id
func NewTemplateNotFoundError(id string) *EnhancedError {
	return New(ErrCodeTemplateNotFound, "Template not found").
		WithDetails(fmt.Sprintf("No template registered with id: %s", id)).
		WithSuggestion("Use the /api/v1/templates endpoint to see all available templates.").
		WithMetadata("template_id", id)
}

// NewParameterBindingError creates an error for a template parameter that failed type checking
func NewParameterBindingError(templateID, param, reason string) *EnhancedError {
	return New(ErrCodeParameterBinding, "Invalid template parameter").
		WithDetails(fmt.Sprintf("Parameter '%s' of template '%s' is invalid: %s", param, templateID, reason)).
		WithMetadata("template_id", templateID).
		WithMetadata("parameter", param)
}

// NewExecutionTimeoutError creates an error for a statement that exceeded its timeout
func NewExecutionTimeoutError(err error, timeout string) *EnhancedError {
	return Wrap(err, ErrCodeExecutionTimeout, "Query took too long").
		WithDetails(fmt.Sprintf("The query exceeded the statement timeout of %s", timeout)).
		WithSuggestion("Narrow your question, for example to a shorter period or a single category.")
}

// NewNotAuthenticatedError creates an error for unauthenticated requests
func NewNotAuthenticatedError() *EnhancedError {
	return New(ErrCodeNotAuthenticated, "Authentication required").
		WithDetails("This endpoint requires authentication").
		WithSuggestion("Include a service token in the 'Authorization: Bearer' header, or a valid API key in the 'X-API-Key' header.")
}

// NewRateLimitedError creates an error for callers over their request budget
func NewRateLimitedError(limit int) *EnhancedError {
	return New(ErrCodeRateLimited, "Rate limit exceeded").
		WithDetails(fmt.Sprintf("At most %d questions per minute are allowed", limit)).
		WithSuggestion("Wait a moment before asking again.").
		WithMetadata("retryable", true)
}

// NewInvalidInputError creates an error for invalid input
func NewInvalidInputError(field string, reason string) *EnhancedError {
	return New(ErrCodeInvalidInput, "Invalid input").
		WithDetails(fmt.Sprintf("Field '%s' is invalid: %s", field, reason)).
		WithSuggestion("Please check the API documentation for the expected format and try again.")
}

// NewDatabaseConnectionError creates an error for database connection failures
func NewDatabaseConnectionError(err error) *EnhancedError {
	return Wrap(err, ErrCodeDatabaseConnection, "Database connection failed").
		WithDetails("Unable to connect to the database").
		WithSuggestion("This is an internal server error. The service may be experiencing issues. Please try again in a moment.").
		WithMetadata("retryable", true)
}

// NewDatabaseQueryError creates an error for database query failures
func NewDatabaseQueryError(err error, operation string) *EnhancedError {
	return Wrap(err, ErrCodeDatabaseQuery, "Database query failed").
		WithDetails(fmt.Sprintf("Failed to execute database operation: %s", operation)).
		WithSuggestion("This is an internal server error. If the problem persists, contact support.")
}

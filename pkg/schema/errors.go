package schema

import "fmt"

// Error codes for structured error reporting.
const (
	ErrCodeValidation      = "VALIDATION_ERROR"
	ErrCodeTemplate        = "TEMPLATE_ERROR"
	ErrCodeCondition       = "CONDITION_ERROR"
	ErrCodeUnknownStepType = "UNKNOWN_STEP_TYPE"
	ErrCodeProvider        = "PROVIDER_ERROR"
	ErrCodeTool            = "TOOL_ERROR"
	ErrCodeNotFound        = "NOT_FOUND"
	ErrCodeExecution       = "EXECUTION_ERROR"
	ErrCodeCancelled       = "CANCELLED"
	ErrCodeConflict        = "CONFLICT"
)

// LoomError is the structured error type for all loom operations.
type LoomError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	StepID  string         `json:"step_id,omitempty"`
	Cause   error          `json:"-"`
}

func (e *LoomError) Error() string {
	if e.StepID != "" {
		return fmt.Sprintf("[%s] step %s: %s", e.Code, e.StepID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *LoomError) Unwrap() error {
	return e.Cause
}

// NewError creates a new LoomError.
func NewError(code, message string) *LoomError {
	return &LoomError{Code: code, Message: message}
}

// NewErrorf creates a new LoomError with a formatted message.
func NewErrorf(code, format string, args ...any) *LoomError {
	return &LoomError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithStep attaches a step ID to the error.
func (e *LoomError) WithStep(stepID string) *LoomError {
	e.StepID = stepID
	return e
}

// WithCause attaches an underlying cause.
func (e *LoomError) WithCause(err error) *LoomError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *LoomError) WithDetails(details map[string]any) *LoomError {
	e.Details = details
	return e
}

// CodeOf returns the LoomError code of err, or EXECUTION_ERROR if err is not
// a LoomError. Used by surfaces that map errors to transport status.
func CodeOf(err error) string {
	if le, ok := err.(*LoomError); ok {
		return le.Code
	}
	return ErrCodeExecution
}

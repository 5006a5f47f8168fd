// Package apperrors provides unified error handling for the federation's
// core subsystems and HTTP transport.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unique error code.
type ErrorCode string

const (
	ErrCodeInvalidIdentifier ErrorCode = "POL_1001"
	ErrCodeNotApplicable     ErrorCode = "POL_1002"
	ErrCodeSignatureInvalid  ErrorCode = "POL_1003"
	ErrCodePolicyDenied      ErrorCode = "POL_1004"
	ErrCodeCyclicWorkflow    ErrorCode = "POL_1005"
	ErrCodeNoLegalPlan       ErrorCode = "POL_1006"

	ErrCodeNotFound      ErrorCode = "RES_2001"
	ErrCodeAlreadyExists ErrorCode = "RES_2002"
	ErrCodeConflict      ErrorCode = "RES_2003"

	ErrCodeInternal      ErrorCode = "SVC_3001"
	ErrCodeDatabaseError ErrorCode = "SVC_3002"
	ErrCodeTimeout       ErrorCode = "SVC_3003"
	ErrCodeUnavailable   ErrorCode = "SVC_3004"

	ErrCodeInvalidInput ErrorCode = "VAL_4001"
)

// ServiceError represents a structured error with a stable code, a
// human-readable message, an HTTP status and optional structured details.
type ServiceError struct {
	Code       ErrorCode              `json:"code"`
	Message    string                 `json:"message"`
	HTTPStatus int                    `json:"-"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Err        error                  `json:"-"`
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *ServiceError) Unwrap() error { return e.Err }

func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func New(code ErrorCode, message string, httpStatus int) *ServiceError {
	return &ServiceError{Code: code, Message: message, HTTPStatus: httpStatus}
}

func Wrap(code ErrorCode, message string, httpStatus int, err error) *ServiceError {
	return &ServiceError{Code: code, Message: message, HTTPStatus: httpStatus, Err: err}
}

// InvalidIdentifier reports a malformed Identifier string (§7).
func InvalidIdentifier(value, reason string) *ServiceError {
	return New(ErrCodeInvalidIdentifier, "invalid identifier", http.StatusBadRequest).
		WithDetails("value", value).
		WithDetails("reason", reason)
}

// NotApplicable reports an accessor invoked on a kind that does not carry
// that segment (e.g. namespace() on a result identifier).
func NotApplicable(value, accessor string) *ServiceError {
	return New(ErrCodeNotApplicable, "accessor not applicable to this identifier kind", http.StatusBadRequest).
		WithDetails("value", value).
		WithDetails("accessor", accessor)
}

// SignatureInvalid reports a rule or registry record whose signature does
// not verify; the containing replication update must be discarded whole (§4.3).
func SignatureInvalid(objectKind string) *ServiceError {
	return New(ErrCodeSignatureInvalid, "signature verification failed", http.StatusUnauthorized).
		WithDetails("object_kind", objectKind)
}

// PolicyDenied reports a may-access failure. Callers at the asset-store
// boundary MUST translate this into NotFound to avoid existence leakage (§6.4).
func PolicyDenied(assetID string) *ServiceError {
	return New(ErrCodePolicyDenied, "access denied by policy", http.StatusForbidden).
		WithDetails("asset_id", assetID)
}

// CyclicWorkflow reports a workflow whose step dependency graph is not a DAG.
func CyclicWorkflow(workflow string) *ServiceError {
	return New(ErrCodeCyclicWorkflow, "workflow contains a cycle", http.StatusBadRequest).
		WithDetails("workflow", workflow)
}

// NoLegalPlan reports that WorkflowPlanner.MakePlans found no legal assignment.
func NoLegalPlan(jobID string) *ServiceError {
	return New(ErrCodeNoLegalPlan, "no legal plan exists for this job", http.StatusUnprocessableEntity).
		WithDetails("job_id", jobID)
}

func NotFound(resource, id string) *ServiceError {
	return New(ErrCodeNotFound, "resource not found", http.StatusNotFound).
		WithDetails("resource", resource).
		WithDetails("id", id)
}

func AlreadyExists(resource, id string) *ServiceError {
	return New(ErrCodeAlreadyExists, "resource already exists", http.StatusConflict).
		WithDetails("resource", resource).
		WithDetails("id", id)
}

func Conflict(message string) *ServiceError {
	return New(ErrCodeConflict, message, http.StatusConflict)
}

func Internal(message string, err error) *ServiceError {
	return Wrap(ErrCodeInternal, message, http.StatusInternalServerError, err)
}

func DatabaseError(operation string, err error) *ServiceError {
	return Wrap(ErrCodeDatabaseError, "database operation failed", http.StatusInternalServerError, err).
		WithDetails("operation", operation)
}

func Timeout(operation string) *ServiceError {
	return New(ErrCodeTimeout, "operation timed out", http.StatusGatewayTimeout).
		WithDetails("operation", operation)
}

func Unavailable(service string, err error) *ServiceError {
	return Wrap(ErrCodeUnavailable, "upstream unavailable", http.StatusBadGateway, err).
		WithDetails("service", service)
}

func InvalidInput(field, reason string) *ServiceError {
	return New(ErrCodeInvalidInput, "invalid input", http.StatusBadRequest).
		WithDetails("field", field).
		WithDetails("reason", reason)
}

// IsServiceError reports whether err is, or wraps, a *ServiceError.
func IsServiceError(err error) bool {
	var serviceErr *ServiceError
	return errors.As(err, &serviceErr)
}

// GetServiceError extracts a *ServiceError from an error chain.
func GetServiceError(err error) *ServiceError {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr
	}
	return nil
}

// GetHTTPStatus returns the HTTP status code associated with err.
func GetHTTPStatus(err error) int {
	if serviceErr := GetServiceError(err); serviceErr != nil {
		return serviceErr.HTTPStatus
	}
	return http.StatusInternalServerError
}

// Is reports whether err's ServiceError has the given code, so callers can
// branch on error kind the way §7 describes (e.g. retry on NotFound).
func Is(err error, code ErrorCode) bool {
	se := GetServiceError(err)
	return se != nil && se.Code == code
}

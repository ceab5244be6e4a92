package errors

import (
	"fmt"
	"net/http"
)

// Common error creators for frequent use cases

// NewValidationError creates a validation error with field context
func NewValidationError(field, value, message string) *AppError {
	return New(ErrCodeValidationFailed, message).
		WithContext("field", field).
		WithContext("value", value).
		WithUserMessage(fmt.Sprintf("Invalid %s: %s", field, message))
}

// NewRequiredError reports missing request fields with the message the UI shows verbatim.
func NewRequiredError(message string) *AppError {
	return New(ErrCodeInvalidInput, message).WithUserMessage(message)
}

// NewDatabaseError creates a database error with operation context
func NewDatabaseError(operation string, err error) *AppError {
	return Wrap(err, ErrCodeDatabaseQuery, fmt.Sprintf("database %s failed", operation)).
		WithContext("operation", operation).
		WithUserMessage("Database operation failed")
}

// NewAPIError creates an API error for Session Provider calls
func NewAPIError(service, endpoint string, statusCode int, err error) *AppError {
	var code ErrorCode

	switch service {
	case "telegram":
		code = ErrCodeTelegramAPI
	default:
		code = ErrCodeInternalError
	}

	// Determine if error is retryable based on status code
	retryable := statusCode >= 500 || statusCode == 429 || statusCode == 408

	appErr := Wrap(err, code, fmt.Sprintf("%s API call failed", service)).
		WithContext("service", service).
		WithContext("endpoint", endpoint).
		WithContext("status_code", statusCode)

	if err != nil {
		appErr.UserMessage = err.Error()
	}
	if retryable {
		appErr.Retryable = true
	}

	return appErr
}

// NewTimeoutError creates a retryable timeout error with context
func NewTimeoutError(operation string, duration string, cause error) *AppError {
	appErr := Wrap(cause, ErrCodeTimeout, fmt.Sprintf("%s timed out after %s", operation, duration)).
		WithContext("operation", operation).
		WithContext("timeout", duration).
		WithUserMessage("Operation timed out, please try again")
	appErr.Retryable = true
	return appErr
}

// NewNotAuthorizedError reports an account whose session has no signed-in identity
func NewNotAuthorizedError(account string, cause error) *AppError {
	return Wrap(cause, ErrCodeNotAuthorized, "session is not authorized").
		WithContext("account", account).
		WithUserMessage("Not authorized")
}

// NewAuthChallengeError reports that sign-in needs the two-factor password
func NewAuthChallengeError(cause error) *AppError {
	return Wrap(cause, ErrCodeAuthChallenge, "two-factor password required").
		WithUserMessage("Two-factor password required")
}

// NewAuthError creates an authentication error
func NewAuthError(reason string) *AppError {
	return New(ErrCodeAuthentication, "authentication failed").
		WithContext("reason", reason).
		WithUserMessage("Authentication failed")
}

// NewNotFoundError creates a not found error with resource context
func NewNotFoundError(resource, identifier string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource)).
		WithContext("resource", resource).
		WithContext("identifier", identifier).
		WithUserMessage(fmt.Sprintf("%s not found", resource))
}

// HTTP helpers

// HTTPStatusCode maps error codes to appropriate HTTP status codes
func HTTPStatusCode(err error) int {
	code := GetCode(err)

	switch code {
	case ErrCodeValidationFailed, ErrCodeInvalidInput, ErrCodeInvalidConfig:
		return http.StatusBadRequest
	case ErrCodeNotAuthorized, ErrCodeAuthChallenge, ErrCodeAuthentication:
		return http.StatusUnauthorized
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeTimeout:
		// every timeout here is the session gateway not answering in time
		return http.StatusGatewayTimeout
	case ErrCodeTelegramAPI:
		// If it's retryable, it's a temporary upstream issue
		if IsRetryable(err) {
			return http.StatusBadGateway
		}
		// a 4xx from the gateway means the request itself was rejected
		if status := upstreamStatus(err); status >= 400 && status < 500 {
			return http.StatusBadRequest
		}
		return http.StatusInternalServerError
	case ErrCodeDatabaseConnection, ErrCodeDatabaseQuery, ErrCodeDatabaseMigration:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func upstreamStatus(err error) int {
	appErr, ok := AsAppError(err)
	if !ok {
		return 0
	}
	status, _ := appErr.Context["status_code"].(int)
	return status
}

// HTTPErrorResponse is the error body shared by every endpoint. Detail carries
// the user message in the field the operator UI reads.
type HTTPErrorResponse struct {
	Detail string `json:"detail"`
	Error  struct {
		Code    ErrorCode   `json:"code"`
		Message string      `json:"message"`
		Context interface{} `json:"context,omitempty"`
	} `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// ToHTTPResponse converts an error to a standardized HTTP response
func ToHTTPResponse(err error, requestID string) HTTPErrorResponse {
	response := HTTPErrorResponse{
		RequestID: requestID,
	}

	if appErr, ok := AsAppError(err); ok {
		response.Error.Code = appErr.Code
		response.Error.Message = GetUserMessage(err)
		if len(appErr.Context) > 0 {
			// Only include non-sensitive context in HTTP responses
			publicContext := make(map[string]interface{})
			for k, v := range appErr.Context {
				if k != "password" && k != "code" && k != "phone_code_hash" && k != "value" {
					publicContext[k] = v
				}
			}
			if len(publicContext) > 0 {
				response.Error.Context = publicContext
			}
		}
	} else {
		response.Error.Code = ErrCodeInternalError
		response.Error.Message = GetUserMessage(err)
	}
	response.Detail = response.Error.Message

	return response
}

package derivapi

import (
	"errors"
	"fmt"
)

const (
	CodeInvalidToken          = "InvalidToken"
	CodeDisabledClient        = "DisabledClient"
	CodeAuthorizationRequired = "AuthorizationRequired"
	CodeAlreadySubscribed     = "AlreadySubscribed"
	CodeRateLimit             = "RateLimit"
	CodeWrongResponse         = "WrongResponse"
	CodeCallError             = "CallError"
	CodeDisconnectError       = "DisconnectError"
)

// APIError is the error payload carried by a response.
type APIError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// AsAPIError unwraps err into an APIError when possible.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// IsInvalidToken reports whether err is a backend InvalidToken rejection.
func IsInvalidToken(err error) bool {
	apiErr, ok := AsAPIError(err)
	return ok && apiErr.Code == CodeInvalidToken
}

// IsSessionInvalidating reports whether a push error code voids the session.
func IsSessionInvalidating(code string) bool {
	switch code {
	case CodeInvalidToken, CodeDisabledClient, CodeAuthorizationRequired:
		return true
	default:
		return false
	}
}

// IsRetryable reports whether a request failing with code may be reissued.
func IsRetryable(code string) bool {
	switch code {
	case CodeRateLimit, CodeWrongResponse, CodeCallError, CodeDisconnectError:
		return true
	default:
		return false
	}
}

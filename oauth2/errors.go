package oauth2

// ErrorCode is an RFC 6749 style error code.
type ErrorCode string

const (
	ErrorInvalidRequest ErrorCode = "invalid_request"
	ErrorInvalidGrant   ErrorCode = "invalid_grant"
	ErrorUnauthorized   ErrorCode = "unauthorized"
	ErrorNotFound       ErrorCode = "not_found"
	ErrorRateLimited    ErrorCode = "rate_limited"
	ErrorServerError    ErrorCode = "server_error"
)

// ErrorResponse is the JSON body of every API error.
type ErrorResponse struct {
	Error            ErrorCode `json:"error"`
	ErrorDescription string    `json:"error_description,omitempty"`
}

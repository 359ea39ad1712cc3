package models

// Error codes carried in ErrorResponse.Error
const (
	ErrCodeInvalidDirection = "invalid_direction"
	ErrCodeNotAttached      = "not_attached"
	ErrCodeInvalidID        = "invalid_id"
	ErrCodeNotFound         = "not_found"
	ErrCodeStateError       = "state_error"
)

// ErrorResponse is the body of every failed API request
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	Code    int    `json:"code"`
}

// NewErrorResponse builds an error body for HTTP status code. The text of
// cause, if any, goes to Details.
func NewErrorResponse(code int, errCode, message string, cause error) *ErrorResponse {
	resp := &ErrorResponse{
		Error:   errCode,
		Message: message,
		Code:    code,
	}
	if cause != nil {
		resp.Details = cause.Error()
	}
	return resp
}

package errors

const (
	HttpInternalError       = "internal_error"
	HttpInvalidRequestError = "invalid_request"
	HttpNotFoundError       = "not_found"
	HttpSyncInProgressError = "sync_in_progress"
	HttpOAuthCallbackError  = "oauth_callback_error"
	HttpProviderError       = "provider_unavailable"
	HttpReauthRequiredError = "reauthorization_required"
)

// ErrorResponse is the error response body for API errors.
type ErrorResponse struct {
	ErrorType string      `json:"error_type"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
}

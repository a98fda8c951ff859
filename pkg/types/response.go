package types

// SuccessEnvelope wraps every successful response body. Data is null when a lookup
// legitimately finds nothing, e.g. a quote without invoice.
type SuccessEnvelope struct {
	Data any `json:"data"`
}

// APIError is the error body shared by the HTTP store and storeclient.
type APIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Details   any    `json:"details,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

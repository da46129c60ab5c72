package testutil

import (
	"net/http"
)

// WithRequestID sets the inbound request ID header read by the RequestID middleware.
func WithRequestID(req *http.Request, requestID string) *http.Request {
	req.Header.Set("X-Request-ID", requestID)
	return req
}

// WithBearer sets the Authorization header to a service token.
func WithBearer(req *http.Request, token string) *http.Request {
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

package testutil

import (
	"net/http"
	"time"

	"audiovault/pkg/requestcontext"
)

// WithCaller sets the verified caller the auth middleware would inject.
func WithCaller(req *http.Request, callerID string) *http.Request {
	return req.WithContext(requestcontext.WithCallerID(req.Context(), callerID))
}

// WithRequestMetadata sets the request id and request time.
func WithRequestMetadata(req *http.Request, requestID string, now time.Time) *http.Request {
	ctx := requestcontext.WithRequestID(req.Context(), requestID)
	ctx = requestcontext.WithTime(ctx, now)
	return req.WithContext(ctx)
}

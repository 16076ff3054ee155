// Package middleware captures unhandled panics from net/http handlers and
// reports them as HTTPException events.
package middleware

import (
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/groundfault/groundfault/client"
	"github.com/groundfault/groundfault/envelope"
)

// Recoverer wraps next: a panic in the handler is captured with the request
// context attached, and the client receives a 500. Telemetry failures never
// change the response.
func Recoverer(c *client.Client, logger *zap.Logger, next http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			err, ok := rec.(error)
			if !ok {
				err = fmt.Errorf("%v", rec)
			}
			var eventID string
			if c != nil {
				eventID, _ = c.CaptureException(r.Context(), err,
					WithRequest(r),
					client.WithEventType(envelope.TypeHTTPException),
				)
			}
			logger.Error("panic in http handler",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("event_id", eventID),
				zap.Any("panic", rec))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}()
		next.ServeHTTP(w, r)
	})
}

// WithRequest attaches request context (method, URL, remote address, selected
// headers) as capture extra.
func WithRequest(r *http.Request) client.CaptureOption {
	extra := map[string]any{
		"method":      r.Method,
		"url":         r.URL.String(),
		"remote_addr": r.RemoteAddr,
	}
	if ua := r.UserAgent(); ua != "" {
		extra["user_agent"] = ua
	}
	if ref := r.Referer(); ref != "" {
		extra["referer"] = ref
	}
	return client.WithExtra(extra)
}

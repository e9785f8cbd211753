package middleware

import (
	"fmt"
	"net/http"

	"github.com/getsentry/sentry-go"
	"github.com/go-chi/chi/v5"
)

// SentryMiddleware runs each request in a transaction on a cloned hub.
// Panics are reported and re-raised. Responses of 500 and above are captured
// as messages; a 502 is how a failing embedding provider surfaces. Without
// an initialised client it only forwards.
func SentryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub := sentry.GetHubFromContext(r.Context())
		if hub == nil {
			hub = sentry.CurrentHub().Clone()
		}

		options := []sentry.SpanOption{
			sentry.WithOpName("http.server"),
			sentry.WithTransactionSource(sentry.SourceURL),
		}
		if trace := r.Header.Get("sentry-trace"); trace != "" {
			options = append(options, sentry.ContinueFromHeaders(trace, r.Header.Get("baggage")))
		}

		transaction := sentry.StartTransaction(r.Context(), r.Method+" "+r.URL.Path, options...)
		defer transaction.Finish()

		r = r.WithContext(sentry.SetHubOnContext(transaction.Context(), hub))

		hub.Scope().SetRequest(r)
		if requestID := GetRequestID(r.Context()); requestID != "" {
			hub.Scope().SetTag("request_id", requestID)
			transaction.SetTag("request_id", requestID)
		}

		defer func() {
			if err := recover(); err != nil {
				transaction.Status = sentry.SpanStatusInternalError
				hub.RecoverWithContext(r.Context(), err)
				panic(err)
			}
		}()

		rec := recorderFor(w)
		next.ServeHTTP(rec, r)

		status := rec.Status()
		transaction.Status = httpStatusToSpanStatus(status)
		transaction.SetData("http.response.status_code", status)

		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				transaction.Name = r.Method + " " + pattern
				transaction.Source = sentry.SourceRoute
			}
			if id := rctx.URLParam("id"); id != "" {
				hub.Scope().SetTag("document_id", id)
			}
		}

		if status >= http.StatusInternalServerError {
			hub.CaptureMessage(fmt.Sprintf("%s: HTTP %d %s", transaction.Name, status, http.StatusText(status)))
		}
	})
}

// httpStatusToSpanStatus maps the statuses the API returns onto span statuses.
func httpStatusToSpanStatus(status int) sentry.SpanStatus {
	switch {
	case status < http.StatusBadRequest:
		return sentry.SpanStatusOK
	case status == http.StatusNotFound:
		return sentry.SpanStatusNotFound
	case status == http.StatusConflict:
		return sentry.SpanStatusAlreadyExists
	case status == http.StatusRequestEntityTooLarge, status == http.StatusTooManyRequests:
		return sentry.SpanStatusResourceExhausted
	case status == 499:
		return sentry.SpanStatusCanceled
	case status < http.StatusInternalServerError:
		return sentry.SpanStatusInvalidArgument
	case status == http.StatusBadGateway, status == http.StatusServiceUnavailable:
		return sentry.SpanStatusUnavailable
	case status == http.StatusGatewayTimeout:
		return sentry.SpanStatusDeadlineExceeded
	default:
		return sentry.SpanStatusInternalError
	}
}

package middleware

import (
	"net/http"

	"github.com/cloo-solutions/docvec/internal/api"
)

// MaxBodyBytes limits the bodies of POST, PUT and PATCH requests. A declared
// length over limit is answered with 413 straight away; otherwise the body
// reader fails once limit is crossed and the handler reports it.
func MaxBodyBytes(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limit <= 0 || r.Body == nil || !hasBody(r.Method) {
				next.ServeHTTP(w, r)
				return
			}

			if r.ContentLength > limit {
				api.Error(w, http.StatusRequestEntityTooLarge, "request body exceeds the upload limit")
				return
			}

			r.Body = http.MaxBytesReader(w, r.Body, limit)
			next.ServeHTTP(w, r)
		})
	}
}

func hasBody(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	}
	return false
}

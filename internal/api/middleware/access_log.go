package middleware

import (
	"encoding/json"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
)

type accessLogEntry struct {
	Timestamp  string `json:"ts"`
	Method     string `json:"method"`
	Route      string `json:"route,omitempty"`
	Path       string `json:"path"`
	DocumentID string `json:"document_id,omitempty"`
	Status     int    `json:"status"`
	Bytes      int    `json:"bytes"`
	DurationMS int64  `json:"duration_ms"`
	RequestID  string `json:"request_id,omitempty"`
	RemoteAddr string `json:"remote_addr,omitempty"`
}

// AccessLog writes one JSON line per request. The matched chi route and the
// {id} parameter are included once routing is done. Requests to any of
// quietPaths are only logged when they fail.
func AccessLog(quietPaths ...string) func(http.Handler) http.Handler {
	quiet := make(map[string]struct{}, len(quietPaths))
	for _, p := range quietPaths {
		quiet[p] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := recorderFor(w)

			next.ServeHTTP(rec, r)

			status := rec.Status()
			if _, ok := quiet[r.URL.Path]; ok && status < http.StatusBadRequest {
				return
			}

			entry := accessLogEntry{
				Timestamp:  start.UTC().Format(time.RFC3339Nano),
				Method:     r.Method,
				Path:       r.URL.Path,
				Status:     status,
				Bytes:      rec.bytes,
				DurationMS: time.Since(start).Milliseconds(),
				RequestID:  GetRequestID(r.Context()),
				RemoteAddr: clientIP(r),
			}
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				entry.Route = rctx.RoutePattern()
				entry.DocumentID = rctx.URLParam("id")
			}

			payload, err := json.Marshal(entry)
			if err != nil {
				log.Printf("access_log: marshal entry: %v", err)
				return
			}
			log.Println(string(payload))
		})
	}
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
			return ip.String()
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

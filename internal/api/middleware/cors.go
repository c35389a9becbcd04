// Package middleware provides HTTP middleware components for the eventsink API.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
)

// CORSConfig supplies the allow-lists the CORS middleware advertises.
// The server config in the api package satisfies it; the interface lives
// here so the dependency points from api to middleware, not back.
type CORSConfig interface {
	GetAllowedOrigins() []string
	GetAllowedMethods() []string
	GetAllowedHeaders() []string
	GetMaxAge() int
}

// CORS creates a middleware that writes cross-origin response headers and
// short-circuits OPTIONS preflight requests with 204.
func CORS(config CORSConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeCORSHeaders(w, r, config)

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func writeCORSHeaders(w http.ResponseWriter, r *http.Request, config CORSConfig) {
	writeAllowedOrigin(w, r, config.GetAllowedOrigins())

	if methods := config.GetAllowedMethods(); len(methods) > 0 {
		w.Header().Set("Access-Control-Allow-Methods", strings.Join(methods, ", "))
	}

	if headers := config.GetAllowedHeaders(); len(headers) > 0 {
		w.Header().Set("Access-Control-Allow-Headers", strings.Join(headers, ", "))
	}

	if maxAge := config.GetMaxAge(); maxAge > 0 {
		w.Header().Set("Access-Control-Max-Age", strconv.Itoa(maxAge))
	}
}

// writeAllowedOrigin echoes the request origin only when the allow-list
// names it; a bare "*" entry allows any origin.
func writeAllowedOrigin(w http.ResponseWriter, r *http.Request, allowed []string) {
	if len(allowed) == 0 {
		return
	}

	if len(allowed) == 1 && allowed[0] == "*" {
		w.Header().Set("Access-Control-Allow-Origin", "*")

		return
	}

	origin := r.Header.Get("Origin")
	for _, candidate := range allowed {
		if origin == candidate {
			w.Header().Set("Access-Control-Allow-Origin", origin)

			return
		}
	}
}

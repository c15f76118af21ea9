// Package httputil holds the HTTP plumbing shared by the web client and the
// chat service: JSON error bodies, panic recovery and CORS.
package httputil

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"slices"

	"github.com/gorilla/handlers"
)

func WriteJson(logger *log.Logger, w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Printf("json encode: %v", err)
	}
}

// WriteError writes e as the JSON body, logging the wrapped cause of 5xx
// errors.
func WriteError(logger *log.Logger, w http.ResponseWriter, e *ApiError) {
	if e.StatusCode >= http.StatusInternalServerError && e.Err != nil {
		logger.Printf("%d: %v", e.StatusCode, e.Err)
	}
	WriteJson(logger, w, e.StatusCode, e)
}

func ErrorHandler(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				if err == http.ErrAbortHandler {
					panic(err)
				}

				var panicError error
				switch e := err.(type) {
				case error:
					panicError = e
				default:
					panicError = fmt.Errorf("%v", e)
				}
				logger.Printf("panic: %v", panicError)
				errResp := NewInternalServerError(panicError)
				w.Header().Set("Connection", "close")
				WriteJson(logger, w, errResp.StatusCode, errResp)
				return
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// Wrap applies the middleware stack used by both servers: CORS for the
// allowed origins, access logging and panic recovery.
func Wrap(logger *log.Logger, allowedOrigins []string, h http.Handler) http.Handler {
	h = handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(allowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", "Authorization"}),
		handlers.AllowCredentials(),
	)(h)
	h = handlers.LoggingHandler(logger.Writer(), h)

	return ErrorHandler(logger, h)
}

// OriginChecker returns a websocket CheckOrigin func admitting requests
// without an Origin header and those from allowedOrigins.
func OriginChecker(allowedOrigins []string, sameHost bool) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if sameHost && (origin == "http://"+r.Host || origin == "https://"+r.Host) {
			return true
		}

		return slices.Contains(allowedOrigins, origin)
	}
}

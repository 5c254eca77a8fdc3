package errors

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/copyleftdev/nestedcv/internal/logging"
)

// RecoveryMiddleware returns a middleware that recovers from handler panics,
// logs them with the stack and answers 500.
func RecoveryMiddleware(logger *logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					logger.Error("Recovered from panic", map[string]interface{}{
						"error":  fmt.Sprint(rec),
						"stack":  string(debug.Stack()),
						"method": r.Method,
						"path":   r.URL.Path,
					})
					http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// Recovered converts a recovered panic value into an error of the given kind.
// It returns nil when rec is nil.
func Recovered(rec interface{}, kind error) error {
	if rec == nil {
		return nil
	}
	if err, ok := rec.(error); ok {
		return Wrap(err, kind, "recovered panic")
	}
	return Newf(kind, "recovered panic: %v", rec)
}

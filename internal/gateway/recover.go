package gateway

import (
	"fmt"
	"net/http"

	"github.com/rs/zerolog/hlog"
)

type failure struct {
	Message string            `json:"message"`
	Success bool              `json:"success"`
	Errors  map[string]string `json:"errors"`
}

// Recover turns a panic in next into a 500 JSON response so one bad request
// never takes the process down.
func Recover() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				v := recover()
				if v == nil {
					return
				}
				if v == http.ErrAbortHandler {
					panic(v)
				}
				hlog.FromRequest(r).Error().Str("panic", fmt.Sprint(v)).Msg("recovered")

				msg := "Unknown error"
				if err, ok := v.(error); ok {
					msg = err.Error()
				}
				WriteJSON(w, http.StatusInternalServerError, failure{
					Message: "An error occurred while processing your message",
					Errors:  map[string]string{"server": msg},
				})
			}()
			next.ServeHTTP(w, r)
		})
	}
}

package obs

import (
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/AlexKimmel/folio/internal/gateway"
)

func SetupLogger(level string) zerolog.Logger {
	return NewLogger(os.Stdout, level)
}

func NewLogger(w io.Writer, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano

	return zerolog.New(w).With().Timestamp().Logger().Level(lvl)
}

// Logger attaches a request-scoped logger (with req_id, ua and referer) and
// writes one "req" line per request once it completes. Server errors log at
// error level and client errors at warn; the rest at info.
func Logger(logger zerolog.Logger) gateway.Middleware {
	return func(next http.Handler) http.Handler {
		return gateway.Chain(next,
			hlog.NewHandler(logger),
			hlog.AccessHandler(accessLine),
			hlog.UserAgentHandler("ua"),
			hlog.RefererHandler("referer"),
			hlog.RequestIDHandler("req_id", "X-Request-ID"),
		)
	}
}

func accessLine(r *http.Request, status, size int, d time.Duration) {
	log := hlog.FromRequest(r)
	var ev *zerolog.Event
	switch {
	case status >= http.StatusInternalServerError:
		ev = log.Error()
	case status >= http.StatusBadRequest:
		ev = log.Warn()
	default:
		ev = log.Info()
	}
	ev.Str("method", r.Method).
		Str("path", r.URL.Path).
		Str("remote", r.RemoteAddr).
		Int("status", status).
		Int("size", size).
		Dur("dur", d).
		Msg("req")
}

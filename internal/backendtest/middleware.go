package backendtest

import (
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tansive/instant-example/internal/common/logtrace"
)

// requestLogger logs each request the fake backend serves at debug level.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := logtrace.WithRequestID(r.Context(), logtrace.NewRequestID())
		logger := logtrace.Logger(ctx).With().Str("component", "backendtest").Logger()
		ctx = logger.WithContext(ctx)

		_, _, hasAuth := r.BasicAuth()
		logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("accept", r.Header.Get("Accept")).
			Bool("authorization", hasAuth).
			Msg("incoming request")

		defer func() {
			log.Ctx(ctx).Debug().Dur("duration", time.Since(start)).Msg("request completed")
		}()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

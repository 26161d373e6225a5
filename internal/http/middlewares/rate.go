package middlewares

import (
	"fmt"
	"net/http"
	"strconv"

	apierrors "github.com/ma13w/cverify/internal/http/errors"
	"github.com/ma13w/cverify/internal/http/helpers"
	"github.com/ma13w/cverify/internal/observability/logger"
	"github.com/ma13w/cverify/internal/rate"
)

// WithRateLimit limita por IP de cliente. Un limiter nil desactiva el
// middleware. Errores del backend del limiter no bloquean el request:
// fail-open con log.
func WithRateLimit(limiter rate.Limiter, scope string) Middleware {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := fmt.Sprintf("%s:%s", scope, helpers.ClientIP(r))
			res, err := limiter.Allow(r.Context(), key)
			if err != nil {
				logger.From(r.Context()).Warn("rate limiter unavailable", logger.Err(err))
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(res.Remaining, 10))
			if !res.Allowed {
				w.Header().Set("Retry-After", strconv.Itoa(int(res.RetryAfter.Seconds())+1))
				apierrors.WriteError(w, apierrors.ErrRateLimited)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

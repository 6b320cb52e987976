// ratelimit.go — ограничение частоты публичного скачивания по адресу клиента.
package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"

	apierrors "github.com/bigkaa/goartstore/filedrop/internal/api/errors"
	"github.com/bigkaa/goartstore/filedrop/internal/ratelimit"
)

// RateLimit возвращает middleware, отклоняющий запросы сверх лимита
// с 429 и заголовком Retry-After. nil limiter отключает проверку.
// Адрес берётся из RemoteAddr, поэтому перед ним ставится chi RealIP,
// если сервис стоит за прокси.
func RateLimit(limiter *ratelimit.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := limiter.Allow(clientIP(r))
			if !d.Allowed {
				RateLimitedTotal.Inc()
				seconds := int(math.Ceil(d.RetryAfter.Seconds()))
				if seconds < 1 {
					seconds = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(seconds))
				apierrors.RateLimited(w, "Слишком много запросов, повторите позже")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP возвращает хост из RemoteAddr без порта.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

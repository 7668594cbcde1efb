package middleware

import (
	"math"
	"net"
	"net/http"
	"net/netip"
	"strconv"

	"go.uber.org/zap"

	"github.com/Policy-Guru-za/chipin/internal/ratelimit"
)

// ClientIP возвращает адрес клиента из RemoteAddr. За доверенным прокси
// RemoteAddr заранее переписывается chi middleware.RealIP.
func ClientIP(r *http.Request) netip.Addr {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}
	}
	return addr.Unmap()
}

// RateLimit ограничивает частоту запросов действия action с одного адреса.
func RateLimit(limiter *ratelimit.Limiter, action string, hourLimit, minuteBurstLimit int64, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := "unknown"
			if ip := ClientIP(r); ip.IsValid() {
				identity = ip.String()
			}

			res, err := limiter.Enforce(r.Context(), ratelimit.Key(action, identity), hourLimit, minuteBurstLimit)
			if err != nil {
				logger.Warn("rate limiter unavailable, request allowed",
					zap.String("action", action),
					zap.Error(err),
				)
			}

			if !res.Unlimited && !res.Reset.IsZero() {
				w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(hourLimit, 10))
				w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(res.Remaining, 10))
				w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.Reset.Unix(), 10))
			}

			if !res.Allowed {
				retry := int64(math.Ceil(res.RetryAfter.Seconds()))
				if retry < 1 {
					retry = 1
				}
				w.Header().Set("Retry-After", strconv.FormatInt(retry, 10))
				logger.Warn("rate limit exceeded",
					zap.String("action", action),
					zap.String("client_ip", identity),
					zap.Int64("retry_after_seconds", retry),
				)
				writeError(w, http.StatusTooManyRequests, "rate_limited")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

package security

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pocketbase/pocketbase/core"
	"github.com/redis/go-redis/v9"
)

// ScannerDeviceHeader identifies the operator device on scan requests.
const ScannerDeviceHeader = "X-Scanner-Device"

// fixedWindowScript counts a request and starts the window on the first one.
const fixedWindowScript = `
local current = redis.call("INCR", KEYS[1])
if current == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return current
`

type RateLimiter struct {
	redis  *redis.Client
	limit  int64
	window time.Duration
}

func NewRateLimiter(redisClient *redis.Client, limit int, window time.Duration) *RateLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{redis: redisClient, limit: int64(limit), window: window}
}

func rateLimitKey(identity string) string {
	return fmt.Sprintf("ratelimit:scan:%s", identity)
}

// Allow counts one request for identity and reports whether it is within the limit.
func (r *RateLimiter) Allow(ctx context.Context, identity string) (bool, error) {
	if r.limit <= 0 {
		return true, nil
	}

	count, err := r.redis.Eval(ctx, fixedWindowScript, []string{rateLimitKey(identity)}, r.window.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	return count <= r.limit, nil
}

// ScanRateLimit limits scan traffic per scanner device, falling back to the
// client IP. Redis failures let the request through.
func (r *RateLimiter) ScanRateLimit() func(e *core.RequestEvent) error {
	return func(e *core.RequestEvent) error {
		identity := scannerIdentity(e.Request)
		if identity == "" {
			identity = "ip:" + e.RealIP()
		}

		allowed, err := r.Allow(e.Request.Context(), identity)
		if err != nil {
			slog.Warn("Rate limiter unavailable", "error", err, "identity", identity)
			return e.Next()
		}
		if !allowed {
			e.Response.Header().Set("Retry-After", strconv.Itoa(int(r.window.Seconds())))
			return e.JSON(http.StatusTooManyRequests, map[string]string{
				"message": "Too many scans from this device. Please slow down.",
			})
		}

		return e.Next()
	}
}

func scannerIdentity(req *http.Request) string {
	device := strings.TrimSpace(req.Header.Get(ScannerDeviceHeader))
	if device == "" {
		return ""
	}
	if len(device) > 64 {
		device = device[:64]
	}
	return "device:" + device
}

package middleware

import (
	"net/http"
	"sync"
	"time"

	"QRCodeService/pkg/response"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/time/rate"
)

var (
	ErrTooManyRequests = response.NewError(http.StatusTooManyRequests, "too many requests")
)

// visitorTTL is how long an idle client keeps its token bucket.
const visitorTTL = 10 * time.Minute

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type rateLimiter struct {
	visitors  map[string]*visitor
	rate      rate.Limit
	burstSize int
	lastSweep time.Time
	mutex     sync.Mutex
}

func newRateLimiter(reqRate rate.Limit, burstSize int) *rateLimiter {
	return &rateLimiter{
		visitors:  make(map[string]*visitor),
		rate:      reqRate,
		burstSize: burstSize,
		lastSweep: time.Now(),
	}
}

// allow takes one token from ip's bucket. Idle buckets are swept at most
// once per visitorTTL so the map tracks only recent clients.
func (r *rateLimiter) allow(ip string, now time.Time) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if now.Sub(r.lastSweep) >= visitorTTL {
		for key, v := range r.visitors {
			if now.Sub(v.lastSeen) >= visitorTTL {
				delete(r.visitors, key)
			}
		}
		r.lastSweep = now
	}

	v, ok := r.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(r.rate, r.burstSize)}
		r.visitors[ip] = v
	}
	v.lastSeen = now

	return v.limiter.AllowN(now, 1)
}

func (r *rateLimiter) tracked() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return len(r.visitors)
}

// NewRateLimiter sheds load per client IP. It is a no-op unless a rate was
// configured; without it, excess load queues on the detector pool instead.
func (m *middleware) NewRateLimiter(ctx *fiber.Ctx) error {
	if m.rateLimitter == nil {
		return ctx.Next()
	}

	clientIP := ctx.IP()
	if !m.rateLimitter.allow(clientIP, time.Now()) {
		m.log.WithField("client_ip", clientIP).Warn("Rate limit exceeded")
		ctx.Set(fiber.HeaderRetryAfter, "1")
		return ctx.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
			"success": false,
			"message": ErrTooManyRequests.Error(),
		})
	}

	return ctx.Next()
}

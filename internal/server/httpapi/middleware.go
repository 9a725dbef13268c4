package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"

	"github.com/dmitrijs2005/accountd/internal/common"
	intauth "github.com/dmitrijs2005/accountd/internal/server/auth"
)

const identityContextKey = "identity"

// BearerAuth validates the Authorization header using verify and stores the
// resulting identity on the request context. Missing, expired, and invalid
// credentials are reported distinctly.
func BearerAuth(verify func(string) (*intauth.Identity, error)) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				return c.JSON(http.StatusUnauthorized, echo.Map{"message": "no token provided"})
			}

			identity, err := verify(strings.TrimPrefix(header, "Bearer "))
			if err != nil {
				if errors.Is(err, common.ErrTokenExpired) {
					return c.JSON(http.StatusUnauthorized, echo.Map{"message": "token has expired"})
				}
				return c.JSON(http.StatusUnauthorized, echo.Map{"message": "invalid token"})
			}

			c.Set(identityContextKey, identity)
			return next(c)
		}
	}
}

func identityFrom(c echo.Context) (*intauth.Identity, bool) {
	identity, ok := c.Get(identityContextKey).(*intauth.Identity)
	return identity, ok
}

// limiterEvictInterval bounds how often the per-IP limiter map is swept.
const limiterEvictInterval = 5 * time.Minute

// ipRateLimiter keeps one token bucket per client address and periodically
// drops idle entries so the map does not grow with every address ever seen.
type ipRateLimiter struct {
	limiters  sync.Map // map[string]*rate.Limiter
	rate      rate.Limit
	burst     int
	mu        sync.Mutex
	lastEvict time.Time
}

func (rl *ipRateLimiter) limiterFor(ip string) *rate.Limiter {
	if l, ok := rl.limiters.Load(ip); ok {
		return l.(*rate.Limiter)
	}
	l, _ := rl.limiters.LoadOrStore(ip, rate.NewLimiter(rl.rate, rl.burst))
	rl.maybeEvict()
	return l.(*rate.Limiter)
}

// maybeEvict removes limiters whose buckets have refilled completely. A full
// bucket means the address has been idle for at least a window, so the entry
// can be rebuilt on demand.
func (rl *ipRateLimiter) maybeEvict() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if time.Since(rl.lastEvict) < limiterEvictInterval {
		return
	}
	rl.lastEvict = time.Now()

	rl.limiters.Range(func(key, value any) bool {
		if value.(*rate.Limiter).Tokens() >= float64(rl.burst) {
			rl.limiters.Delete(key)
		}
		return true
	})
}

// RateLimitByIP applies a token-bucket limit per client IP, sized at
// perMinute requests with an equal burst. Used on the login endpoint to slow
// credential stuffing. The key comes from c.RealIP(), which the server
// configures to read the peer address rather than forwarding headers.
func RateLimitByIP(perMinute float64) echo.MiddlewareFunc {
	if perMinute <= 0 {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}

	burst := int(perMinute)
	if burst < 1 {
		burst = 1
	}

	rl := &ipRateLimiter{
		rate:      rate.Limit(perMinute / 60),
		burst:     burst,
		lastEvict: time.Now(),
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !rl.limiterFor(c.RealIP()).Allow() {
				return c.JSON(http.StatusTooManyRequests, echo.Map{"message": "too many requests"})
			}
			return next(c)
		}
	}
}

package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/didip/tollbooth"
	"github.com/didip/tollbooth/limiter"
)

// DailyLimit limits each user to perDay requests in any 24 hours. The token
// bucket refills continuously, so a user regains one request every
// 24h/perDay. Requests without a user are keyed by remote address.
func DailyLimit(name string, perDay int) func(http.Handler) http.Handler {
	lmt := tollbooth.NewLimiter(float64(perDay)/(24*time.Hour).Seconds(), &limiter.ExpirableOptions{
		DefaultExpirationTTL: 24 * time.Hour,
	})
	lmt.SetBurst(perDay)
	lmt.SetMessageContentType("application/json")
	lmt.SetMessage(`{"success": false, "error": "daily request limit reached"}`)
	retryAfter := strconv.Itoa(int((24 * time.Hour).Seconds()) / max(perDay, 1))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.RemoteAddr
			if user := GetUserFromContext(r.Context()); user != nil {
				key = user.ID
			}

			if httpErr := tollbooth.LimitByKeys(lmt, []string{name, key}); httpErr != nil {
				w.Header().Set("Content-Type", lmt.GetMessageContentType())
				w.Header().Set("Retry-After", retryAfter)
				w.WriteHeader(httpErr.StatusCode)
				_, _ = w.Write([]byte(httpErr.Message))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

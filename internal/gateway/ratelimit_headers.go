package gateway

import (
	"net/http"
	"strconv"
	"time"

	"github.com/AlexKimmel/folio/internal/ratelimit"
)

// ISOMillis is the reset timestamp layout: UTC with millisecond precision.
const ISOMillis = "2006-01-02T15:04:05.000Z07:00"

// RateLimitHeaders sets the X-RateLimit-* triad from dec.
func RateLimitHeaders(h http.Header, dec ratelimit.Decision) {
	if dec.Limit <= 0 {
		return
	}
	h.Set("X-RateLimit-Limit", strconv.Itoa(dec.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(max(dec.Remaining, 0)))
	h.Set("X-RateLimit-Reset", dec.ResetAt.UTC().Format(ISOMillis))
}

// WaitMinutes rounds the time until dec resets up to whole minutes.
func WaitMinutes(dec ratelimit.Decision, now time.Time) int {
	wait := dec.RetryAfter(now)
	return int((wait + time.Minute - 1) / time.Minute)
}

// RetryAfter sets Retry-After to the wait in seconds, whole minutes.
func RetryAfter(h http.Header, minutes int) {
	h.Set("Retry-After", strconv.Itoa(minutes*60))
}

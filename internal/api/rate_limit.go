package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/dunamismax/layerflow/internal/compose"
	"github.com/dunamismax/layerflow/internal/ratelimit"
)

type RateLimiter interface {
	Allow(ctx context.Context, subject string, cost int64) (ratelimit.Decision, error)
}

// withRateLimit charges one token per state-changing request before its body
// is read.
func (s *Server) withRateLimit(next http.Handler) http.Handler {
	if s.rateLimiter == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if shouldRateLimit(r) && !s.spend(w, r, 1) {
			return
		}
		next.ServeHTTP(w, r)
	})
}

// chargeCompose bills the rest of a compose request's price once its layer
// count and input size are known. The admission token is already paid.
func (s *Server) chargeCompose(w http.ResponseWriter, r *http.Request, req compose.Request) bool {
	if s.rateLimiter == nil {
		return true
	}
	extra := ratelimit.ComposeCost(len(req.Layers), req.InputBytes()) - 1
	if extra <= 0 {
		return true
	}
	return s.spend(w, r, extra)
}

// spend takes cost tokens for the caller on this route and writes a 429 when
// the bucket cannot cover them. Limiter failures let the request through.
func (s *Server) spend(w http.ResponseWriter, r *http.Request, cost int64) bool {
	route := routeLabel(r.URL.Path)
	subject := s.subject(r) + ":" + route

	decision, err := s.rateLimiter.Allow(r.Context(), subject, cost)
	if err != nil {
		s.logger.Printf("rate limiter check failed subject=%s cost=%d err=%v", subject, cost, err)
		return true
	}

	if decision.Limit > 0 {
		w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(decision.Limit, 10))
	}
	w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(decision.Remaining, 10))
	if decision.Allowed {
		s.metrics.rateLimitTokens.WithLabelValues(route).Add(float64(decision.Cost))
		return true
	}

	retryAfter := int(decision.RetryAfter.Round(time.Second).Seconds())
	if retryAfter < 1 {
		retryAfter = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	s.metrics.rateLimitRejected.WithLabelValues(route).Inc()
	details := "rate limit exceeded"
	if cost > 1 {
		details = fmt.Sprintf("rate limit exceeded: request costs %d tokens", cost)
	}
	writeProblem(w, http.StatusTooManyRequests, problem{
		Title:   titleRateLimit,
		Details: details,
	})
	return false
}

// shouldRateLimit covers every state-changing route; reads are free.
func shouldRateLimit(r *http.Request) bool {
	return r.Method != http.MethodGet && r.Method != http.MethodHead
}

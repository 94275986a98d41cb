package ratelimit

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Decision is the outcome of spending tokens. Limit is the bucket capacity
// and Cost what the call was charged after clamping.
type Decision struct {
	Allowed    bool
	Remaining  int64
	Limit      int64
	Cost       int64
	RetryAfter time.Duration
}

type Limiter interface {
	Allow(ctx context.Context, subject string, cost int64) (Decision, error)
}

// BytesPerToken is how much compose input one token pays for.
const BytesPerToken = 8 << 20

// ComposeCost prices a compose request: one token for the request itself,
// one per layer and one per started BytesPerToken of input.
func ComposeCost(layers int, inputBytes int64) int64 {
	cost := int64(1)
	if layers > 0 {
		cost += int64(layers)
	}
	if inputBytes > 0 {
		cost += (inputBytes + BytesPerToken - 1) / BytesPerToken
	}
	return cost
}

func clampCost(cost, capacity int64) int64 {
	if cost < 1 {
		return 1
	}
	if cost > capacity {
		return capacity
	}
	return cost
}

func normalizeSubject(subject string) string {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "anonymous"
	}
	return subject
}

// maxLocalSubjects bounds the per-process bucket map; past it the map is
// dropped and buckets start full again.
const maxLocalSubjects = 10_000

// LocalTokenBucket keeps one in-process bucket per subject. It is used when no
// Redis is configured and as the fallback when Redis is unreachable.
type LocalTokenBucket struct {
	limit rate.Limit
	burst int

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

func NewLocalTokenBucket(capacity int, window time.Duration) (*LocalTokenBucket, error) {
	if capacity <= 0 {
		return nil, errors.New("capacity must be positive")
	}
	if window <= 0 {
		return nil, errors.New("window must be positive")
	}
	return &LocalTokenBucket{
		limit:   rate.Limit(float64(capacity) / window.Seconds()),
		burst:   capacity,
		buckets: make(map[string]*rate.Limiter),
	}, nil
}

// Allow spends cost tokens, clamped to [1, capacity], from the subject's
// bucket.
func (l *LocalTokenBucket) Allow(_ context.Context, subject string, cost int64) (Decision, error) {
	limit := int64(l.burst)
	cost = clampCost(cost, limit)

	now := time.Now()
	bucket := l.bucket(normalizeSubject(subject))
	reservation := bucket.ReserveN(now, int(cost))
	if delay := reservation.DelayFrom(now); delay > 0 {
		reservation.CancelAt(now)
		return Decision{
			Allowed:    false,
			Remaining:  max(0, int64(bucket.TokensAt(now))),
			Limit:      limit,
			Cost:       cost,
			RetryAfter: delay,
		}, nil
	}

	return Decision{
		Allowed:   true,
		Remaining: max(0, int64(bucket.TokensAt(now))),
		Limit:     limit,
		Cost:      cost,
	}, nil
}

func (l *LocalTokenBucket) bucket(subject string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if b, ok := l.buckets[subject]; ok {
		return b
	}
	if len(l.buckets) >= maxLocalSubjects {
		l.buckets = make(map[string]*rate.Limiter)
	}
	b := rate.NewLimiter(l.limit, l.burst)
	l.buckets[subject] = b
	return b
}

// Fallback asks Primary first and answers from Secondary when Primary fails.
// OnError, when set, sees every primary failure.
type Fallback struct {
	Primary   Limiter
	Secondary Limiter
	OnError   func(err error)
}

func (f Fallback) Allow(ctx context.Context, subject string, cost int64) (Decision, error) {
	decision, err := f.Primary.Allow(ctx, subject, cost)
	if err == nil {
		return decision, nil
	}
	if f.OnError != nil {
		f.OnError(err)
	}
	if f.Secondary == nil {
		return Decision{}, err
	}
	return f.Secondary.Allow(ctx, subject, cost)
}

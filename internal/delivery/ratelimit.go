package delivery

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimited throttles calls to an underlying gateway. Calls block until a
// token is available or ctx is done.
type RateLimited struct {
	next    Gateway
	limiter *rate.Limiter
}

// NewRateLimited wraps g with a token bucket of perSecond and burst.
func NewRateLimited(g Gateway, perSecond float64, burst int) *RateLimited {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimited{next: g, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (r *RateLimited) SendText(ctx context.Context, recipientID, text, credential string) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("delivery: rate limit: %w", err)
	}
	return r.next.SendText(ctx, recipientID, text, credential)
}

func (r *RateLimited) SendTyping(ctx context.Context, recipientID, credential string, on bool) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("delivery: rate limit: %w", err)
	}
	return r.next.SendTyping(ctx, recipientID, credential, on)
}

// ProfileName passes through when the wrapped gateway can resolve names.
func (r *RateLimited) ProfileName(ctx context.Context, userID, credential string) (string, error) {
	pn, ok := r.next.(ProfileNamer)
	if !ok {
		return "", nil
	}
	if err := r.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("delivery: rate limit: %w", err)
	}
	return pn.ProfileName(ctx, userID, credential)
}

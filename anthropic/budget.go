package anthropic

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// requestOverhead approximates the tokens a request carries beyond its text
// (tool definitions, message framing, the response budget).
const requestOverhead = 8000

// TokenBudget paces input tokens across all model calls of the process.
type TokenBudget struct {
	limiter *rate.Limiter
	burst   int
}

// NewTokenBudget allows perMinute input tokens per minute. A non-positive value
// disables pacing.
func NewTokenBudget(perMinute int) *TokenBudget {
	if perMinute <= 0 {
		return &TokenBudget{limiter: rate.NewLimiter(rate.Inf, 0)}
	}
	return &TokenBudget{
		limiter: rate.NewLimiter(rate.Limit(float64(perMinute)/60), perMinute),
		burst:   perMinute,
	}
}

// EstimateTokens is the chars/4 heuristic plus the fixed request overhead.
func EstimateTokens(texts ...string) int {
	chars := 0
	for _, t := range texts {
		chars += len(t)
	}
	return estimate(chars)
}

func estimate(chars int) int {
	return chars/4 + requestOverhead
}

// Wait blocks until n tokens fit in the budget. Requests larger than the whole
// budget wait for a full bucket instead of failing.
func (b *TokenBudget) Wait(ctx context.Context, n int) error {
	if b.limiter.Limit() == rate.Inf {
		return nil
	}
	if n > b.burst {
		n = b.burst
	}
	if err := b.limiter.WaitN(ctx, n); err != nil {
		return fmt.Errorf("token budget wait: %w", err)
	}
	return nil
}

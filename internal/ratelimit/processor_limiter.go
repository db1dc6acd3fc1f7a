package ratelimit

import (
	"context"
	"time"

	"github.com/stagepass/stagepass/internal/config"
)

const keyProcessorRefunds = "refund:processor:calls"

// ProcessorLimiter paces outbound processor refund calls across all
// replicas so a large cancellation batch cannot trip the processor's
// rate limits. Nil-safe: without Redis it admits everything.
type ProcessorLimiter struct {
	bucket *TokenBucket
	policy *config.RefundPolicyHolder
}

func NewProcessorLimiter(bucket *TokenBucket, policy *config.RefundPolicyHolder) *ProcessorLimiter {
	if bucket == nil {
		return nil
	}
	return &ProcessorLimiter{bucket: bucket, policy: policy}
}

// Wait blocks until a token is available or ctx is done.
func (p *ProcessorLimiter) Wait(ctx context.Context) error {
	if p == nil || p.bucket == nil {
		return nil
	}

	policy := p.policy.Get()
	rate := float64(policy.ProcessorRatePerSecond)
	burst := policy.ProcessorBurst

	for {
		result, err := p.bucket.Allow(ctx, keyProcessorRefunds, rate, burst)
		if err != nil {
			// Redis trouble must not stall refunds; admit and move on.
			return nil
		}
		if result.Allowed {
			return nil
		}

		wait := result.RetryAfter
		if wait <= 0 {
			wait = 50 * time.Millisecond
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

package llm

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"golang.org/x/time/rate"
)

// Limited paces calls to an underlying client with a token bucket.
type Limited struct {
	next    Client
	limiter *rate.Limiter
}

// NewLimited allows perSecond calls per second with the given burst.
// A burst below 1 becomes 1.
func NewLimited(next Client, perSecond float64, burst int) *Limited {
	if burst < 1 {
		burst = 1
	}
	return &Limited{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

func (l *Limited) Generate(ctx context.Context, prompt string, p Params) (*Response, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, goerr.Wrap(err, "wait for llm rate limit")
	}
	return l.next.Generate(ctx, prompt, p)
}

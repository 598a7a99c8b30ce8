package search

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// limitedSearcher 在每次请求前等待限流器
type limitedSearcher struct {
	next    Searcher
	limiter *rate.Limiter
}

// WithLimiter 为 Searcher 加上限流；limiter 为 nil 时原样返回
func WithLimiter(s Searcher, limiter *rate.Limiter) Searcher {
	if limiter == nil {
		return s
	}
	return &limitedSearcher{next: s, limiter: limiter}
}

func (l *limitedSearcher) Search(ctx context.Context, req *Request) (*Response, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("limiter wait error: %w", err)
	}
	return l.next.Search(ctx, req)
}

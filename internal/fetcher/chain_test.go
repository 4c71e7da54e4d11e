package fetcher

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"pricewatch/internal/domain"
)

type stubFetcher struct {
	obs   domain.Observation
	err   error
	calls int
}

func (s *stubFetcher) Fetch(context.Context, string) (domain.Observation, error) {
	s.calls++
	return s.obs, s.err
}

func TestChainFallsBack(t *testing.T) {
	primary := &stubFetcher{err: newError(KindUpstream, "1", errors.New("down"))}
	fallback := &stubFetcher{obs: domain.Observation{CurrentPrice: decimal.NewFromInt(500)}}

	obs, err := NewChain(noopLogger(), primary, nil, fallback).Fetch(context.Background(), "1")
	if err != nil {
		t.Fatalf("回退成功时不应报错: %v", err)
	}
	if !obs.CurrentPrice.Equal(decimal.NewFromInt(500)) {
		t.Fatalf("应返回回退结果: %+v", obs)
	}
	if primary.calls != 1 || fallback.calls != 1 {
		t.Fatalf("调用次数不正确: %d/%d", primary.calls, fallback.calls)
	}
}

func TestChainStopsOnFirstSuccess(t *testing.T) {
	primary := &stubFetcher{}
	fallback := &stubFetcher{}

	if _, err := NewChain(noopLogger(), primary, fallback).Fetch(context.Background(), "1"); err != nil {
		t.Fatalf("不应报错: %v", err)
	}
	if fallback.calls != 0 {
		t.Fatal("主源成功时不应调用回退")
	}
}

func TestChainReturnsLastError(t *testing.T) {
	first := &stubFetcher{err: newError(KindUpstream, "1", errors.New("down"))}
	last := &stubFetcher{err: newError(KindNotFound, "1", errors.New("gone"))}

	_, err := NewChain(noopLogger(), first, last).Fetch(context.Background(), "1")
	if KindOf(err) != KindNotFound {
		t.Fatalf("应返回最后一个错误, 实际 %v", err)
	}
}

func TestChainStopsWhenCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	first := &stubFetcher{err: newError(KindTimeout, "1", context.Canceled)}
	second := &stubFetcher{}

	if _, err := NewChain(noopLogger(), first, second).Fetch(ctx, "1"); err == nil {
		t.Fatal("取消后应返回错误")
	}
	if second.calls != 0 {
		t.Fatal("取消后不应继续回退")
	}
}

func TestEmptyChain(t *testing.T) {
	if _, err := NewChain(noopLogger()).Fetch(context.Background(), "1"); KindOf(err) != KindUpstream {
		t.Fatalf("空链应返回 upstream 错误, 实际 %v", err)
	}
}

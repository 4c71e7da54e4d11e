package evaluator

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pricewatch/internal/domain"
)

var at = time.Date(2024, 11, 29, 18, 0, 0, 0, time.UTC)

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func normal(current, original, low int64, onSale bool) *domain.Snapshot {
	return &domain.Snapshot{
		ItemID:        1,
		CurrentPrice:  d(current),
		OriginalPrice: d(original),
		HistoricalLow: d(low),
		IsOnSale:      onSale,
		Source:        domain.SourceNormal,
	}
}

func TestFetchFailureWinsOverEverything(t *testing.T) {
	prev := normal(2500, 2500, 2000, false)
	obs := domain.Observation{CurrentPrice: d(10), OriginalPrice: d(20), IsFree: true}

	res := Evaluate(1, prev, obs, errors.New("timeout"), at)

	assert.Equal(t, domain.SourceFetchFailed, res.Snapshot.Source)
	assert.True(t, res.Snapshot.CurrentPrice.IsZero())
	assert.False(t, res.Snapshot.IsOnSale)
	assert.False(t, res.NewHistoricalLow)
	assert.True(t, res.Snapshot.HistoricalLow.Equal(d(2000)), "low is carried forward")
}

func TestPriorityOrder(t *testing.T) {
	cases := []struct {
		name string
		obs  domain.Observation
		want domain.Source
	}{
		{"free beats unreleased", domain.Observation{IsFree: true, IsUnreleased: true, IsRemoved: true}, domain.SourceFree},
		{"unreleased beats removed", domain.Observation{IsUnreleased: true, IsRemoved: true}, domain.SourceUnreleased},
		{"removed", domain.Observation{IsRemoved: true, CurrentPrice: d(100), OriginalPrice: d(200)}, domain.SourceRemoved},
		{"normal", domain.Observation{CurrentPrice: d(100), OriginalPrice: d(100)}, domain.SourceNormal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := Evaluate(1, nil, tc.obs, nil, at)
			assert.Equal(t, tc.want, res.Snapshot.Source)
			if tc.want != domain.SourceNormal {
				assert.Zero(t, res.Snapshot.DiscountPercent)
				assert.False(t, res.Snapshot.IsOnSale)
			}
		})
	}
}

func TestNormalEndToEndScenario(t *testing.T) {
	prev := normal(2500, 2500, 2500, false)
	obs := domain.Observation{CurrentPrice: d(1999), OriginalPrice: d(2500), IsOnSale: true}

	res := Evaluate(1, prev, obs, nil, at)

	s := res.Snapshot
	assert.Equal(t, domain.SourceNormal, s.Source)
	assert.Equal(t, 20, s.DiscountPercent)
	assert.True(t, s.IsOnSale)
	assert.True(t, s.HistoricalLow.Equal(d(1999)))
	assert.True(t, res.NewHistoricalLow)
	assert.False(t, res.Released)
	assert.Equal(t, at, s.RecordedAt)
}

func TestNewLowIsStrict(t *testing.T) {
	prev := normal(1500, 2500, 1500, true)
	res := Evaluate(1, prev, domain.Observation{CurrentPrice: d(1500), OriginalPrice: d(2500)}, nil, at)
	assert.False(t, res.NewHistoricalLow)
	assert.True(t, res.Snapshot.HistoricalLow.Equal(d(1500)))
}

func TestHistoricalLowResetsAfterNonNormal(t *testing.T) {
	prev := &domain.Snapshot{Source: domain.SourceFree, HistoricalLow: d(500)}
	res := Evaluate(1, prev, domain.Observation{CurrentPrice: d(3000), OriginalPrice: d(3000)}, nil, at)
	assert.True(t, res.Snapshot.HistoricalLow.Equal(d(3000)))
	assert.False(t, res.NewHistoricalLow)
}

func TestNoPreviousSnapshot(t *testing.T) {
	res := Evaluate(1, nil, domain.Observation{CurrentPrice: d(1000), OriginalPrice: d(2000)}, nil, at)
	assert.True(t, res.Snapshot.HistoricalLow.Equal(d(1000)))
	assert.False(t, res.NewHistoricalLow)
	assert.True(t, res.Snapshot.IsOnSale)
	assert.Equal(t, 50, res.Snapshot.DiscountPercent)
}

func TestReleaseTransition(t *testing.T) {
	prev := &domain.Snapshot{Source: domain.SourceUnreleased}

	res := Evaluate(1, prev, domain.Observation{CurrentPrice: d(5999), OriginalPrice: d(5999)}, nil, at)
	assert.True(t, res.Released)

	res = Evaluate(1, prev, domain.Observation{CurrentPrice: d(0), OriginalPrice: d(0)}, nil, at)
	assert.False(t, res.Released, "zero price is not a release")

	res = Evaluate(1, prev, domain.Observation{IsUnreleased: true}, nil, at)
	assert.False(t, res.Released)
}

func TestEvaluateIsPure(t *testing.T) {
	prev := normal(2500, 2500, 2100, false)
	obs := domain.Observation{CurrentPrice: d(1999), OriginalPrice: d(2500)}

	first := Evaluate(1, prev, obs, nil, at)
	second := Evaluate(1, prev, obs, nil, at)

	require.Equal(t, first, second)
	assert.True(t, prev.HistoricalLow.Equal(d(2100)), "previous snapshot must not be mutated")
}

func TestHistoricalLowAcrossRemovedInterlude(t *testing.T) {
	var prev *domain.Snapshot
	run := func(obs domain.Observation) Result {
		res := Evaluate(1, prev, obs, nil, at)
		snap := res.Snapshot
		prev = &snap
		return res
	}
	priced := func(v int64) domain.Observation {
		return domain.Observation{CurrentPrice: d(v), OriginalPrice: d(2000)}
	}

	run(priced(800))
	run(priced(2000))
	removed := run(domain.Observation{IsRemoved: true})
	assert.True(t, removed.Snapshot.HistoricalLow.Equal(d(800)), "下架快照沿用最低价用于展示")

	back := run(priced(2000))
	assert.True(t, back.Snapshot.HistoricalLow.Equal(d(2000)), "非 normal 间隔后最低价从当前价重新累计")
	assert.False(t, back.NewHistoricalLow)

	lower := run(priced(1500))
	assert.True(t, lower.Snapshot.HistoricalLow.Equal(d(1500)))
	assert.True(t, lower.NewHistoricalLow, "与重新累计的最低价比较")
}

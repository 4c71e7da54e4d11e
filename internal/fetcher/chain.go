package fetcher

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"pricewatch/internal/domain"
)

// Chain tries each fetcher in order and returns the first success.
type Chain struct {
	fetchers []PriceFetcher
	logger   zerolog.Logger
}

// NewChain builds a fallback chain; nil entries are skipped.
func NewChain(logger zerolog.Logger, fetchers ...PriceFetcher) *Chain {
	kept := make([]PriceFetcher, 0, len(fetchers))
	for _, f := range fetchers {
		if f != nil {
			kept = append(kept, f)
		}
	}
	return &Chain{
		fetchers: kept,
		logger:   logger.With().Str("component", "fetch_chain").Logger(),
	}
}

// Fetch returns the last failure when every fetcher fails. A cancelled caller
// context stops the chain immediately.
func (c *Chain) Fetch(ctx context.Context, externalID string) (domain.Observation, error) {
	if len(c.fetchers) == 0 {
		return domain.Observation{}, newError(KindUpstream, externalID, errors.New("no fetchers configured"))
	}

	var lastErr error
	for i, f := range c.fetchers {
		obs, err := f.Fetch(ctx, externalID)
		if err == nil {
			return obs, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		if i < len(c.fetchers)-1 {
			c.logger.Warn().Err(err).Str("external_id", externalID).Msg("fetch failed, trying fallback")
		}
	}
	return domain.Observation{}, lastErr
}

var _ PriceFetcher = (*Chain)(nil)

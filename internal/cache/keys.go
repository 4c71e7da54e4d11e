package cache

import (
	"context"
	"fmt"
	"strings"
)

// Key families. Everything except PrefixFetch is a derived aggregate and must be
// invalidated after any write to items, snapshots or alerts.
const (
	PrefixItem        = "item:"
	PrefixItems       = "items:"
	PrefixLatestPrice = "price:latest:"
	PrefixFetch       = "price:fetch:"
	PrefixGames       = "games:"
	PrefixAlerts      = "alerts:"

	GamesStatsKey = PrefixGames + "stats"
)

// ItemKey is the cached item record.
func ItemKey(id int64) string { return fmt.Sprintf("%s%d", PrefixItem, id) }

// ItemsListKey is a cached item listing; params encodes the filter.
func ItemsListKey(params string) string { return PrefixItems + "list:" + params }

// LatestPriceKey is the cached latest snapshot of an item.
func LatestPriceKey(id int64) string { return fmt.Sprintf("%s%d", PrefixLatestPrice, id) }

// FetchKey memoises a raw price source answer for an external id.
func FetchKey(externalID string) string { return PrefixFetch + externalID }

// RecentAlertsKey is the cached alert feed.
func RecentAlertsKey(limit int) string { return fmt.Sprintf("%srecent:%d", PrefixAlerts, limit) }

// HasPrefix matches keys starting with any of prefixes.
func HasPrefix(prefixes ...string) func(string) bool {
	return func(key string) bool {
		for _, p := range prefixes {
			if strings.HasPrefix(key, p) {
				return true
			}
		}
		return false
	}
}

var aggregatePrefixes = []string{PrefixItem, PrefixItems, PrefixLatestPrice, PrefixGames, PrefixAlerts}

// InvalidateAggregates drops every derived view after a sweep.
func InvalidateAggregates(ctx context.Context, c Cache) int {
	if c == nil {
		return 0
	}
	return c.DeleteByPattern(ctx, HasPrefix(aggregatePrefixes...))
}

// InvalidateItem drops the views touched by a write to a single item: its own keys
// plus the cross-item listings and stats.
func InvalidateItem(ctx context.Context, c Cache, id int64) int {
	if c == nil {
		return 0
	}
	own := map[string]struct{}{ItemKey(id): {}, LatestPriceKey(id): {}}
	shared := HasPrefix(PrefixItems, PrefixGames, PrefixAlerts)
	return c.DeleteByPattern(ctx, func(key string) bool {
		if _, ok := own[key]; ok {
			return true
		}
		return shared(key)
	})
}

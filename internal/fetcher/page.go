package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"pricewatch/internal/domain"
	"pricewatch/internal/metrics"
)

var nonDigits = regexp.MustCompile(`[^0-9]`)

// PageOptions parameterise the HTML store page fetcher.
type PageOptions struct {
	BaseURL           string
	Timeout           time.Duration
	UserAgent         string
	RequestsPerMinute int
}

// Page scrapes the public store page. It is the fallback when the JSON API is unavailable.
type Page struct {
	opts    PageOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
	limiter *rate.Limiter
}

// NewPage constructs the HTML fetcher.
func NewPage(opts PageOptions, logger zerolog.Logger) *Page {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://store.steampowered.com"
	}
	return &Page{
		opts:    opts,
		logger:  logger.With().Str("component", "page_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		limiter: newLimiter(opts.RequestsPerMinute),
	}
}

// Fetch loads /app/{externalID}/ and reads the first purchase block.
func (p *Page) Fetch(ctx context.Context, externalID string) (obs domain.Observation, err error) {
	start := time.Now()
	defer func() {
		metrics.ObserveFetch("page", outcome(err), time.Since(start).Seconds())
	}()

	if err := p.limiter.Wait(ctx); err != nil {
		return domain.Observation{}, transportError(externalID, err)
	}

	doc, err := p.fetchDocument(ctx, externalID)
	if err != nil {
		return domain.Observation{}, err
	}

	obs, err = parseStorePage(doc)
	if err != nil {
		return domain.Observation{}, newError(KindDecode, externalID, err)
	}
	return obs, nil
}

func (p *Page) fetchDocument(ctx context.Context, externalID string) (*goquery.Document, error) {
	pageURL := fmt.Sprintf("%s/app/%s/", p.baseURL, externalID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, newError(KindUpstream, externalID, fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("User-Agent", userAgent(p.opts.UserAgent))

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, transportError(externalID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(externalID, resp.StatusCode, nil)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, newError(KindDecode, externalID, fmt.Errorf("parse document: %w", err))
	}
	return doc, nil
}

func parseStorePage(doc *goquery.Document) (domain.Observation, error) {
	var obs domain.Observation

	if doc.Find(".game_area_comingsoon").Length() > 0 {
		obs.IsUnreleased = true
		return obs, nil
	}

	purchase := doc.Find(".game_area_purchase_game").First()
	if purchase.Length() == 0 {
		obs.IsRemoved = true
		return obs, nil
	}

	if discount := purchase.Find(".discount_block").First(); discount.Length() > 0 {
		final, err := readPrice(discount, ".discount_final_price")
		if err != nil {
			return obs, err
		}
		original, err := readPrice(discount, ".discount_original_price")
		if err != nil {
			return obs, err
		}
		obs.CurrentPrice = final
		obs.OriginalPrice = original
		obs.IsOnSale = final.LessThan(original)
		return obs, nil
	}

	priceSel := purchase.Find(".game_purchase_price").First()
	text := strings.ToLower(strings.TrimSpace(priceSel.Text()))
	if strings.HasPrefix(text, "free") {
		obs.IsFree = true
		return obs, nil
	}

	price, err := readPrice(purchase, ".game_purchase_price")
	if err != nil {
		return obs, err
	}
	obs.CurrentPrice = price
	obs.OriginalPrice = price
	return obs, nil
}

// readPrice prefers the data-price-final attribute and falls back to the visible text.
func readPrice(scope *goquery.Selection, selector string) (decimal.Decimal, error) {
	sel := scope.Find(selector).First()
	if sel.Length() == 0 {
		return decimal.Zero, fmt.Errorf("missing %s", selector)
	}
	if raw, ok := sel.Attr("data-price-final"); ok && raw != "" {
		return decimal.NewFromString(raw)
	}
	digits := nonDigits.ReplaceAllString(sel.Text(), "")
	if digits == "" {
		return decimal.Zero, errors.New("price text has no digits")
	}
	return decimal.NewFromString(digits)
}

var _ PriceFetcher = (*Page)(nil)

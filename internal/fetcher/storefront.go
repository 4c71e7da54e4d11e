package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"pricewatch/internal/domain"
	"pricewatch/internal/metrics"
)

const appDetailsPath = "/api/appdetails"

// StorefrontOptions parameterise the appdetails fetcher.
type StorefrontOptions struct {
	BaseURL           string
	Country           string
	Language          string
	Timeout           time.Duration
	UserAgent         string
	RequestsPerMinute int
}

// Storefront reads prices from the storefront appdetails JSON API.
type Storefront struct {
	opts    StorefrontOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
	limiter *rate.Limiter
}

// NewStorefront constructs the JSON API fetcher.
func NewStorefront(opts StorefrontOptions, logger zerolog.Logger) *Storefront {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://store.steampowered.com"
	}

	return &Storefront{
		opts:    opts,
		logger:  logger.With().Str("component", "storefront_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		limiter: newLimiter(opts.RequestsPerMinute),
	}
}

// newLimiter spaces requests evenly across a minute; zero or less disables spacing.
func newLimiter(perMinute int) *rate.Limiter {
	if perMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1)
}

// Fetch retrieves and classifies the appdetails entry for externalID.
func (s *Storefront) Fetch(ctx context.Context, externalID string) (obs domain.Observation, err error) {
	start := time.Now()
	defer func() {
		metrics.ObserveFetch("storefront", outcome(err), time.Since(start).Seconds())
	}()

	if err := s.limiter.Wait(ctx); err != nil {
		return domain.Observation{}, transportError(externalID, err)
	}

	query := url.Values{}
	query.Set("appids", externalID)
	if s.opts.Country != "" {
		query.Set("cc", s.opts.Country)
	}
	if s.opts.Language != "" {
		query.Set("l", s.opts.Language)
	}
	endpoint := s.baseURL + appDetailsPath + "?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.Observation{}, newError(KindUpstream, externalID, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent(s.opts.UserAgent))

	resp, err := s.client.Do(req)
	if err != nil {
		return domain.Observation{}, transportError(externalID, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.Observation{}, transportError(externalID, err)
	}

	if resp.StatusCode != http.StatusOK {
		return domain.Observation{}, statusError(externalID, resp.StatusCode, payload)
	}

	var envelope map[string]appDetails
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return domain.Observation{}, newError(KindDecode, externalID, err)
	}

	entry, ok := envelope[externalID]
	if !ok || !entry.Success || entry.Data == nil {
		return domain.Observation{}, newError(KindNotFound, externalID, errors.New("storefront reported no data"))
	}

	obs = entry.Data.observation()
	s.logger.Debug().Str("external_id", externalID).
		Str("current", obs.CurrentPrice.String()).
		Bool("free", obs.IsFree).
		Bool("unreleased", obs.IsUnreleased).
		Bool("removed", obs.IsRemoved).
		Msg("storefront observation")
	return obs, nil
}

type appDetails struct {
	Success bool            `json:"success"`
	Data    *appDetailsData `json:"data"`
}

type appDetailsData struct {
	IsFree      bool `json:"is_free"`
	ReleaseDate struct {
		ComingSoon bool   `json:"coming_soon"`
		Date       string `json:"date"`
	} `json:"release_date"`
	PriceOverview *struct {
		Currency        string `json:"currency"`
		Initial         int64  `json:"initial"`
		Final           int64  `json:"final"`
		DiscountPercent int    `json:"discount_percent"`
	} `json:"price_overview"`
}

// observation maps the payload onto the flags the evaluator reads. A released,
// non-free entry with no price overview can no longer be bought.
func (d *appDetailsData) observation() domain.Observation {
	var obs domain.Observation
	if po := d.PriceOverview; po != nil {
		obs.CurrentPrice = decimal.NewFromInt(po.Final)
		obs.OriginalPrice = decimal.NewFromInt(po.Initial)
		obs.IsOnSale = po.Final < po.Initial
		obs.Currency = po.Currency
	}
	switch {
	case d.IsFree:
		obs.IsFree = true
	case d.ReleaseDate.ComingSoon:
		obs.IsUnreleased = true
	case d.PriceOverview == nil:
		obs.IsRemoved = true
	}
	return obs
}

func statusError(externalID string, status int, payload []byte) *FetchError {
	err := fmt.Errorf("storefront status %d", status)
	if body := strings.TrimSpace(string(payload)); body != "" && len(body) < 256 {
		err = fmt.Errorf("storefront status %d: %s", status, body)
	}
	switch {
	case status == http.StatusNotFound:
		return newError(KindNotFound, externalID, err)
	case status == http.StatusForbidden || status == http.StatusUnavailableForLegalReasons:
		return newError(KindRegionLocked, externalID, err)
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return newError(KindTimeout, externalID, err)
	default:
		return newError(KindUpstream, externalID, err)
	}
}

func userAgent(configured string) string {
	if ua := strings.TrimSpace(configured); ua != "" {
		return ua
	}
	return "pricewatch/1.0"
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return string(KindOf(err))
}

var _ PriceFetcher = (*Storefront)(nil)

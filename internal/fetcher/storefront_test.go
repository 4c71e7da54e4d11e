package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

func storefrontServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != appDetailsPath {
			t.Errorf("路径不正确: %s", r.URL.Path)
		}
		if r.URL.Query().Get("appids") != "440" {
			t.Errorf("appids 不正确: %s", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestStorefront(url string) *Storefront {
	return NewStorefront(StorefrontOptions{
		BaseURL:  url,
		Country:  "us",
		Language: "english",
		Timeout:  time.Second,
	}, noopLogger())
}

func TestStorefrontFetchDiscounted(t *testing.T) {
	srv := storefrontServer(t, http.StatusOK, `{"440":{"success":true,"data":{"is_free":false,
		"release_date":{"coming_soon":false,"date":"10 Oct, 2007"},
		"price_overview":{"currency":"USD","initial":2500,"final":1999,"discount_percent":20}}}}`)

	obs, err := newTestStorefront(srv.URL).Fetch(context.Background(), "440")
	if err != nil {
		t.Fatalf("成功响应不应报错: %v", err)
	}
	if !obs.CurrentPrice.Equal(decimal.NewFromInt(1999)) || !obs.OriginalPrice.Equal(decimal.NewFromInt(2500)) {
		t.Fatalf("价格解析错误: %+v", obs)
	}
	if !obs.IsOnSale || obs.IsFree || obs.IsUnreleased || obs.IsRemoved {
		t.Fatalf("标记解析错误: %+v", obs)
	}
	if obs.Currency != "USD" {
		t.Fatalf("币种应为 USD, 实际 %s", obs.Currency)
	}
}

func TestStorefrontFetchClassifies(t *testing.T) {
	cases := []struct {
		name       string
		data       string
		free       bool
		unreleased bool
		removed    bool
	}{
		{name: "free", data: `{"is_free":true,"release_date":{"coming_soon":false}}`, free: true},
		{name: "coming soon", data: `{"is_free":false,"release_date":{"coming_soon":true}}`, unreleased: true},
		{name: "no price", data: `{"is_free":false,"release_date":{"coming_soon":false}}`, removed: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := storefrontServer(t, http.StatusOK, `{"440":{"success":true,"data":`+tc.data+`}}`)
			obs, err := newTestStorefront(srv.URL).Fetch(context.Background(), "440")
			if err != nil {
				t.Fatalf("不应报错: %v", err)
			}
			if obs.IsFree != tc.free || obs.IsUnreleased != tc.unreleased || obs.IsRemoved != tc.removed {
				t.Fatalf("分类错误: %+v", obs)
			}
		})
	}
}

func TestStorefrontFetchErrorKinds(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   ErrorKind
	}{
		{name: "unsuccessful entry", status: http.StatusOK, body: `{"440":{"success":false}}`, want: KindNotFound},
		{name: "missing entry", status: http.StatusOK, body: `{}`, want: KindNotFound},
		{name: "http 404", status: http.StatusNotFound, body: ``, want: KindNotFound},
		{name: "http 403", status: http.StatusForbidden, body: `denied`, want: KindRegionLocked},
		{name: "http 502", status: http.StatusBadGateway, body: ``, want: KindUpstream},
		{name: "bad json", status: http.StatusOK, body: `{"440":`, want: KindDecode},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := storefrontServer(t, tc.status, tc.body)
			_, err := newTestStorefront(srv.URL).Fetch(context.Background(), "440")
			if err == nil {
				t.Fatal("应返回错误")
			}
			var fe *FetchError
			if !errors.As(err, &fe) {
				t.Fatalf("应为 *FetchError, 实际 %T", err)
			}
			if fe.Kind != tc.want || fe.ExternalID != "440" {
				t.Fatalf("错误类型应为 %s, 实际 %+v", tc.want, fe)
			}
		})
	}
}

func TestStorefrontFetchTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := newTestStorefront(srv.URL).Fetch(ctx, "440")
	if KindOf(err) != KindTimeout {
		t.Fatalf("超时应归类为 timeout, 实际 %v", err)
	}
}

func TestStorefrontLimiterSpacesRequests(t *testing.T) {
	srv := storefrontServer(t, http.StatusOK, `{"440":{"success":true,"data":{"is_free":true}}}`)
	sf := NewStorefront(StorefrontOptions{BaseURL: srv.URL, RequestsPerMinute: 600}, noopLogger())

	start := time.Now()
	for i := 0; i < 3; i++ {
		if _, err := sf.Fetch(context.Background(), "440"); err != nil {
			t.Fatalf("不应报错: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed < 150*time.Millisecond {
		t.Fatalf("限速未生效, 耗时 %s", elapsed)
	}
}

func TestKindOfUntypedError(t *testing.T) {
	if KindOf(nil) != "" {
		t.Fatal("nil 错误应无类型")
	}
	if KindOf(errors.New("boom")) != KindUpstream {
		t.Fatal("普通错误应归类为 upstream")
	}
	if KindOf(fmt.Errorf("wrap: %w", context.DeadlineExceeded)) != KindTimeout {
		t.Fatal("DeadlineExceeded 应归类为 timeout")
	}
}

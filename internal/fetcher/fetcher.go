package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net"

	"pricewatch/internal/domain"
)

// PriceFetcher retrieves the current storefront observation for one item.
type PriceFetcher interface {
	Fetch(ctx context.Context, externalID string) (domain.Observation, error)
}

// ErrorKind classifies why a fetch failed.
type ErrorKind string

const (
	KindNotFound     ErrorKind = "not_found"
	KindRegionLocked ErrorKind = "region_locked"
	KindTimeout      ErrorKind = "timeout"
	KindUpstream     ErrorKind = "upstream"
	KindDecode       ErrorKind = "decode"
)

// FetchError is the typed failure every fetcher returns.
type FetchError struct {
	Kind       ErrorKind
	ExternalID string
	Err        error
}

func (e *FetchError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("fetch %s: %s", e.ExternalID, e.Kind)
	}
	return fmt.Sprintf("fetch %s: %s: %v", e.ExternalID, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// KindOf extracts the failure kind, treating untyped errors as upstream failures.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if isTimeout(err) {
		return KindTimeout
	}
	return KindUpstream
}

func newError(kind ErrorKind, externalID string, err error) *FetchError {
	return &FetchError{Kind: kind, ExternalID: externalID, Err: err}
}

// transportError wraps a client.Do failure, separating timeouts from other upstream errors.
func transportError(externalID string, err error) *FetchError {
	if isTimeout(err) {
		return newError(KindTimeout, externalID, err)
	}
	return newError(KindUpstream, externalID, err)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

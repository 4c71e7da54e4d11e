package client

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrAlreadyRunning is returned when the server rejects a sweep because one is in progress.
var ErrAlreadyRunning = errors.New("already running")

// ErrNotFound is returned for unknown items or run ids.
var ErrNotFound = errors.New("not found")

// ErrorResponse is the error body of the API.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// SweepResponse is returned when a sweep is accepted.
type SweepResponse struct {
	Success bool   `json:"success"`
	RunID   string `json:"runId"`
}

// ItemRequest adds or updates a tracked item.
type ItemRequest struct {
	ExternalID    string `json:"externalId"`
	DisplayName   string `json:"displayName,omitempty"`
	Enabled       *bool  `json:"enabled,omitempty"`
	AlertEnabled  *bool  `json:"alertEnabled,omitempty"`
	Policy        string `json:"policy,omitempty"`
	WasUnreleased bool   `json:"wasUnreleased,omitempty"`
}

// Item mirrors a tracked item as served by the API.
type Item struct {
	ID            int64  `json:"id"`
	ExternalID    string `json:"externalId"`
	DisplayName   string `json:"displayName"`
	Enabled       bool   `json:"enabled"`
	AlertEnabled  bool   `json:"alertEnabled"`
	WasUnreleased bool   `json:"wasUnreleased"`
	Policy        *struct {
		Kind    string          `json:"kind"`
		Amount  decimal.Decimal `json:"amount"`
		Percent int             `json:"percent"`
	} `json:"policy,omitempty"`
}

// Alert mirrors a stored alert event.
type Alert struct {
	ID           int64           `json:"id"`
	ItemID       int64           `json:"itemId"`
	Kind         string          `json:"kind"`
	TriggerPrice decimal.Decimal `json:"triggerPrice"`
	PreviousLow  decimal.Decimal `json:"previousLow"`
	CreatedAt    time.Time       `json:"createdAt"`
}

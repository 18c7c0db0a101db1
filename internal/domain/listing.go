package domain

import (
	"strings"
	"time"
)

type Status string

const (
	StatusActive  Status = "ACTIVE"
	StatusEnded   Status = "ENDED"
	StatusSold    Status = "SOLD"
	StatusUnknown Status = "UNKNOWN"
)

// Statuses lists every value NormalizeStatus can return.
var Statuses = []Status{StatusActive, StatusEnded, StatusSold, StatusUnknown}

// NormalizeStatus maps marketplace status text onto the Status enumeration.
// Anything unrecognized, including the empty string, becomes StatusUnknown.
func NormalizeStatus(raw string) Status {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "active":
		return StatusActive
	case "ended", "completed", "unsold":
		return StatusEnded
	case "sold":
		return StatusSold
	default:
		return StatusUnknown
	}
}

// Listing is a marketplace listing normalized from one fetched page.
type Listing struct {
	ExternalID      string   `json:"external_id"`
	Status          Status   `json:"status"`
	Title           string   `json:"title"`
	CategoryID      string   `json:"category_id"`
	CategoryName    string   `json:"category_name"`
	PriceAmount     *float64 `json:"price_amount"`
	PriceCurrency   *string  `json:"price_currency"`
	PrimaryImageURL string   `json:"primary_image_url"`
	ViewURL         string   `json:"view_url"`
}

type Category struct {
	ID   string `db:"id"`
	Name string `db:"name"`
}

// StoreRow is the persisted listing keyed by (AccountID, ExternalID).
// CostAmount, Researcher and OwnerUserID belong to other subsystems.
type StoreRow struct {
	ID              int64      `db:"id"`
	AccountID       string     `db:"account_id"`
	ExternalID      string     `db:"external_id"`
	Status          Status     `db:"status"`
	Title           string     `db:"title"`
	CategoryID      *string    `db:"category_id"`
	PriceAmount     *float64   `db:"price_amount"`
	PriceCurrency   *string    `db:"price_currency"`
	PrimaryImageURL *string    `db:"primary_image_url"`
	ViewURL         *string    `db:"view_url"`
	CostAmount      *float64   `db:"cost_amount"`
	Researcher      *string    `db:"researcher"`
	OwnerUserID     *string    `db:"owner_user_id"`
	FirstSyncedAt   time.Time  `db:"first_synced_at"`
	LastSyncedAt    time.Time  `db:"last_synced_at"`
	UpdatedAt       *time.Time `db:"updated_at"`
}

// NewStoreRow builds the sync-owned part of a row from a listing.
func NewStoreRow(accountID string, l Listing, syncedAt time.Time) *StoreRow {
	return &StoreRow{
		AccountID:       accountID,
		ExternalID:      l.ExternalID,
		Status:          l.Status,
		Title:           l.Title,
		CategoryID:      nonEmpty(l.CategoryID),
		PriceAmount:     l.PriceAmount,
		PriceCurrency:   l.PriceCurrency,
		PrimaryImageURL: nonEmpty(l.PrimaryImageURL),
		ViewURL:         nonEmpty(l.ViewURL),
		FirstSyncedAt:   syncedAt,
		LastSyncedAt:    syncedAt,
	}
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Page is one page returned by the listing fetcher.
type Page struct {
	Number       int
	Listings     []Listing
	TotalEntries int
	TotalPages   int
	HasMoreItems bool
}

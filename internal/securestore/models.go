package securestore

import (
	"encoding/json"
	"time"

	"github.com/illarion/privkeep/internal/crypto"
)

// Bookmark is a saved page
type Bookmark struct {
	ID        string    `json:"id"`
	URL       string    `json:"url" validate:"required"`
	Title     string    `json:"title"`
	Favicon   string    `json:"favicon,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// HistoryEntry is a visited page
type HistoryEntry struct {
	ID         string    `json:"id"`
	URL        string    `json:"url" validate:"required"`
	Title      string    `json:"title"`
	Favicon    string    `json:"favicon,omitempty"`
	VisitCount int       `json:"visitCount" validate:"gte=0"`
	VisitedAt  time.Time `json:"visitedAt"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Setting is a decrypted key/value pair; Value holds JSON
type Setting struct {
	Key       string          `json:"key" validate:"required"`
	Value     json.RawMessage `json:"value"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

type bookmarkRow struct {
	ID        string           `json:"id"`
	URL       *crypto.Envelope `json:"url"`
	Title     *crypto.Envelope `json:"title"`
	Favicon   string           `json:"favicon,omitempty"`
	CreatedAt time.Time        `json:"createdAt"`
	UpdatedAt time.Time        `json:"updatedAt"`
}

type historyRow struct {
	ID         string           `json:"id"`
	URL        *crypto.Envelope `json:"url"`
	Title      *crypto.Envelope `json:"title"`
	Favicon    string           `json:"favicon,omitempty"`
	VisitCount int              `json:"visitCount"`
	LastVisit  time.Time        `json:"lastVisit"`
	CreatedAt  time.Time        `json:"createdAt"`
}

type settingRow struct {
	Key       string           `json:"key"`
	Value     *crypto.Envelope `json:"value"`
	UpdatedAt time.Time        `json:"updatedAt"`
}

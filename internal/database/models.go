package database

import (
	"encoding/json"
	"time"
)

// ItemSnapshot is one row of the append-only snapshot log: the state of one
// upstream item as seen by one sync run. "Latest" state is derived as
// MAX(id) per (shop_id, item_id); rows are never updated in place.
type ItemSnapshot struct {
	ID          int64
	RunID       string
	ShopID      string
	ItemID      string
	ItemUID     string
	Name        string
	IsActive    int
	Price       string
	RawJSON     json.RawMessage
	Fingerprint string
	CreatedAt   time.Time
}

// ItemChange is one row of the append-only change log, written only when a
// snapshot's fingerprint differs from the previous one (or no previous
// snapshot exists).
type ItemChange struct {
	ID         string
	RunID      string
	ShopID     string
	ItemID     string
	ItemUID    string
	ChangeJSON json.RawMessage
	CreatedAt  time.Time
}

// RunSummary aggregates one sync run's rows for the status API.
type RunSummary struct {
	RunID     string    `json:"runId"`
	Shops     int       `json:"shops"`
	Snapshots int       `json:"snapshots"`
	Changes   int       `json:"changes"`
	StartedAt time.Time `json:"startedAt"`
}

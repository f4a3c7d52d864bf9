// Package diff computes stable content fingerprints for upstream menu items
// and classifies each fetched record against its last stored snapshot.
package diff

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Classification is the outcome of comparing a fetched record to its
// previous snapshot.
type Classification int

const (
	// Unchanged: fingerprints match; snapshot is still appended for the
	// audit trail but no change record is written.
	Unchanged Classification = iota
	// Created: the item has no prior snapshot.
	Created
	// Changed: fingerprints differ.
	Changed
)

func (c Classification) String() string {
	switch c {
	case Unchanged:
		return "unchanged"
	case Created:
		return "created"
	case Changed:
		return "changed"
	default:
		return "unknown"
	}
}

// Record holds the item fields that participate in fingerprinting and
// field-level diffing. Price stays a string end-to-end: the upstream mixes
// numbers, numeric strings and blanks for the same field.
type Record struct {
	ShopID   string
	ItemID   string
	Name     string
	IsActive int
	Price    string
}

// FieldChange is one field's previous and current value in a change payload.
type FieldChange struct {
	From any `json:"from"`
	To   any `json:"to"`
}

// Result is the classification plus everything the writer needs: the new
// fingerprint and, for Changed, the per-field delta.
type Result struct {
	Class       Classification
	Fingerprint string
	Fields      map[string]FieldChange
}

// Fingerprint computes the stable content hash for a record. It is a
// function of (shop_id, item_id, normalized name, active flag, normalized
// price) only; raw payloads and timestamps must never feed into it or every
// snapshot would look changed.
func Fingerprint(r Record) string {
	canonical := strings.Join([]string{
		r.ShopID,
		r.ItemID,
		NormalizeName(r.Name),
		fmt.Sprintf("%d", NormalizeActive(r.IsActive)),
		NormalizePrice(r.Price),
	}, "|")
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

// NormalizeName collapses internal whitespace runs to single spaces and
// trims the ends.
func NormalizeName(name string) string {
	return strings.Join(strings.Fields(name), " ")
}

// NormalizePrice trims the string form of the price. Blank stays blank;
// numeric parsing is deliberately left to downstream reporting consumers.
func NormalizePrice(price string) string {
	return strings.TrimSpace(price)
}

// NormalizeActive coerces the upstream active flag to a strict 0/1.
func NormalizeActive(v int) int {
	if v != 0 {
		return 1
	}
	return 0
}

// Previous is the last stored snapshot for an item: its field values as
// stored plus the fingerprint recorded at the time.
type Previous struct {
	Record
	Fingerprint string
}

// Classify compares a fetched record against its previous snapshot (nil when
// none exists).
//
// The per-field comparison runs against the previous values as stored, not
// their normalized forms, so a fingerprint change caused purely by
// collapsible whitespace can yield a Changed result with an empty field map.
// That shape is part of the change-history contract; do not normalize it
// away.
func Classify(current Record, prev *Previous) Result {
	fingerprint := Fingerprint(current)

	if prev == nil {
		return Result{Class: Created, Fingerprint: fingerprint}
	}

	prevFingerprint := prev.Fingerprint
	if prevFingerprint == "" {
		prevFingerprint = Fingerprint(prev.Record)
	}
	if prevFingerprint == fingerprint {
		return Result{Class: Unchanged, Fingerprint: fingerprint}
	}

	// Previous values are compared as stored, current values in their
	// normalized form. Snapshots written by this writer store normalized
	// fields, so whitespace-only drift never shows up as a changed field.
	curName := NormalizeName(current.Name)
	curActive := NormalizeActive(current.IsActive)
	curPrice := NormalizePrice(current.Price)

	fields := make(map[string]FieldChange)
	if fmt.Sprint(prev.Name) != fmt.Sprint(curName) {
		fields["name"] = FieldChange{From: prev.Name, To: curName}
	}
	if fmt.Sprint(prev.IsActive) != fmt.Sprint(curActive) {
		fields["is_active"] = FieldChange{From: prev.IsActive, To: curActive}
	}
	if fmt.Sprint(prev.Price) != fmt.Sprint(curPrice) {
		fields["price"] = FieldChange{From: prev.Price, To: curPrice}
	}

	return Result{Class: Changed, Fingerprint: fingerprint, Fields: fields}
}

// Payload builds the structured change payload persisted alongside a
// non-Unchanged snapshot: {"created": true} for new items, otherwise the
// per-field from/to map.
func (r Result) Payload() map[string]any {
	switch r.Class {
	case Created:
		return map[string]any{"created": true}
	case Changed:
		payload := make(map[string]any, len(r.Fields))
		for field, change := range r.Fields {
			payload[field] = change
		}
		return payload
	default:
		return nil
	}
}

package diff

import (
	"testing"
)

func baseRecord() Record {
	return Record{
		ShopID:   "2001",
		ItemID:   "X1",
		Name:     "Chicken Rice",
		IsActive: 1,
		Price:    "4.50",
	}
}

func TestFingerprintDeterminism(t *testing.T) {
	record := baseRecord()
	first := Fingerprint(record)

	for i := 0; i < 1000; i++ {
		if got := Fingerprint(record); got != first {
			t.Fatalf("Iteration %d: fingerprint mismatch (got %s, want %s)", i, got, first)
		}
	}

	if len(first) != 64 {
		t.Errorf("Fingerprint length = %d, want 64 hex chars", len(first))
	}
}

func TestFingerprintWhitespaceInsensitive(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"Trailing space", "Chicken Rice "},
		{"Leading space", " Chicken Rice"},
		{"Double internal space", "Chicken  Rice"},
		{"Tabs and runs", "\tChicken \t Rice\t"},
	}

	canonical := Fingerprint(baseRecord())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			record := baseRecord()
			record.Name = tt.input
			if got := Fingerprint(record); got != canonical {
				t.Errorf("Fingerprint(%q) = %s, want canonical %s", tt.input, got, canonical)
			}
		})
	}
}

func TestFingerprintSensitivity(t *testing.T) {
	canonical := Fingerprint(baseRecord())

	tests := []struct {
		name   string
		mutate func(*Record)
	}{
		{"Different shop", func(r *Record) { r.ShopID = "2002" }},
		{"Different item", func(r *Record) { r.ItemID = "X2" }},
		{"Different name", func(r *Record) { r.Name = "Duck Rice" }},
		{"Different active flag", func(r *Record) { r.IsActive = 0 }},
		{"Different price", func(r *Record) { r.Price = "4.60" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			record := baseRecord()
			tt.mutate(&record)
			if got := Fingerprint(record); got == canonical {
				t.Errorf("Fingerprint unchanged after mutation %q", tt.name)
			}
		})
	}
}

func TestClassifyCreated(t *testing.T) {
	result := Classify(baseRecord(), nil)

	if result.Class != Created {
		t.Fatalf("Class = %v, want Created", result.Class)
	}
	payload := result.Payload()
	if created, ok := payload["created"].(bool); !ok || !created {
		t.Errorf("Payload = %v, want {created: true}", payload)
	}
}

func TestClassifyUnchanged(t *testing.T) {
	current := baseRecord()
	prev := &Previous{Record: baseRecord(), Fingerprint: Fingerprint(baseRecord())}

	result := Classify(current, prev)
	if result.Class != Unchanged {
		t.Fatalf("Class = %v, want Unchanged", result.Class)
	}
	if result.Payload() != nil {
		t.Errorf("Unchanged must produce no payload, got %v", result.Payload())
	}
}

func TestClassifyPriceOnlyChange(t *testing.T) {
	prev := &Previous{Record: baseRecord(), Fingerprint: Fingerprint(baseRecord())}
	current := baseRecord()
	current.Price = "5.00"

	result := Classify(current, prev)
	if result.Class != Changed {
		t.Fatalf("Class = %v, want Changed", result.Class)
	}
	if len(result.Fields) != 1 {
		t.Fatalf("Fields = %v, want exactly one key", result.Fields)
	}
	change, ok := result.Fields["price"]
	if !ok {
		t.Fatalf("Fields = %v, want price key", result.Fields)
	}
	if change.From != "4.50" || change.To != "5.00" {
		t.Errorf("price change = %+v, want from 4.50 to 5.00", change)
	}
}

// Replays the reference scenario: item X1 re-fetched with a deactivated flag
// and a whitespace-only name difference. Only is_active may appear in the
// diff payload.
func TestClassifyWhitespaceNameSuppressed(t *testing.T) {
	prevRecord := Record{
		ShopID:   "2001",
		ItemID:   "X1",
		Name:     "Chicken Rice", // as stored: normalized at write time
		IsActive: 1,
		Price:    "4.50",
	}
	prev := &Previous{Record: prevRecord, Fingerprint: Fingerprint(Record{
		ShopID: "2001", ItemID: "X1", Name: "Chicken  Rice ", IsActive: 1, Price: "4.50",
	})}

	current := Record{
		ShopID:   "2001",
		ItemID:   "X1",
		Name:     "Chicken Rice",
		IsActive: 0,
		Price:    "4.50",
	}

	result := Classify(current, prev)
	if result.Class != Changed {
		t.Fatalf("Class = %v, want Changed", result.Class)
	}
	if len(result.Fields) != 1 {
		t.Fatalf("Fields = %v, want only is_active", result.Fields)
	}
	change, ok := result.Fields["is_active"]
	if !ok {
		t.Fatalf("Fields = %v, want is_active key", result.Fields)
	}
	if change.From != 1 || change.To != 0 {
		t.Errorf("is_active change = %+v, want from 1 to 0", change)
	}
}

// A stored fingerprint that differs while every compared field matches must
// stay classified Changed with an empty field map. This shape is replicated
// from the diff granularity design; downstream change-history consumers
// depend on it.
func TestClassifyChangedWithEmptyFields(t *testing.T) {
	prev := &Previous{Record: baseRecord(), Fingerprint: "legacy-fingerprint-from-an-older-algorithm"}

	result := Classify(baseRecord(), prev)
	if result.Class != Changed {
		t.Fatalf("Class = %v, want Changed", result.Class)
	}
	if len(result.Fields) != 0 {
		t.Errorf("Fields = %v, want empty map", result.Fields)
	}
	if payload := result.Payload(); len(payload) != 0 {
		t.Errorf("Payload = %v, want empty", payload)
	}
}

func TestNormalizePrice(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"4.50", "4.50"},
		{" 4.50 ", "4.50"},
		{"", ""},
		{"  ", ""},
		{"12", "12"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := NormalizePrice(tt.input); got != tt.expected {
				t.Errorf("NormalizePrice(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestNormalizeActive(t *testing.T) {
	tests := []struct {
		input    int
		expected int
	}{
		{0, 0},
		{1, 1},
		{2, 1},
		{-1, 1},
	}

	for _, tt := range tests {
		if got := NormalizeActive(tt.input); got != tt.expected {
			t.Errorf("NormalizeActive(%d) = %d, want %d", tt.input, got, tt.expected)
		}
	}
}

// Package allocation plans how a requested document quantity is drawn
// from balance records.
package allocation

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/atlas-wms/atlas-wms/internal/balance"
)

// Entry is one planned or recorded draw of quantity from a single balance
// record for one document line. Entries travel through the pipeline as
// values; they are serialised to JSON only at the persistence boundary
// (the temp_qty_data column on document lines).
type Entry struct {
	balance.Key
	Category balance.Category `json:"inventory_category"`
	Quantity float64          `json:"quantity"`
}

// Delta converts the entry into a balance mutation.
func (e Entry) Delta() balance.Delta {
	return balance.Delta{Key: e.Key, Category: e.Category, Quantity: e.Quantity}
}

// Deltas converts a set of entries into balance mutations, preserving
// order.
func Deltas(entries []Entry) []balance.Delta {
	deltas := make([]balance.Delta, len(entries))
	for i, e := range entries {
		deltas[i] = e.Delta()
	}
	return deltas
}

// Total sums entry quantities.
func Total(entries []Entry) float64 {
	var total float64
	for _, e := range entries {
		total += e.Quantity
	}
	return round3(total)
}

// Marshal encodes entries for the temp_qty_data column.
func Marshal(entries []Entry) ([]byte, error) {
	if entries == nil {
		entries = []Entry{}
	}
	return json.Marshal(entries)
}

// Unmarshal decodes a temp_qty_data payload. An empty payload yields no
// entries.
func Unmarshal(data []byte) ([]Entry, error) {
	if len(data) == 0 {
		return []Entry{}, nil
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("allocation: decode entries: %w", err)
	}
	return entries, nil
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

// Package snapshot defines the metadata record of a frozen pool generation.
package snapshot

import "time"

const namePrefix = "entries-"

// Metadata describes one immutable snapshot generation. The record is written
// only after every slot copy group committed, so its existence marks the
// snapshot as complete.
type Metadata struct {
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	DocCount  int       `json:"doc_count"`
}

// NameAt derives the generation name from t at second granularity. Two
// generations created within the same second share a name; the later one
// overwrites the earlier.
func NameAt(t time.Time) string {
	return namePrefix + t.UTC().Format("20060102-150405")
}

// Package pool defines the singleton pool configuration record.
package pool

import "time"

const (
	// MinSize and MaxSize bound the configurable pool size; out-of-range
	// values are clamped, not rejected.
	MinSize = 1
	MaxSize = 5000

	// DefaultSize applies when the configuration record has never been written.
	DefaultSize = 200
)

// Config is the singleton pool configuration. WinningSlot zero means no
// winner is currently announced.
type Config struct {
	DisplayName string    `json:"display_name"`
	Size        int       `json:"pool_size"`
	DrawDate    string    `json:"draw_date"`
	WinningSlot int       `json:"winning_slot,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Default returns the configuration assumed before the first save.
func Default() Config {
	return Config{Size: DefaultSize}
}

// ClampSize pulls n into [MinSize, MaxSize].
func ClampSize(n int) int {
	if n < MinSize {
		return MinSize
	}
	if n > MaxSize {
		return MaxSize
	}
	return n
}

// WinnerAnnounced reports whether a winning slot is currently recorded.
func (c Config) WinnerAnnounced() bool {
	return c.WinningSlot != 0
}

package storage

import "fmt"

// DefaultMaxGroupSize is the operation-group ceiling assumed when the
// deployment does not configure one. It reflects the write-batch capacity of
// the backing stores and is injected into the engines, never read at mutation
// sites directly.
const DefaultMaxGroupSize = 450

// Partition splits numbers into consecutive groups of at most size elements,
// preserving order. A size below one falls back to DefaultMaxGroupSize.
func Partition(numbers []int, size int) [][]int {
	if size < 1 {
		size = DefaultMaxGroupSize
	}
	if len(numbers) == 0 {
		return nil
	}
	groups := make([][]int, 0, (len(numbers)+size-1)/size)
	for start := 0; start < len(numbers); start += size {
		end := start + size
		if end > len(numbers) {
			end = len(numbers)
		}
		groups = append(groups, numbers[start:end])
	}
	return groups
}

// PartialError reports a grouped mutation that stopped at a failed group.
// Groups before FailedGroup are committed and stay committed; groups after it
// were not attempted. Retrying the whole selection is safe because group
// writes are idempotent.
type PartialError struct {
	FailedGroup int // zero-based index of the failed group
	Applied     int // groups committed before the failure
	Total       int // groups planned
	Err         error
}

func (e *PartialError) Error() string {
	return fmt.Sprintf("operation group %d of %d failed after %d applied: %v",
		e.FailedGroup+1, e.Total, e.Applied, e.Err)
}

func (e *PartialError) Unwrap() error { return e.Err }

// Package bulkops applies one action to many slots at once. Large requests
// are split into bounded operation groups committed in ascending order, so a
// mid-flight failure leaves a clean prefix of applied groups behind.
package bulkops

import (
	"context"
	"errors"
	"sort"

	"github.com/raffleworks/slotpool/internal/app/domain/slot"
	"github.com/raffleworks/slotpool/internal/app/metrics"
	"github.com/raffleworks/slotpool/internal/app/storage"
	"github.com/raffleworks/slotpool/pkg/logger"
)

var (
	// ErrNoNumbers reports a bulk request without slot numbers.
	ErrNoNumbers = errors.New("at least one slot number is required")
	// ErrUnknownAction reports an unrecognised bulk action.
	ErrUnknownAction = errors.New("unknown bulk action")
)

// GroupResult describes one attempted operation group.
type GroupResult struct {
	Index   int    `json:"index"`
	Size    int    `json:"size"`
	First   int    `json:"first"`
	Last    int    `json:"last"`
	Applied bool   `json:"applied"`
	Error   string `json:"error,omitempty"`
}

// Report summarises a bulk mutation across all of its operation groups.
type Report struct {
	Action        slot.BulkAction `json:"action"`
	Numbers       int             `json:"numbers"`
	TotalGroups   int             `json:"total_groups"`
	AppliedGroups int             `json:"applied_groups"`
	Groups        []GroupResult   `json:"groups"`
}

// Service executes grouped bulk mutations against the slot store.
type Service struct {
	slots        storage.SlotStore
	maxGroupSize int
	log          *logger.Logger
}

// New constructs the bulk operations service. maxGroupSize values below one
// fall back to the default group bound.
func New(slots storage.SlotStore, maxGroupSize int, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("bulkops")
	}
	if maxGroupSize < 1 {
		maxGroupSize = storage.DefaultMaxGroupSize
	}
	return &Service{slots: slots, maxGroupSize: maxGroupSize, log: log}
}

// MaxGroupSize reports the configured group bound.
func (s *Service) MaxGroupSize() int { return s.maxGroupSize }

// Apply runs action over numbers, committing one operation group at a time
// in ascending order. Numbers without a live reservation are skipped. When a
// group fails, groups before it stay applied and the returned error reports
// how far the run got.
func (s *Service) Apply(ctx context.Context, action slot.BulkAction, numbers []int) (Report, error) {
	if !action.Valid() {
		return Report{}, ErrUnknownAction
	}
	if len(numbers) == 0 {
		return Report{}, ErrNoNumbers
	}

	wanted := dedupe(numbers)
	groups := storage.Partition(wanted, s.maxGroupSize)

	report := Report{
		Action:      action,
		Numbers:     len(wanted),
		TotalGroups: len(groups),
		Groups:      make([]GroupResult, 0, len(groups)),
	}

	for i, group := range groups {
		result := GroupResult{
			Index: i,
			Size:  len(group),
			First: group[0],
			Last:  group[len(group)-1],
		}

		err := ctx.Err()
		if err == nil {
			err = s.applyGroup(ctx, action, group)
		}
		if err != nil {
			result.Error = err.Error()
			report.Groups = append(report.Groups, result)
			metrics.RecordBulkGroups(string(action), report.AppliedGroups, 1)
			s.log.WithError(err).
				WithField("action", string(action)).
				WithField("group", i).
				Warn("bulk operation group failed")
			return report, &storage.PartialError{
				FailedGroup: i,
				Applied:     report.AppliedGroups,
				Total:       len(groups),
				Err:         err,
			}
		}

		result.Applied = true
		report.AppliedGroups++
		report.Groups = append(report.Groups, result)
	}

	metrics.RecordBulkGroups(string(action), report.AppliedGroups, 0)
	s.log.WithField("action", string(action)).
		WithField("numbers", report.Numbers).
		WithField("groups", report.TotalGroups).
		Info("bulk operation applied")
	return report, nil
}

func (s *Service) applyGroup(ctx context.Context, action slot.BulkAction, group []int) error {
	switch action {
	case slot.ActionMarkPaid:
		return s.slots.SetPaid(ctx, group, true)
	case slot.ActionMarkPending:
		return s.slots.SetPaid(ctx, group, false)
	case slot.ActionDelete:
		return s.slots.DeleteSlots(ctx, group)
	default:
		return ErrUnknownAction
	}
}

func dedupe(numbers []int) []int {
	sorted := make([]int, len(numbers))
	copy(sorted, numbers)
	sort.Ints(sorted)

	out := make([]int, 0, len(sorted))
	for i, n := range sorted {
		if i == 0 || n != sorted[i-1] {
			out = append(out, n)
		}
	}
	return out
}

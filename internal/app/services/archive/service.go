// Package archive freezes point-in-time copies of the slot table into named
// generations. A generation becomes visible only once its metadata record is
// written, which happens after every slot copy has landed.
package archive

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"strconv"
	"time"

	"github.com/raffleworks/slotpool/internal/app/domain/slot"
	"github.com/raffleworks/slotpool/internal/app/domain/snapshot"
	"github.com/raffleworks/slotpool/internal/app/metrics"
	"github.com/raffleworks/slotpool/internal/app/storage"
	"github.com/raffleworks/slotpool/pkg/logger"
)

// ErrEmptyPool reports a snapshot attempt over a pool with no reservations.
var ErrEmptyPool = errors.New("no reserved slots to snapshot")

var csvHeader = []string{"number", "claimant_name", "paid", "reserved_at"}

// Service creates and reads snapshot generations.
type Service struct {
	slots        storage.SlotStore
	snapshots    storage.SnapshotStore
	maxGroupSize int
	log          *logger.Logger
}

// New constructs the archive service. maxGroupSize values below one fall
// back to the default group bound.
func New(slots storage.SlotStore, snapshots storage.SnapshotStore, maxGroupSize int, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("archive")
	}
	if maxGroupSize < 1 {
		maxGroupSize = storage.DefaultMaxGroupSize
	}
	return &Service{slots: slots, snapshots: snapshots, maxGroupSize: maxGroupSize, log: log}
}

// Generate copies the current slot table into a new timestamp-named
// generation. Copies are committed in bounded groups and the metadata record
// is written last, so readers never observe a half-written generation.
func (s *Service) Generate(ctx context.Context) (snapshot.Metadata, error) {
	live, err := s.slots.ListSlots(ctx)
	if err != nil {
		metrics.RecordSnapshot("error", 0)
		return snapshot.Metadata{}, err
	}
	if len(live) == 0 {
		metrics.RecordSnapshot("empty", 0)
		return snapshot.Metadata{}, ErrEmptyPool
	}

	now := time.Now().UTC()
	name := snapshot.NameAt(now)
	total := (len(live) + s.maxGroupSize - 1) / s.maxGroupSize

	for start, idx := 0, 0; start < len(live); start, idx = start+s.maxGroupSize, idx+1 {
		end := start + s.maxGroupSize
		if end > len(live) {
			end = len(live)
		}

		groupErr := ctx.Err()
		if groupErr == nil {
			groupErr = s.snapshots.CopySlots(ctx, name, live[start:end])
		}
		if groupErr != nil {
			metrics.RecordSnapshot("partial", 0)
			s.log.WithError(groupErr).WithField("name", name).WithField("group", idx).Warn("snapshot copy group failed")
			return snapshot.Metadata{}, &storage.PartialError{
				FailedGroup: idx,
				Applied:     idx,
				Total:       total,
				Err:         groupErr,
			}
		}
	}

	meta := snapshot.Metadata{Name: name, CreatedAt: now, DocCount: len(live)}
	if err := s.snapshots.PutMetadata(ctx, meta); err != nil {
		metrics.RecordSnapshot("error", 0)
		return snapshot.Metadata{}, err
	}

	metrics.RecordSnapshot("created", len(live))
	s.log.WithField("name", name).WithField("docs", meta.DocCount).Info("snapshot created")
	return meta, nil
}

// View returns the slots frozen in a generation, ascending by number. Only
// generations with a metadata record are readable; anything else reports
// not found, including half-written copies.
func (s *Service) View(ctx context.Context, name string) ([]slot.Slot, error) {
	if _, err := s.snapshots.GetMetadata(ctx, name); err != nil {
		return nil, err
	}
	return s.snapshots.ListSnapshotSlots(ctx, name)
}

// List returns the metadata of all completed generations, newest first.
func (s *Service) List(ctx context.Context) ([]snapshot.Metadata, error) {
	return s.snapshots.ListMetadata(ctx)
}

// ExportCSV writes a generation to w as CSV with a header row.
func (s *Service) ExportCSV(ctx context.Context, name string, w io.Writer) error {
	slots, err := s.View(ctx, name)
	if err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, rec := range slots {
		row := []string{
			strconv.Itoa(rec.Number),
			rec.ClaimantName,
			strconv.FormatBool(rec.Paid),
			rec.ReservedAt.UTC().Format(time.RFC3339),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

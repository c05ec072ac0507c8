// Package redis implements the storage interfaces on Redis. Slots live under
// string-encoded keys "slot:1".."slot:N" so the keyed layout of the pool is
// literal; reservations use WATCH-based optimistic transactions over exactly
// the requested keys.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strconv"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"github.com/raffleworks/slotpool/internal/app/domain/pool"
	"github.com/raffleworks/slotpool/internal/app/domain/slot"
	"github.com/raffleworks/slotpool/internal/app/domain/snapshot"
	"github.com/raffleworks/slotpool/internal/app/storage"
)

const (
	slotKeyPrefix  = "slot:"
	slotIndexKey   = "slots:index"
	configKey      = "pool:config"
	snapIndexKey   = "snapshots:index"
	snapMetaPrefix = "snapshot:meta:"
	snapDataPrefix = "snapshot:data:"

	// reserveAttempts bounds the optimistic-transaction retry loop.
	reserveAttempts = 3
)

// Store implements the storage interfaces backed by a Redis server.
type Store struct {
	client *goredis.Client
	feed   storage.Notifier
}

var _ storage.SlotStore = (*Store)(nil)
var _ storage.ConfigStore = (*Store)(nil)
var _ storage.SnapshotStore = (*Store)(nil)

// New creates a Store using the provided client.
func New(client *goredis.Client) *Store {
	return &Store{client: client}
}

type slotRecord struct {
	ClaimantName string    `json:"claimant_name"`
	Paid         bool      `json:"paid"`
	ReservedAt   time.Time `json:"reserved_at"`
}

func slotKey(number int) string {
	return slotKeyPrefix + strconv.Itoa(number)
}

func marshalSlot(rec slot.Slot) (string, error) {
	raw, err := json.Marshal(slotRecord{
		ClaimantName: rec.ClaimantName,
		Paid:         rec.Paid,
		ReservedAt:   rec.ReservedAt,
	})
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func unmarshalSlot(number int, raw string) (slot.Slot, error) {
	var rec slotRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return slot.Slot{}, err
	}
	return slot.Slot{
		Number:       number,
		ClaimantName: rec.ClaimantName,
		Paid:         rec.Paid,
		ReservedAt:   rec.ReservedAt,
	}, nil
}

// --- SlotStore --------------------------------------------------------------

// ReserveSlots checks and creates the requested numbers under WATCH of
// exactly those keys. A concurrent write to any of them fails the EXEC and
// the attempt is retried up to reserveAttempts times.
func (s *Store) ReserveSlots(ctx context.Context, claimant string, numbers []int) ([]slot.Slot, error) {
	sorted := append([]int(nil), numbers...)
	sort.Ints(sorted)

	keys := make([]string, len(sorted))
	for i, n := range sorted {
		keys[i] = slotKey(n)
	}

	var created []slot.Slot
	txf := func(tx *goredis.Tx) error {
		for i, key := range keys {
			err := tx.Get(ctx, key).Err()
			switch {
			case err == nil:
				return storage.ConflictError{Number: sorted[i]}
			case !errors.Is(err, goredis.Nil):
				return err
			}
		}

		now := time.Now().UTC()
		created = created[:0]
		payloads := make([]string, len(sorted))
		for i, n := range sorted {
			rec := slot.Slot{Number: n, ClaimantName: claimant, ReservedAt: now}
			payload, err := marshalSlot(rec)
			if err != nil {
				return err
			}
			payloads[i] = payload
			created = append(created, rec)
		}

		_, err := tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			for i, key := range keys {
				pipe.Set(ctx, key, payloads[i], 0)
				pipe.SAdd(ctx, slotIndexKey, strconv.Itoa(sorted[i]))
			}
			return nil
		})
		return err
	}

	var lastErr error
	for attempt := 0; attempt < reserveAttempts; attempt++ {
		err := s.client.Watch(ctx, txf, keys...)
		if err == nil {
			s.feed.Publish(storage.Change{Kind: storage.ChangeReserved, Slots: created})
			return created, nil
		}
		if !errors.Is(err, goredis.TxFailedErr) {
			return nil, err
		}
		lastErr = err
	}
	return nil, &storage.UnavailableError{Err: lastErr}
}

func (s *Store) GetSlot(ctx context.Context, number int) (slot.Slot, error) {
	raw, err := s.client.Get(ctx, slotKey(number)).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return slot.Slot{}, storage.ErrNotFound
		}
		return slot.Slot{}, err
	}
	return unmarshalSlot(number, raw)
}

func (s *Store) ListSlots(ctx context.Context) ([]slot.Slot, error) {
	members, err := s.client.SMembers(ctx, slotIndexKey).Result()
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, nil
	}

	numbers := make([]int, 0, len(members))
	keys := make([]string, 0, len(members))
	for _, m := range members {
		n, err := strconv.Atoi(m)
		if err != nil {
			continue
		}
		numbers = append(numbers, n)
		keys = append(keys, slotKey(n))
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	result := make([]slot.Slot, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		rec, err := unmarshalSlot(numbers[i], raw)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}

	sort.Slice(result, func(i, j int) bool { return result[i].Number < result[j].Number })
	return result, nil
}

// SetPaid rewrites every present key of the group under WATCH so a concurrent
// delete cannot resurrect a slot.
func (s *Store) SetPaid(ctx context.Context, numbers []int, paid bool) error {
	if len(numbers) == 0 {
		return nil
	}
	keys := make([]string, len(numbers))
	for i, n := range numbers {
		keys[i] = slotKey(n)
	}

	var updated []slot.Slot
	txf := func(tx *goredis.Tx) error {
		updated = updated[:0]
		payloads := make(map[string]string, len(numbers))
		for i, key := range keys {
			raw, err := tx.Get(ctx, key).Result()
			if errors.Is(err, goredis.Nil) {
				continue
			}
			if err != nil {
				return err
			}
			rec, err := unmarshalSlot(numbers[i], raw)
			if err != nil {
				return err
			}
			rec.Paid = paid
			payload, err := marshalSlot(rec)
			if err != nil {
				return err
			}
			payloads[key] = payload
			updated = append(updated, rec)
		}
		if len(payloads) == 0 {
			return nil
		}
		_, err := tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			for key, payload := range payloads {
				pipe.Set(ctx, key, payload, 0)
			}
			return nil
		})
		return err
	}

	var lastErr error
	for attempt := 0; attempt < reserveAttempts; attempt++ {
		err := s.client.Watch(ctx, txf, keys...)
		if err == nil {
			if len(updated) > 0 {
				s.feed.Publish(storage.Change{Kind: storage.ChangeUpdated, Slots: updated})
			}
			return nil
		}
		if !errors.Is(err, goredis.TxFailedErr) {
			return err
		}
		lastErr = err
	}
	return &storage.UnavailableError{Err: lastErr}
}

// DeleteSlots removes the group's keys. Deletion is blind and idempotent, so
// no WATCH is needed.
func (s *Store) DeleteSlots(ctx context.Context, numbers []int) error {
	if len(numbers) == 0 {
		return nil
	}
	keys := make([]string, len(numbers))
	members := make([]interface{}, len(numbers))
	for i, n := range numbers {
		keys[i] = slotKey(n)
		members[i] = strconv.Itoa(n)
	}

	removed, err := s.client.Del(ctx, keys...).Result()
	if err != nil {
		return err
	}
	if err := s.client.SRem(ctx, slotIndexKey, members...).Err(); err != nil {
		return err
	}

	if removed > 0 {
		s.feed.Publish(storage.Change{Kind: storage.ChangeDeleted, Numbers: numbers})
	}
	return nil
}

func (s *Store) Subscribe(fn func(storage.Change)) func() {
	return s.feed.Subscribe(fn)
}

// --- ConfigStore ------------------------------------------------------------

func (s *Store) GetConfig(ctx context.Context) (pool.Config, error) {
	raw, err := s.client.Get(ctx, configKey).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return pool.Config{}, storage.ErrNotFound
		}
		return pool.Config{}, err
	}
	var cfg pool.Config
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return pool.Config{}, err
	}
	return cfg, nil
}

func (s *Store) SaveConfig(ctx context.Context, cfg pool.Config) (pool.Config, error) {
	var stored pool.Config
	txf := func(tx *goredis.Tx) error {
		current, err := tx.Get(ctx, configKey).Result()
		switch {
		case err == nil:
			var prev pool.Config
			if err := json.Unmarshal([]byte(current), &prev); err != nil {
				return err
			}
			cfg.WinningSlot = prev.WinningSlot
		case errors.Is(err, goredis.Nil):
			cfg.WinningSlot = 0
		default:
			return err
		}

		cfg.UpdatedAt = time.Now().UTC()
		raw, err := json.Marshal(cfg)
		if err != nil {
			return err
		}
		stored = cfg
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, configKey, string(raw), 0)
			return nil
		})
		return err
	}

	var lastErr error
	for attempt := 0; attempt < reserveAttempts; attempt++ {
		err := s.client.Watch(ctx, txf, configKey)
		if err == nil {
			return stored, nil
		}
		if !errors.Is(err, goredis.TxFailedErr) {
			return pool.Config{}, err
		}
		lastErr = err
	}
	return pool.Config{}, &storage.UnavailableError{Err: lastErr}
}

func (s *Store) SetWinningSlot(ctx context.Context, number int) error {
	txf := func(tx *goredis.Tx) error {
		cfg := pool.Default()
		current, err := tx.Get(ctx, configKey).Result()
		switch {
		case err == nil:
			if err := json.Unmarshal([]byte(current), &cfg); err != nil {
				return err
			}
		case !errors.Is(err, goredis.Nil):
			return err
		}

		cfg.WinningSlot = number
		cfg.UpdatedAt = time.Now().UTC()
		raw, err := json.Marshal(cfg)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, configKey, string(raw), 0)
			return nil
		})
		return err
	}

	var lastErr error
	for attempt := 0; attempt < reserveAttempts; attempt++ {
		err := s.client.Watch(ctx, txf, configKey)
		if err == nil {
			return nil
		}
		if !errors.Is(err, goredis.TxFailedErr) {
			return err
		}
		lastErr = err
	}
	return &storage.UnavailableError{Err: lastErr}
}

// --- SnapshotStore ----------------------------------------------------------

// CopySlots writes one group as a single HSET into the generation's hash.
func (s *Store) CopySlots(ctx context.Context, name string, slots []slot.Slot) error {
	if len(slots) == 0 {
		return nil
	}
	fields := make(map[string]interface{}, len(slots))
	for _, rec := range slots {
		payload, err := marshalSlot(rec)
		if err != nil {
			return err
		}
		fields[strconv.Itoa(rec.Number)] = payload
	}
	return s.client.HSet(ctx, snapDataPrefix+name, fields).Err()
}

func (s *Store) PutMetadata(ctx context.Context, meta snapshot.Metadata) error {
	raw, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, snapMetaPrefix+meta.Name, string(raw), 0)
		pipe.SAdd(ctx, snapIndexKey, meta.Name)
		return nil
	})
	return err
}

func (s *Store) GetMetadata(ctx context.Context, name string) (snapshot.Metadata, error) {
	raw, err := s.client.Get(ctx, snapMetaPrefix+name).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return snapshot.Metadata{}, storage.ErrNotFound
		}
		return snapshot.Metadata{}, err
	}
	var meta snapshot.Metadata
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return snapshot.Metadata{}, err
	}
	return meta, nil
}

func (s *Store) ListMetadata(ctx context.Context) ([]snapshot.Metadata, error) {
	names, err := s.client.SMembers(ctx, snapIndexKey).Result()
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, nil
	}

	keys := make([]string, len(names))
	for i, name := range names {
		keys[i] = snapMetaPrefix + name
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	result := make([]snapshot.Metadata, 0, len(values))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var meta snapshot.Metadata
		if err := json.Unmarshal([]byte(raw), &meta); err != nil {
			return nil, err
		}
		result = append(result, meta)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].Name > result[j].Name
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (s *Store) ListSnapshotSlots(ctx context.Context, name string) ([]slot.Slot, error) {
	fields, err := s.client.HGetAll(ctx, snapDataPrefix+name).Result()
	if err != nil {
		return nil, err
	}

	result := make([]slot.Slot, 0, len(fields))
	for field, raw := range fields {
		n, err := strconv.Atoi(field)
		if err != nil {
			continue
		}
		rec, err := unmarshalSlot(n, raw)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}

	sort.Slice(result, func(i, j int) bool { return result[i].Number < result[j].Number })
	return result, nil
}

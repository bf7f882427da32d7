// Package presence holds the authoritative in-memory table of vendor presence
// and the pipeline that applies updates to it in per-vendor order.
package presence

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"beacon/internal/domain/entity"
	"beacon/internal/domain/repository"
	"beacon/internal/errors"
)

// ErrMissingVendorID is returned for updates without a vendor identifier.
var ErrMissingVendorID = errors.New("update is missing a vendor id")

// Update is a validated presence intent headed for the store.
// Sequence 0 asks the store to assign the next per-vendor sequence;
// a non-zero sequence must be strictly greater than the stored one.
type Update struct {
	VendorID  string
	Kind      entity.EventKind
	Latitude  float64
	Longitude float64
	Address   string
	Sequence  uint64
}

// Result reports the outcome of applying an update.
type Result struct {
	// Applied is false when the update was stale and dropped without mutation.
	Applied bool

	// Previous is the presence snapshot before this update, nil when the
	// vendor was unknown. The dispatcher uses it for boundary-exit detection.
	Previous *entity.VendorPresence

	// Current is the presence snapshot after the update, nil when not applied.
	Current *entity.VendorPresence
}

// Stats exposes store counters for observability.
type Stats struct {
	Applied      uint64
	StaleDropped uint64
	Vendors      int
}

// writeThroughSink receives applied snapshots for asynchronous persistence.
type writeThroughSink interface {
	Enqueue(presence *entity.VendorPresence)
}

const shardCount = 32

type record struct {
	presence entity.VendorPresence
	lastSeen time.Time
}

type shard struct {
	mu      sync.Mutex
	vendors map[string]*record
}

// Store is the authoritative presence table. It is sharded by vendor-id hash:
// updates for one vendor serialize on the shard lock while unrelated vendors
// proceed in parallel.
type Store struct {
	shards [shardCount]*shard
	repo   repository.PresenceRepository
	sink   writeThroughSink
	logger *slog.Logger
	now    func() time.Time

	applied      atomic.Uint64
	staleDropped atomic.Uint64
}

// NewStore creates a presence store backed by repo for cold-start hydration.
// sink may be nil in tests that do not exercise write-through.
func NewStore(repo repository.PresenceRepository, sink writeThroughSink, logger *slog.Logger) *Store {
	s := &Store{
		repo:   repo,
		sink:   sink,
		logger: logger,
		now:    time.Now,
	}
	for i := range s.shards {
		s.shards[i] = &shard{vendors: make(map[string]*record)}
	}

	return s
}

func shardIndex(vendorID string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(vendorID))

	return h.Sum32() % shardCount
}

func (s *Store) shard(vendorID string) *shard {
	return s.shards[shardIndex(vendorID)]
}

// Apply applies an update if it is strictly newer than the stored state.
// A stale update returns Result{Applied: false} and performs no mutation;
// this check is the single ordering guarantee the subsystem depends on.
func (s *Store) Apply(ctx context.Context, u Update) (Result, error) {
	if u.VendorID == "" {
		return Result{}, ErrMissingVendorID
	}

	s.hydrate(ctx, u.VendorID)

	sh := s.shard(u.VendorID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	rec, known := sh.vendors[u.VendorID]
	if !known {
		if u.Kind == entity.EventOffline {
			// Nothing to take offline; rows are created lazily on first online.
			s.staleDropped.Add(1)

			return Result{Applied: false}, nil
		}
		rec = &record{presence: entity.VendorPresence{VendorID: u.VendorID}}
		sh.vendors[u.VendorID] = rec
	}

	seq := u.Sequence
	if seq == 0 {
		seq = rec.presence.Sequence + 1
	} else if seq <= rec.presence.Sequence {
		s.staleDropped.Add(1)

		return Result{Applied: false}, nil
	}

	var previous *entity.VendorPresence
	if known {
		prev := rec.presence
		previous = &prev
	}

	switch u.Kind {
	case entity.EventOnline, entity.EventMoved:
		rec.presence.IsOnline = true
		rec.presence.Latitude = u.Latitude
		rec.presence.Longitude = u.Longitude
		if u.Address != "" {
			rec.presence.Address = u.Address
		}
	case entity.EventOffline:
		// Coordinates are retained so the dispatcher can notify subscribers
		// at the vendor's last known location.
		rec.presence.IsOnline = false
	default:
		return Result{}, errors.Errorf("unknown update kind: %s", u.Kind)
	}

	rec.presence.Sequence = seq
	rec.presence.UpdatedAt = s.now()
	rec.lastSeen = rec.presence.UpdatedAt
	s.applied.Add(1)

	current := rec.presence
	if s.sink != nil {
		snapshot := current
		s.sink.Enqueue(&snapshot)
	}

	return Result{Applied: true, Previous: previous, Current: &current}, nil
}

// Get returns the current presence for a vendor, lazily hydrating from the
// durable store when the vendor is not yet in memory.
func (s *Store) Get(ctx context.Context, vendorID string) (*entity.VendorPresence, bool) {
	s.hydrate(ctx, vendorID)

	sh := s.shard(vendorID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	rec, ok := sh.vendors[vendorID]
	if !ok {
		return nil, false
	}
	snapshot := rec.presence

	return &snapshot, true
}

// Online returns a snapshot of every vendor currently broadcasting. Backs
// the full-refresh endpoint clients reconcile against after reconnects.
func (s *Store) Online() []*entity.VendorPresence {
	var online []*entity.VendorPresence
	for _, sh := range s.shards {
		sh.mu.Lock()
		for _, rec := range sh.vendors {
			if rec.presence.IsOnline {
				snapshot := rec.presence
				online = append(online, &snapshot)
			}
		}
		sh.mu.Unlock()
	}

	return online
}

// Touch refreshes a vendor's liveness clock without mutating presence,
// used for heartbeat traffic that carries no location.
func (s *Store) Touch(vendorID string) {
	sh := s.shard(vendorID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if rec, ok := sh.vendors[vendorID]; ok {
		rec.lastSeen = s.now()
	}
}

// SilentSince returns the ids of online vendors with no traffic since cutoff.
func (s *Store) SilentSince(cutoff time.Time) []string {
	var silent []string
	for _, sh := range s.shards {
		sh.mu.Lock()
		for id, rec := range sh.vendors {
			if rec.presence.IsOnline && rec.lastSeen.Before(cutoff) {
				silent = append(silent, id)
			}
		}
		sh.mu.Unlock()
	}

	return silent
}

// Stats returns store counters.
func (s *Store) Stats() Stats {
	stats := Stats{
		Applied:      s.applied.Load(),
		StaleDropped: s.staleDropped.Load(),
	}
	for _, sh := range s.shards {
		sh.mu.Lock()
		stats.Vendors += len(sh.vendors)
		sh.mu.Unlock()
	}

	return stats
}

// hydrate loads the durable row for a vendor not yet in memory. Failures are
// logged and swallowed: in-memory presence stays authoritative either way.
func (s *Store) hydrate(ctx context.Context, vendorID string) {
	sh := s.shard(vendorID)

	sh.mu.Lock()
	_, ok := sh.vendors[vendorID]
	sh.mu.Unlock()
	if ok {
		return
	}

	stored, err := s.repo.FindPresenceByVendor(ctx, vendorID)
	if err != nil {
		if !errors.Is(err, repository.ErrPresenceNotFound) {
			s.logger.Warn("presence hydration failed",
				slog.String("vendor_id", vendorID),
				slog.Any("error", err),
			)
		}

		return
	}

	sh.mu.Lock()
	defer sh.mu.Unlock()
	// An update may have raced the load; the live copy wins.
	if _, ok := sh.vendors[vendorID]; !ok {
		sh.vendors[vendorID] = &record{presence: *stored, lastSeen: s.now()}
	}
}

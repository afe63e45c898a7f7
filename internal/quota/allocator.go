// Package quota implements balanced condition assignment with a hard
// per-cell capacity ceiling.
package quota

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/avh-lab/repchat/internal/domain"
	"github.com/avh-lab/repchat/internal/shared"
	"github.com/avh-lab/repchat/internal/store"
)

// DefaultCapacity is the per-cell ceiling in the reference configuration.
const DefaultCapacity = 4

const saveRetries = 3

// Allocator assigns participants to conditions. The whole
// load-filter-pick-increment-save sequence runs under one process-wide
// mutex: two concurrent participants of the same subtype must never
// both observe a cell at capacity-1 and push it past the ceiling.
type Allocator struct {
	mu       sync.Mutex
	repo     store.Repository
	capacity int
	rng      *rand.Rand
	logger   *slog.Logger
}

// New creates an allocator over the given counter store. capacity <= 0
// falls back to DefaultCapacity.
func New(repo store.Repository, capacity int, rng *rand.Rand, logger *slog.Logger) *Allocator {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Allocator{repo: repo, capacity: capacity, rng: rng, logger: logger}
}

// Capacity returns the per-cell ceiling.
func (a *Allocator) Capacity() int {
	return a.capacity
}

// Assign atomically picks one under-quota condition for the subtype,
// uniformly at random, increments its cell and persists. Returns
// domain.ErrQuotaExhausted without mutating when no condition has room.
// A persistence failure propagates: the increment is never dropped or
// blindly re-applied.
func (a *Allocator) Assign(ctx context.Context, subtype domain.Subtype) (domain.Condition, error) {
	if !subtype.Valid() {
		return "", fmt.Errorf("%w: unknown subtype %q", domain.ErrMalformedSubmission, subtype)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	quota, err := a.repo.LoadQuota(ctx)
	if err != nil {
		return "", fmt.Errorf("load quota: %w", err)
	}

	eligible := quota.Eligible(subtype, a.capacity)
	if len(eligible) == 0 {
		return "", domain.ErrQuotaExhausted
	}

	chosen := eligible[a.rng.Intn(len(eligible))]
	quota[chosen][subtype]++

	if err := a.save(ctx, quota); err != nil {
		return "", fmt.Errorf("persist quota increment for %s/%s: %w", chosen, subtype, err)
	}

	a.logger.Info("condition assigned",
		"condition", chosen, "subtype", subtype, "count", quota[chosen][subtype])
	return chosen, nil
}

// IsFull reports whether every cell of both subtypes is at capacity.
// Used as the global admission gate before a session exists.
func (a *Allocator) IsFull(ctx context.Context) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	quota, err := a.repo.LoadQuota(ctx)
	if err != nil {
		return false, fmt.Errorf("load quota: %w", err)
	}
	return quota.Full(a.capacity), nil
}

// Counts returns a copy of the current quota for operator inspection.
func (a *Allocator) Counts(ctx context.Context) (domain.Quota, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	quota, err := a.repo.LoadQuota(ctx)
	if err != nil {
		return nil, err
	}
	return quota.Clone(), nil
}

// save writes the quota, retrying only transient SQLite lock conflicts.
// The write carries absolute counts, so a retry cannot double-count.
func (a *Allocator) save(ctx context.Context, quota domain.Quota) error {
	var err error
	for attempt := 0; attempt < saveRetries; attempt++ {
		err = a.repo.SaveQuota(ctx, quota)
		if err == nil {
			return nil
		}
		if !shared.IsSQLiteConflictError(err) {
			return err
		}
		a.logger.Warn("quota save conflict, retrying", "attempt", attempt+1, "error", err)
	}
	return err
}

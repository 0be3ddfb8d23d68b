// Package abuse tracks per-IP submission reputation for the contact-intake
// pipeline: a rolling submission history, a verification-failure counter, and
// a permanent block set.
//
// The tracker sits behind an explicit interface so the HTTP layer and the
// intake service never touch the underlying state directly. Two backends are
// provided: an in-memory store (default, process-local and intentionally
// volatile) and a Redis store for multi-instance deployments.
//
// Concurrency notes:
//   - Per-IP operations are atomic with respect to concurrent requests from
//     the same IP; read-then-write races cannot lose updates.
//   - The periodic sweep locks one shard at a time, never the whole map.
package abuse

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

// Tracker records abuse signals per client IP.
//
// Implementations must be safe for concurrent use. The memory backend never
// returns errors; the Redis backend surfaces transport failures.
type Tracker interface {
	// RecordEvent appends a submission timestamp to the IP's rolling history.
	RecordEvent(ctx context.Context, ip string) error
	// Flag marks the IP as suspicious without blocking it (rate-limit denials).
	Flag(ctx context.Context, ip string) error
	// IsBlocked reports whether the IP is in the permanent block set.
	IsBlocked(ctx context.Context, ip string) (bool, error)
	// Block adds the IP to the permanent block set. Idempotent.
	Block(ctx context.Context, ip string) error
	// RecordVerificationFailure counts a failed human-verification attempt and
	// returns the number of failures within the rolling failure window. When
	// the count reaches the configured limit the IP is blocked.
	RecordVerificationFailure(ctx context.Context, ip string) (int, error)
}

// Options tunes the rolling windows of a tracker.
type Options struct {
	HistoryWindow    time.Duration // submission history span (24h)
	SweepInterval    time.Duration // cadence of the stale-history sweep (1h)
	VerifyFailLimit  int           // verification failures before block (3)
	VerifyFailWindow time.Duration // window for counting failures (1h)
}

// withDefaults fills zero fields with production defaults.
func (o Options) withDefaults() Options {
	if o.HistoryWindow <= 0 {
		o.HistoryWindow = 24 * time.Hour
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = time.Hour
	}
	if o.VerifyFailLimit <= 0 {
		o.VerifyFailLimit = 3
	}
	if o.VerifyFailWindow <= 0 {
		o.VerifyFailWindow = time.Hour
	}
	return o
}

// record is the per-IP reputation entry. Owned exclusively by the tracker;
// callers never receive a reference.
type record struct {
	events      []time.Time // submission timestamps within the history window
	verifyFails []time.Time // failed verifications within the failure window
	flagged     bool
}

const shardCount = 16

// shard holds one slice of the reputation map under its own lock.
type shard struct {
	mu   sync.Mutex
	recs map[string]*record
}

// MemoryTracker is the process-local tracker backend. State is volatile by
// design: it does not survive restarts and is not shared across processes.
type MemoryTracker struct {
	opts   Options
	shards [shardCount]*shard

	blockMu sync.RWMutex
	blocked map[string]struct{}

	// now is swappable in tests.
	now func() time.Time
}

// NewMemoryTracker constructs a MemoryTracker with the given options.
func NewMemoryTracker(opts Options) *MemoryTracker {
	t := &MemoryTracker{
		opts:    opts.withDefaults(),
		blocked: make(map[string]struct{}),
		now:     time.Now,
	}
	for i := range t.shards {
		t.shards[i] = &shard{recs: make(map[string]*record)}
	}
	return t
}

// shardFor maps an IP to its shard via FNV-1a.
func (t *MemoryTracker) shardFor(ip string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(ip))
	return t.shards[h.Sum32()%shardCount]
}

// RecordEvent appends a timestamp to the IP's history, creating the record on
// first contact. Stale entries are pruned lazily by the sweep, not here.
func (t *MemoryTracker) RecordEvent(_ context.Context, ip string) error {
	s := t.shardFor(ip)
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.recs[ip]
	if r == nil {
		r = &record{}
		s.recs[ip] = r
	}
	r.events = append(r.events, t.now())
	return nil
}

// Flag marks the IP as flagged for visibility without blocking it.
func (t *MemoryTracker) Flag(_ context.Context, ip string) error {
	s := t.shardFor(ip)
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.recs[ip]
	if r == nil {
		r = &record{}
		s.recs[ip] = r
	}
	r.flagged = true
	return nil
}

// IsBlocked reports membership in the permanent block set.
func (t *MemoryTracker) IsBlocked(_ context.Context, ip string) (bool, error) {
	t.blockMu.RLock()
	_, ok := t.blocked[ip]
	t.blockMu.RUnlock()
	return ok, nil
}

// Block adds the IP to the permanent block set. Entries are never removed
// automatically; permanence is deliberate deny-list semantics.
func (t *MemoryTracker) Block(_ context.Context, ip string) error {
	t.blockMu.Lock()
	t.blocked[ip] = struct{}{}
	t.blockMu.Unlock()
	return nil
}

// RecordVerificationFailure appends a failure, prunes entries outside the
// failure window under the same lock, and blocks the IP once the count
// reaches the limit. The append and the count are atomic per IP, so two
// simultaneous failures cannot both observe a pre-threshold count.
func (t *MemoryTracker) RecordVerificationFailure(ctx context.Context, ip string) (int, error) {
	now := t.now()
	cutoff := now.Add(-t.opts.VerifyFailWindow)

	s := t.shardFor(ip)
	s.mu.Lock()
	r := s.recs[ip]
	if r == nil {
		r = &record{}
		s.recs[ip] = r
	}
	fresh := r.verifyFails[:0]
	for _, ts := range r.verifyFails {
		if ts.After(cutoff) {
			fresh = append(fresh, ts)
		}
	}
	r.verifyFails = append(fresh, now)
	count := len(r.verifyFails)
	s.mu.Unlock()

	if count >= t.opts.VerifyFailLimit {
		if err := t.Block(ctx, ip); err != nil {
			return count, err
		}
	}
	return count, nil
}

// EventCount returns the number of history entries currently stored for ip.
// Intended for tests and diagnostics.
func (t *MemoryTracker) EventCount(ip string) int {
	s := t.shardFor(ip)
	s.mu.Lock()
	defer s.mu.Unlock()
	if r := s.recs[ip]; r != nil {
		return len(r.events)
	}
	return 0
}

// Sweep removes history entries older than the history window and deletes
// records left with an empty history. Each shard is locked only while it is
// being swept.
func (t *MemoryTracker) Sweep() {
	cutoff := t.now().Add(-t.opts.HistoryWindow)
	failCutoff := t.now().Add(-t.opts.VerifyFailWindow)
	for _, s := range t.shards {
		s.mu.Lock()
		for ip, r := range s.recs {
			fresh := r.events[:0]
			for _, ts := range r.events {
				if ts.After(cutoff) {
					fresh = append(fresh, ts)
				}
			}
			r.events = fresh

			freshFails := r.verifyFails[:0]
			for _, ts := range r.verifyFails {
				if ts.After(failCutoff) {
					freshFails = append(freshFails, ts)
				}
			}
			r.verifyFails = freshFails

			if len(r.events) == 0 && len(r.verifyFails) == 0 {
				delete(s.recs, ip)
			}
		}
		s.mu.Unlock()
	}
}

// Start launches the periodic sweep goroutine. It stops when ctx is done.
func (t *MemoryTracker) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(t.opts.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				t.Sweep()
			}
		}
	}()
}

// Package knowledge implements Knowledge Discovery: parallel, timeout-bound
// lookup of matching SOP documents and ranked prior memories for an
// impending tool invocation.
package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
)

// memoryCacheTTL is the TTL applied to cached memory lookup results.
const memoryCacheTTL = 30 * time.Minute

// MemoryRecord is one prior memory returned by the external MemoryStore,
// flattened to a uniform shape regardless of the store's native
// representation.
type MemoryRecord struct {
	ID           string
	Content      string
	Confidence   float64
	Category     string
	LastAccessed time.Time
	AccessCount  int
}

// MemoryStore is the out-of-scope external collaborator: a content-
// addressed store with vector search, reachable only through this narrow
// query interface. Any failure (timeout, connection error) degrades to an
// empty result rather than propagating.
type MemoryStore interface {
	Query(ctx context.Context, keywords []string, categoryFilter string, confidenceThreshold float64, limit int) ([]MemoryRecord, error)
}

// CausalAtom is a single promoted (subject, action, outcome, consequences)
// fact the Feedback Tracker writes back into the memory store once an
// advisory pattern has proven itself repeatedly acted-on. Source is
// tagged "synthetic" so a reader of the memory store can distinguish it
// from an atom a human or another subsystem authored.
type CausalAtom struct {
	Subject      string
	Action       string
	Outcome      string
	Consequences string
	Category     string
	Source       string
	Confidence   float64
}

// AtomWriter is the write half of the same out-of-scope external memory
// store MemoryStore reads from. Kept separate from MemoryStore since most
// callers (Knowledge Discovery) only ever read.
type AtomWriter interface {
	HasSimilarAtom(ctx context.Context, subject, action string) (bool, error)
	CreateCausalAtom(ctx context.Context, atom CausalAtom) error
}

// Result is the union Discover returns: every matching SOP and memory,
// with timing metadata for the Enforcement Engine and reporter to surface.
type Result struct {
	SOPs            []SOPMatch
	Memories        []MemoryRecord
	ElapsedMS       int64
	MemoryTimedOut  bool
	MemoryErrored   bool
}

// Discovery answers "what SOPs and prior memories are relevant to this
// impending action?" via a concurrent, timeout-bound pair of lookups.
type Discovery struct {
	sops        *sopMatcher
	memoryStore MemoryStore
	memoryCache *ttlCache[[]MemoryRecord]
	maxLookup   time.Duration
	logger      *slog.Logger
	now         func() time.Time
}

// New constructs a Discovery. memoryStore may be nil, meaning memory
// lookup is disabled entirely (CORTEX_MEMORY_STORE_URL unset) and every
// Discover call is SOP-only by construction, not by timeout.
func New(sopBaseDir string, memoryStore MemoryStore, maxLookup time.Duration, logger *slog.Logger) *Discovery {
	return &Discovery{
		sops:        newSOPMatcher(sopBaseDir, nil),
		memoryStore: memoryStore,
		memoryCache: newTTLCache[[]MemoryRecord](memoryCacheTTL),
		maxLookup:   maxLookup,
		logger:      logger,
		now:         time.Now,
	}
}

// Close releases the background cache-eviction goroutines.
func (d *Discovery) Close() {
	d.sops.Close()
	d.memoryCache.Close()
}

// memoryQuery bundles the parameters a Discover call derives for the
// memory lookup, so cache keys and the eventual store call share one
// source of truth.
type memoryQuery struct {
	keywords   []string
	category   string
	threshold  float64
	limit      int
}

const defaultMemoryLimit = 10
const defaultConfidenceThreshold = 0.5

// Discover runs the SOP match and memory lookup concurrently, bounded by
// the Discovery's configured max lookup duration. It never returns an
// error: every failure degrades to a partial or empty Result.
func (d *Discovery) Discover(ctx context.Context, keywords []string, categoryFilter, paramsJSON string) Result {
	start := d.now()
	lookupCtx, cancel := context.WithTimeout(ctx, d.maxLookup)
	defer cancel()

	var sops []SOPMatch
	var memories []MemoryRecord
	var memoryErrored bool

	g, gctx := errgroup.WithContext(lookupCtx)

	g.Go(func() error {
		sops = d.sops.Match(paramsJSON)
		return nil
	})

	if d.memoryStore != nil {
		g.Go(func() error {
			q := memoryQuery{keywords: keywords, category: categoryFilter, threshold: defaultConfidenceThreshold, limit: defaultMemoryLimit}
			recs, err := d.lookupMemory(gctx, q)
			if err != nil {
				memoryErrored = true
				d.logger.Debug("knowledge: memory lookup failed", "error", err)
				return nil
			}
			memories = recs
			return nil
		})
	}

	// errgroup.Wait propagates the first non-nil error, but every Go
	// closure above swallows its own failure and returns nil — this call
	// only ever blocks until both finish or lookupCtx's deadline fires.
	_ = g.Wait()

	timedOut := lookupCtx.Err() != nil
	if timedOut {
		d.logger.Debug("knowledge: memory lookup timed out, falling back to SOPs-only")
		memories = nil
	}

	return Result{
		SOPs:           sops,
		Memories:       memories,
		ElapsedMS:      d.now().Sub(start).Milliseconds(),
		MemoryTimedOut: timedOut && d.memoryStore != nil,
		MemoryErrored:  memoryErrored,
	}
}

func (d *Discovery) lookupMemory(ctx context.Context, q memoryQuery) ([]MemoryRecord, error) {
	key := memoryCacheKey(q)
	if cached, ok := d.memoryCache.Get(key); ok {
		return cached, nil
	}
	recs, err := d.memoryStore.Query(ctx, q.keywords, q.category, q.threshold, q.limit)
	if err != nil {
		return nil, fmt.Errorf("knowledge: memory store query: %w", err)
	}
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].Confidence > recs[j].Confidence })
	d.memoryCache.Set(key, recs)
	return recs, nil
}

func memoryCacheKey(q memoryQuery) string {
	sorted := append([]string(nil), q.keywords...)
	sort.Strings(sorted)
	b, _ := json.Marshal(struct {
		Keywords  []string
		Category  string
		Threshold float64
	}{sorted, q.category, q.threshold})
	return string(b)
}

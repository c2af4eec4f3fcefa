package engine

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/haldane/stepflow/internal/log"
	"github.com/haldane/stepflow/pkg/engine/shape"
)

const (
	// DefaultMemoryItemLimit is the item count above which an output is
	// persisted durably instead of held in memory.
	DefaultMemoryItemLimit = 1000

	// DefaultMaxEntries is the per-execution cap on in-memory cache
	// entries. Exceeding it evicts the oldest-inserted entry.
	DefaultMaxEntries = 10
)

// CacheConfig tunes the in-memory tier of the output cache.
type CacheConfig struct {
	// MemoryItemLimit is the maximum item count an output may have and
	// still be held in memory. Zero means DefaultMemoryItemLimit.
	MemoryItemLimit int

	// MaxEntries is the per-execution entry cap for the memory tier.
	// Zero means DefaultMaxEntries.
	MaxEntries int
}

// cacheEntry holds one node output plus the metadata the cache keeps
// about it.
type cacheEntry struct {
	value     any
	nodeType  string
	itemCount int
	byteSize  int
	storedAt  time.Time
}

// OutputCache is a two-tier store for node outputs, keyed by
// (executionID, nodeID). Small outputs live in a bounded in-memory
// table for the lifetime of the execution; outputs over the item
// threshold are persisted through the durable store by piggy-backing
// on the execution record's snapshot for that node, which also lets
// them survive a process restart.
//
// The memory tier supports concurrent reads; writes are serialized.
// Each node executes exactly once per run, so two writers never race
// on the same key.
type OutputCache struct {
	mu      sync.RWMutex
	entries map[string]map[string]cacheEntry
	order   map[string][]string

	store  Store
	logger *slog.Logger

	memoryItemLimit int
	maxEntries      int

	evictions      atomic.Int64
	writeConflicts atomic.Int64
}

// NewOutputCache creates an output cache backed by the given durable
// store. Zero-valued config fields fall back to the defaults.
func NewOutputCache(store Store, logger *slog.Logger, cfg CacheConfig) *OutputCache {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MemoryItemLimit <= 0 {
		cfg.MemoryItemLimit = DefaultMemoryItemLimit
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}
	return &OutputCache{
		entries:         make(map[string]map[string]cacheEntry),
		order:           make(map[string][]string),
		store:           store,
		logger:          logger,
		memoryItemLimit: cfg.MemoryItemLimit,
		maxEntries:      cfg.MaxEntries,
	}
}

// Store records a node's output. Outputs at or below the memory item
// limit go to the in-memory tier; larger outputs go straight to the
// durable tier. Non-array outputs count as zero items and always stay
// in memory.
func (c *OutputCache) Store(ctx context.Context, executionID, nodeID string, value any, nodeType string) error {
	itemCount := shape.ItemCount(value)

	if itemCount > c.memoryItemLimit {
		c.logger.Debug("output exceeds memory item limit, persisting durably",
			log.String(log.ExecutionIDKey, executionID),
			log.String(log.NodeIDKey, nodeID),
			log.Int("items", itemCount),
			log.Int("limit", c.memoryItemLimit))
		return c.storeDurable(ctx, executionID, nodeID, nodeType, value)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	execEntries, ok := c.entries[executionID]
	if !ok {
		execEntries = make(map[string]cacheEntry)
		c.entries[executionID] = execEntries
	}

	if _, exists := execEntries[nodeID]; !exists {
		if len(c.order[executionID]) >= c.maxEntries {
			c.evictOldest(executionID)
		}
		c.order[executionID] = append(c.order[executionID], nodeID)
	}

	execEntries[nodeID] = cacheEntry{
		value:     value,
		nodeType:  nodeType,
		itemCount: itemCount,
		byteSize:  shape.ByteSize(value),
		storedAt:  time.Now(),
	}
	setCacheEntries(c.totalEntriesLocked())

	return nil
}

// evictOldest drops the oldest-inserted entry for an execution.
// Caller holds the write lock. The evicted output remains recoverable
// through the execution record's snapshot once the node has been
// recorded.
func (c *OutputCache) evictOldest(executionID string) {
	ids := c.order[executionID]
	if len(ids) == 0 {
		return
	}
	oldest := ids[0]
	c.order[executionID] = ids[1:]
	delete(c.entries[executionID], oldest)
	c.evictions.Add(1)
	recordCacheEviction()

	c.logger.Debug("evicted oldest cache entry",
		log.String(log.ExecutionIDKey, executionID),
		log.String(log.NodeIDKey, oldest))
}

// storeDurable writes an output into the execution record's snapshot
// for the node, creating a stub snapshot when the node has not been
// recorded yet. A snapshot output that already looks formatted is
// never overwritten with a raw value: the write is skipped and the
// conflict logged.
//
// The write survives the caller's context so a finishing node's output
// is not lost to cancellation.
func (c *OutputCache) storeDurable(ctx context.Context, executionID, nodeID, nodeType string, value any) error {
	return c.store.UpdateExecution(context.WithoutCancel(ctx), executionID, func(rec *ExecutionRecord) error {
		if snap := rec.Snapshot(nodeID); snap != nil {
			if snap.Output != nil && shape.LooksFormatted(snap.Output) {
				c.writeConflicts.Add(1)
				recordCacheWriteConflict()
				c.logger.Warn("skipping durable write over formatted output",
					log.String(log.ExecutionIDKey, executionID),
					log.String(log.NodeIDKey, nodeID))
				return nil
			}
			snap.Output = value
			return nil
		}
		rec.Snapshots = append(rec.Snapshots, NodeSnapshot{
			NodeID:   nodeID,
			StepType: nodeType,
			Output:   value,
		})
		return nil
	})
}

// Get looks up a node's output: memory tier first, durable tier
// second. Durable values pass through shape normalization so wrapped
// container shapes come back as their inner payload. When nothing is
// found the empty-array sentinel is returned so callers always merge
// against a defined value.
func (c *OutputCache) Get(ctx context.Context, executionID, nodeID string) (any, bool) {
	c.mu.RLock()
	if entry, ok := c.entries[executionID][nodeID]; ok {
		c.mu.RUnlock()
		return entry.value, true
	}
	c.mu.RUnlock()

	rec, err := c.store.FindExecution(ctx, executionID)
	if err != nil {
		return []any{}, false
	}
	if snap := rec.Snapshot(nodeID); snap != nil && snap.Output != nil {
		return shape.Unwrap(snap.Output), true
	}

	return []any{}, false
}

// Cleanup drops an execution's entire in-memory tier. Called once the
// execution reaches a terminal status.
func (c *OutputCache) Cleanup(executionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, executionID)
	delete(c.order, executionID)
	setCacheEntries(c.totalEntriesLocked())
}

// Len reports the number of in-memory entries held for an execution.
func (c *OutputCache) Len(executionID string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.entries[executionID])
}

// Evictions reports how many memory-tier entries have been evicted.
func (c *OutputCache) Evictions() int64 {
	return c.evictions.Load()
}

// WriteConflicts reports how many durable writes were skipped to
// protect an already-formatted output.
func (c *OutputCache) WriteConflicts() int64 {
	return c.writeConflicts.Load()
}

func (c *OutputCache) totalEntriesLocked() int {
	total := 0
	for _, execEntries := range c.entries {
		total += len(execEntries)
	}
	return total
}

package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/anupkhanal/ocrhub/pkg/models"
)

const lockPollInterval = 250 * time.Millisecond

// ContentKey derives the content-addressed cache key: a stable hash of the
// raw document bytes concatenated with a canonical encoding of the extraction
// parameters. Different parameters never collide.
func ContentKey(data []byte, opts models.ExtractOptions) string {
	h := sha256.New()
	h.Write(data)
	fmt.Fprintf(h, "|dpi=%d|chunk=%d|txt=%d|lang=%s",
		opts.DPI, opts.ChunkSize, opts.TextThreshold, strings.Join(opts.Languages, ","))
	return hex.EncodeToString(h.Sum(nil))
}

// ResultCache stores computed extraction results keyed by content hash.
// ComputeOrShare guarantees at most one effective computation per key:
// in-process duplicates collapse through singleflight, and cross-instance
// duplicates are serialized by a lease-scoped Redis lock. A caller that can
// neither take the lock nor see a result within lockWait computes redundantly,
// which is benign because identical keys produce identical values.
type ResultCache struct {
	cache    Cache
	ttl      time.Duration
	lockWait time.Duration
	lease    time.Duration
	group    singleflight.Group
}

// NewResultCache creates a ResultCache over the shared backend.
func NewResultCache(c Cache, ttl, lockWait, lease time.Duration) *ResultCache {
	return &ResultCache{cache: c, ttl: ttl, lockWait: lockWait, lease: lease}
}

// Lookup returns the cached result for key, or a miss.
func (rc *ResultCache) Lookup(ctx context.Context, key string) (*models.ExtractResult, bool, error) {
	raw, found, err := rc.cache.Get(ctx, ResultKey(key))
	if err != nil || !found {
		return nil, false, err
	}
	var result models.ExtractResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, false, fmt.Errorf("decode cached result: %w", err)
	}
	return &result, true, nil
}

// Store writes the result under key. A second store for the same key within
// the TTL is a benign overwrite, not an error.
func (rc *ResultCache) Store(ctx context.Context, key string, result *models.ExtractResult) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	return rc.cache.Set(ctx, ResultKey(key), raw, rc.ttl)
}

type computed struct {
	result    *models.ExtractResult
	fromCache bool
}

// ComputeOrShare returns the cached result for key if present, otherwise runs
// compute under the per-key lock and stores the outcome. The boolean reports
// whether the returned value was served from cache (or from a concurrent
// computation) rather than computed by this call.
func (rc *ResultCache) ComputeOrShare(
	ctx context.Context,
	key string,
	compute func(ctx context.Context) (*models.ExtractResult, error),
) (*models.ExtractResult, bool, error) {
	// Only the caller whose closure runs is the leader; followers piggyback
	// on its result and report a cache hit.
	leader := false
	v, err, _ := rc.group.Do(key, func() (any, error) {
		leader = true
		res, fromCache, err := rc.computeOrWait(ctx, key, compute)
		if err != nil {
			return nil, err
		}
		return computed{result: res, fromCache: fromCache}, nil
	})
	if err != nil {
		return nil, false, err
	}
	c := v.(computed)
	return c.result, c.fromCache || !leader, nil
}

func (rc *ResultCache) computeOrWait(
	ctx context.Context,
	key string,
	compute func(ctx context.Context) (*models.ExtractResult, error),
) (*models.ExtractResult, bool, error) {
	if result, found, err := rc.Lookup(ctx, key); err != nil {
		return nil, false, err
	} else if found {
		return result, true, nil
	}

	lockKey := ResultLockKey(key)
	token := uuid.NewString()

	acquired, err := rc.cache.AcquireLock(ctx, lockKey, token, rc.lease)
	if err != nil {
		return nil, false, fmt.Errorf("acquire cache lock: %w", err)
	}

	if acquired {
		defer func() {
			if relErr := rc.cache.ReleaseLock(context.WithoutCancel(ctx), lockKey, token); relErr != nil {
				slog.Warn("release cache lock failed", "key", key, "error", relErr)
			}
		}()
		return rc.computeAndStore(ctx, key, compute)
	}

	// Another holder is computing. Poll for its result, bounded by lockWait;
	// on timeout fall back to a redundant computation.
	deadline := time.Now().Add(rc.lockWait)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return nil, false, ctx.Err()
		case <-time.After(lockPollInterval):
		}

		if result, found, err := rc.Lookup(ctx, key); err != nil {
			return nil, false, err
		} else if found {
			return result, true, nil
		}
	}

	slog.Warn("lock wait timed out, computing redundantly", "key", key)
	return rc.computeAndStore(ctx, key, compute)
}

func (rc *ResultCache) computeAndStore(
	ctx context.Context,
	key string,
	compute func(ctx context.Context) (*models.ExtractResult, error),
) (*models.ExtractResult, bool, error) {
	result, err := compute(ctx)
	if err != nil {
		return nil, false, err
	}
	if result.Stats.PagesError > 0 {
		// Partial failures are returned to the submitting job but not
		// cached: a transient recognition error must not pin a degraded
		// result for the whole TTL.
		return result, false, nil
	}
	if err := rc.Store(ctx, key, result); err != nil {
		// The computation succeeded; a failed cache write only costs a
		// future recomputation.
		slog.Warn("store cached result failed", "key", key, "error", err)
	}
	return result, false, nil
}

package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
)

// fetchLogs reads insertions in [from, to] chunk by chunk, in increasing
// block order, and returns them sorted by leaf index.
func (e *Engine) fetchLogs(ctx context.Context, src LogSource, key CacheKey, from, to uint64) ([]LeafEvent, error) {
	chunk := e.config.chunkSize(key.ChainID)
	var events []LeafEvent
	for start := from; start <= to; {
		end := to
		if to-start >= chunk {
			end = start + chunk - 1
		}
		got, err := e.fetchChunk(ctx, src, key.Contract, start, end)
		if err != nil {
			return nil, err
		}
		events = append(events, got...)
		if end == to {
			break
		}
		start = end + 1
	}
	// chunked responses may interleave
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].LeafIndex < events[j].LeafIndex
	})
	return events, nil
}

func (e *Engine) fetchChunk(ctx context.Context, src LogSource, contract common.Address, from, to uint64) ([]LeafEvent, error) {
	var lastErr error
	for attempt := 0; attempt <= e.config.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, e.config.RetryBackoff<<(attempt-1)); err != nil {
				return nil, err
			}
		}
		events, err := src.GetLogs(ctx, contract, from, to)
		if err == nil {
			return events, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if IsRangeTooLarge(err) && to > from {
			mid := from + (to-from)/2
			log.Debug("log range too large, splitting", "contract", contract, "from", from, "to", to, "mid", mid)
			left, err := e.fetchChunk(ctx, src, contract, from, mid)
			if err != nil {
				return nil, err
			}
			right, err := e.fetchChunk(ctx, src, contract, mid+1, to)
			if err != nil {
				return nil, err
			}
			return append(left, right...), nil
		}
		lastErr = err
		log.Warn("failed to fetch logs", "contract", contract, "from", from, "to", to, "attempt", attempt+1, "err", err)
	}
	return nil, fmt.Errorf("%w: blocks %d-%d after %d attempts: %w", ErrSyncFailed, from, to, e.config.MaxRetries+1, lastErr)
}

// appendEvents extends leaves with sorted events. Events already covered by
// leaves must agree with them; a gap in leaf indices is an error.
func appendEvents(leaves []common.Hash, events []LeafEvent) ([]common.Hash, error) {
	for _, ev := range events {
		next := uint64(len(leaves))
		switch {
		case ev.LeafIndex < next:
			if leaves[ev.LeafIndex] != ev.Commitment {
				return nil, fmt.Errorf("%w: leaf %d is %s on chain but %s in cache", ErrSyncFailed, ev.LeafIndex, ev.Commitment, leaves[ev.LeafIndex])
			}
		case ev.LeafIndex == next:
			leaves = append(leaves, ev.Commitment)
		default:
			return nil, fmt.Errorf("%w: missing leaves %d-%d", ErrSyncFailed, next, ev.LeafIndex-1)
		}
	}
	return leaves, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

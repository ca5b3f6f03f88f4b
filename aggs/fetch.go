// Copyright 2023 Stock Parfait

// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at

//     http://www.apache.org/licenses/LICENSE-2.0

// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package aggs

import (
	"context"
	"fmt"

	"github.com/stockparfait/errors"
	"github.com/stockparfait/iterator"
	"github.com/stockparfait/logging"
	"github.com/stockparfait/optiondata/dates"
	"golang.org/x/exp/slices"
)

// ChunkError reports a failed fetch of a single chunk, and carries the
// failing chunk for diagnostics.
type ChunkError struct {
	Chunk dates.Range
	Err   error
}

var _ error = &ChunkError{}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("failed to fetch chunk %s: %s", e.Chunk, e.Err.Error())
}

func (e *ChunkError) Unwrap() error { return e.Err }

// FailedChunk extracts the failing chunk from an error chain containing a
// ChunkError. The second value is false when there is none.
func FailedChunk(err error) (dates.Range, bool) {
	for err != nil {
		if ce, ok := err.(*ChunkError); ok {
			return ce.Chunk, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return dates.Range{}, false
}

// Options configure FetchEach and FetchMerged.
type Options struct {
	Parallel     bool // fetch chunks through a bounded worker pool
	MaxWorkers   int  // pool size; values < 1 behave as 1
	AllowPartial bool // skip failed chunks instead of failing the whole fetch
}

// Fetcher obtains the records of a single chunk. Each call must be
// independent of the others: chunk fetches share no state, which is what
// makes the parallel mode a safe optimization.
type Fetcher[R any] func(ctx context.Context, chunk dates.Range) ([]R, error)

// chunkResult pairs fetched records with the originating chunk index, so
// that the parallel mode can restore the caller-visible order.
type chunkResult[R any] struct {
	index   int
	records []R
	err     error
}

// FetchEach fetches every chunk and returns one record slice per successful
// chunk, ordered by the original chunk order regardless of completion order.
// A failed chunk fails the whole call with a ChunkError in the chain, unless
// Options.AllowPartial is set, in which case the failed chunk is logged and
// skipped. When the context is cancelled, the error is returned and no
// partial result is ever handed back as complete.
func FetchEach[R any](ctx context.Context, chunks []dates.Range, fetch Fetcher[R], opts Options) ([][]R, error) {
	var results []chunkResult[R]
	if opts.Parallel {
		results = fetchParallel(ctx, chunks, fetch, opts.MaxWorkers)
	} else {
		results = fetchSequential(ctx, chunks, fetch)
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.Annotate(err, "chunk fetch was cancelled")
	}
	payloads := make([][]R, 0, len(results))
	for _, r := range results {
		if r.err != nil {
			if !opts.AllowPartial {
				return nil, &ChunkError{Chunk: chunks[r.index], Err: r.err}
			}
			logging.Warningf(ctx, "skipping chunk %s: %s", chunks[r.index], r.err.Error())
			continue
		}
		payloads = append(payloads, r.records)
	}
	return payloads, nil
}

// FetchMerged is FetchEach with the per-chunk record slices concatenated
// into a single slice in chunk order. Chunks are expected to be disjoint, so
// no deduplication is performed across chunk boundaries.
func FetchMerged[R any](ctx context.Context, chunks []dates.Range, fetch Fetcher[R], opts Options) ([]R, error) {
	payloads, err := FetchEach(ctx, chunks, fetch, opts)
	if err != nil {
		return nil, err
	}
	var merged []R
	for _, p := range payloads {
		merged = append(merged, p...)
	}
	return merged, nil
}

func fetchSequential[R any](ctx context.Context, chunks []dates.Range, fetch Fetcher[R]) []chunkResult[R] {
	results := make([]chunkResult[R], len(chunks))
	for i, c := range chunks {
		if ctx.Err() != nil {
			break
		}
		records, err := fetch(ctx, c)
		results[i] = chunkResult[R]{index: i, records: records, err: err}
	}
	return results
}

func fetchParallel[R any](ctx context.Context, chunks []dates.Range, fetch Fetcher[R], maxWorkers int) []chunkResult[R] {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	indices := make([]int, len(chunks))
	for i := range indices {
		indices[i] = i
	}
	f := func(i int) chunkResult[R] {
		records, err := fetch(ctx, chunks[i])
		return chunkResult[R]{index: i, records: records, err: err}
	}
	pm := iterator.ParallelMap(ctx, maxWorkers, iterator.FromSlice(indices), f)
	defer pm.Close()

	results := iterator.Reduce[chunkResult[R], []chunkResult[R]](
		pm, []chunkResult[R]{},
		func(r chunkResult[R], acc []chunkResult[R]) []chunkResult[R] {
			return append(acc, r)
		})
	// Results arrive in completion order; the caller-visible order is the
	// original chunk order.
	slices.SortFunc(results, func(a, b chunkResult[R]) bool {
		return a.index < b.index
	})
	return results
}

// Page is a single payload of a paginated response, carrying the opaque
// cursor of the next page, if any.
type Page interface {
	NextCursor() string
}

// FollowPages follows the next-page cursors starting from the first payload
// until there are no more pages or maxPages is reached (0 = no limit), and
// returns the ordered list of pages. Pagination is inherently sequential:
// page N+1 cannot be requested before page N's cursor is known.
func FollowPages[P Page](ctx context.Context, first P, fetchNext func(ctx context.Context, cursor string) (P, error), maxPages int) ([]P, error) {
	pages := []P{first}
	for cursor := first.NextCursor(); cursor != ""; {
		if maxPages > 0 && len(pages) >= maxPages {
			break
		}
		next, err := fetchNext(ctx, cursor)
		if err != nil {
			return nil, errors.Annotate(err, "failed to fetch page %d", len(pages)+1)
		}
		pages = append(pages, next)
		logging.Infof(ctx, "fetched page %d; next cursor: '%s'",
			len(pages), next.NextCursor())
		cursor = next.NextCursor()
	}
	return pages, nil
}

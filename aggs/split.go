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

// Package aggs implements the ranged-aggregate fetch engine: splitting a
// long date range into chunks that respect the server's per-request row cap,
// fetching the chunks serially or through a bounded worker pool, merging the
// results in the original chunk order, and following paginated responses.
package aggs

import (
	"github.com/stockparfait/errors"
	"github.com/stockparfait/optiondata/dates"
)

// ErrInvalidRange indicates a degenerate date range, from > to.
var ErrInvalidRange = errors.Reason("invalid date range")

// Timespan is the size of a single aggregate bar window.
type Timespan string

const (
	Minute  = Timespan("minute")
	Hour    = Timespan("hour")
	Day     = Timespan("day")
	Week    = Timespan("week")
	Month   = Timespan("month")
	Quarter = Timespan("quarter")
	Year    = Timespan("year")
)

// RowCap is the maximum number of bars the server returns per request.
const RowCap = 50000

// barsPerDay estimates the worst-case number of bars per calendar day for a
// timespan, assuming round-the-clock trading for sub-day bars.
func barsPerDay(ts Timespan) (float64, error) {
	switch ts {
	case Minute:
		return 24 * 60, nil
	case Hour:
		return 24, nil
	case Day:
		return 1, nil
	case Week:
		return 1.0 / 7.0, nil
	case Month:
		return 1.0 / 30.0, nil
	case Quarter:
		return 1.0 / 91.0, nil
	case Year:
		return 1.0 / 365.0, nil
	}
	return 0, errors.Reason("unsupported timespan: '%s'", ts)
}

// windowDays computes the safe chunk length in days for a timespan so that
// the estimated bar count stays well under RowCap. The divisor of 2 (4 for
// highly volatile symbols) leaves headroom for the estimate being off; the
// exact values are calibrated against the server's current cap, not
// guaranteed by it.
func windowDays(ts Timespan, highVolatility bool) (int, error) {
	perDay, err := barsPerDay(ts)
	if err != nil {
		return 0, err
	}
	fudge := 2.0
	if highVolatility {
		fudge = 4.0
	}
	days := int(RowCap / perDay / fudge)
	if days < 1 {
		days = 1
	}
	return days, nil
}

// Split produces the ordered sequence of contiguous, non-overlapping,
// gap-free chunks covering exactly [from, to], both ends inclusive, each
// sized so that its estimated bar count for the timespan stays under RowCap.
// A from date after the to date fails with ErrInvalidRange.
func Split(from, to dates.Date, ts Timespan, highVolatility bool) ([]dates.Range, error) {
	if from.IsZero() || to.IsZero() {
		return nil, errors.Annotate(ErrInvalidRange,
			"both range ends must be set, got [%s, %s]", from, to)
	}
	if from.After(to) {
		return nil, errors.Annotate(ErrInvalidRange,
			"from date %s is after the to date %s", from, to)
	}
	days, err := windowDays(ts, highVolatility)
	if err != nil {
		return nil, errors.Annotate(err, "failed to split [%s, %s]", from, to)
	}
	var chunks []dates.Range
	for start := from; !start.After(to); start = start.AddDays(days) {
		end := start.AddDays(days - 1)
		if end.After(to) {
			end = to
		}
		chunks = append(chunks, dates.NewRange(start, end))
	}
	return chunks, nil
}

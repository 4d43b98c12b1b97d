// Copyright 2025 V Kontakte LLC
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package rate computes per-second rates of counter items.
package rate

import (
	"context"
	"errors"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/VKCOM/calcheck/internal/history"
	"github.com/VKCOM/calcheck/internal/inventory"
)

var (
	ErrValueType   = errors.New("invalid value type")
	ErrParamCount  = errors.New("invalid number of parameters")
	ErrPeriod      = errors.New("invalid second parameter")
	ErrNotEnough   = errors.New("not enough data")
	errHistoryRead = errors.New("cannot get values from history")
)

type Evaluator struct {
	history history.Store
	logger  log.Logger
}

func NewEvaluator(h history.Store, logger log.Logger) *Evaluator {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Evaluator{history: h, logger: logger}
}

// Rate returns the per-second increase of a counter over the window given by
// params ("5m", "#10", optionally with ":now-1h" shift). Counter resets are
// compensated. For time windows the increase is extrapolated to the window
// edges, count windows span from the oldest to the newest sample.
func (e *Evaluator) Rate(ctx context.Context, item *inventory.Item, params string, now time.Time) (float64, error) {
	if !item.ValueType.IsNumeric() {
		return 0, ErrValueType
	}
	pp, err := history.SplitParams(params)
	if err != nil || len(pp) != 1 {
		return 0, ErrParamCount
	}
	w, err := history.ParsePeriod(pp[0])
	if err != nil {
		return 0, ErrPeriod
	}
	records, err := e.history.Values(ctx, item.ItemID, item.ValueType, w, now)
	if err != nil {
		level.Warn(e.logger).Log("msg", "failed to read history", "itemid", item.ItemID, "err", err)
		return 0, errHistoryRead
	}
	if len(records) < 2 {
		return 0, ErrNotEnough
	}
	_, end := w.Range(now)
	v := extrapolatedRate(records, item.ValueType, w, end)
	level.Debug(e.logger).Log("msg", "rate", "itemid", item.ItemID, "params", params, "rate", v)
	return v, nil
}

// extrapolatedRate expects at least two newest-first records.
func extrapolatedRate(records []history.Record, vt inventory.ValueType, w history.Window, end time.Time) float64 {
	value := func(i int) float64 {
		v, _ := records[i].Number(vt)
		return v
	}
	seconds := func(t time.Time) float64 {
		return float64(t.UnixNano()) / 1e9
	}
	var (
		newest, oldest = 0, len(records) - 1
		delta          = value(newest) - value(oldest)
		prev           float64
	)
	for i := oldest; i >= 0; i-- {
		if v := value(i); v < prev {
			delta += prev
		}
		prev = value(i)
	}

	sampled := seconds(records[newest].TS) - seconds(records[oldest].TS)
	if w.IsCount() {
		// the range is exactly the sampled span, there are no edges to extrapolate to
		return delta / sampled
	}
	rangeSec := float64(w.Seconds)
	rangeEnd := seconds(end)
	gapStart := seconds(records[oldest].TS) - (rangeEnd - rangeSec)
	gapEnd := rangeEnd - seconds(records[newest].TS)
	avgStep := sampled / float64(len(records)-1)

	if first := value(oldest); delta > 0 && first >= 0 {
		// counter cannot go below zero
		if zero := sampled * (first / delta); zero < gapStart {
			gapStart = zero
		}
	}

	threshold := avgStep * 1.1
	interval := sampled
	if gapStart < threshold {
		interval += gapStart
	} else {
		interval += avgStep / 2
	}
	if gapEnd < threshold {
		interval += gapEnd
	} else {
		interval += avgStep / 2
	}
	return delta * (interval / sampled) / rangeSec
}

// Copyright 2025 V Kontakte LLC
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package expression

import (
	"strings"
	"time"

	"github.com/go-kit/log/level"

	"github.com/VKCOM/calcheck/internal/history"
	"github.com/VKCOM/calcheck/internal/inventory"
	"github.com/VKCOM/calcheck/internal/itemquery"
	"github.com/VKCOM/calcheck/internal/variant"
)

type manyFunc func(s *Session, q *itemquery.Query, itemIDs []uint64, args []variant.Variant, now time.Time) (variant.Variant, error)

var manyFuncs map[string]manyFunc

func init() {
	manyFuncs = map[string]manyFunc{
		"exists_foreach":      evalExists(true),
		"item_count":          evalExists(false),
		"min_foreach":         evalAggregate(history.FuncMin),
		"max_foreach":         evalAggregate(history.FuncMax),
		"avg_foreach":         evalAggregate(history.FuncAvg),
		"sum_foreach":         evalAggregate(history.FuncSum),
		"count_foreach":       evalCount,
		"last_foreach":        evalLast,
		"bucket_rate_foreach": evalBucketRate,
		"bucket_percentile":   evalBucketPercentile,
	}
}

// IsAggregateFunction reports whether name can be applied to many item queries.
func IsAggregateFunction(name string) bool {
	_, ok := manyFuncs[name]
	return ok
}

func (s *Session) evalMany(q *itemquery.Query, data manyQuery, name string, args []variant.Variant, now time.Time) (variant.Variant, error) {
	fn, ok := manyFuncs[name]
	if !ok {
		return variant.Variant{}, errUnsupported
	}
	return fn(s, q, data.itemIDs, args, now)
}

// activeItems returns cached items which are enabled on monitored hosts.
func (s *Session) activeItems(itemIDs []uint64) []*inventory.Item {
	res := make([]*inventory.Item, 0, len(itemIDs))
	for _, id := range itemIDs {
		item, ok := s.item(id)
		if !ok || item.Status != inventory.ItemActive || item.HostStatus != inventory.HostMonitored {
			continue
		}
		res = append(res, item)
	}
	return res
}

// valueItems are active items which are supported and have values.
func (s *Session) valueItems(itemIDs []uint64) []*inventory.Item {
	items := s.activeItems(itemIDs)
	res := items[:0]
	for _, item := range items {
		if item.State == inventory.StateNotSupported || item.ValueType == inventory.ValueNone {
			continue
		}
		res = append(res, item)
	}
	return res
}

func evalExists(vector bool) manyFunc {
	return func(s *Session, _ *itemquery.Query, itemIDs []uint64, args []variant.Variant, _ time.Time) (variant.Variant, error) {
		if len(args) != 0 {
			return variant.Variant{}, errInvalidParamCount
		}
		items := s.activeItems(itemIDs)
		if !vector {
			return variant.NewUint64(uint64(len(items))), nil
		}
		res := make([]variant.Variant, 0, len(items))
		for range items {
			res = append(res, variant.NewUint64(1))
		}
		return variant.NewVector(res), nil
	}
}

// parsePeriodArg parses the window of aggregate functions. Strings are "#N"
// count windows or time periods with an optional suffix and time shift,
// numbers are seconds.
func parsePeriodArg(arg variant.Variant) (history.Window, error) {
	if arg.Type == variant.Str {
		w, err := history.ParsePeriod(arg.Str)
		if err != nil {
			return history.Window{}, errInvalidSecond
		}
		return w, nil
	}
	f, err := arg.ToFloat()
	if err != nil || int(f) <= 0 {
		return history.Window{}, errInvalidSecond
	}
	return history.Window{Seconds: int(f)}, nil
}

func (s *Session) values(item *inventory.Item, w history.Window, now time.Time) ([]history.Record, bool) {
	records, err := s.deps.History.Values(s.ctx, item.ItemID, item.ValueType, w, now)
	if err != nil {
		level.Debug(s.logger).Log("msg", "failed to read item history", "itemid", item.ItemID, "err", err)
		return nil, false
	}
	return records, true
}

func evalAggregate(fn history.Func) manyFunc {
	return func(s *Session, _ *itemquery.Query, itemIDs []uint64, args []variant.Variant, now time.Time) (variant.Variant, error) {
		if len(args) != 1 {
			return variant.Variant{}, errInvalidParamCount
		}
		w, err := parsePeriodArg(args[0])
		if err != nil {
			return variant.Variant{}, err
		}
		res := []variant.Variant{}
		for _, item := range s.valueItems(itemIDs) {
			if !item.ValueType.IsNumeric() {
				continue
			}
			records, ok := s.values(item, w, now)
			if !ok || len(records) == 0 {
				continue
			}
			v, err := history.Aggregate(fn, records, item.ValueType)
			if err != nil {
				level.Debug(s.logger).Log("msg", "failed to aggregate item history", "itemid", item.ItemID, "func", fn, "err", err)
				continue
			}
			res = append(res, variant.NewFloat(v))
		}
		return variant.NewVector(res), nil
	}
}

func evalCount(s *Session, _ *itemquery.Query, itemIDs []uint64, args []variant.Variant, now time.Time) (variant.Variant, error) {
	if len(args) < 1 || len(args) > 3 {
		return variant.Variant{}, errInvalidParamCount
	}
	w, err := parsePeriodArg(args[0])
	if err != nil {
		return variant.Variant{}, err
	}
	var op, pattern string
	if len(args) >= 2 && args[1].Type != variant.None {
		if op, err = args[1].ToString(); err != nil {
			return variant.Variant{}, errInvalidThird
		}
	}
	if len(args) == 3 && args[2].Type != variant.None {
		if pattern, err = args[2].ToString(); err != nil {
			return variant.Variant{}, errInvalidFourth
		}
	}
	res := []variant.Variant{}
	for _, item := range s.valueItems(itemIDs) {
		p, err := history.NewCountPattern(op, pattern, item.ValueType)
		if err != nil {
			return variant.Variant{}, err
		}
		records, ok := s.values(item, w, now)
		if !ok {
			continue
		}
		res = append(res, variant.NewFloat(float64(p.Count(records))))
	}
	return variant.NewVector(res), nil
}

func evalLast(s *Session, _ *itemquery.Query, itemIDs []uint64, args []variant.Variant, now time.Time) (variant.Variant, error) {
	if len(args) > 1 {
		return variant.Variant{}, errInvalidParamCount
	}
	w := history.Window{Count: 1}
	if len(args) == 1 && args[0].Type == variant.Str {
		sec, err := history.ParseSeconds(strings.TrimSpace(args[0].Str))
		if err != nil {
			return variant.Variant{}, errInvalidSecond
		}
		w.Seconds = sec
	}
	res := []variant.Variant{}
	for _, item := range s.valueItems(itemIDs) {
		records, ok := s.values(item, w, now)
		if !ok || len(records) == 0 {
			continue
		}
		res = append(res, records[0].Variant(item.ValueType))
	}
	return variant.NewVector(res), nil
}

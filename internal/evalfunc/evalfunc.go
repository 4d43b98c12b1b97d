// Copyright 2025 V Kontakte LLC
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package evalfunc evaluates history functions of a single item. Parameters
// are passed as comma separated text.
package evalfunc

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/VKCOM/calcheck/internal/history"
	"github.com/VKCOM/calcheck/internal/inventory"
	"github.com/VKCOM/calcheck/internal/rate"
	"github.com/VKCOM/calcheck/internal/variant"
)

var (
	ErrUnsupported = errors.New("unsupported function")
	ErrParamCount  = errors.New("invalid number of parameters")
	ErrNoData      = errors.New("not enough data")
)

type Evaluator struct {
	history history.Store
	rate    *rate.Evaluator
	logger  log.Logger
}

func NewEvaluator(h history.Store, logger log.Logger) *Evaluator {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Evaluator{history: h, rate: rate.NewEvaluator(h, logger), logger: logger}
}

type evalFunc func(e *Evaluator, ctx context.Context, item *inventory.Item, params []string, now time.Time) (variant.Variant, error)

var functions = map[string]evalFunc{
	"last":   evalLast,
	"min":    aggregateFunc(history.FuncMin),
	"max":    aggregateFunc(history.FuncMax),
	"avg":    aggregateFunc(history.FuncAvg),
	"sum":    aggregateFunc(history.FuncSum),
	"count":  evalCount,
	"nodata": evalNodata,
	"change": evalChange,
	"rate":   evalRate,
}

// IsSupported reports whether name is a known function.
func IsSupported(name string) bool {
	_, ok := functions[name]
	return ok
}

func (e *Evaluator) Evaluate(ctx context.Context, item *inventory.Item, name string, params string, now time.Time) (variant.Variant, error) {
	fn, ok := functions[name]
	if !ok {
		return variant.Variant{}, ErrUnsupported
	}
	pp, err := history.SplitParams(params)
	if err != nil {
		return variant.Variant{}, fmt.Errorf("invalid parameters: %w", err)
	}
	v, err := fn(e, ctx, item, pp, now)
	if err != nil {
		level.Debug(e.logger).Log("msg", "function failed", "function", name, "itemid", item.ItemID, "params", params, "err", err)
		return variant.Variant{}, err
	}
	level.Debug(e.logger).Log("msg", "function evaluated", "function", name, "itemid", item.ItemID, "params", params, "value", v)
	return v, nil
}

func (e *Evaluator) values(ctx context.Context, item *inventory.Item, period string, now time.Time) ([]history.Record, error) {
	w, err := history.ParsePeriod(period)
	if err != nil {
		return nil, fmt.Errorf("invalid first parameter: %w", err)
	}
	records, err := e.history.Values(ctx, item.ItemID, item.ValueType, w, now)
	if err != nil {
		level.Warn(e.logger).Log("msg", "failed to read history", "itemid", item.ItemID, "err", err)
		return nil, fmt.Errorf("cannot get values from history")
	}
	return records, nil
}

func nativeNumber(vt inventory.ValueType, f float64) variant.Variant {
	if vt == inventory.ValueUint64 {
		return variant.NewUint64(uint64(f))
	}
	return variant.NewFloat(f)
}

func evalLast(e *Evaluator, ctx context.Context, item *inventory.Item, params []string, now time.Time) (variant.Variant, error) {
	if len(params) > 1 {
		return variant.Variant{}, ErrParamCount
	}
	period := "#1"
	if len(params) == 1 && params[0] != "" {
		period = params[0]
	}
	w, err := history.ParsePeriod(period)
	if err != nil || !w.IsCount() {
		return variant.Variant{}, fmt.Errorf("invalid first parameter")
	}
	records, err := e.values(ctx, item, period, now)
	if err != nil {
		return variant.Variant{}, err
	}
	if len(records) < w.Count {
		return variant.Variant{}, ErrNoData
	}
	return records[w.Count-1].Variant(item.ValueType), nil
}

func aggregateFunc(fn history.Func) evalFunc {
	return func(e *Evaluator, ctx context.Context, item *inventory.Item, params []string, now time.Time) (variant.Variant, error) {
		if len(params) != 1 {
			return variant.Variant{}, ErrParamCount
		}
		if !item.ValueType.IsNumeric() {
			return variant.Variant{}, fmt.Errorf("invalid value type")
		}
		records, err := e.values(ctx, item, params[0], now)
		if err != nil {
			return variant.Variant{}, err
		}
		if len(records) == 0 {
			return variant.Variant{}, ErrNoData
		}
		v, err := history.Aggregate(fn, records, item.ValueType)
		if err != nil {
			return variant.Variant{}, err
		}
		if fn == history.FuncAvg {
			return variant.NewFloat(v), nil
		}
		return nativeNumber(item.ValueType, v), nil
	}
}

func evalCount(e *Evaluator, ctx context.Context, item *inventory.Item, params []string, now time.Time) (variant.Variant, error) {
	if len(params) < 1 || len(params) > 3 {
		return variant.Variant{}, ErrParamCount
	}
	var op, pattern string
	if len(params) > 1 {
		op = params[1]
	}
	if len(params) > 2 {
		pattern = params[2]
	}
	p, err := history.NewCountPattern(op, pattern, item.ValueType)
	if err != nil {
		return variant.Variant{}, err
	}
	records, err := e.values(ctx, item, params[0], now)
	if err != nil {
		return variant.Variant{}, err
	}
	return variant.NewUint64(uint64(p.Count(records))), nil
}

func evalNodata(e *Evaluator, ctx context.Context, item *inventory.Item, params []string, now time.Time) (variant.Variant, error) {
	if len(params) != 1 && len(params) != 2 {
		return variant.Variant{}, ErrParamCount
	}
	sec, err := history.ParseSeconds(params[0])
	if err != nil || sec <= 0 {
		return variant.Variant{}, fmt.Errorf("invalid first parameter")
	}
	if len(params) == 2 && params[1] != "" && params[1] != "strict" {
		return variant.Variant{}, fmt.Errorf("invalid second parameter")
	}
	records, err := e.values(ctx, item, strconv.Itoa(sec), now)
	if err != nil {
		return variant.Variant{}, err
	}
	if len(records) == 0 {
		return variant.NewUint64(1), nil
	}
	return variant.NewUint64(0), nil
}

func evalChange(e *Evaluator, ctx context.Context, item *inventory.Item, params []string, now time.Time) (variant.Variant, error) {
	if len(params) != 0 {
		return variant.Variant{}, ErrParamCount
	}
	records, err := e.values(ctx, item, "#2", now)
	if err != nil {
		return variant.Variant{}, err
	}
	if len(records) < 2 {
		return variant.Variant{}, ErrNoData
	}
	switch item.ValueType {
	case inventory.ValueFloat:
		return variant.NewFloat(records[0].Float - records[1].Float), nil
	case inventory.ValueUint64:
		return variant.NewFloat(float64(records[0].Uint64) - float64(records[1].Uint64)), nil
	default:
		if records[0].Str == records[1].Str {
			return variant.NewUint64(0), nil
		}
		return variant.NewUint64(1), nil
	}
}

func evalRate(e *Evaluator, ctx context.Context, item *inventory.Item, params []string, now time.Time) (variant.Variant, error) {
	if len(params) != 1 {
		return variant.Variant{}, ErrParamCount
	}
	v, err := e.rate.Rate(ctx, item, history.QuoteParam(params[0]), now)
	if err != nil {
		return variant.Variant{}, err
	}
	return variant.NewFloat(v), nil
}

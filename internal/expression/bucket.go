// Copyright 2025 V Kontakte LLC
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package expression

import (
	"math"
	"strconv"
	"time"

	"github.com/go-kit/log/level"

	"github.com/VKCOM/calcheck/internal/histogram"
	"github.com/VKCOM/calcheck/internal/inventory"
	"github.com/VKCOM/calcheck/internal/itemkey"
	"github.com/VKCOM/calcheck/internal/itemquery"
	"github.com/VKCOM/calcheck/internal/variant"
)

func evalBucketRate(s *Session, q *itemquery.Query, itemIDs []uint64, args []variant.Variant, now time.Time) (variant.Variant, error) {
	if len(args) < 1 || len(args) > 2 {
		return variant.Variant{}, errInvalidParamCount
	}
	param, err := rateParam(args[0])
	if err != nil {
		return variant.Variant{}, err
	}
	pos := s.deps.Config.BucketParam
	if len(args) == 2 {
		if pos, err = bucketParamPos(args[1]); err != nil {
			return variant.Variant{}, err
		}
	}
	buckets, err := s.bucketRates(q, itemIDs, param, pos, now)
	if err != nil {
		return variant.Variant{}, err
	}
	res := make([]variant.Variant, 0, 2*len(buckets))
	for _, b := range buckets {
		res = append(res, variant.NewFloat(b.UpperBound), variant.NewFloat(b.Count))
	}
	return variant.NewVector(res), nil
}

func evalBucketPercentile(s *Session, q *itemquery.Query, itemIDs []uint64, args []variant.Variant, now time.Time) (variant.Variant, error) {
	if len(args) != 2 {
		return variant.Variant{}, errInvalidParamCount
	}
	param, err := rateParam(args[0])
	if err != nil {
		return variant.Variant{}, err
	}
	percentage, err := args[1].ToFloat()
	if err != nil {
		return variant.Variant{}, errInvalidThird
	}
	if percentage < 0 || percentage > 100 || math.IsNaN(percentage) {
		return variant.Variant{}, errInvalidPercentile
	}
	buckets, err := s.bucketRates(q, itemIDs, param, s.deps.Config.BucketParam, now)
	if err != nil {
		return variant.Variant{}, err
	}
	v, err := histogram.Quantile(percentage/100, buckets)
	if err != nil {
		return variant.Variant{}, err
	}
	return variant.NewFloat(v), nil
}

func rateParam(arg variant.Variant) (string, error) {
	param, err := arg.ToString()
	if err != nil {
		return "", errInvalidSecond
	}
	return param, nil
}

// bucketParamPos returns the 1-based key parameter holding bucket bounds.
func bucketParamPos(arg variant.Variant) (int, error) {
	switch arg.Type {
	case variant.Str:
		n, err := strconv.ParseUint(arg.Str, 10, 16)
		if err != nil || n == 0 {
			return 0, errInvalidThird
		}
		return int(n), nil
	case variant.Uint64:
		if arg.Uint64 == 0 || arg.Uint64 > math.MaxUint16 {
			return 0, errInvalidThird
		}
		return int(arg.Uint64), nil
	case variant.Float:
		if arg.Float < 1 || arg.Float > math.MaxUint16 || arg.Float != math.Trunc(arg.Float) {
			return 0, errInvalidThird
		}
		return int(arg.Float), nil
	}
	return 0, errInvalidThird
}

// bucketRates collects (bound, rate) of every supported item with a bucket
// bound in the key parameter pos. Rate failure fails the whole call.
func (s *Session) bucketRates(q *itemquery.Query, itemIDs []uint64, param string, pos int, now time.Time) ([]histogram.Bucket, error) {
	var buckets []histogram.Bucket
	for _, item := range s.valueItems(itemIDs) {
		le, ok := bucketBound(item, pos)
		if !ok {
			level.Debug(s.logger).Log("msg", "item has no bucket bound", "query", q, "itemid", item.ItemID, "key", item.Key, "param", pos)
			continue
		}
		rate, err := s.deps.Rate.Rate(s.ctx, item, param, now)
		if err != nil {
			return nil, err
		}
		buckets = append(buckets, histogram.Bucket{UpperBound: le, Count: rate})
	}
	return buckets, nil
}

func bucketBound(item *inventory.Item, pos int) (float64, bool) {
	k, err := itemkey.Parse(item.Key)
	if err != nil {
		return 0, false
	}
	p, ok := k.Param(pos)
	if !ok {
		return 0, false
	}
	return histogram.ParseBoundary(p)
}

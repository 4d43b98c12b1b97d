// Copyright 2025 V Kontakte LLC
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package histogram computes quantiles over cumulative buckets.
package histogram

import (
	"errors"
	"math"
	"strconv"
	"strings"

	"golang.org/x/exp/slices"
)

var (
	ErrNoBuckets   = errors.New("no buckets")
	ErrNoInfBucket = errors.New("missing +Inf bucket")
)

// Bucket is a cumulative histogram bucket, Count includes all observations
// less than or equal to UpperBound.
type Bucket struct {
	UpperBound float64
	Count      float64
}

// ParseBoundary parses a bucket bound, "inf" and "+inf" in any case mean
// positive infinity.
func ParseBoundary(s string) (float64, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "inf", "+inf":
		return math.Inf(1), true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) {
		return 0, false
	}
	return f, true
}

// Quantile returns the q-quantile (0 <= q <= 1) of the distribution by linear
// interpolation inside the bucket the rank falls into. Lower bound of the
// first bucket is 0 unless its upper bound is not positive. When the rank
// falls into the +Inf bucket the largest finite bound is returned. Buckets are
// sorted in place.
func Quantile(q float64, buckets []Bucket) (float64, error) {
	if len(buckets) == 0 {
		return 0, ErrNoBuckets
	}
	switch {
	case math.IsNaN(q):
		return math.NaN(), nil
	case q < 0:
		return math.Inf(-1), nil
	case q > 1:
		return math.Inf(1), nil
	}
	slices.SortStableFunc(buckets, func(a, b Bucket) int {
		switch {
		case a.UpperBound < b.UpperBound:
			return -1
		case a.UpperBound > b.UpperBound:
			return 1
		}
		return 0
	})
	if !math.IsInf(buckets[len(buckets)-1].UpperBound, 1) {
		return 0, ErrNoInfBucket
	}
	buckets = coalesce(buckets)
	monotonic(buckets)
	if len(buckets) < 2 {
		return math.NaN(), nil
	}
	total := buckets[len(buckets)-1].Count
	if total == 0 {
		return math.NaN(), nil
	}
	rank := q * total
	b := 0
	for b < len(buckets)-1 && buckets[b].Count < rank {
		b++
	}
	if b == len(buckets)-1 {
		return buckets[len(buckets)-2].UpperBound, nil
	}
	if b == 0 && buckets[0].UpperBound <= 0 {
		return buckets[0].UpperBound, nil
	}
	var (
		lo    float64
		count = buckets[b].Count
		hi    = buckets[b].UpperBound
	)
	if b > 0 {
		lo = buckets[b-1].UpperBound
		count -= buckets[b-1].Count
		rank -= buckets[b-1].Count
	}
	if count == 0 {
		return lo, nil
	}
	return lo + (hi-lo)*(rank/count), nil
}

// coalesce merges buckets with equal bounds, buckets must be sorted.
func coalesce(buckets []Bucket) []Bucket {
	res := buckets[:1]
	for _, b := range buckets[1:] {
		last := &res[len(res)-1]
		if b.UpperBound == last.UpperBound {
			last.Count += b.Count
			continue
		}
		res = append(res, b)
	}
	return res
}

// monotonic fixes counts decreasing with the bound, which happens when rates
// of different buckets are computed at slightly different times.
func monotonic(buckets []Bucket) {
	for i := 1; i < len(buckets); i++ {
		if buckets[i].Count < buckets[i-1].Count {
			buckets[i].Count = buckets[i-1].Count
		}
	}
}

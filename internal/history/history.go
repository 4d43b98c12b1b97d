// Copyright 2025 V Kontakte LLC
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package history reads item samples and aggregates them.
package history

import (
	"context"
	"strconv"
	"time"

	"github.com/VKCOM/calcheck/internal/inventory"
	"github.com/VKCOM/calcheck/internal/variant"
)

type Value struct {
	Float  float64 `yaml:"float,omitempty"`
	Uint64 uint64  `yaml:"uint64,omitempty"`
	Str    string  `yaml:"str,omitempty"`
}

type Record struct {
	TS time.Time
	Value
}

// Number returns the sample as float64, string samples are parsed.
func (r *Record) Number(vt inventory.ValueType) (float64, bool) {
	switch vt {
	case inventory.ValueFloat:
		return r.Float, true
	case inventory.ValueUint64:
		return float64(r.Uint64), true
	default:
		f, err := strconv.ParseFloat(r.Str, 64)
		return f, err == nil
	}
}

// Variant returns the sample in its native type.
func (r *Record) Variant(vt inventory.ValueType) variant.Variant {
	switch vt {
	case inventory.ValueFloat:
		return variant.NewFloat(r.Float)
	case inventory.ValueUint64:
		return variant.NewUint64(r.Uint64)
	default:
		return variant.NewStr(r.Str)
	}
}

// Window selects the last Count samples, the samples of the last Seconds or,
// when both are set, at most Count latest samples of the last Seconds. The
// window ends Shift before the evaluation time.
type Window struct {
	Seconds int
	Count   int
	Shift   time.Duration
}

func (w Window) IsCount() bool { return w.Count != 0 }

// Range returns the interval (from, to] of a time window. For count windows
// only to is meaningful.
func (w Window) Range(now time.Time) (from time.Time, to time.Time) {
	to = now.Add(-w.Shift)
	return to.Add(-time.Duration(w.Seconds) * time.Second), to
}

// Store serves item samples newest-first.
type Store interface {
	Values(ctx context.Context, itemID uint64, vt inventory.ValueType, w Window, now time.Time) ([]Record, error)
}

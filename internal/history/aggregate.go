// Copyright 2025 V Kontakte LLC
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package history

import (
	"fmt"

	"github.com/VKCOM/calcheck/internal/inventory"
)

type Func int

const (
	FuncMin Func = iota
	FuncMax
	FuncAvg
	FuncSum
	FuncCount
	FuncLast
)

var funcNames = [...]string{
	FuncMin:   "min",
	FuncMax:   "max",
	FuncAvg:   "avg",
	FuncSum:   "sum",
	FuncCount: "count",
	FuncLast:  "last",
}

func (f Func) String() string {
	if int(f) < len(funcNames) {
		return funcNames[f]
	}
	return fmt.Sprintf("Func(%d)", int(f))
}

// Aggregate applies fn to newest-first numeric records.
func Aggregate(fn Func, records []Record, vt inventory.ValueType) (float64, error) {
	if len(records) == 0 {
		return 0, fmt.Errorf("no data")
	}
	if !vt.IsNumeric() {
		return 0, fmt.Errorf("invalid value type %s", vt)
	}
	switch fn {
	case FuncMin:
		return Min(records, vt), nil
	case FuncMax:
		return Max(records, vt), nil
	case FuncAvg:
		return Avg(records, vt), nil
	case FuncSum:
		return Sum(records, vt), nil
	case FuncCount:
		return Count(records), nil
	case FuncLast:
		return Last(records, vt), nil
	default:
		return 0, fmt.Errorf("unknown aggregate %s", fn)
	}
}

func Min(records []Record, vt inventory.ValueType) float64 {
	if vt == inventory.ValueUint64 {
		m := records[0].Uint64
		for i := 1; i < len(records); i++ {
			m = min(m, records[i].Uint64)
		}
		return float64(m)
	}
	m := records[0].Float
	for i := 1; i < len(records); i++ {
		if records[i].Float < m {
			m = records[i].Float
		}
	}
	return m
}

func Max(records []Record, vt inventory.ValueType) float64 {
	if vt == inventory.ValueUint64 {
		m := records[0].Uint64
		for i := 1; i < len(records); i++ {
			m = max(m, records[i].Uint64)
		}
		return float64(m)
	}
	m := records[0].Float
	for i := 1; i < len(records); i++ {
		if records[i].Float > m {
			m = records[i].Float
		}
	}
	return m
}

func Sum(records []Record, vt inventory.ValueType) float64 {
	var s float64
	for i := range records {
		if vt == inventory.ValueUint64 {
			s += float64(records[i].Uint64)
		} else {
			s += records[i].Float
		}
	}
	return s
}

func Avg(records []Record, vt inventory.ValueType) float64 {
	return Sum(records, vt) / float64(len(records))
}

func Count(records []Record) float64 {
	return float64(len(records))
}

func Last(records []Record, vt inventory.ValueType) float64 {
	if vt == inventory.ValueUint64 {
		return float64(records[0].Uint64)
	}
	return records[0].Float
}

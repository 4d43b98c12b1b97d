// Copyright 2025 V Kontakte LLC
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package history

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/VKCOM/calcheck/internal/inventory"
)

type PatternOp int

const (
	OpAny PatternOp = iota // no pattern, every sample matches
	OpEq
	OpNe
	OpGt
	OpGe
	OpLt
	OpLe
	OpLike
	OpBitAnd
	OpRegexp
	OpIRegexp
)

var patternOps = map[string]PatternOp{
	"eq":      OpEq,
	"ne":      OpNe,
	"gt":      OpGt,
	"ge":      OpGe,
	"lt":      OpLt,
	"le":      OpLe,
	"like":    OpLike,
	"bitand":  OpBitAnd,
	"regexp":  OpRegexp,
	"iregexp": OpIRegexp,
}

// CountPattern selects samples counted by count functions.
type CountPattern struct {
	op    PatternOp
	vt    inventory.ValueType
	str   string
	num   float64
	value uint64
	mask  uint64
	re    *regexp.Regexp
}

// NewCountPattern compiles operator and pattern for items of type vt. Empty
// operator defaults to "eq" for numbers and "like" for strings.
func NewCountPattern(op string, pattern string, vt inventory.ValueType) (*CountPattern, error) {
	p := &CountPattern{vt: vt, str: pattern}
	if op == "" {
		if pattern == "" {
			return p, nil
		}
		op = "eq"
		if !vt.IsNumeric() {
			op = "like"
		}
	}
	var ok bool
	if p.op, ok = patternOps[op]; !ok {
		return nil, fmt.Errorf("invalid operator %q", op)
	}
	switch p.op {
	case OpRegexp, OpIRegexp:
		expr := pattern
		if p.op == OpIRegexp {
			expr = "(?i)" + expr
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("invalid regular expression %q: %w", pattern, err)
		}
		p.re = re
	case OpLike:
		if vt.IsNumeric() {
			return nil, fmt.Errorf("operator %q is not supported for numeric values", op)
		}
	case OpBitAnd:
		if vt != inventory.ValueUint64 {
			return nil, fmt.Errorf("operator %q is supported only for unsigned integer values", op)
		}
		value, mask, hasMask := strings.Cut(pattern, "/")
		var err error
		if p.value, err = strconv.ParseUint(value, 10, 64); err != nil {
			return nil, fmt.Errorf("invalid pattern %q", pattern)
		}
		p.mask = p.value
		if hasMask {
			if p.mask, err = strconv.ParseUint(mask, 10, 64); err != nil {
				return nil, fmt.Errorf("invalid pattern %q", pattern)
			}
		}
	default:
		if vt.IsNumeric() {
			f, err := strconv.ParseFloat(pattern, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid pattern %q", pattern)
			}
			p.num = f
		} else if p.op != OpEq && p.op != OpNe {
			return nil, fmt.Errorf("operator %q is not supported for string values", op)
		}
	}
	return p, nil
}

func (p *CountPattern) Match(r *Record) bool {
	switch p.op {
	case OpAny:
		return true
	case OpRegexp, OpIRegexp:
		return p.re.MatchString(p.text(r))
	case OpLike:
		return strings.Contains(r.Str, p.str)
	case OpBitAnd:
		return r.Uint64&p.mask == p.value
	}
	if !p.vt.IsNumeric() {
		return (r.Str == p.str) == (p.op == OpEq)
	}
	v, _ := r.Number(p.vt)
	switch p.op {
	case OpEq:
		return v == p.num
	case OpNe:
		return v != p.num
	case OpGt:
		return v > p.num
	case OpGe:
		return v >= p.num
	case OpLt:
		return v < p.num
	case OpLe:
		return v <= p.num
	}
	return false
}

func (p *CountPattern) text(r *Record) string {
	switch p.vt {
	case inventory.ValueFloat:
		return strconv.FormatFloat(r.Float, 'f', -1, 64)
	case inventory.ValueUint64:
		return strconv.FormatUint(r.Uint64, 10)
	default:
		return r.Str
	}
}

func (p *CountPattern) Count(records []Record) int {
	n := 0
	for i := range records {
		if p.Match(&records[i]) {
			n++
		}
	}
	return n
}

// Copyright 2025 V Kontakte LLC
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package variant holds the typed value passed between the expression
// evaluator and historical functions.
package variant

import (
	"fmt"
	"strconv"
	"strings"
)

type Type int

const (
	None Type = iota
	Float
	Uint64
	Str
	Vector
)

func (t Type) String() string {
	switch t {
	case None:
		return "none"
	case Float:
		return "double"
	case Uint64:
		return "uint64"
	case Str:
		return "string"
	case Vector:
		return "vector"
	default:
		return "unknown"
	}
}

type Variant struct {
	Type   Type
	Float  float64
	Uint64 uint64
	Str    string
	Vector []Variant
}

func NewFloat(v float64) Variant { return Variant{Type: Float, Float: v} }
func NewUint64(v uint64) Variant { return Variant{Type: Uint64, Uint64: v} }
func NewStr(v string) Variant    { return Variant{Type: Str, Str: v} }

func NewVector(v []Variant) Variant {
	if v == nil {
		v = []Variant{}
	}
	return Variant{Type: Vector, Vector: v}
}

// ToFloat converts scalar variants to float64. Strings must hold a number.
func (v Variant) ToFloat() (float64, error) {
	switch v.Type {
	case Float:
		return v.Float, nil
	case Uint64:
		return float64(v.Uint64), nil
	case Str:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.Str), 64)
		if err != nil {
			return 0, fmt.Errorf("cannot convert %q to %s", v.Str, Float)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("cannot convert %s to %s", v.Type, Float)
	}
}

// ToString converts scalar variants to their textual form.
func (v Variant) ToString() (string, error) {
	switch v.Type {
	case Float:
		return strconv.FormatFloat(v.Float, 'f', -1, 64), nil
	case Uint64:
		return strconv.FormatUint(v.Uint64, 10), nil
	case Str:
		return v.Str, nil
	default:
		return "", fmt.Errorf("cannot convert %s to %s", v.Type, Str)
	}
}

func (v Variant) String() string {
	switch v.Type {
	case None:
		return ""
	case Vector:
		var sb strings.Builder
		sb.WriteByte('[')
		for i := range v.Vector {
			if i != 0 {
				sb.WriteByte(',')
			}
			sb.WriteString(v.Vector[i].String())
		}
		sb.WriteByte(']')
		return sb.String()
	default:
		s, _ := v.ToString()
		return s
	}
}

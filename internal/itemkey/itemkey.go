// Copyright 2025 V Kontakte LLC
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package itemkey parses item keys of the form name[param1,"param 2",[a,b]].
package itemkey

import (
	"fmt"
	"strings"
)

const Wildcard = "*"

type Param struct {
	Value  string // unquoted value, raw text between brackets for arrays
	Raw    string // text as written in the key
	Quoted bool
	Array  bool
}

// IsWildcard reports whether the parameter is the bare literal '*'.
// A '*' inside a quoted or array parameter is a literal.
func (p Param) IsWildcard() bool {
	return !p.Quoted && !p.Array && p.Raw == Wildcard
}

type Key struct {
	Name    string
	Params  []Param
	bracket bool // key was written with [] even if there are no parameters
}

func isKeyChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_' || c == '.' || c == '-'
}

func Parse(s string) (Key, error) {
	var k Key
	i := 0
	for i < len(s) && isKeyChar(s[i]) {
		i++
	}
	if i == 0 {
		return Key{}, fmt.Errorf("invalid item key %q: empty key name", s)
	}
	k.Name = s[:i]
	if i == len(s) {
		return k, nil
	}
	if s[i] != '[' {
		return Key{}, fmt.Errorf("invalid item key %q: unexpected character at position %d", s, i)
	}
	k.bracket = true
	i++
	for { // "key[]" has a single empty parameter
		p, n, err := parseParam(s, i)
		if err != nil {
			return Key{}, fmt.Errorf("invalid item key %q: %w", s, err)
		}
		k.Params = append(k.Params, p)
		i = n
		for i < len(s) && s[i] == ' ' {
			i++
		}
		if i == len(s) {
			return Key{}, fmt.Errorf("invalid item key %q: missing closing bracket", s)
		}
		switch s[i] {
		case ',':
			i++
			continue
		case ']':
			if i+1 != len(s) {
				return Key{}, fmt.Errorf("invalid item key %q: unexpected text after parameters", s)
			}
			return k, nil
		default:
			return Key{}, fmt.Errorf("invalid item key %q: unexpected character at position %d", s, i)
		}
	}
}

// parseParam parses one parameter starting at s[i], returns position right after it.
func parseParam(s string, i int) (Param, int, error) {
	for i < len(s) && s[i] == ' ' {
		i++
	}
	if i == len(s) {
		return Param{}, i, fmt.Errorf("unterminated parameter list")
	}
	switch s[i] {
	case '"':
		return parseQuoted(s, i)
	case '[':
		start := i
		i++
		inQuotes := false
		for ; i < len(s); i++ {
			c := s[i]
			if inQuotes {
				if c == '\\' && i+1 < len(s) && s[i+1] == '"' {
					i++
				} else if c == '"' {
					inQuotes = false
				}
				continue
			}
			switch c {
			case '"':
				inQuotes = true
			case '[':
				return Param{}, i, fmt.Errorf("nested arrays are not allowed")
			case ']':
				return Param{Value: s[start+1 : i], Raw: s[start : i+1], Array: true}, i + 1, nil
			}
		}
		return Param{}, i, fmt.Errorf("unterminated array parameter")
	default:
		start := i
		for i < len(s) && s[i] != ',' && s[i] != ']' {
			i++
		}
		raw := s[start:i]
		return Param{Value: raw, Raw: raw}, i, nil
	}
}

func parseQuoted(s string, i int) (Param, int, error) {
	start := i
	var sb strings.Builder
	for i++; i < len(s); i++ {
		c := s[i]
		if c == '\\' && i+1 < len(s) && s[i+1] == '"' {
			sb.WriteByte('"')
			i++
			continue
		}
		if c == '"' {
			return Param{Value: sb.String(), Raw: s[start : i+1], Quoted: true}, i + 1, nil
		}
		sb.WriteByte(c)
	}
	return Param{}, i, fmt.Errorf("unterminated quoted parameter")
}

func (k Key) String() string {
	if !k.bracket && len(k.Params) == 0 {
		return k.Name
	}
	var sb strings.Builder
	sb.WriteString(k.Name)
	sb.WriteByte('[')
	for i, p := range k.Params {
		if i != 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(p.Raw)
	}
	sb.WriteByte(']')
	return sb.String()
}

func (k Key) HasWildcard() bool {
	for _, p := range k.Params {
		if p.IsWildcard() {
			return true
		}
	}
	return false
}

// Param returns the n-th parameter value, n is 1-based.
func (k Key) Param(n int) (string, bool) {
	if n < 1 || n > len(k.Params) {
		return "", false
	}
	return k.Params[n-1].Value, true
}

// Match checks candidate against k used as a pattern. Only wildcard parameters
// of the pattern match any value, the rest must be equal.
func (k Key) Match(candidate Key) bool {
	if k.Name != candidate.Name || len(k.Params) != len(candidate.Params) {
		return false
	}
	for i, p := range k.Params {
		if p.IsWildcard() {
			continue
		}
		if p.Value != candidate.Params[i].Value {
			return false
		}
	}
	return true
}

// LikePattern converts k to an SQL LIKE pattern with '\' as the escape character.
// The pattern may match a superset of keys accepted by Match.
func (k Key) LikePattern() string {
	var sb strings.Builder
	sb.WriteString(EscapeLike(k.Name))
	if !k.bracket && len(k.Params) == 0 {
		return sb.String()
	}
	sb.WriteByte('[')
	for i, p := range k.Params {
		if i != 0 {
			sb.WriteByte(',')
		}
		if p.IsWildcard() {
			sb.WriteByte('%')
			continue
		}
		sb.WriteString(EscapeLike(p.Raw))
	}
	sb.WriteByte(']')
	return sb.String()
}

func EscapeLike(s string) string {
	if !strings.ContainsAny(s, `\%_`) {
		return s
	}
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\', '%', '_':
			sb.WriteByte('\\')
		}
		sb.WriteByte(s[i])
	}
	return sb.String()
}

// Copyright 2025 V Kontakte LLC
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package itemquery parses and classifies item queries /host/key?[filter].
package itemquery

import (
	"errors"
	"strings"

	"github.com/VKCOM/calcheck/internal/itemkey"
)

type HostScope int

const (
	HostUnset HostScope = iota
	HostSelf            // empty host, resolved to the evaluated item host
	HostExact
	HostAny
)

type KeyScope int

const (
	KeyUnset KeyScope = iota
	KeyExact
	KeyWildcardSome // some key parameters are '*'
	KeyAny
)

type Class int

const (
	ClassUnset Class = iota
	ClassOne
	ClassMany
	ClassError
)

func (c Class) String() string {
	switch c {
	case ClassOne:
		return "one"
	case ClassMany:
		return "many"
	case ClassError:
		return "error"
	default:
		return "unset"
	}
}

const HostMacro = "{HOST.HOST}"

var (
	errInvalidFilter = errors.New("invalid item query filter")
	ErrHostKeyAny    = errors.New("item query must have at least a host or an item key defined")
)

type Query struct {
	Host   string
	Key    string
	Filter string

	HostScope HostScope
	KeyScope  KeyScope
	Class     Class
	Err       error // set when Class is ClassError

	pattern itemkey.Key // parsed key, valid for KeyExact and KeyWildcardSome
}

// Parse never fails: a malformed query is returned with ClassError so that
// only functions referencing it fail.
func Parse(text string) *Query {
	q := &Query{}
	host, key, filter, ok := split(text)
	if !ok {
		q.SetError(errInvalidFilter)
		return q
	}
	q.Host, q.Key, q.Filter = host, key, filter
	q.classify()
	return q
}

// split breaks /host/key?[filter] into parts. Host and key may not contain '/',
// except inside the quoted key parameters.
func split(text string) (host, key, filter string, ok bool) {
	if len(text) < 2 || text[0] != '/' {
		return "", "", "", false
	}
	rest := text[1:]
	i := strings.IndexByte(rest, '/')
	if i < 0 {
		return "", "", "", false
	}
	host, rest = rest[:i], rest[i+1:]
	end := keyEnd(rest)
	if end == 0 {
		return "", "", "", false
	}
	key, rest = rest[:end], rest[end:]
	if rest == "" {
		return host, key, "", true
	}
	if !strings.HasPrefix(rest, "?[") || !strings.HasSuffix(rest, "]") {
		return "", "", "", false
	}
	filter = strings.TrimSpace(rest[2 : len(rest)-1])
	return host, key, filter, true
}

// keyEnd returns the length of the item key at the beginning of s.
func keyEnd(s string) int {
	depth := 0
	quoted := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if quoted {
			if c == '\\' && i+1 < len(s) && s[i+1] == '"' {
				i++
			} else if c == '"' {
				quoted = false
			}
			continue
		}
		switch c {
		case '"':
			quoted = true
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return i + 1
			}
		case '?':
			if depth == 0 {
				return i
			}
		}
	}
	if depth != 0 || quoted {
		return 0
	}
	return len(s)
}

func (q *Query) classify() {
	switch {
	case q.Host == "":
		q.HostScope = HostSelf
	case q.Host[0] == '*':
		q.HostScope = HostAny
	default:
		q.HostScope = HostExact
	}

	switch {
	case q.Key[0] == '*':
		q.KeyScope = KeyAny
	default:
		k, err := itemkey.Parse(q.Key)
		if err != nil {
			q.SetError(errInvalidFilter)
			return
		}
		q.pattern = k
		if k.HasWildcard() {
			q.KeyScope = KeyWildcardSome
		} else {
			q.KeyScope = KeyExact
		}
	}

	if q.HostScope == HostAny || q.KeyScope != KeyExact || q.Filter != "" {
		q.Class = ClassMany
	} else {
		q.Class = ClassOne
	}
}

// SetError moves the query into the terminal error state.
func (q *Query) SetError(err error) {
	q.Class = ClassError
	q.Err = err
}

func (q *Query) IsMany() bool { return q.Class == ClassMany }

func (q *Query) IsOne() bool { return q.Class == ClassOne }

// HostKeyAny reports the forbidden combination of any host and any key.
func (q *Query) HostKeyAny() bool {
	return q.HostScope == HostAny && q.KeyScope == KeyAny
}

func (q *Query) HasFilter() bool { return q.Filter != "" }

// Pattern returns the parsed key, wildcard parameters are kept as '*'.
func (q *Query) Pattern() itemkey.Key { return q.pattern }

// ResolveHost replaces the empty host and the host macro with the evaluated item host.
func (q *Query) ResolveHost(host string) {
	if q.HostScope == HostSelf || q.Host == HostMacro {
		q.Host = host
	}
}

func (q *Query) String() string {
	var sb strings.Builder
	sb.WriteByte('/')
	sb.WriteString(q.Host)
	sb.WriteByte('/')
	sb.WriteString(q.Key)
	if q.Filter != "" {
		sb.WriteString("?[")
		sb.WriteString(q.Filter)
		sb.WriteByte(']')
	}
	return sb.String()
}

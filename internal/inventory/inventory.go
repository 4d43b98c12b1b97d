// Copyright 2025 V Kontakte LLC
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package inventory describes monitored hosts and items and the stores which
// serve their configuration.
package inventory

import (
	"context"
	"errors"
	"strings"

	"github.com/VKCOM/calcheck/internal/filter"
)

type ValueType int

// Value type numbering follows the monitoring server configuration.
const (
	ValueFloat  ValueType = 0
	ValueStr    ValueType = 1
	ValueLog    ValueType = 2
	ValueUint64 ValueType = 3
	ValueText   ValueType = 4
	ValueBin    ValueType = 5
	ValueNone   ValueType = 6
)

func (v ValueType) IsNumeric() bool { return v == ValueFloat || v == ValueUint64 }

func (v ValueType) String() string {
	switch v {
	case ValueFloat:
		return "float"
	case ValueStr:
		return "str"
	case ValueLog:
		return "log"
	case ValueUint64:
		return "uint64"
	case ValueText:
		return "text"
	case ValueBin:
		return "bin"
	case ValueNone:
		return "none"
	default:
		return "unknown"
	}
}

type ItemStatus int

const (
	ItemActive   ItemStatus = 0
	ItemDisabled ItemStatus = 1
)

type HostStatus int

const (
	HostMonitored    HostStatus = 0
	HostNotMonitored HostStatus = 1
)

type ItemState int

const (
	StateNormal       ItemState = 0
	StateNotSupported ItemState = 1
)

var ErrNotFound = errors.New("not found")

// Item is a configuration snapshot of a monitored item.
type Item struct {
	ItemID      uint64     `db:"itemid" yaml:"itemid"`
	HostID      uint64     `db:"hostid" yaml:"hostid"`
	Host        string     `db:"host" yaml:"-"`
	HostStatus  HostStatus `db:"host_status" yaml:"-"`
	ProxyID     uint64     `db:"proxyid" yaml:"-"`
	Key         string     `db:"key_" yaml:"key"`
	ValueType   ValueType  `db:"value_type" yaml:"value_type"`
	Status      ItemStatus `db:"status" yaml:"status"`
	State       ItemState  `db:"state" yaml:"state"`
	InterfaceID uint64     `db:"interfaceid" yaml:"interfaceid"`
	Error       string     `db:"error" yaml:"error"`
}

type Host struct {
	HostID  uint64     `db:"hostid" yaml:"hostid"`
	Host    string     `db:"host" yaml:"host"`
	Status  HostStatus `db:"status" yaml:"status"`
	ProxyID uint64     `db:"proxyid" yaml:"proxyid"`
}

type Tag struct {
	Name  string `db:"tag" yaml:"tag"`
	Value string `db:"value" yaml:"value"`
}

type Tags []Tag

// Match checks the tag condition "name" or "name:value".
func (tt Tags) Match(spec string) bool {
	name, value, hasValue := strings.Cut(spec, ":")
	for _, t := range tt {
		if t.Name != name {
			continue
		}
		if !hasValue || t.Value == value {
			return true
		}
	}
	return false
}

type HostKey struct {
	Host string
	Key  string
}

type Candidate struct {
	ItemID uint64 `db:"itemid"`
	HostID uint64 `db:"hostid"`
	Key    string `db:"key_"`
}

// CandidateQuery composes predicates narrowing the items which might match an
// item query. Zero value matches all items.
type CandidateQuery struct {
	Host       string // exact host name
	SelfHostID uint64 // exact host id, used when Host is empty
	Key        string // exact key
	KeyLike    string // LIKE pattern with '\' escape, used when Key is empty

	// Groups is evaluated against hostSets[i], the host ids of the i-th
	// group referenced by the filter.
	Groups   *filter.GroupFilter
	HostSets [][]uint64
}

func (q *CandidateQuery) ByHost(host string) *CandidateQuery {
	q.Host = host
	return q
}

func (q *CandidateQuery) BySelf(hostID uint64) *CandidateQuery {
	q.SelfHostID = hostID
	return q
}

func (q *CandidateQuery) ByKey(key string) *CandidateQuery {
	q.Key = key
	return q
}

func (q *CandidateQuery) ByKeyPattern(like string) *CandidateQuery {
	q.KeyLike = like
	return q
}

func (q *CandidateQuery) ByGroups(gf *filter.GroupFilter, hostSets [][]uint64) *CandidateQuery {
	q.Groups = gf
	q.HostSets = hostSets
	return q
}

// Store is the read side of the configuration used by expression evaluation.
// Bulk lookups return a per-element error slice parallel to the input, a
// missing element is reported with ErrNotFound.
type Store interface {
	ItemsByHostKeys(ctx context.Context, keys []HostKey) ([]Item, []error)
	ItemsByIDs(ctx context.Context, ids []uint64) ([]Item, []error)
	HostByID(ctx context.Context, hostID uint64) (Host, error)
	HostIDsByGroup(ctx context.Context, name string) ([]uint64, error)
	ItemTags(ctx context.Context, itemID uint64) (Tags, error)
	Candidates(ctx context.Context, q *CandidateQuery) ([]Candidate, error)
}

func fillErrors(n int, err error) []error {
	errs := make([]error, n)
	for i := range errs {
		errs[i] = err
	}
	return errs
}

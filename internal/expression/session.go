// Copyright 2025 V Kontakte LLC
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package expression evaluates history functions over item queries. A
// Session resolves the item queries of one expression and serves function
// calls of the expression evaluator.
package expression

import (
	"context"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"golang.org/x/exp/slices"

	"github.com/VKCOM/calcheck/internal/history"
	"github.com/VKCOM/calcheck/internal/inventory"
	"github.com/VKCOM/calcheck/internal/itemquery"
	"github.com/VKCOM/calcheck/internal/variant"
)

type Mode int

const (
	ModeNormal    Mode = iota // only single item queries
	ModeAggregate             // many item queries are allowed
)

func (m Mode) String() string {
	if m == ModeAggregate {
		return "aggregate"
	}
	return "normal"
}

// FuncEvaluator evaluates a function of a single item with text parameters.
type FuncEvaluator interface {
	Evaluate(ctx context.Context, item *inventory.Item, name string, params string, now time.Time) (variant.Variant, error)
}

// RateEvaluator computes counter rates for histogram buckets.
type RateEvaluator interface {
	Rate(ctx context.Context, item *inventory.Item, params string, now time.Time) (float64, error)
}

type Deps struct {
	Inventory inventory.Store
	History   history.Store
	Func      FuncEvaluator
	Rate      RateEvaluator
	Config    Config
	Logger    log.Logger
}

// resolved is either oneQuery or manyQuery.
type resolved interface {
	isResolved()
}

type oneQuery struct {
	index int // into Session.hostKeys
}

type manyQuery struct {
	itemIDs []uint64 // sorted
}

func (oneQuery) isResolved()  {}
func (manyQuery) isResolved() {}

type queryData struct {
	query *itemquery.Query
	data  resolved // nil until Prepare or for queries in error state
}

type Session struct {
	ctx    context.Context
	deps   Deps
	logger log.Logger
	mode   Mode
	hostID uint64

	queries []*queryData

	hostKeys []inventory.HostKey
	hkItems  []inventory.Item
	hkErrs   []error
	items    []inventory.Item // sorted by ItemID, every fetched item once

	groups map[string][]uint64 // sorted host ids
	tags   map[uint64]inventory.Tags

	prepared bool
	closed   bool
}

// NewSession parses item queries of an expression. Query indexes passed to
// EvalHistory refer to refs. In normal mode many item queries fail.
func NewSession(ctx context.Context, deps Deps, mode Mode, refs []string, hostID uint64) *Session {
	if deps.Logger == nil {
		deps.Logger = log.NewNopLogger()
	}
	s := &Session{
		ctx:    ctx,
		deps:   deps,
		logger: deps.Logger,
		mode:   mode,
		hostID: hostID,
		groups: map[string][]uint64{},
		tags:   map[uint64]inventory.Tags{},
	}
	metricSessions.WithLabelValues(mode.String()).Inc()
	for _, ref := range refs {
		q := itemquery.Parse(ref)
		if q.IsMany() && mode != ModeAggregate {
			q.SetError(errAggregateNotSupported)
		}
		metricQueries.WithLabelValues(q.Class.String()).Inc()
		level.Debug(s.logger).Log("msg", "item query", "query", ref, "class", q.Class, "err", q.Err)
		s.queries = append(s.queries, &queryData{query: q})
	}
	return s
}

// Queries returns parsed item queries in the order of refs.
func (s *Session) Queries() []*itemquery.Query {
	res := make([]*itemquery.Query, 0, len(s.queries))
	for _, qd := range s.queries {
		res = append(res, qd.query)
	}
	return res
}

// ResolveItemHosts substitutes the evaluated item host for queries without
// host and for the host macro.
func (s *Session) ResolveItemHosts(host string, hostID uint64) {
	s.hostID = hostID
	for _, qd := range s.queries {
		qd.query.ResolveHost(host)
	}
}

// Prepare resolves many item queries to item sets and fetches all referenced
// items with one lookup by host and key and one lookup by id.
func (s *Session) Prepare() error {
	if s.closed {
		return errSessionClosed
	}
	if s.prepared {
		return nil
	}
	s.prepared = true

	hkIndex := map[inventory.HostKey]int{}
	var manyIDs []uint64
	for _, qd := range s.queries {
		q := qd.query
		switch q.Class {
		case itemquery.ClassOne:
			hk := inventory.HostKey{Host: q.Host, Key: q.Key}
			i, ok := hkIndex[hk]
			if !ok {
				i = len(s.hostKeys)
				hkIndex[hk] = i
				s.hostKeys = append(s.hostKeys, hk)
			}
			qd.data = oneQuery{index: i}
		case itemquery.ClassMany:
			ids, err := s.resolveMany(q)
			if err != nil {
				q.SetError(err)
				level.Debug(s.logger).Log("msg", "failed to resolve item query", "query", q, "err", err)
				continue
			}
			metricCandidates.Observe(float64(len(ids)))
			qd.data = manyQuery{itemIDs: ids}
			manyIDs = append(manyIDs, ids...)
		}
	}

	if len(s.hostKeys) != 0 {
		metricStoreFetches.WithLabelValues("host_key").Inc()
		s.hkItems, s.hkErrs = s.deps.Inventory.ItemsByHostKeys(s.ctx, s.hostKeys)
		for i, err := range s.hkErrs {
			if err == nil {
				s.items = append(s.items, s.hkItems[i])
			} else if err != inventory.ErrNotFound {
				level.Warn(s.logger).Log("msg", "failed to fetch item", "host", s.hostKeys[i].Host, "key", s.hostKeys[i].Key, "err", err)
			}
		}
		s.sortItems()
	}

	slices.Sort(manyIDs)
	manyIDs = slices.Compact(manyIDs)
	missing := manyIDs[:0]
	for _, id := range manyIDs {
		if _, ok := s.item(id); !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) != 0 {
		metricStoreFetches.WithLabelValues("id").Inc()
		items, errs := s.deps.Inventory.ItemsByIDs(s.ctx, missing)
		for i, err := range errs {
			if err != nil {
				level.Debug(s.logger).Log("msg", "failed to fetch item", "itemid", missing[i], "err", err)
				continue
			}
			s.items = append(s.items, items[i])
		}
		s.sortItems()
	}
	return nil
}

func (s *Session) sortItems() {
	slices.SortFunc(s.items, func(a, b inventory.Item) int {
		switch {
		case a.ItemID < b.ItemID:
			return -1
		case a.ItemID > b.ItemID:
			return 1
		}
		return 0
	})
	s.items = slices.CompactFunc(s.items, func(a, b inventory.Item) bool { return a.ItemID == b.ItemID })
}

func (s *Session) item(id uint64) (*inventory.Item, bool) {
	i, ok := slices.BinarySearchFunc(s.items, id, func(it inventory.Item, id uint64) int {
		switch {
		case it.ItemID < id:
			return -1
		case it.ItemID > id:
			return 1
		}
		return 0
	})
	if !ok {
		return nil, false
	}
	return &s.items[i], true
}

// ItemIDs returns the items matched by a many item query after Prepare.
func (s *Session) ItemIDs(index int) ([]uint64, error) {
	qd, err := s.query(index)
	if err != nil {
		return nil, err
	}
	if qd.query.Class == itemquery.ClassError {
		return nil, qd.query.Err
	}
	switch data := qd.data.(type) {
	case manyQuery:
		return slices.Clone(data.itemIDs), nil
	case oneQuery:
		if err := s.hkErrs[data.index]; err != nil {
			return nil, nil
		}
		return []uint64{s.hkItems[data.index].ItemID}, nil
	}
	return nil, errNotPrepared
}

func (s *Session) query(index int) (*queryData, error) {
	if s.closed {
		return nil, errSessionClosed
	}
	if index < 0 || index >= len(s.queries) {
		return nil, errQueryIndex
	}
	return s.queries[index], nil
}

// groupHosts returns sorted host ids of a group, fetched once per session.
func (s *Session) groupHosts(name string) []uint64 {
	if ids, ok := s.groups[name]; ok {
		return ids
	}
	metricStoreFetches.WithLabelValues("group").Inc()
	ids, err := s.deps.Inventory.HostIDsByGroup(s.ctx, name)
	if err != nil {
		level.Warn(s.logger).Log("msg", "failed to fetch group hosts", "group", name, "err", err)
		ids = nil
	}
	ids = slices.Clone(ids)
	slices.Sort(ids)
	s.groups[name] = ids
	return ids
}

// itemTags returns tags of an item, fetched once per session.
func (s *Session) itemTags(itemID uint64) (inventory.Tags, error) {
	if tags, ok := s.tags[itemID]; ok {
		return tags, nil
	}
	metricStoreFetches.WithLabelValues("tags").Inc()
	tags, err := s.deps.Inventory.ItemTags(s.ctx, itemID)
	if err != nil {
		return nil, err
	}
	s.tags[itemID] = tags
	return tags, nil
}

// Close releases session caches, the session cannot be used afterwards.
func (s *Session) Close() {
	s.closed = true
	s.queries = nil
	s.hostKeys, s.hkItems, s.hkErrs, s.items = nil, nil, nil, nil
	s.groups, s.tags = nil, nil
}

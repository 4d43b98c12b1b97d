// Copyright 2025 V Kontakte LLC
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package expression

import (
	"fmt"

	"github.com/go-kit/log/level"
	"golang.org/x/exp/slices"

	"github.com/VKCOM/calcheck/internal/filter"
	"github.com/VKCOM/calcheck/internal/inventory"
	"github.com/VKCOM/calcheck/internal/itemkey"
	"github.com/VKCOM/calcheck/internal/itemquery"
)

// candidatePredicates answers group() and tag() for one candidate item from
// the session caches.
type candidatePredicates struct {
	s *Session
	c inventory.Candidate
}

func (p candidatePredicates) Group(name string) (bool, error) {
	_, ok := slices.BinarySearch(p.s.groupHosts(name), p.c.HostID)
	return ok, nil
}

func (p candidatePredicates) Tag(spec string) (bool, error) {
	tags, err := p.s.itemTags(p.c.ItemID)
	if err != nil {
		return false, err
	}
	return tags.Match(spec), nil
}

// resolveMany returns sorted ids of items matching a many item query.
func (s *Session) resolveMany(q *itemquery.Query) ([]uint64, error) {
	if q.HostKeyAny() {
		return nil, itemquery.ErrHostKeyAny
	}
	var expr *filter.Expr
	if q.HasFilter() {
		var err error
		if expr, err = filter.Parse(q.Filter); err != nil {
			return nil, fmt.Errorf("failed to parse item query filter: %s", err)
		}
	}

	cq := &inventory.CandidateQuery{}
	switch q.HostScope {
	case itemquery.HostSelf:
		switch {
		case s.hostID != 0:
			cq.BySelf(s.hostID)
		case q.Host != "":
			cq.ByHost(q.Host)
		default:
			return nil, errHostNotResolved
		}
	case itemquery.HostExact:
		cq.ByHost(q.Host)
	}
	switch q.KeyScope {
	case itemquery.KeyExact:
		cq.ByKey(q.Key)
	case itemquery.KeyWildcardSome:
		cq.ByKeyPattern(q.Pattern().LikePattern())
	}
	if expr != nil {
		if gf := expr.GroupFilter(); gf != nil {
			names := expr.Groups()
			sets := make([][]uint64, len(names))
			for i, name := range names {
				sets[i] = s.groupHosts(name)
			}
			cq.ByGroups(gf, sets)
		}
	}

	candidates, err := s.deps.Inventory.Candidates(s.ctx, cq)
	if err != nil {
		return nil, err
	}

	ids := make([]uint64, 0, len(candidates))
	for _, c := range candidates {
		if q.KeyScope == itemquery.KeyWildcardSome {
			k, err := itemkey.Parse(c.Key)
			if err != nil || !q.Pattern().Match(k) {
				continue
			}
		}
		if expr != nil {
			v, err := expr.Eval(candidatePredicates{s: s, c: c})
			if err != nil {
				level.Debug(s.logger).Log("msg", "failed to evaluate item query filter", "query", q, "itemid", c.ItemID, "err", err)
				continue
			}
			if v == 0 {
				continue
			}
		}
		ids = append(ids, c.ItemID)
	}
	if limit := s.deps.Config.MaxCandidates; limit > 0 && len(ids) > limit {
		return nil, fmt.Errorf("item query matched %d items, limit is %d", len(ids), limit)
	}
	slices.Sort(ids)
	return slices.Compact(ids), nil
}

// Copyright 2025 V Kontakte LLC
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package history

import (
	"context"
	"sync"
	"time"

	"github.com/google/btree"

	"github.com/VKCOM/calcheck/internal/inventory"
)

func recordLess(l, r Record) bool {
	return l.TS.Before(r.TS)
}

// MemStore keeps samples of each item in a tree ordered by timestamp. Samples
// with equal timestamps replace each other.
type MemStore struct {
	mu    sync.RWMutex
	items map[uint64]*btree.BTreeG[Record]
}

var _ Store = (*MemStore)(nil)

func NewMemStore() *MemStore {
	return &MemStore{items: map[uint64]*btree.BTreeG[Record]{}}
}

func (s *MemStore) Add(itemID uint64, records ...Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.items[itemID]
	if !ok {
		t = btree.NewG(16, recordLess)
		s.items[itemID] = t
	}
	for _, r := range records {
		t.ReplaceOrInsert(r)
	}
}

func (s *MemStore) Values(_ context.Context, itemID uint64, _ inventory.ValueType, w Window, now time.Time) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.items[itemID]
	if !ok {
		return nil, nil
	}
	from, to := w.Range(now)
	var res []Record
	t.DescendLessOrEqual(Record{TS: to}, func(r Record) bool {
		if w.Seconds != 0 && !r.TS.After(from) {
			return false
		}
		res = append(res, r)
		return !w.IsCount() || len(res) < w.Count
	})
	return res, nil
}

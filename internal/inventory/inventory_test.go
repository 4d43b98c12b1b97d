// Copyright 2025 V Kontakte LLC
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package inventory

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"

	"github.com/VKCOM/calcheck/internal/filter"
)

func testSnapshot() *Snapshot {
	return &Snapshot{
		Hosts: []Host{
			{HostID: 1, Host: "web1"},
			{HostID: 2, Host: "web2"},
			{HostID: 3, Host: "db1", Status: HostNotMonitored},
		},
		Groups: []Group{
			{Name: "prod", HostIDs: []uint64{1, 3}},
			{Name: "web", HostIDs: []uint64{2, 1}},
			{Name: "empty"},
		},
		Items: []Item{
			{ItemID: 10, HostID: 1, Key: "cpu.load", ValueType: ValueFloat},
			{ItemID: 11, HostID: 2, Key: "cpu.load", ValueType: ValueFloat, Status: ItemDisabled},
			{ItemID: 12, HostID: 3, Key: "cpu.load", ValueType: ValueUint64},
			{ItemID: 13, HostID: 1, Key: `net.if.in[eth0,bytes]`, ValueType: ValueUint64},
			{ItemID: 14, HostID: 1, Key: `net.if.in[eth1,bytes]`, ValueType: ValueUint64},
			{ItemID: 15, HostID: 2, Key: `net.if.in[eth0,packets]`, ValueType: ValueUint64},
			{ItemID: 16, HostID: 1, Key: `disk[50%_used]`, ValueType: ValueStr},
		},
		Tags: []ItemTag{
			{ItemID: 10, Tag: Tag{Name: "env", Value: "prod"}},
			{ItemID: 10, Tag: Tag{Name: "component", Value: "cpu"}},
			{ItemID: 13, Tag: Tag{Name: "env", Value: "dev"}},
		},
	}
}

func storesForTest(t *testing.T) map[string]Store {
	ctx := context.Background()
	mem := NewMemStore()
	require.NoError(t, mem.Load(ctx, testSnapshot()))

	lite, err := OpenSQLite(ctx, ":memory:", time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = lite.Close() })
	require.NoError(t, lite.Load(ctx, testSnapshot()))

	return map[string]Store{"mem": mem, "sqlite": lite}
}

func candidateIDs(cc []Candidate) []uint64 {
	ids := make([]uint64, 0, len(cc))
	for _, c := range cc {
		ids = append(ids, c.ItemID)
	}
	return ids
}

func TestItemsByHostKeys(t *testing.T) {
	for name, s := range storesForTest(t) {
		t.Run(name, func(t *testing.T) {
			items, errs := s.ItemsByHostKeys(context.Background(), []HostKey{
				{Host: "web1", Key: "cpu.load"},
				{Host: "web3", Key: "cpu.load"},
				{Host: "db1", Key: "cpu.load"},
			})
			require.Len(t, items, 3)
			require.Len(t, errs, 3)
			require.NoError(t, errs[0])
			require.ErrorIs(t, errs[1], ErrNotFound)
			require.NoError(t, errs[2])
			require.Equal(t, uint64(10), items[0].ItemID)
			require.Equal(t, "web1", items[0].Host)
			require.Equal(t, uint64(12), items[2].ItemID)
			require.Equal(t, HostNotMonitored, items[2].HostStatus)
			require.Equal(t, ValueUint64, items[2].ValueType)
		})
	}
}

func TestItemsByIDs(t *testing.T) {
	for name, s := range storesForTest(t) {
		t.Run(name, func(t *testing.T) {
			items, errs := s.ItemsByIDs(context.Background(), []uint64{11, 99, 13})
			require.NoError(t, errs[0])
			require.ErrorIs(t, errs[1], ErrNotFound)
			require.NoError(t, errs[2])
			require.Equal(t, ItemDisabled, items[0].Status)
			require.Equal(t, "web2", items[0].Host)
			require.Equal(t, `net.if.in[eth0,bytes]`, items[2].Key)

			items, errs = s.ItemsByIDs(context.Background(), nil)
			require.Empty(t, items)
			require.Empty(t, errs)
		})
	}
}

func TestStoresAgree(t *testing.T) {
	ctx := context.Background()
	stores := storesForTest(t)
	mem, lite := stores["mem"], stores["sqlite"]
	ids := []uint64{16, 10, 99, 12, 13, 11, 14, 15}

	memItems, memErrs := mem.ItemsByIDs(ctx, ids)
	liteItems, liteErrs := lite.ItemsByIDs(ctx, ids)
	if diff := cmp.Diff(memItems, liteItems); diff != "" {
		t.Fatalf("items differ (-mem +sqlite):\n%s", diff)
	}
	require.Equal(t, memErrs, liteErrs)

	for _, id := range ids {
		memTags, err := mem.ItemTags(ctx, id)
		require.NoError(t, err)
		liteTags, err := lite.ItemTags(ctx, id)
		require.NoError(t, err)
		require.True(t, cmp.Equal(memTags, liteTags, cmpopts.EquateEmpty()), "tags of item %d", id)
	}
}

func TestHostByID(t *testing.T) {
	for name, s := range storesForTest(t) {
		t.Run(name, func(t *testing.T) {
			h, err := s.HostByID(context.Background(), 3)
			require.NoError(t, err)
			require.Equal(t, Host{HostID: 3, Host: "db1", Status: HostNotMonitored}, h)

			_, err = s.HostByID(context.Background(), 42)
			require.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestHostIDsByGroup(t *testing.T) {
	for name, s := range storesForTest(t) {
		t.Run(name, func(t *testing.T) {
			ids, err := s.HostIDsByGroup(context.Background(), "web")
			require.NoError(t, err)
			require.Equal(t, []uint64{1, 2}, ids)

			ids, err = s.HostIDsByGroup(context.Background(), "missing")
			require.NoError(t, err)
			require.Empty(t, ids)
		})
	}
}

func TestItemTags(t *testing.T) {
	for name, s := range storesForTest(t) {
		t.Run(name, func(t *testing.T) {
			tags, err := s.ItemTags(context.Background(), 10)
			require.NoError(t, err)
			require.Len(t, tags, 2)
			require.True(t, tags.Match("env"))
			require.True(t, tags.Match("env:prod"))
			require.False(t, tags.Match("env:dev"))
			require.False(t, tags.Match("env:"))
			require.True(t, tags.Match("component:cpu"))

			tags, err = s.ItemTags(context.Background(), 11)
			require.NoError(t, err)
			require.Empty(t, tags)
		})
	}
}

func TestCandidates(t *testing.T) {
	groups := func(text string) *filter.GroupFilter {
		e, err := filter.Parse(text)
		require.NoError(t, err)
		return e.GroupFilter()
	}
	prod, web := []uint64{1, 3}, []uint64{1, 2}

	tests := []struct {
		name  string
		query *CandidateQuery
		want  []uint64
	}{
		{"all", &CandidateQuery{}, []uint64{10, 11, 12, 13, 14, 15, 16}},
		{"host", new(CandidateQuery).ByHost("web2"), []uint64{11, 15}},
		{"self", new(CandidateQuery).BySelf(3), []uint64{12}},
		{"key", new(CandidateQuery).ByKey("cpu.load"), []uint64{10, 11, 12}},
		{"host and key", new(CandidateQuery).ByHost("web1").ByKey("cpu.load"), []uint64{10}},
		{"like", new(CandidateQuery).ByKeyPattern(`net.if.in[%,bytes]`), []uint64{13, 14}},
		{"like escaped", new(CandidateQuery).ByKeyPattern(`disk[50\%\_used]`), []uint64{16}},
		{"like escaped literal", new(CandidateQuery).ByKeyPattern(`disk[50\%\_usedx]`), nil},
		{"group", new(CandidateQuery).ByKey("cpu.load").ByGroups(groups(`group="prod"`), [][]uint64{prod}), []uint64{10, 12}},
		{"not group", new(CandidateQuery).ByKey("cpu.load").ByGroups(groups(`group<>"prod"`), [][]uint64{prod}), []uint64{11}},
		{"and", new(CandidateQuery).ByGroups(groups(`group="prod" and group="web"`), [][]uint64{prod, web}), []uint64{10, 13, 14, 16}},
		{"or", new(CandidateQuery).ByKey("cpu.load").ByGroups(groups(`group="prod" or group="web"`), [][]uint64{prod, web}), []uint64{10, 11, 12}},
		{"empty group", new(CandidateQuery).ByGroups(groups(`group="empty"`), [][]uint64{nil}), nil},
		{"not empty group", new(CandidateQuery).ByKey("cpu.load").ByGroups(groups(`not group="empty"`), [][]uint64{nil}), []uint64{10, 11, 12}},
	}
	for name, s := range storesForTest(t) {
		for _, tt := range tests {
			t.Run(name+"/"+tt.name, func(t *testing.T) {
				cc, err := s.Candidates(context.Background(), tt.query)
				require.NoError(t, err)
				if tt.want == nil {
					require.Empty(t, cc)
					return
				}
				require.Equal(t, tt.want, candidateIDs(cc))
			})
		}
	}
}

func TestCandidateSQLBindsArguments(t *testing.T) {
	e, err := filter.Parse(`group="a" or not group="b"`)
	require.NoError(t, err)
	q := new(CandidateQuery).ByHost(`x' OR '1'='1`).ByKeyPattern(`k[%]`).ByGroups(e.GroupFilter(), [][]uint64{{1, 2}, nil})
	sql, args := candidateSQL(q)
	require.NotContains(t, sql, "x'")
	require.Contains(t, sql, `(i.hostid IN (?) OR NOT (1=0))`)
	require.Equal(t, []interface{}{`x' OR '1'='1`, `k[%]`, []uint64{1, 2}}, args)
}

func TestSnapshotValidate(t *testing.T) {
	snap := testSnapshot()
	require.NoError(t, snap.Validate())

	snap.Items = append(snap.Items, Item{ItemID: 10, HostID: 1, Key: "other"})
	require.Error(t, snap.Validate())

	snap = testSnapshot()
	snap.Items = append(snap.Items, Item{ItemID: 20, HostID: 1, Key: "cpu.load"})
	require.Error(t, snap.Validate())

	snap = testSnapshot()
	snap.Groups[0].HostIDs = append(snap.Groups[0].HostIDs, 42)
	require.Error(t, snap.Validate())

	snap = testSnapshot()
	snap.Tags = append(snap.Tags, ItemTag{ItemID: 42})
	require.Error(t, snap.Validate())
}

func TestMatchLike(t *testing.T) {
	tests := []struct {
		pattern, s string
		want       bool
	}{
		{"abc", "abc", true},
		{"abc", "abcd", false},
		{"a%", "abcd", true},
		{"%d", "abcd", true},
		{"a%c%", "abxcyd", true},
		{"a_c", "abc", true},
		{"a_c", "ac", false},
		{`a\%c`, "a%c", true},
		{`a\%c`, "abc", false},
		{`a\\c`, `a\c`, true},
		{"%", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, MatchLike(tt.pattern, tt.s), "%s ~ %s", tt.pattern, tt.s)
	}
}

// Copyright 2025 V Kontakte LLC
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package expression

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/VKCOM/calcheck/internal/evalfunc"
	"github.com/VKCOM/calcheck/internal/history"
	"github.com/VKCOM/calcheck/internal/inventory"
	"github.com/VKCOM/calcheck/internal/variant"
)

var testNow = time.Unix(1_700_000_000, 0)

func testSnapshot() *inventory.Snapshot {
	return &inventory.Snapshot{
		Hosts: []inventory.Host{
			{HostID: 10, Host: "web1"},
			{HostID: 11, Host: "web2"},
			{HostID: 12, Host: "web3"},
			{HostID: 14, Host: "off", Status: inventory.HostNotMonitored},
		},
		Groups: []inventory.Group{
			{GroupID: 1, Name: "prod", HostIDs: []uint64{10, 11}},
			{GroupID: 2, Name: "dev", HostIDs: []uint64{12}},
		},
		Items: []inventory.Item{
			{ItemID: 100, HostID: 10, Key: "http_requests", ValueType: inventory.ValueUint64},
			{ItemID: 101, HostID: 11, Key: "http_requests", ValueType: inventory.ValueUint64},
			{ItemID: 102, HostID: 12, Key: "http_requests", ValueType: inventory.ValueUint64},
			{ItemID: 103, HostID: 10, Key: "cpu.load", ValueType: inventory.ValueFloat},
			{ItemID: 104, HostID: 11, Key: "cpu.load", ValueType: inventory.ValueFloat},
			{ItemID: 105, HostID: 12, Key: "cpu.load", ValueType: inventory.ValueFloat},
			{ItemID: 106, HostID: 10, Key: "disk.status", ValueType: inventory.ValueStr},
			{ItemID: 107, HostID: 10, Key: "broken", ValueType: inventory.ValueFloat, State: inventory.StateNotSupported},
			{ItemID: 108, HostID: 11, Key: "disabled", ValueType: inventory.ValueFloat, Status: inventory.ItemDisabled},
			{ItemID: 109, HostID: 14, Key: "cpu.load", ValueType: inventory.ValueFloat},
			{ItemID: 111, HostID: 10, Key: "http_bucket[0.1]", ValueType: inventory.ValueUint64},
			{ItemID: 112, HostID: 10, Key: "http_bucket[0.5]", ValueType: inventory.ValueUint64},
			{ItemID: 113, HostID: 10, Key: "http_bucket[+Inf]", ValueType: inventory.ValueUint64},
			{ItemID: 114, HostID: 10, Key: "http_bucket[abc]", ValueType: inventory.ValueUint64},
			{ItemID: 115, HostID: 10, Key: "net.if[eth0,bytes]", ValueType: inventory.ValueUint64},
			{ItemID: 116, HostID: 10, Key: "net.if[eth0,x,bytes]", ValueType: inventory.ValueUint64},
			{ItemID: 117, HostID: 10, Key: "net.if[eth0,packets]", ValueType: inventory.ValueUint64},
			{ItemID: 121, HostID: 11, Key: "latency[api,1]", ValueType: inventory.ValueUint64},
			{ItemID: 122, HostID: 11, Key: "latency[api,inf]", ValueType: inventory.ValueUint64},
		},
		Tags: []inventory.ItemTag{
			{ItemID: 104, Tag: inventory.Tag{Name: "env", Value: "prod"}},
			{ItemID: 105, Tag: inventory.Tag{Name: "env", Value: "dev"}},
		},
	}
}

func testHistory() *history.MemStore {
	h := history.NewMemStore()
	at := func(sec int) time.Time { return testNow.Add(-time.Duration(sec) * time.Second) }
	h.Add(100, history.Record{TS: at(10), Value: history.Value{Uint64: 10}})
	h.Add(101, history.Record{TS: at(20), Value: history.Value{Uint64: 20}})
	h.Add(102, history.Record{TS: at(30), Value: history.Value{Uint64: 30}})
	h.Add(103,
		history.Record{TS: at(10), Value: history.Value{Float: 1}},
		history.Record{TS: at(70), Value: history.Value{Float: 3}},
		history.Record{TS: at(400), Value: history.Value{Float: 10}},
	)
	h.Add(104,
		history.Record{TS: at(5), Value: history.Value{Float: 2}},
		history.Record{TS: at(100), Value: history.Value{Float: 4}},
	)
	h.Add(106, history.Record{TS: at(1), Value: history.Value{Str: "ok"}})
	h.Add(109, history.Record{TS: at(1), Value: history.Value{Float: 99}})
	return h
}

// countingStore records inventory requests.
type countingStore struct {
	inventory.Store

	mu        sync.Mutex
	hostKeys  [][]inventory.HostKey
	ids       [][]uint64
	groups    []string
	tags      []uint64
	candidate int
}

func (s *countingStore) ItemsByHostKeys(ctx context.Context, keys []inventory.HostKey) ([]inventory.Item, []error) {
	s.mu.Lock()
	s.hostKeys = append(s.hostKeys, append([]inventory.HostKey(nil), keys...))
	s.mu.Unlock()
	return s.Store.ItemsByHostKeys(ctx, keys)
}

func (s *countingStore) ItemsByIDs(ctx context.Context, ids []uint64) ([]inventory.Item, []error) {
	s.mu.Lock()
	s.ids = append(s.ids, append([]uint64(nil), ids...))
	s.mu.Unlock()
	return s.Store.ItemsByIDs(ctx, ids)
}

func (s *countingStore) HostIDsByGroup(ctx context.Context, name string) ([]uint64, error) {
	s.mu.Lock()
	s.groups = append(s.groups, name)
	s.mu.Unlock()
	return s.Store.HostIDsByGroup(ctx, name)
}

func (s *countingStore) ItemTags(ctx context.Context, itemID uint64) (inventory.Tags, error) {
	s.mu.Lock()
	s.tags = append(s.tags, itemID)
	s.mu.Unlock()
	return s.Store.ItemTags(ctx, itemID)
}

func (s *countingStore) Candidates(ctx context.Context, q *inventory.CandidateQuery) ([]inventory.Candidate, error) {
	s.mu.Lock()
	s.candidate++
	s.mu.Unlock()
	return s.Store.Candidates(ctx, q)
}

type fakeRate struct {
	rates map[uint64]float64
	fail  map[uint64]bool
	calls []uint64
}

func (r *fakeRate) Rate(_ context.Context, item *inventory.Item, _ string, _ time.Time) (float64, error) {
	r.calls = append(r.calls, item.ItemID)
	if r.fail[item.ItemID] {
		return 0, errors.New("not enough data")
	}
	return r.rates[item.ItemID], nil
}

func testMemInventory(t *testing.T) *inventory.MemStore {
	inv := inventory.NewMemStore()
	require.NoError(t, inv.Load(context.Background(), testSnapshot()))
	return inv
}

func testSQLiteInventory(t *testing.T) *inventory.SQLiteStore {
	ctx := context.Background()
	inv, err := inventory.OpenSQLite(ctx, ":memory:", time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = inv.Close() })
	require.NoError(t, inv.Load(ctx, testSnapshot()))
	return inv
}

func testDeps(inv inventory.Store) Deps {
	h := testHistory()
	return Deps{
		Inventory: inv,
		History:   h,
		Func:      evalfunc.NewEvaluator(h, nil),
		Rate: &fakeRate{rates: map[uint64]float64{
			111: 2, 112: 4, 113: 5, 114: 100,
			121: 3, 122: 6,
		}},
		Config: DefaultConfig(),
	}
}

func newTestSession(t *testing.T, deps Deps, mode Mode, refs ...string) *Session {
	s := NewSession(context.Background(), deps, mode, refs, 0)
	t.Cleanup(s.Close)
	require.NoError(t, s.Prepare())
	return s
}

func eval(s *Session, name string, index int, args ...variant.Variant) (variant.Variant, error) {
	return s.EvalHistory(name, append([]variant.Variant{variant.NewUint64(uint64(index))}, args...), testNow)
}

func floats(v variant.Variant) []float64 {
	res := make([]float64, 0, len(v.Vector))
	for _, x := range v.Vector {
		f, _ := x.ToFloat()
		res = append(res, f)
	}
	return res
}

func TestOneQuery(t *testing.T) {
	s := newTestSession(t, testDeps(testMemInventory(t)), ModeNormal,
		"/web1/cpu.load",
		"/web9/cpu.load",
		"/web2/disabled",
		"/off/cpu.load",
		"/web1/broken",
		"/web1/disk.status",
	)

	v, err := eval(s, "last", 0)
	require.NoError(t, err)
	require.Equal(t, variant.NewFloat(1), v)

	v, err = eval(s, "avg", 0, variant.NewStr("5m"))
	require.NoError(t, err)
	require.Equal(t, variant.NewFloat(2), v)

	v, err = eval(s, "max", 0, variant.NewUint64(600))
	require.NoError(t, err)
	require.Equal(t, variant.NewFloat(10), v)

	v, err = eval(s, "last", 5)
	require.NoError(t, err)
	require.Equal(t, variant.NewStr("ok"), v)

	_, err = eval(s, "last", 1)
	require.EqualError(t, err, `Cannot evaluate function: item "/web9/cpu.load" does not exist`)
	_, err = eval(s, "last", 2)
	require.EqualError(t, err, `Cannot evaluate function: item "/web2/disabled" is disabled`)
	_, err = eval(s, "last", 3)
	require.EqualError(t, err, `Cannot evaluate function: host "off" is not monitored`)
}

func TestOneQueryNotSupported(t *testing.T) {
	s := newTestSession(t, testDeps(testMemInventory(t)), ModeNormal, "/web1/broken")

	_, err := eval(s, "last", 0)
	require.EqualError(t, err, `Cannot evaluate function: item "/web1/broken" is not supported`)

	v, err := eval(s, "nodata", 0, variant.NewUint64(30))
	require.NoError(t, err)
	require.Equal(t, variant.NewUint64(1), v)
}

func TestOneQueryNotSupportedAllowList(t *testing.T) {
	deps := testDeps(testMemInventory(t))
	deps.Config.NotSupportedFunctions = []string{"nodata", "last"}
	s := newTestSession(t, deps, ModeNormal, "/web1/broken")

	_, err := eval(s, "last", 0)
	require.EqualError(t, err, "Cannot evaluate function: not enough data")
}

func TestEncodeParams(t *testing.T) {
	params, err := encodeParams([]variant.Variant{
		variant.NewFloat(1.5),
		variant.NewUint64(7),
		variant.NewStr(`a "b"`),
		{},
		variant.NewStr(""),
	})
	require.NoError(t, err)
	require.Equal(t, `1.5,7,"a \"b\"",,""`, params)

	_, err = encodeParams([]variant.Variant{variant.NewUint64(1), variant.NewVector(nil)})
	require.EqualError(t, err, ` unsupported argument #2 type "vector"`)
}

func TestEvalHistoryErrors(t *testing.T) {
	s := newTestSession(t, testDeps(testMemInventory(t)), ModeNormal, "/*/cpu.load", "/web1/cpu.load")

	_, err := s.EvalHistory("last", nil, testNow)
	require.EqualError(t, err, "Cannot evaluate function: invalid number of arguments")

	_, err = eval(s, "avg_foreach", 0, variant.NewStr("5m"))
	require.EqualError(t, err, "Cannot evaluate function: aggregate queries are not supported")

	_, err = eval(s, "last", 5)
	require.Error(t, err)

	var evalErr *EvalError
	_, err = eval(s, "last", 1, variant.NewVector(nil))
	require.ErrorAs(t, err, &evalErr)
}

func TestManyQueryErrors(t *testing.T) {
	s := newTestSession(t, testDeps(testMemInventory(t)), ModeAggregate,
		"/*/*",
		`/*/cpu.load?[group=]`,
		"/*/cpu.load",
	)

	_, err := eval(s, "exists_foreach", 0)
	require.EqualError(t, err, "Cannot evaluate function: item query must have at least a host or an item key defined")

	_, err = eval(s, "exists_foreach", 1)
	require.Error(t, err)
	require.Contains(t, err.Error(), "Cannot evaluate function: failed to parse item query filter: ")

	tests := []struct {
		name string
		args []variant.Variant
		err  string
	}{
		{"foo_foreach", nil, "unsupported function"},
		{"exists_foreach", []variant.Variant{variant.NewStr("5m")}, "invalid number of function parameters"},
		{"item_count", []variant.Variant{variant.NewStr("5m")}, "invalid number of function parameters"},
		{"avg_foreach", nil, "invalid number of function parameters"},
		{"avg_foreach", []variant.Variant{variant.NewStr("5m"), variant.NewStr("1")}, "invalid number of function parameters"},
		{"avg_foreach", []variant.Variant{variant.NewStr("5x")}, "invalid second parameter"},
		{"sum_foreach", []variant.Variant{variant.NewVector(nil)}, "invalid second parameter"},
		{"count_foreach", nil, "invalid number of function parameters"},
		{"count_foreach", []variant.Variant{variant.NewStr("5m"), variant.NewVector(nil)}, "invalid third parameter"},
		{"count_foreach", []variant.Variant{variant.NewStr("5m"), variant.NewStr("eq"), variant.NewVector(nil)}, "invalid fourth parameter"},
		{"count_foreach", []variant.Variant{variant.NewStr("5m"), variant.NewStr("between"), variant.NewStr("1")}, `invalid operator "between"`},
		{"last_foreach", []variant.Variant{variant.NewStr("5x")}, "invalid second parameter"},
		{"last_foreach", []variant.Variant{variant.NewStr("5m"), variant.NewStr("5m")}, "invalid number of function parameters"},
	}
	for _, tt := range tests {
		_, err := eval(s, tt.name, 2, tt.args...)
		require.EqualError(t, err, "Cannot evaluate function: "+tt.err, tt.name)
	}
}

func TestGroupFilterScenario(t *testing.T) {
	stores := map[string]inventory.Store{
		"mem":    testMemInventory(t),
		"sqlite": testSQLiteInventory(t),
	}
	for name, inv := range stores {
		t.Run(name, func(t *testing.T) {
			s := newTestSession(t, testDeps(inv), ModeAggregate,
				`/*/http_requests?[group="prod"]`,
				`/*/http_requests?[group<>"prod"]`,
				`/*/http_requests?[group="missing"]`,
				`/*/cpu.load?[group="prod" and tag="env:prod"]`,
				`/*/cpu.load?[tag="env:prod" or tag="env:dev"]`,
			)
			require.True(t, s.Queries()[0].IsMany())

			ids, err := s.ItemIDs(0)
			require.NoError(t, err)
			require.Equal(t, []uint64{100, 101}, ids)

			ids, err = s.ItemIDs(1)
			require.NoError(t, err)
			require.Equal(t, []uint64{102}, ids)

			ids, err = s.ItemIDs(2)
			require.NoError(t, err)
			require.Empty(t, ids)

			ids, err = s.ItemIDs(3)
			require.NoError(t, err)
			require.Equal(t, []uint64{104}, ids)

			ids, err = s.ItemIDs(4)
			require.NoError(t, err)
			require.Equal(t, []uint64{104, 105}, ids)

			v, err := eval(s, "exists_foreach", 0)
			require.NoError(t, err)
			require.Equal(t, variant.NewVector([]variant.Variant{variant.NewUint64(1), variant.NewUint64(1)}), v)

			v, err = eval(s, "item_count", 0)
			require.NoError(t, err)
			require.Equal(t, variant.NewUint64(2), v)

			v, err = eval(s, "item_count", 2)
			require.NoError(t, err)
			require.Equal(t, variant.NewUint64(0), v)
		})
	}
}

func TestWildcardKeyVerification(t *testing.T) {
	stores := map[string]inventory.Store{
		"mem":    testMemInventory(t),
		"sqlite": testSQLiteInventory(t),
	}
	for name, inv := range stores {
		t.Run(name, func(t *testing.T) {
			s := newTestSession(t, testDeps(inv), ModeAggregate,
				"/web1/net.if[*,bytes]",
				"/web1/net.if[eth0,*]",
				"/web1/http_bucket[*]",
			)
			ids, err := s.ItemIDs(0)
			require.NoError(t, err)
			require.Equal(t, []uint64{115}, ids)

			ids, err = s.ItemIDs(1)
			require.NoError(t, err)
			require.Equal(t, []uint64{115, 117}, ids)

			ids, err = s.ItemIDs(2)
			require.NoError(t, err)
			require.Equal(t, []uint64{111, 112, 113, 114}, ids)
		})
	}
}

func TestSelfHostQuery(t *testing.T) {
	deps := testDeps(testMemInventory(t))

	s := NewSession(context.Background(), deps, ModeAggregate, []string{"//cpu.load", "//http_bucket[*]"}, 0)
	defer s.Close()
	s.ResolveItemHosts("web1", 10)
	require.NoError(t, s.Prepare())

	require.True(t, s.Queries()[0].IsOne())
	v, err := eval(s, "last", 0)
	require.NoError(t, err)
	require.Equal(t, variant.NewFloat(1), v)

	ids, err := s.ItemIDs(1)
	require.NoError(t, err)
	require.Equal(t, []uint64{111, 112, 113, 114}, ids)

	unresolved := newTestSession(t, deps, ModeAggregate, "//http_bucket[*]")
	_, err = eval(unresolved, "item_count", 0)
	require.EqualError(t, err, "Cannot evaluate function: item query host is not resolved")
}

func TestAggregateFunctions(t *testing.T) {
	s := newTestSession(t, testDeps(testMemInventory(t)), ModeAggregate, "/*/cpu.load", "/web1/*")

	v, err := eval(s, "avg_foreach", 0, variant.NewStr("5m"))
	require.NoError(t, err)
	require.Equal(t, []float64{2, 3}, floats(v))

	v, err = eval(s, "avg_foreach", 0, variant.NewUint64(60))
	require.NoError(t, err)
	require.Equal(t, []float64{1, 2}, floats(v))

	v, err = eval(s, "min_foreach", 0, variant.NewFloat(600))
	require.NoError(t, err)
	require.Equal(t, []float64{1, 2}, floats(v))

	v, err = eval(s, "max_foreach", 0, variant.NewStr("600"))
	require.NoError(t, err)
	require.Equal(t, []float64{10, 4}, floats(v))

	v, err = eval(s, "sum_foreach", 0, variant.NewStr("1h"))
	require.NoError(t, err)
	require.Equal(t, []float64{14, 6}, floats(v))

	for _, tt := range []struct {
		fn     string
		period string
		want   []float64
	}{
		{"avg_foreach", "#2", []float64{2, 3}},
		{"sum_foreach", "#3", []float64{14, 6}},
		{"max_foreach", "#1", []float64{1, 2}},
		{"min_foreach", "#5", []float64{1, 2}},
		{"max_foreach", "#1:now-1m", []float64{3, 4}},
		{"count_foreach", "#2", []float64{2, 2, 0}},
		{"count_foreach", "#1:now-1h", []float64{0, 0, 0}},
	} {
		v, err = eval(s, tt.fn, 0, variant.NewStr(tt.period))
		require.NoError(t, err, "%s(%s)", tt.fn, tt.period)
		require.Equal(t, tt.want, floats(v), "%s(%s)", tt.fn, tt.period)
	}
	for _, period := range []string{"#0", "#x", "0", "5m:later"} {
		_, err = eval(s, "avg_foreach", 0, variant.NewStr(period))
		require.EqualError(t, err, "Cannot evaluate function: invalid second parameter", period)
	}

	v, err = eval(s, "count_foreach", 0, variant.NewStr("5m"))
	require.NoError(t, err)
	require.Equal(t, []float64{2, 2, 0}, floats(v))

	v, err = eval(s, "count_foreach", 0, variant.NewStr("#3"), variant.NewStr("gt"), variant.NewStr("1.5"))
	require.NoError(t, err)
	require.Equal(t, []float64{2, 2, 0}, floats(v))

	v, err = eval(s, "count_foreach", 0, variant.NewStr("5m"), variant.NewStr("gt"), variant.NewStr("1.5"))
	require.NoError(t, err)
	require.Equal(t, []float64{1, 2, 0}, floats(v))

	v, err = eval(s, "count_foreach", 0, variant.NewStr("5m"), variant.Variant{}, variant.NewStr("2"))
	require.NoError(t, err)
	require.Equal(t, []float64{0, 1, 0}, floats(v))

	v, err = eval(s, "last_foreach", 0)
	require.NoError(t, err)
	require.Equal(t, []float64{1, 2}, floats(v))

	v, err = eval(s, "last_foreach", 0, variant.NewStr("8s"))
	require.NoError(t, err)
	require.Equal(t, []float64{2}, floats(v))

	// string items are skipped by numeric aggregates
	v, err = eval(s, "max_foreach", 1, variant.NewStr("5m"))
	require.NoError(t, err)
	require.Equal(t, []float64{10, 3}, floats(v))

	v, err = eval(s, "last_foreach", 1)
	require.NoError(t, err)
	require.Equal(t, variant.NewVector([]variant.Variant{
		variant.NewUint64(10),
		variant.NewFloat(1),
		variant.NewStr("ok"),
	}), v)
}

func TestBucketFunctions(t *testing.T) {
	deps := testDeps(testMemInventory(t))
	s := newTestSession(t, deps, ModeAggregate, "/web1/http_bucket[*]", "/web2/latency[api,*]", "/web3/*")

	v, err := eval(s, "bucket_rate_foreach", 0, variant.NewStr("5m"))
	require.NoError(t, err)
	require.Equal(t, []float64{0.1, 2, 0.5, 4, math.Inf(1), 5}, floats(v))
	require.NotContains(t, deps.Rate.(*fakeRate).calls, uint64(114))

	for _, pos := range []variant.Variant{variant.NewUint64(2), variant.NewStr("2"), variant.NewFloat(2)} {
		v, err = eval(s, "bucket_rate_foreach", 1, variant.NewStr("5m"), pos)
		require.NoError(t, err)
		require.Equal(t, []float64{1, 3, math.Inf(1), 6}, floats(v))
	}
	for _, pos := range []variant.Variant{variant.NewUint64(0), variant.NewStr("0"), variant.NewStr("x"), variant.NewFloat(1.5), variant.Variant{},
		variant.NewUint64(65536), variant.NewStr("65536"), variant.NewFloat(65536)} {
		_, err = eval(s, "bucket_rate_foreach", 1, variant.NewStr("5m"), pos)
		require.EqualError(t, err, "Cannot evaluate function: invalid third parameter", pos.String())
	}

	v, err = eval(s, "bucket_percentile", 0, variant.NewStr("5m"), variant.NewFloat(0))
	require.NoError(t, err)
	require.Equal(t, variant.NewFloat(0), v)

	v, err = eval(s, "bucket_percentile", 0, variant.NewStr("5m"), variant.NewUint64(50))
	require.NoError(t, err)
	require.InDelta(t, 0.2, v.Float, 1e-9)

	v, err = eval(s, "bucket_percentile", 0, variant.NewStr("5m"), variant.NewStr("100"))
	require.NoError(t, err)
	require.Equal(t, variant.NewFloat(0.5), v)

	_, err = eval(s, "bucket_percentile", 0, variant.NewStr("5m"), variant.NewFloat(101))
	require.EqualError(t, err, "Cannot evaluate function: invalid value of percentile")
	_, err = eval(s, "bucket_percentile", 0, variant.NewStr("5m"), variant.NewStr("x"))
	require.EqualError(t, err, "Cannot evaluate function: invalid third parameter")
	_, err = eval(s, "bucket_percentile", 0, variant.NewStr("5m"))
	require.EqualError(t, err, "Cannot evaluate function: invalid number of function parameters")
	_, err = eval(s, "bucket_rate_foreach", 0)
	require.EqualError(t, err, "Cannot evaluate function: invalid number of function parameters")
	_, err = eval(s, "bucket_rate_foreach", 0, variant.NewVector(nil))
	require.EqualError(t, err, "Cannot evaluate function: invalid second parameter")
	_, err = eval(s, "bucket_percentile", 2, variant.NewStr("5m"), variant.NewFloat(50))
	require.EqualError(t, err, "Cannot evaluate function: no buckets")

	deps.Rate.(*fakeRate).fail = map[uint64]bool{112: true}
	_, err = eval(s, "bucket_rate_foreach", 0, variant.NewStr("5m"))
	require.EqualError(t, err, "Cannot evaluate function: not enough data")
}

func TestPrepareFetchesEachItemOnce(t *testing.T) {
	inv := &countingStore{Store: testMemInventory(t)}
	s := newTestSession(t, testDeps(inv), ModeAggregate,
		"/web1/cpu.load",
		"/web1/cpu.load",
		"/web2/cpu.load",
		"/web9/cpu.load",
		"/*/cpu.load",
		`/*/cpu.load?[tag="env:prod"]`,
		`/*/cpu.load?[tag="env:prod" or tag="env:dev"]`,
		`/*/http_requests?[group="prod"]`,
		`/*/cpu.load?[group="prod"]`,
	)
	require.NoError(t, s.Prepare())

	require.Len(t, inv.hostKeys, 1)
	require.Equal(t, []inventory.HostKey{
		{Host: "web1", Key: "cpu.load"},
		{Host: "web2", Key: "cpu.load"},
		{Host: "web9", Key: "cpu.load"},
	}, inv.hostKeys[0])

	require.Len(t, inv.ids, 1)
	require.Equal(t, []uint64{100, 101, 105, 109}, inv.ids[0])

	require.Equal(t, []string{"prod"}, inv.groups)
	require.ElementsMatch(t, []uint64{103, 104, 105, 109}, inv.tags)
	require.Equal(t, 5, inv.candidate)

	for i := range s.Queries() {
		_, _ = eval(s, "last_foreach", i)
	}
	require.Len(t, inv.hostKeys, 1)
	require.Len(t, inv.ids, 1)
}

func TestSessionClose(t *testing.T) {
	s := NewSession(context.Background(), testDeps(testMemInventory(t)), ModeNormal, []string{"/web1/cpu.load"}, 0)
	require.NoError(t, s.Prepare())
	s.Close()
	_, err := eval(s, "last", 0)
	require.EqualError(t, err, "Cannot evaluate function: session is closed")
	require.Error(t, s.Prepare())
}

func TestEvalCommon(t *testing.T) {
	s := newTestSession(t, testDeps(testMemInventory(t)), ModeNormal)

	require.EqualError(t, s.EvalCommon("foo", []variant.Variant{variant.NewStr("x")}), "Cannot evaluate formula: unsupported function")
	require.EqualError(t, s.EvalCommon("last", nil), "Cannot evaluate function: invalid number of arguments")
	require.EqualError(t, s.EvalCommon("last", []variant.Variant{variant.NewStr("/web1/cpu.load")}), "Cannot evaluate function: quoted item query argument")
	require.EqualError(t, s.EvalCommon("min", []variant.Variant{variant.NewStr("web1")}), "Cannot evaluate function: invalid first argument")
	require.EqualError(t, s.EvalCommon("min", []variant.Variant{variant.NewFloat(1)}), "Cannot evaluate function: invalid first argument")
	require.NoError(t, s.EvalCommon("max", []variant.Variant{variant.NewVector(nil)}))
}

func TestMaxCandidates(t *testing.T) {
	deps := testDeps(testMemInventory(t))
	deps.Config.MaxCandidates = 2
	s := newTestSession(t, deps, ModeAggregate, "/*/cpu.load", "/*/http_requests?[group=\"prod\"]")

	_, err := eval(s, "item_count", 0)
	require.EqualError(t, err, "Cannot evaluate function: item query matched 4 items, limit is 2")

	v, err := eval(s, "item_count", 1)
	require.NoError(t, err)
	require.Equal(t, variant.NewUint64(2), v)
}

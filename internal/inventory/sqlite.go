// Copyright 2025 V Kontakte LLC
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package inventory

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/VKCOM/calcheck/internal/easydb"
	"github.com/VKCOM/calcheck/internal/filter"
)

const schema = `
CREATE TABLE IF NOT EXISTS hosts (
	hostid  INTEGER PRIMARY KEY,
	host    TEXT NOT NULL UNIQUE,
	status  INTEGER NOT NULL DEFAULT 0,
	proxyid INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS hstgrp (
	groupid INTEGER PRIMARY KEY,
	name    TEXT NOT NULL UNIQUE
);
CREATE TABLE IF NOT EXISTS hosts_groups (
	hostid  INTEGER NOT NULL,
	groupid INTEGER NOT NULL,
	PRIMARY KEY (hostid, groupid)
);
CREATE TABLE IF NOT EXISTS items (
	itemid      INTEGER PRIMARY KEY,
	hostid      INTEGER NOT NULL,
	key_        TEXT NOT NULL,
	value_type  INTEGER NOT NULL DEFAULT 0,
	status      INTEGER NOT NULL DEFAULT 0,
	state       INTEGER NOT NULL DEFAULT 0,
	interfaceid INTEGER NOT NULL DEFAULT 0,
	error       TEXT NOT NULL DEFAULT '',
	UNIQUE (hostid, key_)
);
CREATE TABLE IF NOT EXISTS item_tag (
	itemid INTEGER NOT NULL,
	tag    TEXT NOT NULL,
	value  TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS item_tag_itemid ON item_tag (itemid);
`

const itemColumns = `i.itemid, i.hostid, h.host, h.status AS host_status, h.proxyid,
	i.key_, i.value_type, i.status, i.state, i.interfaceid, i.error`

// SQLiteStore keeps configuration in an SQLite database.
type SQLiteStore struct {
	db *easydb.DB
}

var _ Store = (*SQLiteStore)(nil)

func OpenSQLite(ctx context.Context, path string, busyTimeout time.Duration) (*SQLiteStore, error) {
	db, err := easydb.Open(ctx, path, busyTimeout, schema)
	if err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Load replaces the whole configuration with the snapshot.
func (s *SQLiteStore) Load(ctx context.Context, snap *Snapshot) error {
	if err := snap.Validate(); err != nil {
		return err
	}
	return s.db.Tx(ctx, func(tx *easydb.Tx) error {
		for _, table := range []string{"item_tag", "items", "hosts_groups", "hstgrp", "hosts"} {
			if _, err := tx.Exec("DELETE FROM " + table); err != nil {
				return errors.Wrapf(err, "failed to clear %s", table)
			}
		}
		for _, h := range snap.Hosts {
			if _, err := tx.Exec(`INSERT INTO hosts (hostid, host, status, proxyid) VALUES (?, ?, ?, ?)`,
				h.HostID, h.Host, h.Status, h.ProxyID); err != nil {
				return errors.Wrapf(err, "failed to insert host %q", h.Host)
			}
		}
		for _, g := range snap.Groups {
			var groupID interface{}
			if g.GroupID != 0 {
				groupID = g.GroupID
			}
			id, err := tx.Exec(`INSERT INTO hstgrp (groupid, name) VALUES (?, ?)`, groupID, g.Name)
			if err != nil {
				return errors.Wrapf(err, "failed to insert group %q", g.Name)
			}
			for _, hostID := range g.HostIDs {
				if _, err = tx.Exec(`INSERT OR IGNORE INTO hosts_groups (hostid, groupid) VALUES (?, ?)`, hostID, id); err != nil {
					return errors.Wrapf(err, "failed to link host %d to group %q", hostID, g.Name)
				}
			}
		}
		for _, it := range snap.Items {
			if _, err := tx.Exec(`INSERT INTO items (itemid, hostid, key_, value_type, status, state, interfaceid, error)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				it.ItemID, it.HostID, it.Key, it.ValueType, it.Status, it.State, it.InterfaceID, it.Error); err != nil {
				return errors.Wrapf(err, "failed to insert item %d", it.ItemID)
			}
		}
		for _, t := range snap.Tags {
			if _, err := tx.Exec(`INSERT INTO item_tag (itemid, tag, value) VALUES (?, ?, ?)`, t.ItemID, t.Name, t.Value); err != nil {
				return errors.Wrapf(err, "failed to insert tag of item %d", t.ItemID)
			}
		}
		return nil
	})
}

func (s *SQLiteStore) ItemsByHostKeys(ctx context.Context, keys []HostKey) ([]Item, []error) {
	items := make([]Item, len(keys))
	if len(keys) == 0 {
		return items, nil
	}
	var sb strings.Builder
	args := make([]interface{}, 0, 2*len(keys))
	sb.WriteString(`WITH want (host, key_) AS (VALUES `)
	for i, k := range keys {
		if i != 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(?, ?)")
		args = append(args, k.Host, k.Key)
	}
	sb.WriteString(`) SELECT ` + itemColumns + ` FROM want w
	JOIN hosts h ON h.host = w.host
	JOIN items i ON i.hostid = h.hostid AND i.key_ = w.key_`)

	var found []Item
	if err := s.db.SelectIn(ctx, &found, sb.String(), args...); err != nil {
		return items, fillErrors(len(keys), errors.Wrap(err, "failed to select items by host and key"))
	}
	byKey := make(map[HostKey]Item, len(found))
	for _, it := range found {
		byKey[HostKey{Host: it.Host, Key: it.Key}] = it
	}
	errs := make([]error, len(keys))
	for i, k := range keys {
		it, ok := byKey[k]
		if !ok {
			errs[i] = ErrNotFound
			continue
		}
		items[i] = it
	}
	return items, errs
}

func (s *SQLiteStore) ItemsByIDs(ctx context.Context, ids []uint64) ([]Item, []error) {
	items := make([]Item, len(ids))
	if len(ids) == 0 {
		return items, nil
	}
	var found []Item
	err := s.db.SelectIn(ctx, &found, `SELECT `+itemColumns+` FROM items i
	JOIN hosts h ON h.hostid = i.hostid
	WHERE i.itemid IN (?)`, ids)
	if err != nil {
		return items, fillErrors(len(ids), errors.Wrap(err, "failed to select items by id"))
	}
	byID := make(map[uint64]Item, len(found))
	for _, it := range found {
		byID[it.ItemID] = it
	}
	errs := make([]error, len(ids))
	for i, id := range ids {
		it, ok := byID[id]
		if !ok {
			errs[i] = ErrNotFound
			continue
		}
		items[i] = it
	}
	return items, errs
}

func (s *SQLiteStore) HostByID(ctx context.Context, hostID uint64) (Host, error) {
	var h Host
	ok, err := s.db.Get(ctx, &h, `SELECT hostid, host, status, proxyid FROM hosts WHERE hostid = ?`, hostID)
	if err != nil {
		return Host{}, errors.Wrapf(err, "failed to select host %d", hostID)
	}
	if !ok {
		return Host{}, ErrNotFound
	}
	return h, nil
}

func (s *SQLiteStore) HostIDsByGroup(ctx context.Context, name string) ([]uint64, error) {
	var ids []uint64
	err := s.db.Select(ctx, &ids, `SELECT hg.hostid FROM hosts_groups hg
	JOIN hstgrp g ON g.groupid = hg.groupid
	WHERE g.name = ? ORDER BY hg.hostid`, name)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to select hosts of group %q", name)
	}
	return ids, nil
}

func (s *SQLiteStore) ItemTags(ctx context.Context, itemID uint64) (Tags, error) {
	var tags Tags
	err := s.db.Select(ctx, &tags, `SELECT tag, value FROM item_tag WHERE itemid = ? ORDER BY rowid`, itemID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to select tags of item %d", itemID)
	}
	return tags, nil
}

func (s *SQLiteStore) Candidates(ctx context.Context, q *CandidateQuery) ([]Candidate, error) {
	query, args := candidateSQL(q)
	var res []Candidate
	if err := s.db.SelectIn(ctx, &res, query, args...); err != nil {
		return nil, errors.Wrap(err, "failed to select candidate items")
	}
	return res, nil
}

// candidateSQL renders the query with bound arguments only. Host sets are
// passed as slices for "IN (?)" expansion.
func candidateSQL(q *CandidateQuery) (string, []interface{}) {
	var sb strings.Builder
	var args []interface{}
	sb.WriteString(`SELECT i.itemid, i.hostid, i.key_ FROM items i JOIN hosts h ON h.hostid = i.hostid WHERE 1=1`)
	switch {
	case q.Host != "":
		sb.WriteString(` AND h.host = ?`)
		args = append(args, q.Host)
	case q.SelfHostID != 0:
		sb.WriteString(` AND i.hostid = ?`)
		args = append(args, q.SelfHostID)
	}
	switch {
	case q.Key != "":
		sb.WriteString(` AND i.key_ = ?`)
		args = append(args, q.Key)
	case q.KeyLike != "":
		sb.WriteString(` AND i.key_ LIKE ? ESCAPE '\'`)
		args = append(args, q.KeyLike)
	}
	if q.Groups != nil {
		sb.WriteString(` AND `)
		args = writeGroupFilter(&sb, args, q.Groups, q.HostSets)
	}
	sb.WriteString(` ORDER BY i.itemid`)
	return sb.String(), args
}

func writeGroupFilter(sb *strings.Builder, args []interface{}, gf *filter.GroupFilter, hostSets [][]uint64) []interface{} {
	switch gf.Op {
	case filter.GroupMember:
		var set []uint64
		if gf.Index < len(hostSets) {
			set = hostSets[gf.Index]
		}
		if len(set) == 0 {
			sb.WriteString(`1=0`)
			return args
		}
		sb.WriteString(`i.hostid IN (?)`)
		return append(args, set)
	case filter.GroupNot:
		sb.WriteString(`NOT (`)
		args = writeGroupFilter(sb, args, gf.Args[0], hostSets)
		sb.WriteString(`)`)
		return args
	case filter.GroupAnd, filter.GroupOr:
		op := ` AND `
		if gf.Op == filter.GroupOr {
			op = ` OR `
		}
		sb.WriteString(`(`)
		args = writeGroupFilter(sb, args, gf.Args[0], hostSets)
		sb.WriteString(op)
		args = writeGroupFilter(sb, args, gf.Args[1], hostSets)
		sb.WriteString(`)`)
		return args
	default:
		sb.WriteString(`1=1`)
		return args
	}
}

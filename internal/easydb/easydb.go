// Copyright 2025 V Kontakte LLC
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package easydb is a thin serialized wrapper over an SQLite database.
package easydb

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3" // SQLite driver for database/sql
	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"
)

const (
	sqliteDriver = "sqlite3"
)

type DB struct {
	sem  *semaphore.Weighted
	dbx  *sqlx.DB
	stmt map[string]*sqlx.Stmt
}

type Tx struct {
	ctx context.Context
	txx *sqlx.Tx
}

// Open opens the database at path and applies schema. Path ":memory:" opens a
// private in-memory database.
func Open(ctx context.Context, path string, busyTimeout time.Duration, schema string) (*DB, error) {
	var dsn string
	if path == ":memory:" {
		dsn = fmt.Sprintf("file::memory:?_busy_timeout=%d", int64(busyTimeout/time.Millisecond))
	} else {
		// Escape the path to avoid callers specifying DSN explicitly.
		dsn = fmt.Sprintf("file:%v?_busy_timeout=%v&_synchronous=NORMAL", url.QueryEscape(path), int64(busyTimeout/time.Millisecond))
	}

	dbx, err := sqlx.Open(sqliteDriver, dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open DB %q", path)
	}

	dbx.SetMaxOpenConns(1) // in-memory database lives as long as its only connection

	err = dbx.PingContext(ctx)
	if err != nil {
		_ = dbx.Close()
		return nil, errors.Wrapf(err, "failed to ping DB %q", path)
	}

	_, err = dbx.ExecContext(ctx, schema)
	if err != nil {
		_ = dbx.Close()
		return nil, errors.Wrapf(err, "failed to apply schema to DB %q", path)
	}

	return &DB{
		sem:  semaphore.NewWeighted(1),
		dbx:  dbx,
		stmt: map[string]*sqlx.Stmt{},
	}, nil
}

func (db *DB) Close() error {
	_ = db.sem.Acquire(context.Background(), 1)
	defer db.sem.Release(1)

	for _, stmt := range db.stmt {
		_ = stmt.Close()
	}

	return db.dbx.Close()
}

// Get executes a query that is expected to return at most one row.
func (db *DB) Get(ctx context.Context, dest interface{}, query string, args ...interface{}) (bool, error) {
	if err := db.sem.Acquire(ctx, 1); err != nil {
		return false, err
	}
	defer db.sem.Release(1)

	stmt, err := db.prepareLocked(ctx, query)
	if err != nil {
		return false, err
	}

	err = stmt.GetContext(ctx, dest, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// Select executes a query that is expected to return any number of rows.
func (db *DB) Select(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	if err := db.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer db.sem.Release(1)

	stmt, err := db.prepareLocked(ctx, query)
	if err != nil {
		return err
	}

	return stmt.SelectContext(ctx, dest, args...)
}

// SelectIn is Select for queries with "IN (?)" bound to slices. Expanded
// queries depend on slice lengths, so they are not cached as statements.
func (db *DB) SelectIn(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	q, qargs, err := sqlx.In(query, args...)
	if err != nil {
		return errors.Wrap(err, "failed to expand query arguments")
	}
	if err := db.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer db.sem.Release(1)

	return db.dbx.SelectContext(ctx, dest, db.dbx.Rebind(q), qargs...)
}

// Tx executes fn in a transaction.
func (db *DB) Tx(ctx context.Context, fn func(*Tx) error) error {
	if err := db.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer db.sem.Release(1)

	txx, err := db.dbx.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = txx.Rollback() }()

	err = fn(&Tx{ctx: ctx, txx: txx})
	if err != nil {
		return err
	}

	return txx.Commit()
}

// Exec executes a statement without returning any rows.
func (tx *Tx) Exec(query string, args ...interface{}) (int64, error) {
	res, err := tx.txx.ExecContext(tx.ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (db *DB) prepareLocked(ctx context.Context, query string) (*sqlx.Stmt, error) {
	stmt, ok := db.stmt[query]
	if ok {
		return stmt, nil
	}

	stmt, err := db.dbx.PreparexContext(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "failed to prepare statement")
	}
	db.stmt[query] = stmt

	return stmt, nil
}

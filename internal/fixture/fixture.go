// Copyright 2025 V Kontakte LLC
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package fixture loads configuration and history samples from a YAML file.
package fixture

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"github.com/prometheus/common/model"
	"gopkg.in/yaml.v2"

	"github.com/VKCOM/calcheck/internal/history"
	"github.com/VKCOM/calcheck/internal/inventory"
)

const maxFixtureFileSize = 1024 * 1024 * 64

type Sample struct {
	TS            int64  `yaml:"ts"`  // unix seconds
	Ago           string `yaml:"ago"` // duration before the apply time, used when TS is 0
	history.Value `yaml:",inline"`
}

type Series struct {
	ItemID  uint64   `yaml:"itemid"`
	Samples []Sample `yaml:"samples"`
}

type Fixture struct {
	inventory.Snapshot `yaml:",inline"`
	History            []Series `yaml:"history"`
}

type InventoryLoader interface {
	Load(ctx context.Context, snap *inventory.Snapshot) error
}

type HistoryWriter interface {
	Add(itemID uint64, records ...history.Record)
}

func Parse(data []byte) (*Fixture, error) {
	f := &Fixture{}
	if err := yaml.UnmarshalStrict(data, f); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal fixture")
	}
	if err := f.Snapshot.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid fixture")
	}
	items := make(map[uint64]bool, len(f.Items))
	for _, it := range f.Items {
		items[it.ItemID] = true
	}
	for _, s := range f.History {
		if !items[s.ItemID] {
			return nil, fmt.Errorf("history references unknown item id %d", s.ItemID)
		}
		for _, smp := range s.Samples {
			if smp.TS == 0 && smp.Ago == "" {
				return nil, fmt.Errorf("sample of item %d has neither ts nor ago", s.ItemID)
			}
			if smp.Ago != "" {
				if _, err := model.ParseDuration(smp.Ago); err != nil {
					return nil, fmt.Errorf("sample of item %d: invalid ago %q", s.ItemID, smp.Ago)
				}
			}
		}
	}
	return f, nil
}

func Load(path string) (*Fixture, error) {
	fd, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open fixture")
	}
	defer fd.Close()
	data, err := io.ReadAll(io.LimitReader(fd, maxFixtureFileSize))
	if err != nil {
		return nil, errors.Wrap(err, "failed to read fixture")
	}
	return Parse(data)
}

// Records returns samples of a series, relative samples are placed before now.
func (s *Series) Records(now time.Time) []history.Record {
	res := make([]history.Record, 0, len(s.Samples))
	for _, smp := range s.Samples {
		ts := time.Unix(smp.TS, 0)
		if smp.TS == 0 {
			d, _ := model.ParseDuration(smp.Ago)
			ts = now.Add(-time.Duration(d))
		}
		res = append(res, history.Record{TS: ts, Value: smp.Value})
	}
	return res
}

// Apply replaces the configuration of inv and adds history samples to hist.
func (f *Fixture) Apply(ctx context.Context, inv InventoryLoader, hist HistoryWriter, now time.Time) error {
	if err := inv.Load(ctx, &f.Snapshot); err != nil {
		return errors.Wrap(err, "failed to load inventory")
	}
	for i := range f.History {
		hist.Add(f.History[i].ItemID, f.History[i].Records(now)...)
	}
	return nil
}

// ListenFixtureFile applies the fixture file and reapplies it on every change.
// A broken file keeps the previous state. Empty path disables loading.
func ListenFixtureFile(ctx context.Context, path string, inv InventoryLoader, hist HistoryWriter, logger log.Logger) (closeF func(), _ error) {
	if path == "" {
		return func() {}, nil
	}
	apply := func() error {
		f, err := Load(path)
		if err != nil {
			return err
		}
		return f.Apply(ctx, inv, hist, time.Now())
	}
	if err := apply(); err != nil {
		return func() {}, err
	}
	level.Info(logger).Log("msg", "fixture applied", "path", path)
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return func() {}, err
	}
	if err = w.Add(path); err != nil {
		_ = w.Close()
		return func() {}, err
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				if err := apply(); err != nil {
					level.Error(logger).Log("msg", "failed to reapply fixture", "path", path, "err", err)
					continue
				}
				level.Info(logger).Log("msg", "fixture reapplied", "path", path)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				level.Error(logger).Log("msg", "fixture watching error", "path", path, "err", err)
			}
		}
	}()
	return func() {
		_ = w.Close()
		<-done
	}, nil
}

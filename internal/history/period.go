// Copyright 2025 V Kontakte LLC
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package history

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/common/model"
)

// ParsePeriod parses "#N", "N" seconds or a duration with a unit suffix,
// optionally followed by ":now-<duration>" shift.
func ParsePeriod(arg string) (Window, error) {
	var w Window
	period, shift, hasShift := strings.Cut(strings.TrimSpace(arg), ":")
	if hasShift {
		d, err := parseShift(shift)
		if err != nil {
			return w, err
		}
		w.Shift = d
	}
	if n, ok := strings.CutPrefix(period, "#"); ok {
		count, err := strconv.Atoi(n)
		if err != nil || count <= 0 {
			return w, fmt.Errorf("invalid count %q", period)
		}
		w.Count = count
		return w, nil
	}
	sec, err := ParseSeconds(period)
	if err != nil {
		return w, err
	}
	if sec <= 0 {
		return w, fmt.Errorf("invalid period %q", period)
	}
	w.Seconds = sec
	return w, nil
}

// ParseSeconds parses plain seconds or a duration with a unit suffix.
func ParseSeconds(s string) (int, error) {
	if s == "" {
		return 0, fmt.Errorf("empty period")
	}
	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("negative period %q", s)
		}
		return n, nil
	}
	d, err := model.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid period %q: %w", s, err)
	}
	if time.Duration(d)%time.Second != 0 {
		return 0, fmt.Errorf("period %q is not a whole number of seconds", s)
	}
	return int(time.Duration(d) / time.Second), nil
}

func parseShift(s string) (time.Duration, error) {
	rest, ok := strings.CutPrefix(s, "now")
	if !ok {
		return 0, fmt.Errorf("invalid time shift %q", s)
	}
	if rest == "" {
		return 0, nil
	}
	rest, ok = strings.CutPrefix(rest, "-")
	if !ok {
		return 0, fmt.Errorf("invalid time shift %q", s)
	}
	sec, err := ParseSeconds(rest)
	if err != nil {
		return 0, fmt.Errorf("invalid time shift %q", s)
	}
	return time.Duration(sec) * time.Second, nil
}

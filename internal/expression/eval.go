// Copyright 2025 V Kontakte LLC
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package expression

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-kit/log/level"

	"github.com/VKCOM/calcheck/internal/history"
	"github.com/VKCOM/calcheck/internal/inventory"
	"github.com/VKCOM/calcheck/internal/itemquery"
	"github.com/VKCOM/calcheck/internal/variant"
)

// triggerFunctions are the function names known to the expression language.
var triggerFunctions = map[string]struct{}{}

func init() {
	for _, name := range strings.Fields(`last min max avg sum percentile count countunique nodata
		change find fuzzytime logeventid logseverity logsource bitand forecast
		timeleft trendavg trendcount trendmax trendmin trendsum abs cbrt
		ceil exp floor log log10 power round rand signum sqrt truncate
		acos asin atan cos cosh cot sin sinh tan degrees radians mod
		pi e expm1 atan2 first kurtosis mad skewness stddevpop stddevsamp
		sumofsquares varpop varsamp ascii bitlength char concat insert lcase
		left ltrim bytelength repeat replace right rtrim mid trim between
		in bitor bitxor bitnot bitlshift bitrshift baselinewma baselinedev
		jsonpath xmlxpath`) {
		triggerFunctions[name] = struct{}{}
	}
}

// EvalHistory evaluates a history function. The first argument is the index
// of the item query in the refs passed to NewSession, the rest are function
// parameters.
func (s *Session) EvalHistory(name string, args []variant.Variant, now time.Time) (variant.Variant, error) {
	v, err := s.evalHistory(name, args, now)
	status := "ok"
	if err != nil {
		status = "error"
		level.Debug(s.logger).Log("msg", "function failed", "function", name, "err", err)
	} else {
		level.Debug(s.logger).Log("msg", "function evaluated", "function", name, "value", v, "type", v.Type)
	}
	metricFunctionCalls.WithLabelValues(name, status).Inc()
	return v, err
}

func (s *Session) evalHistory(name string, args []variant.Variant, now time.Time) (variant.Variant, error) {
	if len(args) == 0 {
		return variant.Variant{}, functionError(errInvalidArgCount)
	}
	if args[0].Type != variant.Uint64 {
		return variant.Variant{}, functionError(errInvalidFirst)
	}
	qd, err := s.query(int(args[0].Uint64))
	if err != nil {
		return variant.Variant{}, functionError(err)
	}
	if err := s.Prepare(); err != nil {
		return variant.Variant{}, functionError(err)
	}
	q := qd.query
	if q.Class == itemquery.ClassError {
		return variant.Variant{}, functionError(q.Err)
	}

	var v variant.Variant
	switch data := qd.data.(type) {
	case oneQuery:
		v, err = s.evalOne(data, name, args[1:], now)
	case manyQuery:
		if s.mode != ModeAggregate {
			return variant.Variant{}, functionError(errAggregateNotSupported)
		}
		v, err = s.evalMany(q, data, name, args[1:], now)
	default:
		err = errNotPrepared
	}
	if err != nil {
		return variant.Variant{}, functionError(err)
	}
	return v, nil
}

func (s *Session) evalOne(data oneQuery, name string, args []variant.Variant, now time.Time) (variant.Variant, error) {
	hk := s.hostKeys[data.index]
	if s.hkErrs[data.index] != nil {
		return variant.Variant{}, itemError(hk.Host, hk.Key, "does not exist")
	}
	item := &s.hkItems[data.index]
	if item.Status != inventory.ItemActive {
		return variant.Variant{}, itemError(hk.Host, hk.Key, "is disabled")
	}
	if item.HostStatus != inventory.HostMonitored {
		return variant.Variant{}, fmt.Errorf("host %q is not monitored", hk.Host)
	}
	if item.State == inventory.StateNotSupported && !s.deps.Config.evaluatableForNotSupported(name) {
		return variant.Variant{}, itemError(hk.Host, hk.Key, "is not supported")
	}
	params, err := encodeParams(args)
	if err != nil {
		return variant.Variant{}, err
	}
	return s.deps.Func.Evaluate(s.ctx, item, name, params, now)
}

// encodeParams converts function arguments back to the text parameter form of
// per-item functions.
func encodeParams(args []variant.Variant) (string, error) {
	var sb strings.Builder
	for i, arg := range args {
		if i != 0 {
			sb.WriteByte(',')
		}
		switch arg.Type {
		case variant.Float:
			sb.WriteString(strconv.FormatFloat(arg.Float, 'g', -1, 64))
		case variant.Uint64:
			sb.WriteString(strconv.FormatUint(arg.Uint64, 10))
		case variant.Str:
			sb.WriteString(history.QuoteParam(arg.Str))
		case variant.None:
		default:
			return "", fmt.Errorf(" unsupported argument #%d type %q", i+1, arg.Type.String())
		}
	}
	return sb.String(), nil
}

// EvalCommon is called for functions whose first argument is not an item
// query. It only detects item queries written as quoted strings.
func (s *Session) EvalCommon(name string, args []variant.Variant) error {
	if _, ok := triggerFunctions[name]; !ok {
		return formulaError(errUnsupported)
	}
	if len(args) == 0 {
		return functionError(errInvalidArgCount)
	}
	switch args[0].Type {
	case variant.Str:
		if q := itemquery.Parse(args[0].Str); strings.HasPrefix(args[0].Str, "/") && q.Class != itemquery.ClassError {
			return functionError(errQuotedQuery)
		}
	case variant.Vector:
		return nil
	}
	return functionError(errInvalidFirst)
}

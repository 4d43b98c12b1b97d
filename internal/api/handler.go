// Copyright 2025 V Kontakte LLC
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package api serves expression function evaluation over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	jsoniter "github.com/json-iterator/go"
	"github.com/mailru/easyjson/jwriter"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/atomic"
	"golang.org/x/time/rate"

	"github.com/VKCOM/calcheck/internal/evalfunc"
	"github.com/VKCOM/calcheck/internal/expression"
	"github.com/VKCOM/calcheck/internal/history"
	"github.com/VKCOM/calcheck/internal/inventory"
	"github.com/VKCOM/calcheck/internal/variant"
)

const maxRequestSize = 1024 * 1024

var errTooManyRequests = errors.New("too many eval requests")

var jsonAPI = jsoniter.Config{
	UseNumber:             true,
	DisallowUnknownFields: true,
}.Froze()

type EvalCall struct {
	Function string        `json:"function"`
	Query    string        `json:"query"` // empty for functions without item query
	Args     []interface{} `json:"args"`
}

type EvalRequest struct {
	HostID uint64     `json:"host_id"`
	Host   string     `json:"host"`
	Mode   string     `json:"mode"` // "normal", "aggregate" or empty for the configured default
	Now    int64      `json:"now"`  // unix seconds, 0 for the current time
	Calls  []EvalCall `json:"calls"`
}

type CallResult struct {
	Value variant.Variant
	Error string
}

type EvalResponse struct {
	Results []CallResult
}

func (r *CallResult) MarshalEasyJSON(w *jwriter.Writer) {
	w.RawByte('{')
	if r.Error != "" {
		w.RawString(`"error":`)
		w.String(r.Error)
	} else {
		w.RawString(`"type":`)
		w.String(r.Value.Type.String())
		w.RawString(`,"value":`)
		marshalVariant(w, r.Value)
	}
	w.RawByte('}')
}

// marshalVariant writes scalars as strings, floats may be infinite.
func marshalVariant(w *jwriter.Writer, v variant.Variant) {
	switch v.Type {
	case variant.None:
		w.RawString("null")
	case variant.Vector:
		w.RawByte('[')
		for i := range v.Vector {
			if i != 0 {
				w.RawByte(',')
			}
			marshalVariant(w, v.Vector[i])
		}
		w.RawByte(']')
	default:
		w.String(v.String())
	}
}

func (r *EvalResponse) MarshalEasyJSON(w *jwriter.Writer) {
	w.RawString(`{"results":[`)
	for i := range r.Results {
		if i != 0 {
			w.RawByte(',')
		}
		r.Results[i].MarshalEasyJSON(w)
	}
	w.RawString(`]}`)
}

type Handler struct {
	deps    expression.Deps
	config  *atomic.Pointer[expression.Config]
	limiter *atomic.Pointer[rate.Limiter] // nil limiter means unlimited
	logger  log.Logger
}

// NewHandler serves sessions over deps, deps.Config is the initial config.
func NewHandler(deps expression.Deps, logger log.Logger) *Handler {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	cfg := deps.Config
	return &Handler{
		deps:    deps,
		config:  atomic.NewPointer(&cfg),
		limiter: atomic.NewPointer[rate.Limiter](nil),
		logger:  logger,
	}
}

// SetEvalRateLimit limits eval requests per second, 0 removes the limit.
func (h *Handler) SetEvalRateLimit(perSecond float64, burst int) {
	if perSecond <= 0 {
		h.limiter.Store(nil)
		return
	}
	h.limiter.Store(rate.NewLimiter(rate.Limit(perSecond), max(burst, 1)))
}

// SetConfig is safe to call concurrently with request handling.
func (h *Handler) SetConfig(cfg expression.Config) {
	h.config.Store(&cfg)
}

func (h *Handler) Routes() http.Handler {
	r := NewRouter(h)
	a := r.PathPrefix(RoutePrefix).Subrouter()
	a.Path("/" + EndpointEval).Methods("POST").HandlerFunc(h.HandleEval)
	a.Path("/" + EndpointHealthcheck).Methods("GET").HandlerFunc(h.HandleHealthcheck)
	r.Router.Path("/" + EndpointMetrics).Methods("GET").Handler(promhttp.Handler())
	return r
}

func (h *Handler) HandleHealthcheck(w *ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte("OK"))
}

func (h *Handler) HandleEval(w *ResponseWriter, r *http.Request) {
	if l := h.limiter.Load(); l != nil && !l.Allow() {
		respondJSON(w, nil, httpErr(http.StatusTooManyRequests, errTooManyRequests))
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestSize))
	if err != nil {
		respondJSON(w, nil, httpErr(http.StatusBadRequest, err))
		return
	}
	var req EvalRequest
	if err := jsonAPI.Unmarshal(body, &req); err != nil {
		respondJSON(w, nil, httpErr(http.StatusBadRequest, fmt.Errorf("failed to parse request: %w", err)))
		return
	}
	resp, err := h.Eval(r.Context(), &req)
	if err != nil {
		respondJSON(w, nil, httpErr(http.StatusBadRequest, err))
		return
	}
	respondJSON(w, resp, nil)
}

// Eval evaluates all calls of req in one session. Function failures are
// reported per call.
func (h *Handler) Eval(ctx context.Context, req *EvalRequest) (*EvalResponse, error) {
	deps := h.deps
	deps.Config = *h.config.Load()
	deps.Logger = h.logger

	mode := expression.ModeNormal
	switch req.Mode {
	case "":
		if deps.Config.Aggregate {
			mode = expression.ModeAggregate
		}
	case "normal":
	case "aggregate":
		mode = expression.ModeAggregate
	default:
		return nil, fmt.Errorf("unknown mode %q", req.Mode)
	}
	now := time.Now()
	if req.Now != 0 {
		now = time.Unix(req.Now, 0)
	}

	var refs []string
	index := map[string]int{}
	calls := make([][]variant.Variant, len(req.Calls))
	for i, c := range req.Calls {
		if c.Function == "" {
			return nil, fmt.Errorf("call #%d: empty function name", i+1)
		}
		args := make([]variant.Variant, 0, len(c.Args)+1)
		if c.Query != "" {
			n, ok := index[c.Query]
			if !ok {
				n = len(refs)
				index[c.Query] = n
				refs = append(refs, c.Query)
			}
			args = append(args, variant.NewUint64(uint64(n)))
		}
		for j, a := range c.Args {
			v, err := argVariant(a)
			if err != nil {
				return nil, fmt.Errorf("call #%d argument #%d: %w", i+1, j+1, err)
			}
			args = append(args, v)
		}
		calls[i] = args
	}

	host := req.Host
	if host == "" && req.HostID != 0 {
		found, err := deps.Inventory.HostByID(ctx, req.HostID)
		if errors.Is(err, inventory.ErrNotFound) {
			return nil, fmt.Errorf("host %d does not exist", req.HostID)
		}
		if err != nil {
			return nil, err
		}
		host = found.Host
	}

	s := expression.NewSession(ctx, deps, mode, refs, req.HostID)
	defer s.Close()
	if host != "" {
		s.ResolveItemHosts(host, req.HostID)
	}
	if err := s.Prepare(); err != nil {
		return nil, err
	}
	resp := &EvalResponse{Results: make([]CallResult, len(req.Calls))}
	for i, c := range req.Calls {
		var (
			v   variant.Variant
			err error
		)
		if c.Query != "" {
			v, err = s.EvalHistory(c.Function, calls[i], now)
		} else {
			err = s.EvalCommon(c.Function, calls[i])
		}
		if err != nil {
			resp.Results[i].Error = err.Error()
			continue
		}
		resp.Results[i].Value = v
	}
	level.Debug(h.logger).Log("msg", "evaluated", "calls", len(req.Calls), "queries", len(refs))
	return resp, nil
}

// argVariant converts a decoded JSON value, integers become unsigned when
// they fit.
func argVariant(a interface{}) (variant.Variant, error) {
	switch v := a.(type) {
	case nil:
		return variant.Variant{}, nil
	case string:
		return variant.NewStr(v), nil
	case json.Number:
		if u, err := strconv.ParseUint(v.String(), 10, 64); err == nil {
			return variant.NewUint64(u), nil
		}
		f, err := v.Float64()
		if err != nil {
			return variant.Variant{}, err
		}
		return variant.NewFloat(f), nil
	case []interface{}:
		vec := make([]variant.Variant, 0, len(v))
		for _, e := range v {
			ev, err := argVariant(e)
			if err != nil {
				return variant.Variant{}, err
			}
			vec = append(vec, ev)
		}
		return variant.NewVector(vec), nil
	}
	return variant.Variant{}, fmt.Errorf("unsupported argument type %T", a)
}

// ParseCall parses `name(param,...)`. A first parameter starting with '/' is
// the item query, all other parameters are passed as strings. Functions over
// an item query must be known history or aggregate functions.
func ParseCall(text string) (EvalCall, error) {
	text = strings.TrimSpace(text)
	open := strings.IndexByte(text, '(')
	if open <= 0 || !strings.HasSuffix(text, ")") {
		return EvalCall{}, fmt.Errorf("invalid function call %q", text)
	}
	call := EvalCall{Function: strings.TrimSpace(text[:open])}
	params, err := history.SplitParams(text[open+1 : len(text)-1])
	if err != nil {
		return EvalCall{}, fmt.Errorf("invalid function call %q: %w", text, err)
	}
	if len(params) != 0 && strings.HasPrefix(params[0], "/") {
		call.Query, params = params[0], params[1:]
		if !evalfunc.IsSupported(call.Function) && !expression.IsAggregateFunction(call.Function) {
			return EvalCall{}, fmt.Errorf("unknown function %q", call.Function)
		}
	}
	for _, p := range params {
		call.Args = append(call.Args, p)
	}
	return call, nil
}

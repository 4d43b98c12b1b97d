// Copyright 2025 V Kontakte LLC
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-kit/log/level"
	"github.com/mailru/easyjson"
	"github.com/mailru/easyjson/jwriter"
)

func httpErr(code int, err error) httpError {
	return httpError{
		code: code,
		err:  err,
	}
}

type httpError struct {
	code int
	err  error
}

func (e httpError) Error() string {
	return e.err.Error()
}

func (e httpError) Unwrap() error {
	return e.err
}

type Response struct {
	Data  easyjson.Marshaler
	Error string
}

func (r *Response) MarshalEasyJSON(w *jwriter.Writer) {
	w.RawByte('{')
	if r.Error != "" {
		w.RawString(`"error":`)
		w.String(r.Error)
	} else if r.Data != nil {
		w.RawString(`"data":`)
		r.Data.MarshalEasyJSON(w)
	}
	w.RawByte('}')
}

func httpCode(err error) int {
	code := http.StatusOK
	if err != nil {
		var httpErr httpError
		switch {
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			code = http.StatusGatewayTimeout
		case errors.As(err, &httpErr):
			code = httpErr.code
		default:
			code = http.StatusInternalServerError
		}
	}
	return code
}

func respondJSON(w *ResponseWriter, resp easyjson.Marshaler, err error) {
	code := httpCode(err)
	r := Response{}
	if err != nil {
		if code == http.StatusInternalServerError {
			level.Error(w.logger).Log("msg", "request failed", "endpoint", w.endpointStat.endpoint, "err", err)
		}
		r.Error = err.Error()
	} else {
		r.Data = resp
	}
	var jw jwriter.Writer
	r.MarshalEasyJSON(&jw)
	if jw.Error != nil {
		level.Error(w.logger).Log("msg", "failed to marshal JSON response", "endpoint", w.endpointStat.endpoint, "err", jw.Error)
		msg := `{"error": "failed to marshal JSON response"}`
		w.Header().Set("Content-Length", strconv.Itoa(len(msg)))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(msg))
		return
	}
	w.Header().Set("Content-Length", strconv.Itoa(jw.Size()))
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.WriteHeader(code)
	if _, err := jw.DumpTo(w); err != nil {
		level.Warn(w.logger).Log("msg", "failed to write HTTP response", "endpoint", w.endpointStat.endpoint, "err", err)
	}
}

// Copyright 2025 V Kontakte LLC
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package expression

import (
	"errors"
	"fmt"
)

const (
	evalFunctionPrefix = "Cannot evaluate function: "
	evalFormulaPrefix  = "Cannot evaluate formula: "
)

var (
	errAggregateNotSupported = errors.New("aggregate queries are not supported")
	errSessionClosed         = errors.New("session is closed")
	errNotPrepared           = errors.New("item queries are not prepared")
	errQueryIndex            = errors.New("invalid item query index")
	errHostNotResolved       = errors.New("item query host is not resolved")

	errInvalidArgCount   = errors.New("invalid number of arguments")
	errInvalidParamCount = errors.New("invalid number of function parameters")
	errUnsupported       = errors.New("unsupported function")
	errInvalidFirst      = errors.New("invalid first argument")
	errQuotedQuery       = errors.New("quoted item query argument")
	errInvalidSecond     = errors.New("invalid second parameter")
	errInvalidThird      = errors.New("invalid third parameter")
	errInvalidFourth     = errors.New("invalid fourth parameter")
	errInvalidPercentile = errors.New("invalid value of percentile")
)

// EvalError is returned by Session.EvalHistory and Session.EvalCommon, the
// message carries the prefix expected by the expression evaluator.
type EvalError struct {
	prefix string
	Err    error
}

func (e *EvalError) Error() string { return e.prefix + e.Err.Error() }

func (e *EvalError) Unwrap() error { return e.Err }

func functionError(err error) error {
	return &EvalError{prefix: evalFunctionPrefix, Err: err}
}

func formulaError(err error) error {
	return &EvalError{prefix: evalFormulaPrefix, Err: err}
}

func itemError(host string, key string, reason string) error {
	return fmt.Errorf("item \"/%s/%s\" %s", host, key, reason)
}

// Copyright 2025 V Kontakte LLC
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package filter implements item query filters built from group and tag
// predicates combined with and, or, not.
package filter

import (
	"fmt"
)

type nodeOp int

const (
	opGroup nodeOp = iota
	opTag
	opNot
	opAnd
	opOr
)

type node struct {
	op    nodeOp
	arg   string // group name or tag spec
	group int    // index in Expr.groups for opGroup
	args  [2]*node
}

type Expr struct {
	text   string
	root   *node
	groups []string
}

// Predicates are evaluated for a single candidate item.
type Predicates interface {
	Group(name string) (bool, error)
	Tag(spec string) (bool, error)
}

func (e *Expr) String() string { return e.text }

func (e *Expr) addGroup(name string) int {
	for i, g := range e.groups {
		if g == name {
			return i
		}
	}
	e.groups = append(e.groups, name)
	return len(e.groups) - 1
}

// Groups returns distinct group names referenced by the filter, GroupFilter
// leaves are indexes into this slice.
func (e *Expr) Groups() []string { return e.groups }

// Eval returns 1 if the candidate passes the filter and 0 otherwise.
func (e *Expr) Eval(p Predicates) (float64, error) {
	ok, err := e.root.eval(p)
	if err != nil {
		return 0, err
	}
	if ok {
		return 1, nil
	}
	return 0, nil
}

func (n *node) eval(p Predicates) (bool, error) {
	switch n.op {
	case opGroup:
		return p.Group(n.arg)
	case opTag:
		return p.Tag(n.arg)
	case opNot:
		v, err := n.args[0].eval(p)
		return !v, err
	case opAnd:
		v, err := n.args[0].eval(p)
		if err != nil || !v {
			return false, err
		}
		return n.args[1].eval(p)
	case opOr:
		v, err := n.args[0].eval(p)
		if err != nil || v {
			return v, err
		}
		return n.args[1].eval(p)
	default:
		return false, fmt.Errorf("unknown filter operation %d", n.op)
	}
}

type GroupOp int

const (
	GroupTrue GroupOp = iota // non-group condition, cannot narrow candidates
	GroupMember
	GroupNot
	GroupAnd
	GroupOr
)

// GroupFilter is a necessary condition on the candidate host derived from the
// group predicates of a filter. Index refers to Expr.Groups() for GroupMember.
type GroupFilter struct {
	Op    GroupOp
	Index int
	Args  []*GroupFilter
}

// GroupFilter returns nil when the filter does not constrain host groups.
func (e *Expr) GroupFilter() *GroupFilter {
	gf := e.root.groupFilter()
	if gf.Op == GroupTrue {
		return nil
	}
	return gf
}

var groupTrue = &GroupFilter{Op: GroupTrue}

func (n *node) groupFilter() *GroupFilter {
	switch n.op {
	case opGroup:
		return &GroupFilter{Op: GroupMember, Index: n.group}
	case opNot:
		if !n.args[0].groupsOnly() {
			return groupTrue
		}
		return &GroupFilter{Op: GroupNot, Args: []*GroupFilter{n.args[0].groupFilter()}}
	case opAnd:
		lhs, rhs := n.args[0].groupFilter(), n.args[1].groupFilter()
		switch {
		case lhs.Op == GroupTrue:
			return rhs
		case rhs.Op == GroupTrue:
			return lhs
		}
		return &GroupFilter{Op: GroupAnd, Args: []*GroupFilter{lhs, rhs}}
	case opOr:
		lhs, rhs := n.args[0].groupFilter(), n.args[1].groupFilter()
		if lhs.Op == GroupTrue || rhs.Op == GroupTrue {
			return groupTrue
		}
		return &GroupFilter{Op: GroupOr, Args: []*GroupFilter{lhs, rhs}}
	default:
		return groupTrue
	}
}

func (n *node) groupsOnly() bool {
	switch n.op {
	case opGroup:
		return true
	case opNot:
		return n.args[0].groupsOnly()
	case opAnd, opOr:
		return n.args[0].groupsOnly() && n.args[1].groupsOnly()
	default:
		return false
	}
}

// Match evaluates the group filter given membership of the candidate host in
// each referenced group.
func (gf *GroupFilter) Match(member func(index int) bool) bool {
	switch gf.Op {
	case GroupMember:
		return member(gf.Index)
	case GroupNot:
		return !gf.Args[0].Match(member)
	case GroupAnd:
		return gf.Args[0].Match(member) && gf.Args[1].Match(member)
	case GroupOr:
		return gf.Args[0].Match(member) || gf.Args[1].Match(member)
	default:
		return true
	}
}

// Copyright 2025 V Kontakte LLC
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package filter

import (
	"fmt"
	"strings"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokString
	tokEq
	tokNe
	tokLParen
	tokRParen
)

type token struct {
	kind tokenKind
	val  string
	pos  int
}

type lexer struct {
	s   string
	pos int
}

func (l *lexer) next() (token, error) {
	for l.pos < len(l.s) && isSpace(l.s[l.pos]) {
		l.pos++
	}
	if l.pos == len(l.s) {
		return token{kind: tokEOF, pos: l.pos}, nil
	}
	start := l.pos
	c := l.s[l.pos]
	switch {
	case c == '(':
		l.pos++
		return token{kind: tokLParen, pos: start}, nil
	case c == ')':
		l.pos++
		return token{kind: tokRParen, pos: start}, nil
	case c == '=':
		l.pos++
		return token{kind: tokEq, pos: start}, nil
	case c == '<':
		if l.pos+1 < len(l.s) && l.s[l.pos+1] == '>' {
			l.pos += 2
			return token{kind: tokNe, pos: start}, nil
		}
	case c == '"':
		var sb strings.Builder
		for l.pos++; l.pos < len(l.s); l.pos++ {
			c = l.s[l.pos]
			if c == '\\' && l.pos+1 < len(l.s) && (l.s[l.pos+1] == '"' || l.s[l.pos+1] == '\\') {
				l.pos++
				sb.WriteByte(l.s[l.pos])
				continue
			}
			if c == '"' {
				l.pos++
				return token{kind: tokString, val: sb.String(), pos: start}, nil
			}
			sb.WriteByte(c)
		}
		return token{}, fmt.Errorf("unterminated string at position %d", start)
	case isIdentChar(c):
		for l.pos < len(l.s) && isIdentChar(l.s[l.pos]) {
			l.pos++
		}
		return token{kind: tokIdent, val: l.s[start:l.pos], pos: start}, nil
	}
	return token{}, fmt.Errorf("unexpected character %q at position %d", c, start)
}

func isSpace(c byte) bool { return c == ' ' || c == '\t' || c == '\r' || c == '\n' }

func isIdentChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c == '_'
}

type parser struct {
	lex  lexer
	tok  token
	expr *Expr
}

// Parse parses an item query filter, for example
//
//	group="Linux servers" and (tag="env:prod" or not tag="legacy")
func Parse(s string) (*Expr, error) {
	p := parser{lex: lexer{s: s}, expr: &Expr{text: s}}
	if err := p.advance(); err != nil {
		return nil, err
	}
	root, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.tok.kind != tokEOF {
		return nil, fmt.Errorf("unexpected token at position %d", p.tok.pos)
	}
	p.expr.root = root
	return p.expr, nil
}

func (p *parser) advance() (err error) {
	p.tok, err = p.lex.next()
	return err
}

func (p *parser) isKeyword(kw string) bool {
	return p.tok.kind == tokIdent && strings.EqualFold(p.tok.val, kw)
}

func (p *parser) parseOr() (*node, error) {
	lhs, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.isKeyword("or") {
		if err = p.advance(); err != nil {
			return nil, err
		}
		rhs, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		lhs = &node{op: opOr, args: [2]*node{lhs, rhs}}
	}
	return lhs, nil
}

func (p *parser) parseAnd() (*node, error) {
	lhs, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.isKeyword("and") {
		if err = p.advance(); err != nil {
			return nil, err
		}
		rhs, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		lhs = &node{op: opAnd, args: [2]*node{lhs, rhs}}
	}
	return lhs, nil
}

func (p *parser) parseUnary() (*node, error) {
	if p.isKeyword("not") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		arg, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &node{op: opNot, args: [2]*node{arg}}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (*node, error) {
	switch p.tok.kind {
	case tokLParen:
		if err := p.advance(); err != nil {
			return nil, err
		}
		n, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.tok.kind != tokRParen {
			return nil, fmt.Errorf("missing closing parenthesis at position %d", p.tok.pos)
		}
		return n, p.advance()
	case tokIdent:
		return p.parsePredicate()
	default:
		return nil, fmt.Errorf("unexpected token at position %d", p.tok.pos)
	}
}

// parsePredicate handles group="x", group<>"x" and the call form group("x").
func (p *parser) parsePredicate() (*node, error) {
	var op nodeOp
	switch strings.ToLower(p.tok.val) {
	case "group":
		op = opGroup
	case "tag":
		op = opTag
	default:
		return nil, fmt.Errorf("unknown filter function %q at position %d", p.tok.val, p.tok.pos)
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	negate := false
	call := false
	switch p.tok.kind {
	case tokEq:
	case tokNe:
		negate = true
	case tokLParen:
		call = true
	default:
		return nil, fmt.Errorf("expected comparison operator at position %d", p.tok.pos)
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	if p.tok.kind != tokString {
		return nil, fmt.Errorf("expected string at position %d", p.tok.pos)
	}
	n := &node{op: op, arg: p.tok.val}
	if op == opGroup {
		n.group = p.expr.addGroup(p.tok.val)
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	if call {
		if p.tok.kind != tokRParen {
			return nil, fmt.Errorf("missing closing parenthesis at position %d", p.tok.pos)
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
	}
	if negate {
		n = &node{op: opNot, args: [2]*node{n}}
	}
	return n, nil
}

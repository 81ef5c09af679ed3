package eval

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dagucloud/forge/internal/core"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokLParen
	tokRParen
	tokNot
	tokAnd
	tokOr
	tokCompare
	tokOperand
	tokFunc
)

type token struct {
	kind tokenKind
	text string
	args []string
}

// EvalCondition evaluates a condition. The empty condition is true.
//
// Grammar: or-expressions of and-expressions of optionally negated
// comparisons ('a' == 'b', !=, <, <=, >, >=), parenthesized groups, boolean
// operands ('true', 'false', 'on', 'off', 'yes', 'no') and the functions
// Exists('path') and HasTrailingSlash('text'). String comparison ignores case.
func (e *Evaluator) EvalCondition(ctx context.Context, cond string, scope core.Scope) (bool, error) {
	if strings.TrimSpace(cond) == "" {
		return true, nil
	}
	toks, err := lexCondition(cond)
	if err != nil {
		return false, fmt.Errorf("%w: condition %q: %v", ErrSyntax, cond, err)
	}
	p := &condParser{ctx: ctx, eval: e, scope: scope, toks: toks}
	v, err := p.parseOr()
	if err != nil {
		return false, fmt.Errorf("condition %q: %w", cond, err)
	}
	if p.peek().kind != tokEOF {
		return false, fmt.Errorf("%w: condition %q: unexpected %q", ErrSyntax, cond, p.peek().text)
	}
	return v, nil
}

func lexCondition(s string) ([]token, error) {
	var toks []token
	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '(':
			toks = append(toks, token{kind: tokLParen, text: "("})
			i++
		case c == ')':
			toks = append(toks, token{kind: tokRParen, text: ")"})
			i++
		case strings.HasPrefix(s[i:], "=="), strings.HasPrefix(s[i:], "!="),
			strings.HasPrefix(s[i:], "<="), strings.HasPrefix(s[i:], ">="):
			toks = append(toks, token{kind: tokCompare, text: s[i : i+2]})
			i += 2
		case c == '<' || c == '>':
			toks = append(toks, token{kind: tokCompare, text: string(c)})
			i++
		case c == '!':
			toks = append(toks, token{kind: tokNot, text: "!"})
			i++
		case c == '\'':
			end := strings.IndexByte(s[i+1:], '\'')
			if end < 0 {
				return nil, fmt.Errorf("unterminated string at offset %d", i)
			}
			toks = append(toks, token{kind: tokOperand, text: s[i+1 : i+1+end]})
			i += end + 2
		case i+1 < len(s) && isRefSigil(c) && s[i+1] == '(':
			end, err := matchParen(s, i+1)
			if err != nil {
				return nil, err
			}
			toks = append(toks, token{kind: tokOperand, text: s[i : end+1]})
			i = end + 1
		default:
			j := i
			for j < len(s) && !strings.ContainsRune(" \t\r\n()!=<>'", rune(s[j])) {
				j++
			}
			word := s[i:j]
			if word == "" {
				return nil, fmt.Errorf("unexpected %q at offset %d", c, i)
			}
			switch strings.ToLower(word) {
			case "and":
				toks = append(toks, token{kind: tokAnd, text: word})
				i = j
				continue
			case "or":
				toks = append(toks, token{kind: tokOr, text: word})
				i = j
				continue
			}
			k := j
			for k < len(s) && s[k] == ' ' {
				k++
			}
			if k < len(s) && s[k] == '(' && isIdentifier(word) {
				end, err := matchParen(s, k)
				if err != nil {
					return nil, err
				}
				args, err := splitArgs(s[k+1 : end])
				if err != nil {
					return nil, err
				}
				toks = append(toks, token{kind: tokFunc, text: word, args: args})
				i = end + 1
				continue
			}
			toks = append(toks, token{kind: tokOperand, text: word})
			i = j
		}
	}
	return append(toks, token{kind: tokEOF}), nil
}

func splitArgs(s string) ([]string, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var (
		args    []string
		inQuote bool
		start   int
	)
	for i := 0; i < len(s); i++ {
		switch {
		case s[i] == '\'':
			inQuote = !inQuote
		case s[i] == ',' && !inQuote:
			args = append(args, unquote(s[start:i]))
			start = i + 1
		}
	}
	if inQuote {
		return nil, fmt.Errorf("unterminated string in arguments %q", s)
	}
	return append(args, unquote(s[start:])), nil
}

func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '\'' && s[len(s)-1] == '\'' {
		return s[1 : len(s)-1]
	}
	return s
}

type condParser struct {
	ctx   context.Context
	eval  *Evaluator
	scope core.Scope
	toks  []token
	pos   int
}

func (p *condParser) peek() token {
	return p.toks[p.pos]
}

func (p *condParser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *condParser) parseOr() (bool, error) {
	left, err := p.parseAnd()
	if err != nil {
		return false, err
	}
	for p.peek().kind == tokOr {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return false, err
		}
		left = left || right
	}
	return left, nil
}

func (p *condParser) parseAnd() (bool, error) {
	left, err := p.parseUnary()
	if err != nil {
		return false, err
	}
	for p.peek().kind == tokAnd {
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return false, err
		}
		left = left && right
	}
	return left, nil
}

func (p *condParser) parseUnary() (bool, error) {
	if p.peek().kind == tokNot {
		p.next()
		v, err := p.parseUnary()
		return !v, err
	}
	return p.parsePrimary()
}

func (p *condParser) parsePrimary() (bool, error) {
	t := p.next()
	switch t.kind {
	case tokLParen:
		v, err := p.parseOr()
		if err != nil {
			return false, err
		}
		if p.next().kind != tokRParen {
			return false, fmt.Errorf("%w: missing ')'", ErrSyntax)
		}
		return v, nil
	case tokFunc:
		return p.call(t)
	case tokOperand:
		left, err := p.expand(t.text)
		if err != nil {
			return false, err
		}
		if p.peek().kind != tokCompare {
			return parseBool(left)
		}
		op := p.next().text
		rt := p.next()
		if rt.kind != tokOperand {
			return false, fmt.Errorf("%w: expected operand after %q", ErrSyntax, op)
		}
		right, err := p.expand(rt.text)
		if err != nil {
			return false, err
		}
		return compare(op, left, right)
	}
	return false, fmt.Errorf("%w: unexpected %q", ErrSyntax, t.text)
}

func (p *condParser) expand(text string) (string, error) {
	v, err := p.eval.Resolve(p.ctx, text, p.scope)
	if err != nil {
		return "", err
	}
	return v.String(), nil
}

func (p *condParser) call(t token) (bool, error) {
	args := make([]string, len(t.args))
	for i, a := range t.args {
		v, err := p.expand(a)
		if err != nil {
			return false, err
		}
		args[i] = v
	}
	switch strings.ToLower(t.text) {
	case "exists":
		if len(args) != 1 {
			return false, fmt.Errorf("%w: Exists takes one argument", ErrSyntax)
		}
		path := strings.TrimSpace(args[0])
		if path == "" {
			return false, nil
		}
		path = filepath.FromSlash(path)
		if !filepath.IsAbs(path) {
			if dir, ok := p.scope.Property(core.ProjectDirectoryProperty); ok && dir != "" {
				path = filepath.Join(dir, path)
			}
		}
		_, err := os.Stat(path)
		return err == nil, nil
	case "hastrailingslash":
		if len(args) != 1 {
			return false, fmt.Errorf("%w: HasTrailingSlash takes one argument", ErrSyntax)
		}
		return strings.HasSuffix(args[0], "/") || strings.HasSuffix(args[0], `\`), nil
	}
	return false, fmt.Errorf("%w: %s", ErrUnknownFunction, t.text)
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "on", "yes":
		return true, nil
	case "false", "off", "no":
		return false, nil
	}
	return false, fmt.Errorf("%w: %q", ErrNotBoolean, s)
}

func compare(op, left, right string) (bool, error) {
	lf, lerr := strconv.ParseFloat(strings.TrimSpace(left), 64)
	rf, rerr := strconv.ParseFloat(strings.TrimSpace(right), 64)
	numeric := lerr == nil && rerr == nil
	switch op {
	case "==":
		if numeric {
			return lf == rf, nil
		}
		return strings.EqualFold(left, right), nil
	case "!=":
		if numeric {
			return lf != rf, nil
		}
		return !strings.EqualFold(left, right), nil
	}
	if !numeric {
		return false, fmt.Errorf("%w: %q %s %q", ErrNotNumeric, left, op, right)
	}
	switch op {
	case "<":
		return lf < rf, nil
	case "<=":
		return lf <= rf, nil
	case ">":
		return lf > rf, nil
	default:
		return lf >= rf, nil
	}
}

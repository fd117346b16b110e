package memstore

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/jacentio/docstore/store"
)

// parsedQuery is a statement of the form
//
//	SELECT * | path [, path...] FROM alias
//	  [WHERE path op operand [AND ...]]
//	  [ORDER BY path [ASC|DESC]]
//
// where op is one of = != <> < > <= >= and operand is "?" or a literal.
type parsedQuery struct {
	alias   string
	fields  [][]string
	conds   []condition
	orderBy []string
	desc    bool
}

type condition struct {
	path  []string
	op    string
	value any
}

type tokenKind int

const (
	tokIdent tokenKind = iota
	tokString
	tokNumber
	tokSymbol
	tokParam
	tokEOF
)

type token struct {
	kind tokenKind
	text string
}

func tokenize(s string) ([]token, error) {
	var toks []token
	r := []rune(s)
	for i := 0; i < len(r); {
		c := r[i]
		switch {
		case unicode.IsSpace(c):
			i++
		case unicode.IsLetter(c) || c == '_':
			j := i
			for j < len(r) && (unicode.IsLetter(r[j]) || unicode.IsDigit(r[j]) || r[j] == '_') {
				j++
			}
			toks = append(toks, token{tokIdent, string(r[i:j])})
			i = j
		case unicode.IsDigit(c) || (c == '-' && i+1 < len(r) && unicode.IsDigit(r[i+1])):
			j := i + 1
			for j < len(r) && (unicode.IsDigit(r[j]) || r[j] == '.' || r[j] == 'e' || r[j] == 'E') {
				j++
			}
			toks = append(toks, token{tokNumber, string(r[i:j])})
			i = j
		case c == '\'' || c == '"':
			j := i + 1
			var sb strings.Builder
			for j < len(r) && r[j] != c {
				if r[j] == '\\' && j+1 < len(r) {
					j++
				}
				sb.WriteRune(r[j])
				j++
			}
			if j >= len(r) {
				return nil, errors.New("unterminated string literal")
			}
			toks = append(toks, token{tokString, sb.String()})
			i = j + 1
		case c == '?':
			toks = append(toks, token{tokParam, "?"})
			i++
		case strings.ContainsRune("<>!=", c):
			j := i + 1
			if j < len(r) && (r[j] == '=' || (c == '<' && r[j] == '>')) {
				j++
			}
			toks = append(toks, token{tokSymbol, string(r[i:j])})
			i = j
		case strings.ContainsRune("*,.", c):
			toks = append(toks, token{tokSymbol, string(c)})
			i++
		default:
			return nil, fmt.Errorf("unexpected character %q", c)
		}
	}
	return append(toks, token{kind: tokEOF}), nil
}

type parser struct {
	toks   []token
	pos    int
	params []any
	next   int
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) advance() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) keyword(kw string) bool {
	t := p.peek()
	if t.kind == tokIdent && strings.EqualFold(t.text, kw) {
		p.pos++
		return true
	}
	return false
}

func (p *parser) expectKeyword(kw string) error {
	if !p.keyword(kw) {
		return fmt.Errorf("syntax error: expected %s near %q", kw, p.peek().text)
	}
	return nil
}

func (p *parser) symbol(s string) bool {
	t := p.peek()
	if t.kind == tokSymbol && t.text == s {
		p.pos++
		return true
	}
	return false
}

func (p *parser) path() ([]string, error) {
	t := p.advance()
	if t.kind != tokIdent {
		return nil, fmt.Errorf("syntax error: expected property path near %q", t.text)
	}
	path := []string{t.text}
	for p.symbol(".") {
		t = p.advance()
		if t.kind != tokIdent {
			return nil, fmt.Errorf("syntax error: expected property name near %q", t.text)
		}
		path = append(path, t.text)
	}
	return path, nil
}

func (p *parser) operand() (any, error) {
	t := p.advance()
	switch t.kind {
	case tokParam:
		if p.next >= len(p.params) {
			return nil, fmt.Errorf("query has more placeholders than the %d parameters given", len(p.params))
		}
		v, err := normalize(p.params[p.next])
		p.next++
		return v, err
	case tokString:
		return t.text, nil
	case tokNumber:
		return json.Number(t.text), nil
	case tokIdent:
		switch strings.ToLower(t.text) {
		case "true":
			return true, nil
		case "false":
			return false, nil
		case "null":
			return nil, nil
		}
	}
	return nil, fmt.Errorf("syntax error: expected value near %q", t.text)
}

func parseQuery(statement string, params []any) (*parsedQuery, error) {
	toks, err := tokenize(statement)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks, params: params}
	q := &parsedQuery{}

	if err := p.expectKeyword("SELECT"); err != nil {
		return nil, err
	}
	if !p.symbol("*") {
		for {
			f, err := p.path()
			if err != nil {
				return nil, err
			}
			q.fields = append(q.fields, f)
			if !p.symbol(",") {
				break
			}
		}
	}
	if err := p.expectKeyword("FROM"); err != nil {
		return nil, err
	}
	alias := p.advance()
	if alias.kind != tokIdent {
		return nil, fmt.Errorf("syntax error: expected collection alias near %q", alias.text)
	}
	q.alias = alias.text

	if p.keyword("WHERE") {
		for {
			path, err := p.path()
			if err != nil {
				return nil, err
			}
			op := p.advance()
			if op.kind != tokSymbol || !validOp(op.text) {
				return nil, fmt.Errorf("syntax error: expected comparison operator near %q", op.text)
			}
			value, err := p.operand()
			if err != nil {
				return nil, err
			}
			q.conds = append(q.conds, condition{path: path, op: op.text, value: value})
			if !p.keyword("AND") {
				break
			}
		}
	}

	if p.keyword("ORDER") {
		if err := p.expectKeyword("BY"); err != nil {
			return nil, err
		}
		if q.orderBy, err = p.path(); err != nil {
			return nil, err
		}
		if p.keyword("DESC") {
			q.desc = true
		} else {
			p.keyword("ASC")
		}
	}

	if t := p.peek(); t.kind != tokEOF {
		return nil, fmt.Errorf("syntax error: unexpected %q", t.text)
	}

	if q.fields != nil {
		q.fields = stripAliases(q.alias, q.fields...)
	}
	for i := range q.conds {
		q.conds[i].path = stripAliases(q.alias, q.conds[i].path)[0]
	}
	if q.orderBy != nil {
		q.orderBy = stripAliases(q.alias, q.orderBy)[0]
	}
	return q, nil
}

func validOp(op string) bool {
	switch op {
	case "=", "!=", "<>", "<", ">", "<=", ">=":
		return true
	}
	return false
}

func stripAliases(alias string, paths ...[]string) [][]string {
	out := make([][]string, len(paths))
	for i, p := range paths {
		if len(p) > 1 && p[0] == alias {
			p = p[1:]
		}
		out[i] = p
	}
	return out
}

// normalize converts a Go parameter to its decoded JSON form.
func normalize(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode query parameter: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("decode query parameter: %w", err)
	}
	return out, nil
}

func lookup(body map[string]any, path []string) (any, bool) {
	return store.LookupPath(body, "/"+strings.Join(path, "/"))
}

func (q *parsedQuery) matches(body map[string]any) bool {
	for _, c := range q.conds {
		v, ok := lookup(body, c.path)
		if !ok {
			return false
		}
		cmp, comparable := compare(v, c.value)
		if !comparable {
			return false
		}
		var hit bool
		switch c.op {
		case "=":
			hit = cmp == 0
		case "!=", "<>":
			hit = cmp != 0
		case "<":
			hit = cmp < 0
		case ">":
			hit = cmp > 0
		case "<=":
			hit = cmp <= 0
		case ">=":
			hit = cmp >= 0
		}
		if !hit {
			return false
		}
	}
	return true
}

// compare orders two decoded JSON values of the same type. Values of different
// types, objects and arrays are not comparable.
func compare(a, b any) (int, bool) {
	switch x := a.(type) {
	case nil:
		if b == nil {
			return 0, true
		}
	case string:
		if y, ok := b.(string); ok {
			return strings.Compare(x, y), true
		}
	case bool:
		if y, ok := b.(bool); ok {
			switch {
			case x == y:
				return 0, true
			case !x:
				return -1, true
			default:
				return 1, true
			}
		}
	case json.Number:
		if y, ok := b.(json.Number); ok {
			fx, err1 := strconv.ParseFloat(x.String(), 64)
			fy, err2 := strconv.ParseFloat(y.String(), 64)
			if err1 != nil || err2 != nil {
				return 0, false
			}
			switch {
			case fx < fy:
				return -1, true
			case fx > fy:
				return 1, true
			default:
				return 0, true
			}
		}
	}
	return 0, false
}

// sort orders entries by the ORDER BY path, keeping insertion order for ties.
// Entries missing the property sort first.
func (q *parsedQuery) sort(entries []*entry) {
	if q.orderBy == nil {
		return
	}
	sort.SliceStable(entries, func(i, j int) bool {
		a, aok := lookup(entries[i].body, q.orderBy)
		b, bok := lookup(entries[j].body, q.orderBy)
		if !aok || !bok {
			if q.desc {
				return aok && !bok
			}
			return !aok && bok
		}
		cmp, ok := compare(a, b)
		if !ok {
			return false
		}
		if q.desc {
			return cmp > 0
		}
		return cmp < 0
	})
}

// project renders an entry with the selected fields, keyed by their last segment.
func (q *parsedQuery) project(e *entry) (store.Document, error) {
	if q.fields == nil {
		return e.document()
	}
	out := make(map[string]any, len(q.fields))
	for _, f := range q.fields {
		name := f[len(f)-1]
		if len(f) == 1 && name == store.ETagField {
			out[name] = e.etag
			continue
		}
		if v, ok := lookup(e.body, f); ok {
			out[name] = v
		}
	}
	return json.Marshal(out)
}

// Package filter parses and evaluates review filter expressions such as
//
//	camera == "front" AND (label == "person" OR zone contains "yard")
//
// against timeline events.
package filter

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Expr is a parsed filter.
type Expr interface {
	exprNode()
}

// Logical joins two expressions with AND / OR.
type Logical struct {
	Op    string
	Left  Expr
	Right Expr
}

// Not negates an expression.
type Not struct {
	Expr Expr
}

// Compare tests one event field against a literal.
type Compare struct {
	Field Field
	Op    Operator
	Value any // string or float64
}

func (*Logical) exprNode() {}
func (*Not) exprNode()     {}
func (*Compare) exprNode() {}

// Field names an event attribute.
type Field string

const (
	FieldCamera    Field = "camera"
	FieldClassType Field = "class_type"
	FieldSource    Field = "source"
	FieldSourceID  Field = "source_id"
	FieldTimestamp Field = "timestamp"
	FieldLabel     Field = "label"
	FieldSubLabel  Field = "sub_label"
	FieldZone      Field = "zone"
)

var knownFields = map[Field]bool{
	FieldCamera: true, FieldClassType: true, FieldSource: true, FieldSourceID: true,
	FieldTimestamp: true, FieldLabel: true, FieldSubLabel: true, FieldZone: true,
}

// Operator is a comparison operator.
type Operator string

const (
	OpEq       Operator = "=="
	OpNeq      Operator = "!="
	OpGt       Operator = ">"
	OpGte      Operator = ">="
	OpLt       Operator = "<"
	OpLte      Operator = "<="
	OpContains Operator = "contains"
)

type tokenKind int

const (
	tokIdent tokenKind = iota
	tokOp
	tokString
	tokNumber
	tokLParen
	tokRParen
	tokEOF
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

type lexer struct {
	src string
	pos int
}

func (l *lexer) next() (token, error) {
	for l.pos < len(l.src) && unicode.IsSpace(rune(l.src[l.pos])) {
		l.pos++
	}
	start := l.pos
	if l.pos >= len(l.src) {
		return token{tokEOF, "", start}, nil
	}
	ch := l.src[l.pos]
	switch {
	case ch == '(':
		l.pos++
		return token{tokLParen, "(", start}, nil
	case ch == ')':
		l.pos++
		return token{tokRParen, ")", start}, nil
	case strings.ContainsRune("=!<>", rune(ch)):
		l.pos++
		if l.pos < len(l.src) && l.src[l.pos] == '=' {
			l.pos++
		}
		op := l.src[start:l.pos]
		if op == "=" || op == "!" {
			return token{}, fmt.Errorf("unexpected %q at position %d", op, start)
		}
		return token{tokOp, op, start}, nil
	case ch == '"' || ch == '\'':
		var b strings.Builder
		l.pos++
		for l.pos < len(l.src) && l.src[l.pos] != ch {
			if l.src[l.pos] == '\\' && l.pos+1 < len(l.src) {
				l.pos++
			}
			b.WriteByte(l.src[l.pos])
			l.pos++
		}
		if l.pos >= len(l.src) {
			return token{}, fmt.Errorf("unterminated string at position %d", start)
		}
		l.pos++
		return token{tokString, b.String(), start}, nil
	case unicode.IsDigit(rune(ch)) || ch == '-' || ch == '.':
		l.pos++
		for l.pos < len(l.src) && (unicode.IsDigit(rune(l.src[l.pos])) || l.src[l.pos] == '.') {
			l.pos++
		}
		return token{tokNumber, l.src[start:l.pos], start}, nil
	case unicode.IsLetter(rune(ch)) || ch == '_':
		for l.pos < len(l.src) && (unicode.IsLetter(rune(l.src[l.pos])) || unicode.IsDigit(rune(l.src[l.pos])) || l.src[l.pos] == '_') {
			l.pos++
		}
		return token{tokIdent, l.src[start:l.pos], start}, nil
	}
	return token{}, fmt.Errorf("unexpected character %q at position %d", ch, start)
}

type parser struct {
	tokens []token
	pos    int
}

func (p *parser) peek() token { return p.tokens[p.pos] }

func (p *parser) advance() token {
	t := p.tokens[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) keyword(kw string) bool {
	t := p.peek()
	return t.kind == tokIdent && strings.EqualFold(t.text, kw)
}

// Parse compiles a filter expression. An empty or blank string yields a nil
// Expr, which matches every event.
func Parse(src string) (Expr, error) {
	if strings.TrimSpace(src) == "" {
		return nil, nil
	}
	lx := &lexer{src: src}
	var tokens []token
	for {
		t, err := lx.next()
		if err != nil {
			return nil, fmt.Errorf("filter: %w", err)
		}
		tokens = append(tokens, t)
		if t.kind == tokEOF {
			break
		}
	}
	p := &parser{tokens: tokens}
	expr, err := p.parseOr()
	if err != nil {
		return nil, fmt.Errorf("filter: %w", err)
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, fmt.Errorf("filter: unexpected %q at position %d", t.text, t.pos)
	}
	return expr, nil
}

func (p *parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.keyword("OR") {
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &Logical{Op: "OR", Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.keyword("AND") {
		p.advance()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &Logical{Op: "AND", Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (Expr, error) {
	if p.keyword("NOT") {
		p.advance()
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &Not{Expr: inner}, nil
	}
	if p.peek().kind == tokLParen {
		p.advance()
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if t := p.advance(); t.kind != tokRParen {
			return nil, fmt.Errorf("expected ) at position %d, got %q", t.pos, t.text)
		}
		return inner, nil
	}
	return p.parseCompare()
}

func (p *parser) parseCompare() (Expr, error) {
	ft := p.advance()
	if ft.kind != tokIdent {
		return nil, fmt.Errorf("expected field name at position %d, got %q", ft.pos, ft.text)
	}
	field := Field(strings.ToLower(ft.text))
	if !knownFields[field] {
		return nil, fmt.Errorf("unknown field %q", ft.text)
	}

	var op Operator
	switch ot := p.advance(); {
	case ot.kind == tokOp:
		op = Operator(ot.text)
	case ot.kind == tokIdent && strings.EqualFold(ot.text, "contains"):
		op = OpContains
	default:
		return nil, fmt.Errorf("expected operator after %s, got %q", field, ot.text)
	}

	vt := p.advance()
	var value any
	switch vt.kind {
	case tokString:
		value = vt.text
	case tokNumber:
		f, err := strconv.ParseFloat(vt.text, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", vt.text)
		}
		value = f
	default:
		return nil, fmt.Errorf("expected value after %s %s, got %q", field, op, vt.text)
	}
	if err := checkOperand(field, op, value); err != nil {
		return nil, err
	}
	return &Compare{Field: field, Op: op, Value: value}, nil
}

// checkOperand rejects comparisons that could never evaluate.
func checkOperand(field Field, op Operator, value any) error {
	if field == FieldTimestamp {
		if _, ok := value.(float64); !ok {
			return fmt.Errorf("timestamp compares against a number, got %q", value)
		}
		if op == OpContains {
			return fmt.Errorf("operator %s not supported for timestamp", op)
		}
		return nil
	}
	if _, ok := value.(string); !ok {
		return fmt.Errorf("%s compares against a string, got %v", field, value)
	}
	switch op {
	case OpEq, OpNeq, OpContains:
		return nil
	}
	return fmt.Errorf("operator %s not supported for %s", op, field)
}

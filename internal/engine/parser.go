package engine

import (
	"strconv"
	"sync"
)

// node — узел разобранного выражения.
type node interface {
	eval(ev *evaluator) (Result, error)
}

type (
	literalNode struct{ value any }
	identNode   struct{ name string }
	fieldNode   struct {
		x    node
		name string
	}
	indexNode struct{ x, index node }
	unaryNode struct {
		op string
		x  node
	}
	binaryNode struct {
		op   string
		l, r node
	}
	callNode struct {
		name string
		args []node
	}
)

// Приоритеты бинарных операторов.
var precedence = map[string]int{
	"||": 1,
	"&&": 2,
	"==": 3, "!=": 3,
	"<": 4, "<=": 4, ">": 4, ">=": 4,
	"+": 5, "-": 5,
}

// Ключевые слова-синонимы операторов.
var keywordOps = map[string]string{
	"or":  "||",
	"and": "&&",
	"not": "!",
}

// compiled — кэш разобранных выражений (выражение → node).
var compiled sync.Map

// compile разбирает выражение. Результат кэшируется.
func compile(expr string) (node, error) {
	if n, ok := compiled.Load(expr); ok {
		return n.(node), nil
	}
	n, err := parse(expr)
	if err != nil {
		return nil, err
	}
	compiled.Store(expr, n)
	return n, nil
}

// Validate проверяет синтаксис выражения.
func Validate(expr string) error {
	_, err := compile(expr)
	return err
}

// parser — рекурсивный парсер с приоритетами операторов.
type parser struct {
	expr   string
	tokens []token
	pos    int
}

func parse(expr string) (node, error) {
	tokens, err := lex(expr)
	if err != nil {
		return nil, err
	}
	p := &parser{expr: expr, tokens: tokens}
	if p.peek().kind == tokEOF {
		return nil, p.errorf("empty expression")
	}
	n, err := p.parseBinary(1)
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.kind != tokEOF {
		return nil, p.errorf("unexpected " + strconv.Quote(tok.text))
	}
	return n, nil
}

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) next() token {
	tok := p.tokens[p.pos]
	if tok.kind != tokEOF {
		p.pos++
	}
	return tok
}

func (p *parser) errorf(msg string) error {
	return &SyntaxError{Expr: p.expr, Pos: p.peek().pos, Message: msg}
}

// binaryOp возвращает оператор текущей лексемы, если она бинарный оператор.
func (p *parser) binaryOp() (string, bool) {
	tok := p.peek()
	op := tok.text
	if tok.kind == tokIdent {
		kw, ok := keywordOps[op]
		if !ok || kw == "!" {
			return "", false
		}
		op = kw
	} else if tok.kind != tokOp {
		return "", false
	}
	_, ok := precedence[op]
	return op, ok
}

func (p *parser) parseBinary(minPrec int) (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.binaryOp()
		if !ok || precedence[op] < minPrec {
			return left, nil
		}
		p.next()
		right, err := p.parseBinary(precedence[op] + 1)
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: op, l: left, r: right}
	}
}

func (p *parser) parseUnary() (node, error) {
	tok := p.peek()
	if (tok.kind == tokOp && (tok.text == "!" || tok.text == "-")) ||
		(tok.kind == tokIdent && tok.text == "not") {
		p.next()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		op := tok.text
		if op == "not" {
			op = "!"
		}
		return &unaryNode{op: op, x: x}, nil
	}
	return p.parsePostfix()
}

func (p *parser) parsePostfix() (node, error) {
	x, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		tok := p.peek()
		if tok.kind != tokOp {
			return x, nil
		}
		switch tok.text {
		case ".":
			p.next()
			name := p.next()
			if name.kind != tokIdent && name.kind != tokNumber {
				return nil, p.errorf("expected field name after '.'")
			}
			x = &fieldNode{x: x, name: name.text}
		case "[":
			p.next()
			idx, err := p.parseBinary(1)
			if err != nil {
				return nil, err
			}
			if t := p.next(); t.kind != tokOp || t.text != "]" {
				return nil, p.errorf("expected ']'")
			}
			x = &indexNode{x: x, index: idx}
		default:
			return x, nil
		}
	}
}

func (p *parser) parsePrimary() (node, error) {
	tok := p.next()
	switch tok.kind {
	case tokNumber:
		f, err := strconv.ParseFloat(tok.text, 64)
		if err != nil {
			return nil, &SyntaxError{Expr: p.expr, Pos: tok.pos, Message: "invalid number " + tok.text}
		}
		return &literalNode{value: f}, nil

	case tokString:
		return &literalNode{value: tok.text}, nil

	case tokIdent:
		switch tok.text {
		case "true":
			return &literalNode{value: true}, nil
		case "false":
			return &literalNode{value: false}, nil
		case "null", "nil":
			return &literalNode{value: nil}, nil
		}
		if next := p.peek(); next.kind == tokOp && next.text == "(" {
			return p.parseCall(tok.text)
		}
		return &identNode{name: tok.text}, nil

	case tokOp:
		if tok.text == "(" {
			x, err := p.parseBinary(1)
			if err != nil {
				return nil, err
			}
			if t := p.next(); t.kind != tokOp || t.text != ")" {
				return nil, p.errorf("expected ')'")
			}
			return x, nil
		}
	}
	return nil, &SyntaxError{Expr: p.expr, Pos: tok.pos, Message: "unexpected " + strconv.Quote(tok.text)}
}

func (p *parser) parseCall(name string) (node, error) {
	if _, ok := builtins[name]; !ok {
		return nil, p.errorf(ErrUnknownFunction.Error() + " " + name)
	}
	p.next() // (
	call := &callNode{name: name}
	if t := p.peek(); t.kind == tokOp && t.text == ")" {
		p.next()
		return call, nil
	}
	for {
		arg, err := p.parseBinary(1)
		if err != nil {
			return nil, err
		}
		call.args = append(call.args, arg)
		t := p.next()
		if t.kind == tokOp && t.text == ")" {
			return call, nil
		}
		if t.kind != tokOp || t.text != "," {
			return nil, p.errorf("expected ',' or ')'")
		}
	}
}

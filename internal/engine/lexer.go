package engine

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// tokenKind — вид лексемы.
type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokNumber
	tokString
	tokOp
)

// token — лексема выражения.
type token struct {
	kind tokenKind
	text string
	pos  int
}

// twoCharOps — операторы из двух символов.
var twoCharOps = []string{"==", "!=", "<=", ">=", "&&", "||"}

// lex разбивает выражение на лексемы.
func lex(expr string) ([]token, error) {
	var tokens []token
	i := 0
	for i < len(expr) {
		r, size := utf8.DecodeRuneInString(expr[i:])
		switch {
		case unicode.IsSpace(r):
			i += size

		case r == '_' || r == '$' || unicode.IsLetter(r):
			start := i
			for i < len(expr) {
				r, size = utf8.DecodeRuneInString(expr[i:])
				if r != '_' && r != '$' && !unicode.IsLetter(r) && !unicode.IsDigit(r) {
					break
				}
				i += size
			}
			tokens = append(tokens, token{kind: tokIdent, text: expr[start:i], pos: start})

		case unicode.IsDigit(r):
			start := i
			seenDot := false
			for i < len(expr) {
				c := expr[i]
				if c == '.' && !seenDot && i+1 < len(expr) && isDigit(expr[i+1]) {
					seenDot = true
					i++
					continue
				}
				if !isDigit(c) {
					break
				}
				i++
			}
			tokens = append(tokens, token{kind: tokNumber, text: expr[start:i], pos: start})

		case r == '\'' || r == '"':
			s, n, err := lexString(expr, i)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, token{kind: tokString, text: s, pos: i})
			i += n

		default:
			op := ""
			for _, two := range twoCharOps {
				if strings.HasPrefix(expr[i:], two) {
					op = two
					break
				}
			}
			if op == "" {
				if !strings.ContainsRune(".[](),!<>+-", r) {
					return nil, &SyntaxError{Expr: expr, Pos: i, Message: "unexpected character " + string(r)}
				}
				op = string(r)
			}
			tokens = append(tokens, token{kind: tokOp, text: op, pos: i})
			i += len(op)
		}
	}
	tokens = append(tokens, token{kind: tokEOF, pos: len(expr)})
	return tokens, nil
}

// lexString читает строковый литерал в кавычках ' или ".
// Возвращает значение и количество прочитанных байт.
func lexString(expr string, start int) (string, int, error) {
	quote := expr[start]
	var sb strings.Builder
	i := start + 1
	for i < len(expr) {
		c := expr[i]
		switch {
		case c == '\\' && i+1 < len(expr):
			next := expr[i+1]
			switch next {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			default:
				sb.WriteByte(next)
			}
			i += 2
		case c == quote:
			return sb.String(), i - start + 1, nil
		default:
			sb.WriteByte(c)
			i++
		}
	}
	return "", 0, &SyntaxError{Expr: expr, Pos: start, Message: "unterminated string"}
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

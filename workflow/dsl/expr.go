package dsl

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// 条件表达式：when 字段在解析阶段编译成语法树，运行时只对载荷求值。
//
//	expr    := or
//	or      := and ("||" and)*
//	and     := cmp ("&&" cmp)*
//	cmp     := unary (("=="|"!="|">"|"<"|">="|"<=") unary)?
//	unary   := "!" unary | primary
//	primary := number | string | true | false | path | "(" expr ")"
//
// path 用点号访问字段与下标：result.score、items.0、items.length。

var errEmptyExpr = errors.New("empty expression")

// condExpr 编译后的表达式节点
type condExpr interface {
	eval(vars map[string]any) any
}

type literalExpr struct{ value any }

func (e literalExpr) eval(map[string]any) any { return e.value }

type pathExpr struct{ path string }

func (e pathExpr) eval(vars map[string]any) any { return resolveVar(e.path, vars) }

type notExpr struct{ operand condExpr }

func (e notExpr) eval(vars map[string]any) any { return !toBool(e.operand.eval(vars)) }

type logicalExpr struct {
	and         bool
	left, right condExpr
}

func (e logicalExpr) eval(vars map[string]any) any {
	l := toBool(e.left.eval(vars))
	if e.and && !l {
		return false
	}
	if !e.and && l {
		return true
	}
	return toBool(e.right.eval(vars))
}

type compareExpr struct {
	op          string
	left, right condExpr
}

func (e compareExpr) eval(vars map[string]any) any {
	return compare(e.left.eval(vars), e.op, e.right.eval(vars))
}

// compileExpr 把表达式编译为语法树
func compileExpr(expr string) (condExpr, error) {
	tokens, err := tokenize(strings.TrimSpace(expr))
	if err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		return nil, errEmptyExpr
	}
	p := &exprParser{tokens: tokens}
	node, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t != nil {
		return nil, fmt.Errorf("unexpected token %q at position %d", t.value, p.pos)
	}
	return node, nil
}

// evaluate 编译并求值；空表达式视为 false
func evaluate(expr string, vars map[string]any) (bool, error) {
	node, err := compileExpr(expr)
	if errors.Is(err, errEmptyExpr) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return toBool(node.eval(vars)), nil
}

// =============================================================================
// 词法
// =============================================================================

type tokenKind int

const (
	tkNumber tokenKind = iota
	tkString
	tkIdent
	tkOp
	tkLParen
	tkRParen
)

type token struct {
	kind  tokenKind
	value string
}

func tokenize(expr string) ([]token, error) {
	var tokens []token
	runes := []rune(expr)

	for i := 0; i < len(runes); {
		ch := runes[i]
		switch {
		case unicode.IsSpace(ch):
			i++

		case ch == '(':
			tokens = append(tokens, token{tkLParen, "("})
			i++

		case ch == ')':
			tokens = append(tokens, token{tkRParen, ")"})
			i++

		case ch == '"':
			s, next, err := readString(runes, i)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, token{tkString, s})
			i = next

		case isTwoCharOp(runes, i):
			tokens = append(tokens, token{tkOp, string(runes[i : i+2])})
			i += 2

		case ch == '>' || ch == '<' || ch == '!':
			tokens = append(tokens, token{tkOp, string(ch)})
			i++

		// '-' 只有出现在开头、运算符或左括号之后才是负号
		case isDigit(ch) || (ch == '-' && i+1 < len(runes) && isDigit(runes[i+1]) && signAllowed(tokens)):
			start := i
			i++
			for i < len(runes) && (isDigit(runes[i]) || runes[i] == '.') {
				i++
			}
			tokens = append(tokens, token{tkNumber, string(runes[start:i])})

		case unicode.IsLetter(ch) || ch == '_':
			start := i
			for i < len(runes) && isIdentPart(runes[i]) {
				i++
			}
			tokens = append(tokens, token{tkIdent, string(runes[start:i])})

		default:
			return nil, fmt.Errorf("unexpected character %q at position %d", string(ch), i)
		}
	}
	return tokens, nil
}

func isTwoCharOp(runes []rune, i int) bool {
	if i+1 >= len(runes) {
		return false
	}
	switch string(runes[i : i+2]) {
	case "==", "!=", ">=", "<=", "&&", "||":
		return true
	}
	return false
}

func readString(runes []rune, start int) (string, int, error) {
	var sb strings.Builder
	for i := start + 1; i < len(runes); i++ {
		switch runes[i] {
		case '\\':
			if i+1 < len(runes) {
				i++
				sb.WriteRune(runes[i])
			}
		case '"':
			return sb.String(), i + 1, nil
		default:
			sb.WriteRune(runes[i])
		}
	}
	return "", 0, fmt.Errorf("unterminated string starting at position %d", start)
}

func isDigit(ch rune) bool { return ch >= '0' && ch <= '9' }

func isIdentPart(ch rune) bool {
	return unicode.IsLetter(ch) || unicode.IsDigit(ch) || ch == '_' || ch == '.'
}

func signAllowed(preceding []token) bool {
	if len(preceding) == 0 {
		return true
	}
	last := preceding[len(preceding)-1].kind
	return last == tkOp || last == tkLParen
}

// =============================================================================
// 语法
// =============================================================================

type exprParser struct {
	tokens []token
	pos    int
}

func (p *exprParser) peek() *token {
	if p.pos < len(p.tokens) {
		return &p.tokens[p.pos]
	}
	return nil
}

// acceptOp 当前 token 是给定运算符之一时消费它
func (p *exprParser) acceptOp(ops ...string) (string, bool) {
	t := p.peek()
	if t == nil || t.kind != tkOp {
		return "", false
	}
	for _, op := range ops {
		if t.value == op {
			p.pos++
			return op, true
		}
	}
	return "", false
}

func (p *exprParser) parseOr() (condExpr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for {
		if _, ok := p.acceptOp("||"); !ok {
			return left, nil
		}
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = logicalExpr{and: false, left: left, right: right}
	}
}

func (p *exprParser) parseAnd() (condExpr, error) {
	left, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	for {
		if _, ok := p.acceptOp("&&"); !ok {
			return left, nil
		}
		right, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		left = logicalExpr{and: true, left: left, right: right}
	}
}

func (p *exprParser) parseComparison() (condExpr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	op, ok := p.acceptOp("==", "!=", ">", "<", ">=", "<=")
	if !ok {
		return left, nil
	}
	right, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	return compareExpr{op: op, left: left, right: right}, nil
}

func (p *exprParser) parseUnary() (condExpr, error) {
	if _, ok := p.acceptOp("!"); ok {
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return notExpr{operand: operand}, nil
	}
	return p.parsePrimary()
}

func (p *exprParser) parsePrimary() (condExpr, error) {
	t := p.peek()
	if t == nil {
		return nil, fmt.Errorf("unexpected end of expression")
	}
	p.pos++

	switch t.kind {
	case tkNumber:
		f, err := strconv.ParseFloat(t.value, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", t.value)
		}
		return literalExpr{f}, nil

	case tkString:
		return literalExpr{t.value}, nil

	case tkIdent:
		switch t.value {
		case "true":
			return literalExpr{true}, nil
		case "false":
			return literalExpr{false}, nil
		}
		return pathExpr{t.value}, nil

	case tkLParen:
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if next := p.peek(); next == nil || next.kind != tkRParen {
			return nil, fmt.Errorf("expected closing parenthesis")
		}
		p.pos++
		return inner, nil

	default:
		return nil, fmt.Errorf("unexpected token %q", t.value)
	}
}

// =============================================================================
// 求值
// =============================================================================

// resolveVar 按点号路径取值；路径不存在时返回 nil。
// length 对数组、对象和字符串返回元素个数（字符串按 rune 计）。
func resolveVar(path string, vars map[string]any) any {
	var current any = vars
	for _, part := range strings.Split(path, ".") {
		switch cur := current.(type) {
		case map[string]any:
			v, ok := cur[part]
			switch {
			case ok:
				current = v
			case part == "length":
				current = float64(len(cur))
			default:
				return nil
			}
		case []any:
			if part == "length" {
				current = float64(len(cur))
				continue
			}
			i, err := strconv.Atoi(part)
			if err != nil || i < 0 || i >= len(cur) {
				return nil
			}
			current = cur[i]
		case string:
			if part != "length" {
				return nil
			}
			current = float64(len([]rune(cur)))
		default:
			return nil
		}
	}
	return current
}

// compare 比较两个值：两边都能转成数字时按数字比较，否则按字符串比较。
// nil 小于任何非 nil 值，两个 nil 相等。
func compare(left any, op string, right any) bool {
	var c int
	switch {
	case left == nil && right == nil:
		c = 0
	case left == nil:
		c = -1
	case right == nil:
		c = 1
	default:
		lf, lok := toFloat64(left)
		rf, rok := toFloat64(right)
		if lok && rok {
			c = cmpOrdered(lf, rf)
		} else {
			c = strings.Compare(fmt.Sprint(left), fmt.Sprint(right))
		}
	}

	switch op {
	case "==":
		return c == 0
	case "!=":
		return c != 0
	case ">":
		return c > 0
	case "<":
		return c < 0
	case ">=":
		return c >= 0
	case "<=":
		return c <= 0
	}
	return false
}

func cmpOrdered(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func toBool(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case float64:
		return val != 0
	case int:
		return val != 0
	case string:
		return val != "" && val != "false" && val != "0"
	default:
		return true
	}
}

func toFloat64(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case string:
		f, err := strconv.ParseFloat(val, 64)
		return f, err == nil
	}
	return 0, false
}

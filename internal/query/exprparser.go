package query

import (
	"strconv"
	"strings"

	"github.com/recordquery/rq/rqvalue"
)

// exprParser is a recursive-descent parser for the Expression grammar in
// spec.md §4.4:
//
//	Expression := Or
//	Or         := And ( '||' And )*
//	And        := Cmp ( '&&' Cmp )*
//	Cmp        := Sum ( ('=='|'!='|'<'|'<='|'>'|'>=') Sum )?
//	Sum        := Product ( ('+'|'-') Product )*
//	Product    := Unary ( ('*'|'/'|'%') Unary )*
//	Unary      := ('!'|'-')? Postfix
//	Postfix    := Primary ( '.' Ident | '[' Expression ']' | '(' ArgList? ')' )*
//	Primary    := Literal | Ident | '(' Expression ')'
type exprParser struct {
	toks []token
	pos  int
	src  string
}

func (p *exprParser) peek() token {
	if p.pos < len(p.toks) {
		return p.toks[p.pos]
	}
	return token{kind: tokEOF}
}

func (p *exprParser) advance() token {
	t := p.peek()
	if p.pos < len(p.toks) {
		p.pos++
	}
	return t
}

func (p *exprParser) expectEnd() error {
	if p.pos != len(p.toks) {
		return newParseErr(p.peek().pos, "unexpected token %q", p.peek().text)
	}
	return nil
}

func (p *exprParser) parseOr() (exprNode, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokOrOr {
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = binNode{op: "||", left: left, right: right}
	}
	return left, nil
}

func (p *exprParser) parseAnd() (exprNode, error) {
	left, err := p.parseCmp()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokAndAnd {
		p.advance()
		right, err := p.parseCmp()
		if err != nil {
			return nil, err
		}
		left = binNode{op: "&&", left: left, right: right}
	}
	return left, nil
}

func (p *exprParser) parseCmp() (exprNode, error) {
	left, err := p.parseSum()
	if err != nil {
		return nil, err
	}
	switch p.peek().kind {
	case tokEq, tokNe, tokLt, tokLe, tokGt, tokGe:
		op := p.advance()
		right, err := p.parseSum()
		if err != nil {
			return nil, err
		}
		return binNode{op: op.text, left: left, right: right}, nil
	}
	return left, nil
}

func (p *exprParser) parseSum() (exprNode, error) {
	left, err := p.parseProduct()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokPlus || p.peek().kind == tokMinus {
		op := p.advance()
		right, err := p.parseProduct()
		if err != nil {
			return nil, err
		}
		left = binNode{op: op.text, left: left, right: right}
	}
	return left, nil
}

func (p *exprParser) parseProduct() (exprNode, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokStar || p.peek().kind == tokSlash || p.peek().kind == tokPercent {
		op := p.advance()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = binNode{op: op.text, left: left, right: right}
	}
	return left, nil
}

func (p *exprParser) parseUnary() (exprNode, error) {
	if p.peek().kind == tokBang || p.peek().kind == tokMinus {
		op := p.advance()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return unaryNode{op: op.text, operand: operand}, nil
	}
	return p.parsePostfix()
}

func (p *exprParser) parsePostfix() (exprNode, error) {
	primary, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	return p.parsePostfixFrom(primary)
}

// parsePostfixFrom continues a Postfix chain from an already-parsed
// receiver. Used both by parsePostfix (receiver is a freshly parsed
// Primary) and by parsePrimary's ".path" shorthand (receiver is rootNode{}).
func (p *exprParser) parsePostfixFrom(recv exprNode) (exprNode, error) {
	for {
		switch p.peek().kind {
		case tokDot:
			p.advance()
			if p.peek().kind != tokIdent {
				return nil, newParseErr(p.peek().pos, "expected identifier after '.'")
			}
			name := p.advance().text
			recv = memberNode{recv: recv, name: name}
		case tokLBracket:
			p.advance()
			idx, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			if p.peek().kind != tokRBracket {
				return nil, newParseErr(p.peek().pos, "expected ']'")
			}
			p.advance()
			recv = indexNode{recv: recv, idx: idx}
		case tokLParen:
			name, ok := calleeName(recv)
			if !ok {
				return nil, newParseErr(p.peek().pos, "cannot call a non-identifier expression")
			}
			p.advance()
			args, err := p.parseCallArgs()
			if err != nil {
				return nil, err
			}
			recv = callNode{name: name, args: args}
		default:
			return recv, nil
		}
	}
}

func calleeName(n exprNode) (string, bool) {
	if id, ok := n.(identNode); ok {
		return id.name, true
	}
	return "", false
}

func (p *exprParser) parseCallArgs() ([]exprNode, error) {
	var args []exprNode
	if p.peek().kind == tokRParen {
		p.advance()
		return args, nil
	}
	for {
		arg, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
		if p.peek().kind == tokComma {
			p.advance()
			continue
		}
		if p.peek().kind == tokRParen {
			p.advance()
			return args, nil
		}
		return nil, newParseErr(p.peek().pos, "expected ',' or ')'")
	}
}

func (p *exprParser) parsePrimary() (exprNode, error) {
	t := p.peek()
	switch t.kind {
	case tokNumber:
		p.advance()
		return litNode{v: numberLiteral(t.text, t.num)}, nil
	case tokString:
		p.advance()
		return litNode{v: rqvalue.String(t.text)}, nil
	case tokTrue:
		p.advance()
		return litNode{v: rqvalue.Bool(true)}, nil
	case tokFalse:
		p.advance()
		return litNode{v: rqvalue.Bool(false)}, nil
	case tokNull:
		p.advance()
		return litNode{v: rqvalue.Unit()}, nil
	case tokIdent:
		p.advance()
		return identNode{name: t.text}, nil
	case tokDot:
		// A dot directly followed by an identifier is the ".path" member
		// shorthand rooted at the current record (a top-level ".path"
		// process in parser.go is parsed through here): the dot is consumed by
		// parsePostfixFrom's own tokDot case, not here. A dot followed by
		// anything else (an operator, a closing paren, end of input) is a
		// bare root reference on its own, as in "filter(. > 2)".
		if p.pos+1 < len(p.toks) && p.toks[p.pos+1].kind == tokIdent {
			return p.parsePostfixFrom(rootNode{})
		}
		p.advance()
		return rootNode{}, nil
	case tokLParen:
		p.advance()
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.peek().kind != tokRParen {
			return nil, newParseErr(p.peek().pos, "expected ')'")
		}
		p.advance()
		return inner, nil
	default:
		return nil, newParseErr(t.pos, "unexpected token %q", t.text)
	}
}

// numberLiteral mirrors json.go's numberValue (spec.md §4.2's JSON codec
// rule): an integral literal is parsed from its source text with
// ParseInt/ParseUint first, so it keeps full int64/uint64 precision
// instead of round-tripping through a float64 and losing bits past 2^53.
// Only a literal with a fractional part or exponent, or one too large for
// either integer type, falls back to F64.
func numberLiteral(text string, f float64) rqvalue.Value {
	if !strings.ContainsAny(text, ".eE") {
		if i, err := strconv.ParseInt(text, 10, 64); err == nil {
			return rqvalue.I64(i)
		}
		if u, err := strconv.ParseUint(text, 10, 64); err == nil {
			return rqvalue.U64(u)
		}
	}
	return rqvalue.F64(f)
}

package query

import "github.com/recordquery/rq/internal/rqerr"

func newParseErr(pos int, format string, args ...any) error {
	return rqerr.New(rqerr.Parse, format, args...).WithCharPos(int64(pos))
}

// Parse lexes and parses a full query string into a Query (spec.md §4.4).
func Parse(src string) (*Query, error) {
	toks, err := tokenizeAll(src)
	if err != nil {
		return nil, err
	}
	if len(toks) == 0 {
		return nil, newParseErr(0, "empty query")
	}

	var groups [][]token
	start := 0
	for i, t := range toks {
		if t.kind == tokPipe {
			groups = append(groups, toks[start:i])
			start = i + 1
		}
	}
	groups = append(groups, toks[start:])

	q := &Query{}
	for _, g := range groups {
		if len(g) == 0 {
			return nil, newParseErr(src2pos(toks, start), "empty pipeline stage")
		}
		p, err := parseProcess(g, src)
		if err != nil {
			return nil, err
		}
		q.Processes = append(q.Processes, p)
	}
	return q, nil
}

func src2pos(toks []token, idx int) int {
	if idx < len(toks) {
		return toks[idx].pos
	}
	if len(toks) > 0 {
		return toks[len(toks)-1].pos
	}
	return 0
}

func tokenizeAll(src string) ([]token, error) {
	lx := newLexer(src)
	var toks []token
	for {
		t, err := lx.next()
		if err != nil {
			return nil, err
		}
		if t.kind == tokEOF {
			break
		}
		toks = append(toks, t)
	}
	return toks, nil
}

// parseProcess implements the Process production (spec.md §4.4):
//
//	Process := Ident ( '(' ArgList? ')' )? | '.' | Expression
//
// with one extension documented in DESIGN.md: a leading '.' followed by
// more tokens is parsed as an Expression, in which ".path" is member access
// rooted at the current record and a bare '.' is the record itself (". * 2").
func parseProcess(g []token, src string) (Process, error) {
	if len(g) == 1 && g[0].kind == tokDot {
		return Process{Kind: ProcessIdentity}, nil
	}

	if g[0].kind == tokIdent {
		if len(g) == 1 {
			return Process{Kind: ProcessFunction, Name: g[0].text}, nil
		}
		if g[1].kind == tokLParen {
			closeIdx := matchingParen(g, 1)
			if closeIdx == len(g)-1 {
				args, err := parseArgList(g[2:closeIdx], src)
				if err != nil {
					return Process{}, err
				}
				return Process{Kind: ProcessFunction, Name: g[0].text, Args: args}, nil
			}
		}
	}

	expr, err := parseExpr(g, src)
	if err != nil {
		return Process{}, err
	}
	return Process{Kind: ProcessExpr, Expr: expr}, nil
}

// matchingParen returns the index within g of the ')' matching the '(' at
// openIdx, or -1 if unbalanced.
func matchingParen(g []token, openIdx int) int {
	depth := 0
	for i := openIdx; i < len(g); i++ {
		switch g[i].kind {
		case tokLParen:
			depth++
		case tokRParen:
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func parseArgList(toks []token, src string) ([]*Expr, error) {
	if len(toks) == 0 {
		return nil, nil
	}
	var args []*Expr
	depthP, depthB := 0, 0
	start := 0
	for i, t := range toks {
		switch t.kind {
		case tokLParen:
			depthP++
		case tokRParen:
			depthP--
		case tokLBracket:
			depthB++
		case tokRBracket:
			depthB--
		case tokComma:
			if depthP == 0 && depthB == 0 {
				e, err := parseExpr(toks[start:i], src)
				if err != nil {
					return nil, err
				}
				args = append(args, e)
				start = i + 1
			}
		}
	}
	e, err := parseExpr(toks[start:], src)
	if err != nil {
		return nil, err
	}
	args = append(args, e)
	return args, nil
}

// parseExpr parses a full Expression (spec.md §4.4's Expression production)
// from a token slice, requiring the whole slice to be consumed.
func parseExpr(toks []token, src string) (*Expr, error) {
	p := &exprParser{toks: toks, src: src}
	node, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if err := p.expectEnd(); err != nil {
		return nil, err
	}
	return &Expr{node: node, Source: src}, nil
}

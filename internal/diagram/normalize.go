package diagram

import (
	"strings"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokSep
	tokWord
	tokString
	tokColon
	tokArrow
	tokOpen
	tokClose
)

type token struct {
	kind tokenKind
	text string
}

var arrows = []string{"<->", "->", "<-", "--"}

// lex splits D2 source into tokens. A single quote only opens a string at the
// start of a token; inside a word it is part of the word.
func lex(src string) []token {
	var out []token
	rs := []rune(src)
	for i := 0; i < len(rs); {
		r := rs[i]
		switch {
		case r == '\n' || r == ';':
			out = append(out, token{tokSep, string(r)})
			i++
		case r == ' ' || r == '\t' || r == '\r':
			i++
		case r == '#':
			for i < len(rs) && rs[i] != '\n' {
				i++
			}
		case r == '"' || r == '\'':
			j := i + 1
			for j < len(rs) && rs[j] != r {
				if rs[j] == '\\' {
					j++
				}
				j++
			}
			j = min(j+1, len(rs))
			out = append(out, token{tokString, string(rs[i:j])})
			i = j
		case r == '{':
			out = append(out, token{tokOpen, "{"})
			i++
		case r == '}':
			out = append(out, token{tokClose, "}"})
			i++
		case r == ':':
			out = append(out, token{tokColon, ":"})
			i++
		default:
			if a := arrowAt(rs, i); a != "" {
				out = append(out, token{tokArrow, a})
				i += len(a)
				continue
			}
			j := i
			for j < len(rs) && !isDelim(rs[j]) && arrowAt(rs, j) == "" {
				j++
			}
			out = append(out, token{tokWord, string(rs[i:j])})
			i = j
		}
	}
	return append(out, token{kind: tokEOF})
}

func arrowAt(rs []rune, i int) string {
	for _, a := range arrows {
		if strings.HasPrefix(string(rs[i:min(i+len(a), len(rs))]), a) {
			return a
		}
	}
	return ""
}

func isDelim(r rune) bool {
	switch r {
	case ' ', '\t', '\r', '\n', ';', '"', '{', '}', ':', '#':
		return true
	}
	return false
}

// statement is one node or edge declaration. Raw holds input that fit neither.
type statement struct {
	paths  []string
	arrows []string
	label  string
	block  []statement
	open   bool
	closed bool
	raw    string
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) peekAt(n int) token {
	if p.pos+n >= len(p.toks) {
		return token{kind: tokEOF}
	}
	return p.toks[p.pos+n]
}

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

// startsStatement reports whether the word at the cursor begins a new declaration:
// a word directly followed by ':', an arrow or a block.
func (p *parser) startsStatement() bool {
	if p.peek().kind != tokWord {
		return false
	}
	switch p.peekAt(1).kind {
	case tokColon, tokArrow, tokOpen:
		return true
	}
	return false
}

// statements := (sep* statement)* ; stops at '}' when nested.
func (p *parser) statements(nested bool) []statement {
	var out []statement
	for {
		switch p.peek().kind {
		case tokEOF:
			return out
		case tokSep:
			p.next()
		case tokClose:
			if nested {
				return out
			}
			p.next()
			out = append(out, statement{raw: "}"})
		default:
			out = append(out, p.statement())
		}
	}
}

// statement := path (arrow path)* (':' label)? block?
func (p *parser) statement() statement {
	if p.peek().kind != tokWord {
		return p.rawStatement()
	}
	st := statement{paths: []string{p.next().text}}
	for p.peek().kind == tokArrow {
		st.arrows = append(st.arrows, p.next().text)
		if p.peek().kind != tokWord {
			st.paths = append(st.paths, "")
			break
		}
		st.paths = append(st.paths, p.next().text)
	}
	if p.peek().kind == tokColon {
		p.next()
		st.label = p.label()
	}
	if p.peek().kind == tokOpen {
		p.next()
		st.open = true
		st.block = p.statements(true)
		if p.peek().kind == tokClose {
			p.next()
			st.closed = true
		}
	}
	return st
}

// label := STRING | word+ ; an unquoted label ends where the next declaration starts.
func (p *parser) label() string {
	if p.peek().kind == tokString {
		return p.next().text
	}
	var words []string
	for p.peek().kind == tokWord {
		if k := p.peekAt(1).kind; k == tokColon || k == tokArrow {
			break
		}
		words = append(words, p.next().text)
	}
	return strings.Join(words, " ")
}

func (p *parser) rawStatement() statement {
	var parts []string
	for {
		t := p.peek()
		if t.kind == tokEOF || t.kind == tokSep || t.kind == tokOpen || t.kind == tokClose || p.startsStatement() {
			break
		}
		parts = append(parts, p.next().text)
	}
	if len(parts) == 0 {
		p.next()
	}
	return statement{raw: strings.Join(parts, " ")}
}

// Normalize reformats D2 source so every declaration sits on its own line and
// braces close on their own lines. Run-together declarations such as
// `a: "A" b: "B" a -> b: "uses"` are split apart; an edge target that carries a
// label stays on its edge.
func Normalize(src string) string {
	p := &parser{toks: lex(strings.TrimSpace(src))}
	var b strings.Builder
	write(&b, p.statements(false), 0)
	return strings.TrimSpace(b.String())
}

func write(b *strings.Builder, sts []statement, depth int) {
	indent := strings.Repeat("  ", depth)
	for _, st := range sts {
		if st.paths == nil {
			if st.raw != "" {
				b.WriteString(indent + st.raw + "\n")
			}
			continue
		}
		line := st.paths[0]
		for i, a := range st.arrows {
			line += " " + a + " " + st.paths[i+1]
		}
		line = strings.TrimSpace(line)
		if st.label != "" {
			line += ": " + st.label
		}
		if st.open {
			line += " {"
		}
		b.WriteString(indent + line + "\n")
		if st.open {
			write(b, st.block, depth+1)
			if st.closed {
				b.WriteString(indent + "}\n")
			}
		}
	}
}

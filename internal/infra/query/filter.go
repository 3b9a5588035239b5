package query

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"cdsmcp/internal/domain"
)

// ParseFilter parses the resource $filter subset: comparisons
// (eq ne gt lt ge le), contains/startswith/endswith(field,'x') and "and".
func ParseFilter(expr string) ([]domain.FilterCondition, error) {
	tokens, err := tokenize(expr)
	if err != nil {
		return nil, err
	}
	p := &filterParser{tokens: tokens}
	var conds []domain.FilterCondition
	for {
		cond, err := p.term()
		if err != nil {
			return nil, err
		}
		conds = append(conds, cond)
		if p.done() {
			return conds, nil
		}
		tok := p.next()
		if tok.kind != tokWord || !strings.EqualFold(tok.text, "and") {
			return nil, fmt.Errorf("expected 'and' at position %d, got %q", tok.pos, tok.text)
		}
	}
}

type tokenKind int

const (
	tokWord tokenKind = iota
	tokString
	tokNumber
	tokLParen
	tokRParen
	tokComma
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

func tokenize(expr string) ([]token, error) {
	var tokens []token
	runes := []rune(expr)
	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '(':
			tokens = append(tokens, token{kind: tokLParen, text: "(", pos: i})
			i++
		case r == ')':
			tokens = append(tokens, token{kind: tokRParen, text: ")", pos: i})
			i++
		case r == ',':
			tokens = append(tokens, token{kind: tokComma, text: ",", pos: i})
			i++
		case r == '\'':
			start := i
			var b strings.Builder
			i++
			closed := false
			for i < len(runes) {
				if runes[i] == '\'' {
					if i+1 < len(runes) && runes[i+1] == '\'' {
						b.WriteRune('\'')
						i += 2
						continue
					}
					i++
					closed = true
					break
				}
				b.WriteRune(runes[i])
				i++
			}
			if !closed {
				return nil, fmt.Errorf("unterminated string at position %d", start)
			}
			tokens = append(tokens, token{kind: tokString, text: b.String(), pos: start})
		case r == '-' || unicode.IsDigit(r):
			start := i
			i++
			for i < len(runes) && (unicode.IsDigit(runes[i]) || runes[i] == '.' || runes[i] == 'e' || runes[i] == 'E' || runes[i] == '-' || unicode.IsLetter(runes[i])) {
				i++
			}
			text := string(runes[start:i])
			kind := tokNumber
			if _, err := json.Number(text).Float64(); err != nil {
				// Unquoted guid literals start with digits too.
				kind = tokWord
			}
			tokens = append(tokens, token{kind: kind, text: text, pos: start})
		case unicode.IsLetter(r) || r == '_' || r == '$':
			start := i
			for i < len(runes) && (unicode.IsLetter(runes[i]) || unicode.IsDigit(runes[i]) || runes[i] == '_' || runes[i] == '-' || runes[i] == '/') {
				i++
			}
			tokens = append(tokens, token{kind: tokWord, text: string(runes[start:i]), pos: start})
		default:
			return nil, fmt.Errorf("unexpected character %q at position %d", r, i)
		}
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("empty filter expression")
	}
	return tokens, nil
}

type filterParser struct {
	tokens []token
	pos    int
}

func (p *filterParser) done() bool {
	return p.pos >= len(p.tokens)
}

func (p *filterParser) next() token {
	if p.done() {
		return token{kind: -1, text: "<end>", pos: -1}
	}
	tok := p.tokens[p.pos]
	p.pos++
	return tok
}

func (p *filterParser) expect(kind tokenKind, what string) (token, error) {
	tok := p.next()
	if tok.kind != kind {
		return token{}, fmt.Errorf("expected %s at position %d, got %q", what, tok.pos, tok.text)
	}
	return tok, nil
}

func (p *filterParser) term() (domain.FilterCondition, error) {
	first := p.next()
	if first.kind == tokLParen {
		cond, err := p.term()
		if err != nil {
			return domain.FilterCondition{}, err
		}
		if _, err := p.expect(tokRParen, "')'"); err != nil {
			return domain.FilterCondition{}, err
		}
		return cond, nil
	}
	if first.kind != tokWord {
		return domain.FilterCondition{}, fmt.Errorf("expected field or function at position %d, got %q", first.pos, first.text)
	}

	fn := domain.Operator(strings.ToLower(first.text))
	if fn.IsText() && !p.done() && p.tokens[p.pos].kind == tokLParen {
		p.next()
		field, err := p.expect(tokWord, "field name")
		if err != nil {
			return domain.FilterCondition{}, err
		}
		if _, err := p.expect(tokComma, "','"); err != nil {
			return domain.FilterCondition{}, err
		}
		value, err := p.literal()
		if err != nil {
			return domain.FilterCondition{}, err
		}
		if _, err := p.expect(tokRParen, "')'"); err != nil {
			return domain.FilterCondition{}, err
		}
		return domain.FilterCondition{Field: field.text, Operator: fn, Value: value}, nil
	}

	opTok, err := p.expect(tokWord, "operator")
	if err != nil {
		return domain.FilterCondition{}, err
	}
	op := domain.Operator(strings.ToLower(opTok.text))
	switch op {
	case domain.OpEq, domain.OpNe, domain.OpGt, domain.OpLt, domain.OpGe, domain.OpLe:
	default:
		return domain.FilterCondition{}, fmt.Errorf("unsupported operator %q at position %d", opTok.text, opTok.pos)
	}
	value, err := p.literal()
	if err != nil {
		return domain.FilterCondition{}, err
	}
	return domain.FilterCondition{Field: first.text, Operator: op, Value: value}, nil
}

func (p *filterParser) literal() (any, error) {
	tok := p.next()
	switch tok.kind {
	case tokString:
		return tok.text, nil
	case tokNumber:
		return json.Number(tok.text), nil
	case tokWord:
		switch strings.ToLower(tok.text) {
		case "true":
			return true, nil
		case "false":
			return false, nil
		case "null":
			return nil, nil
		}
		// Bare guid literals.
		return tok.text, nil
	default:
		return nil, fmt.Errorf("expected literal at position %d, got %q", tok.pos, tok.text)
	}
}

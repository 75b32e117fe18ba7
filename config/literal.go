package config

import (
	"math/big"
	"strconv"
	"strings"

	"go.starlark.net/syntax"
)

// List is a parsed list literal.
type List []interface{}

// Tuple is a parsed tuple literal.
type Tuple []interface{}

// ParseLiteral parses text as a literal value. The result is one of nil, bool,
// int64, float64, string, List, Tuple or *Mapping, nested arbitrarily.
//
// Identifiers other than True, False and None, calls, operators and
// comprehensions are rejected with an *Error naming fragment.
func ParseLiteral(fragment, text string) (interface{}, error) {
	if strings.TrimSpace(text) == "" {
		return nil, newError(fragment, "empty literal")
	}
	expr, err := syntax.ParseExpr(fragment, text, 0)
	if err != nil {
		return nil, newError(fragment, "unparsable literal: %v", err)
	}
	return literal(fragment, expr)
}

func literal(fragment string, expr syntax.Expr) (interface{}, error) {
	switch e := expr.(type) {
	case *syntax.Literal:
		switch e.Token {
		case syntax.INT:
			switch v := e.Value.(type) {
			case int64:
				return v, nil
			case *big.Int:
				if v.IsInt64() {
					return v.Int64(), nil
				}
			}
			return nil, newError(fragment, "integer %s out of range at %s", e.Raw, e.TokenPos)
		case syntax.FLOAT:
			return e.Value.(float64), nil
		case syntax.STRING:
			return e.Value.(string), nil
		}
		return nil, newError(fragment, "unsupported literal %s at %s", e.Raw, e.TokenPos)

	case *syntax.Ident:
		switch e.Name {
		case "True":
			return true, nil
		case "False":
			return false, nil
		case "None":
			return nil, nil
		}
		return nil, newError(fragment, "name %q is not a literal at %s", e.Name, e.NamePos)

	case *syntax.UnaryExpr:
		if e.Op != syntax.MINUS && e.Op != syntax.PLUS {
			return nil, newError(fragment, "operator %s is not allowed at %s", e.Op, e.OpPos)
		}
		x, err := literal(fragment, e.X)
		if err != nil {
			return nil, err
		}
		switch v := x.(type) {
		case int64:
			if e.Op == syntax.MINUS {
				return -v, nil
			}
			return v, nil
		case float64:
			if e.Op == syntax.MINUS {
				return -v, nil
			}
			return v, nil
		}
		return nil, newError(fragment, "operator %s applied to %s at %s", e.Op, typeName(x), e.OpPos)

	case *syntax.ParenExpr:
		return literal(fragment, e.X)

	case *syntax.TupleExpr:
		out := make(Tuple, 0, len(e.List))
		for _, item := range e.List {
			v, err := literal(fragment, item)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil

	case *syntax.ListExpr:
		out := make(List, 0, len(e.List))
		for _, item := range e.List {
			v, err := literal(fragment, item)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil

	case *syntax.DictExpr:
		m := &Mapping{Items: make([]Item, 0, len(e.List))}
		for _, item := range e.List {
			entry := item.(*syntax.DictEntry)
			key, err := literal(fragment, entry.Key)
			if err != nil {
				return nil, err
			}
			if !hashable(key) {
				return nil, newError(fragment, "%s is not a valid mapping key at %s", typeName(key), entry.Colon)
			}
			if m.Has(key) {
				return nil, newError(fragment, "duplicate key %s at %s", FormatLiteral(key), entry.Colon)
			}
			value, err := literal(fragment, entry.Value)
			if err != nil {
				return nil, err
			}
			m.Items = append(m.Items, Item{Key: key, Value: value})
		}
		return m, nil
	}

	start, _ := expr.Span()
	return nil, newError(fragment, "expression at %s is not a literal", start)
}

// FormatLiteral serializes v, as returned by ParseLiteral, back into literal
// text. ParseLiteral(FormatLiteral(v)) yields a value equal to v.
func FormatLiteral(v interface{}) string {
	var b strings.Builder
	writeLiteral(&b, v)
	return b.String()
}

func writeLiteral(b *strings.Builder, v interface{}) {
	switch x := normalize(v).(type) {
	case nil:
		b.WriteString("None")
	case bool:
		if x {
			b.WriteString("True")
		} else {
			b.WriteString("False")
		}
	case int64:
		b.WriteString(strconv.FormatInt(x, 10))
	case float64:
		s := strconv.FormatFloat(x, 'g', -1, 64)
		if !strings.ContainsAny(s, ".eIN") {
			s += ".0"
		}
		b.WriteString(s)
	case string:
		b.WriteString(strconv.Quote(x))
	case List:
		b.WriteByte('[')
		for i, item := range x {
			if i > 0 {
				b.WriteString(", ")
			}
			writeLiteral(b, item)
		}
		b.WriteByte(']')
	case Tuple:
		b.WriteByte('(')
		for i, item := range x {
			if i > 0 {
				b.WriteString(", ")
			}
			writeLiteral(b, item)
		}
		if len(x) == 1 {
			b.WriteByte(',')
		}
		b.WriteByte(')')
	case *Mapping:
		b.WriteByte('{')
		if x != nil {
			for i, item := range x.Items {
				if i > 0 {
					b.WriteString(", ")
				}
				writeLiteral(b, item.Key)
				b.WriteString(": ")
				writeLiteral(b, item.Value)
			}
		}
		b.WriteByte('}')
	default:
		b.WriteString("None")
	}
}

// normalize maps Go values a caller may hand to Set onto the literal types.
func normalize(v interface{}) interface{} {
	switch x := v.(type) {
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case float32:
		return float64(x)
	case []interface{}:
		return List(x)
	}
	return v
}

func hashable(v interface{}) bool {
	switch v.(type) {
	case nil, bool, int64, float64, string:
		return true
	}
	return false
}

func keyEqual(a, b interface{}) bool {
	a, b = normalize(a), normalize(b)
	switch x := a.(type) {
	case int64:
		switch y := b.(type) {
		case int64:
			return x == y
		case float64:
			return float64(x) == y
		}
		return false
	case float64:
		switch y := b.(type) {
		case int64:
			return x == float64(y)
		case float64:
			return x == y
		}
		return false
	}
	if !hashable(a) || !hashable(b) {
		return false
	}
	return a == b
}

func typeName(v interface{}) string {
	switch normalize(v).(type) {
	case nil:
		return "None"
	case bool:
		return "bool"
	case int64:
		return "int"
	case float64:
		return "float"
	case string:
		return "str"
	case List:
		return "list"
	case Tuple:
		return "tuple"
	case *Mapping:
		return "dict"
	}
	return "unknown"
}

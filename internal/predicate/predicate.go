// Package predicate builds typed filter conditions over (column, value) pairs.
// The same predicate renders to SQL for the Postgres store and evaluates in
// memory for the in-memory store.
package predicate

import (
	"fmt"
	"strings"

	"github.com/rpattn/changetrack/internal/domain"
)

// Predicate is a boolean condition over named columns.
type Predicate interface {
	render(r *renderer)
	eval(get Getter) bool
}

// Getter returns the value stored for a column.
type Getter func(column string) (any, bool)

type comparison struct {
	column string
	value  any
}

type group struct {
	op    string
	terms []Predicate
}

// Eq matches rows whose column equals value.
func Eq(column string, value any) Predicate {
	return comparison{column: column, value: value}
}

// And matches when every term matches. An empty And always matches.
func And(terms ...Predicate) Predicate {
	return group{op: "AND", terms: compact(terms)}
}

// Or matches when any term matches. An empty Or never matches.
func Or(terms ...Predicate) Predicate {
	return group{op: "OR", terms: compact(terms)}
}

// Key matches the instance identified by key, one equality per key part.
func Key(key domain.EntityKey) Predicate {
	terms := make([]Predicate, len(key))
	for i, part := range key {
		terms[i] = Eq(part.Attribute, part.Value)
	}
	return And(terms...)
}

// Keys matches any of the given instances.
func Keys(keys []domain.EntityKey) Predicate {
	terms := make([]Predicate, len(keys))
	for i, key := range keys {
		terms[i] = Key(key)
	}
	return Or(terms...)
}

func compact(terms []Predicate) []Predicate {
	out := make([]Predicate, 0, len(terms))
	for _, term := range terms {
		if term != nil {
			out = append(out, term)
		}
	}
	return out
}

type renderer struct {
	quote func(string) string
	b     strings.Builder
	args  []any
}

// SQL renders p as a WHERE clause body. Identifiers are quoted with quote and
// values become positional arguments starting after len(args).
func SQL(p Predicate, quote func(string) string, args []any) (string, []any) {
	r := &renderer{quote: quote, args: args}
	if p == nil {
		return "TRUE", args
	}
	p.render(r)
	return r.b.String(), r.args
}

func (c comparison) render(r *renderer) {
	if c.value == nil {
		fmt.Fprintf(&r.b, "%s IS NULL", r.quote(c.column))
		return
	}
	r.args = append(r.args, c.value)
	fmt.Fprintf(&r.b, "%s = $%d", r.quote(c.column), len(r.args))
}

func (g group) render(r *renderer) {
	if len(g.terms) == 0 {
		if g.op == "AND" {
			r.b.WriteString("TRUE")
		} else {
			r.b.WriteString("FALSE")
		}
		return
	}
	if len(g.terms) == 1 {
		g.terms[0].render(r)
		return
	}
	r.b.WriteByte('(')
	for i, term := range g.terms {
		if i > 0 {
			r.b.WriteString(" " + g.op + " ")
		}
		term.render(r)
	}
	r.b.WriteByte(')')
}

// Eval reports whether the predicate matches. Values are compared by their
// string rendering so typed and parsed key values match.
func Eval(p Predicate, get Getter) bool {
	if p == nil {
		return true
	}
	return p.eval(get)
}

func (c comparison) eval(get Getter) bool {
	value, ok := get(c.column)
	if c.value == nil {
		return !ok || value == nil
	}
	if !ok || value == nil {
		return false
	}
	return domain.FormatScalar(value) == domain.FormatScalar(c.value)
}

func (g group) eval(get Getter) bool {
	if g.op == "AND" {
		for _, term := range g.terms {
			if !term.eval(get) {
				return false
			}
		}
		return true
	}
	for _, term := range g.terms {
		if term.eval(get) {
			return true
		}
	}
	return false
}

package camarc

import (
	"fmt"
	"strings"
	"time"
)

// DateParser resolves a free-text date expression against now.
type DateParser interface {
	ParseDate(text string, now time.Time) (time.Time, error)
}

// ClauseOp is the comparison direction of a clause.
type ClauseOp int

const (
	// OpAfter matches timestamps strictly later than the clause instant.
	OpAfter ClauseOp = iota
	// OpBefore matches timestamps strictly earlier than the clause instant.
	OpBefore
)

func (op ClauseOp) String() string {
	switch op {
	case OpAfter:
		return "after"
	case OpBefore:
		return "before"
	default:
		return fmt.Sprintf("ClauseOp(%d)", int(op))
	}
}

// Clause is one bound of a query.
type Clause struct {
	Op ClauseOp
	At time.Time
}

// Match reports whether t satisfies the clause.
func (c Clause) Match(t time.Time) bool {
	switch c.Op {
	case OpAfter:
		return t.After(c.At)
	case OpBefore:
		return t.Before(c.At)
	default:
		return false
	}
}

var clauseKeywords = map[string]ClauseOp{
	"after":     OpAfter,
	"since":     OpAfter,
	"before":    OpBefore,
	"preceding": OpBefore,
}

// Predicate is a conjunction of clauses. The zero value matches nothing.
type Predicate struct {
	clauses []Clause
	ok      bool
}

// MatchNothing returns the predicate that rejects every timestamp.
func MatchNothing() Predicate { return Predicate{} }

// NewPredicate returns the conjunction of clauses. With no clauses it
// matches nothing.
func NewPredicate(clauses ...Clause) Predicate {
	if len(clauses) == 0 {
		return Predicate{}
	}
	return Predicate{clauses: append([]Clause(nil), clauses...), ok: true}
}

// Match reports whether t satisfies every clause.
func (p Predicate) Match(t time.Time) bool {
	if !p.ok {
		return false
	}
	for _, c := range p.clauses {
		if !c.Match(t) {
			return false
		}
	}
	return true
}

// MatchesNothing reports whether p is the fail-closed predicate.
func (p Predicate) MatchesNothing() bool { return !p.ok }

// Clauses returns a copy of the compiled clauses.
func (p Predicate) Clauses() []Clause {
	return append([]Clause(nil), p.clauses...)
}

func (p Predicate) String() string {
	if !p.ok {
		return "nothing"
	}
	parts := make([]string, len(p.clauses))
	for i, c := range p.clauses {
		parts[i] = c.Op.String() + " " + FormatTimestamp(c.At)
	}
	return strings.Join(parts, ", ")
}

// CompileQuery parses query into clauses. Any bad clause fails the whole
// query. An empty query is an error as well.
func CompileQuery(query string, now time.Time, dates DateParser) ([]Clause, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("empty query")
	}

	var clauses []Clause
	for _, segment := range strings.Split(query, ",") {
		segment = strings.TrimSpace(segment)
		keyword, rest, _ := strings.Cut(segment, " ")
		op, ok := clauseKeywords[strings.ToLower(keyword)]
		if !ok {
			return nil, fmt.Errorf("unknown keyword %q in clause %q", keyword, segment)
		}
		rest = strings.TrimSpace(rest)
		if rest == "" {
			return nil, fmt.Errorf("missing date in clause %q", segment)
		}
		at, err := dates.ParseDate(rest, now)
		if err != nil {
			return nil, fmt.Errorf("parsing date in clause %q: %w", segment, err)
		}
		clauses = append(clauses, Clause{Op: op, At: at})
	}
	return clauses, nil
}

// ParsePredicate compiles query into a predicate. Any failure yields the
// predicate that matches nothing.
func ParsePredicate(query string, now time.Time, dates DateParser) Predicate {
	clauses, err := CompileQuery(query, now, dates)
	if err != nil {
		return MatchNothing()
	}
	return NewPredicate(clauses...)
}

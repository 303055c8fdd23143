package alert

import (
	"errors"
	"fmt"
	"sort"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/parser"
	"github.com/expr-lang/expr/vm"
)

// ErrUnknownVariable means a formula references a metric missing from the snapshot.
var ErrUnknownVariable = errors.New("unknown variable")

// Snapshot is the view of the metric store at one label. Values maps every
// metric name holding a value at Label to that value.
type Snapshot struct {
	Metric string
	Label  string
	Values map[string]float64
}

// Value returns the value of the snapshot's own metric.
func (s Snapshot) Value() float64 { return s.Values[s.Metric] }

// PredicateFunc is a pure condition over a snapshot.
type PredicateFunc func(Snapshot) bool

// Condition decides whether a rule trips for a snapshot.
type Condition interface {
	Eval(s Snapshot) (bool, error)
	String() string
}

type formula struct {
	src     string
	program *vm.Program
	vars    []string
}

// Formula compiles a boolean expression whose free variables are metric names.
func Formula(src string) (Condition, error) {
	tree, err := parser.Parse(src)
	if err != nil {
		return nil, fmt.Errorf("parse formula %q: %w", src, err)
	}
	program, err := expr.Compile(src)
	if err != nil {
		return nil, fmt.Errorf("compile formula %q: %w", src, err)
	}
	return &formula{src: src, program: program, vars: freeVariables(tree.Node)}, nil
}

// MustFormula is Formula for built-in rules; it panics on a bad expression.
func MustFormula(src string) Condition {
	c, err := Formula(src)
	if err != nil {
		panic(err)
	}
	return c
}

func (f *formula) Eval(s Snapshot) (bool, error) {
	env := make(map[string]any, len(f.vars))
	for _, name := range f.vars {
		v, ok := s.Values[name]
		if !ok {
			return false, fmt.Errorf("%w %q in %q", ErrUnknownVariable, name, f.src)
		}
		env[name] = v
	}

	out, err := expr.Run(f.program, env)
	if err != nil {
		return false, fmt.Errorf("evaluate %q: %w", f.src, err)
	}
	b, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("formula %q returned %T, want bool", f.src, out)
	}
	return b, nil
}

func (f *formula) String() string { return f.src }

// Variables returns the metric names the formula references.
func (f *formula) Variables() []string { return f.vars }

type predicate struct {
	fn PredicateFunc
}

// Predicate wraps a Go function as a condition.
func Predicate(fn PredicateFunc) Condition {
	if fn == nil {
		return nil
	}
	return predicate{fn: fn}
}

func (p predicate) Eval(s Snapshot) (bool, error) { return p.fn(s), nil }

func (p predicate) String() string { return "predicate" }

type both struct {
	formula   Condition
	predicate PredicateFunc
}

// Both combines a formula and a predicate; the rule trips when either is
// true. A formula error only surfaces when the predicate is false.
func Both(src string, fn PredicateFunc) (Condition, error) {
	f, err := Formula(src)
	if err != nil {
		return nil, err
	}
	if fn == nil {
		return f, nil
	}
	return both{formula: f, predicate: fn}, nil
}

func (b both) Eval(s Snapshot) (bool, error) {
	if b.predicate(s) {
		return true, nil
	}
	return b.formula.Eval(s)
}

func (b both) String() string { return b.formula.String() + " || predicate" }

// freeVariables collects identifiers that are not function names.
func freeVariables(root ast.Node) []string {
	v := &identVisitor{callees: make(map[ast.Node]struct{})}
	ast.Walk(&root, v)

	seen := make(map[string]struct{})
	var out []string
	for _, id := range v.idents {
		if _, ok := v.callees[id]; ok {
			continue
		}
		if _, ok := seen[id.Value]; ok {
			continue
		}
		seen[id.Value] = struct{}{}
		out = append(out, id.Value)
	}
	sort.Strings(out)
	return out
}

type identVisitor struct {
	idents  []*ast.IdentifierNode
	callees map[ast.Node]struct{}
}

func (v *identVisitor) Visit(node *ast.Node) {
	switch n := (*node).(type) {
	case *ast.IdentifierNode:
		v.idents = append(v.idents, n)
	case *ast.CallNode:
		v.callees[n.Callee] = struct{}{}
	}
}

// Package variables collects variable definitions from fragments and resolves
// references, including references inside other definitions.
package variables

import (
	"log/slog"
	"sort"
	"strings"

	"git.home.luguber.info/inful/i3configger/internal/config"
	ferrors "git.home.luguber.info/inful/i3configger/internal/foundation/errors"
	"git.home.luguber.info/inful/i3configger/internal/fragments"
	"git.home.luguber.info/inful/i3configger/internal/logfields"
)

// ConfigSource is the Binding.Fragment value of overrides coming from configuration.
const ConfigSource = "<config>"

// Binding is one definition of a variable.
type Binding struct {
	Name     string
	Raw      string
	Fragment string
	Line     int
}

// Override records a definition replaced by a later one.
type Override struct {
	Name     string
	Previous Binding
	Current  Binding
}

// Resolver turns a fragment sequence into a Resolution.
type Resolver struct {
	syntax    Syntax
	undefined config.UndefinedPolicy
	overrides map[string]string
	logger    *slog.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithUndefinedPolicy selects how undefined references are treated.
func WithUndefinedPolicy(p config.UndefinedPolicy) Option {
	return func(r *Resolver) { r.undefined = p }
}

// WithOverrides sets values that replace fragment definitions. They are applied last.
func WithOverrides(values map[string]string) Option {
	return func(r *Resolver) { r.overrides = values }
}

// WithLogger sets the logger used for override reporting.
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewResolver creates a Resolver for syntax.
func NewResolver(syntax Syntax, opts ...Option) *Resolver {
	r := &Resolver{
		syntax:    syntax,
		undefined: config.UndefinedKeep,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve collects bindings from frags in order (last definition wins), applies
// configured overrides and resolves every binding to its final value.
func (r *Resolver) Resolve(frags []fragments.Fragment) (*Resolution, error) {
	res := &Resolution{
		syntax:   r.syntax,
		Bindings: make(map[string]Binding),
		Values:   make(map[string]string),
	}

	for _, f := range frags {
		for _, ll := range JoinContinuations(f.Content) {
			def, ok := r.syntax.ParseDefinition(ll.Text)
			if !ok {
				continue
			}
			res.bind(Binding{Name: def.Name, Raw: def.Value, Fragment: f.Name, Line: ll.Line})
		}
	}
	names := make([]string, 0, len(r.overrides))
	for name := range r.overrides {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		res.bind(Binding{Name: name, Raw: r.overrides[name], Fragment: ConfigSource})
	}
	for _, o := range res.Overrides {
		r.logger.Info("Variable overridden",
			logfields.Variable(o.Name),
			slog.String("previous", o.Previous.Fragment),
			slog.String("current", o.Current.Fragment))
	}

	if err := res.resolveAll(); err != nil {
		return nil, err
	}

	res.Undefined = res.undefinedIn(frags)
	if len(res.Undefined) > 0 {
		if r.undefined == config.UndefinedError {
			return nil, ferrors.UndefinedVariable("undefined variable references: "+strings.Join(res.Undefined, ", ")).
				WithContext("variables", res.Undefined).Build()
		}
		r.logger.Warn("Undefined variable references left verbatim",
			logfields.Count(len(res.Undefined)),
			slog.String("variables", strings.Join(res.Undefined, ", ")))
	}
	return res, nil
}

// Resolution holds the outcome of Resolve.
type Resolution struct {
	syntax Syntax
	// Bindings are the effective definitions by name.
	Bindings map[string]Binding
	// Values are the fully substituted values by name.
	Values map[string]string
	// Overrides lists every replaced definition in the order it happened.
	Overrides []Override
	// Undefined lists referenced names without a definition, sorted.
	Undefined []string
}

func (res *Resolution) bind(b Binding) {
	if prev, ok := res.Bindings[b.Name]; ok {
		res.Overrides = append(res.Overrides, Override{Name: b.Name, Previous: prev, Current: b})
	}
	res.Bindings[b.Name] = b
}

type frame struct {
	name string
	deps []string
	next int
}

// resolveAll performs an iterative depth-first walk over the dependency graph. A
// name met again while it is on the current path is a cycle.
func (res *Resolution) resolveAll() error {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(res.Bindings))

	roots := make([]string, 0, len(res.Bindings))
	for name := range res.Bindings {
		roots = append(roots, name)
	}
	sort.Strings(roots)

	for _, root := range roots {
		if state[root] == done {
			continue
		}
		state[root] = visiting
		stack := []*frame{{name: root, deps: res.deps(root)}}
		for len(stack) > 0 {
			top := stack[len(stack)-1]
			if top.next < len(top.deps) {
				dep := top.deps[top.next]
				top.next++
				switch state[dep] {
				case visiting:
					return res.cycleError(stack, dep)
				case unvisited:
					state[dep] = visiting
					stack = append(stack, &frame{name: dep, deps: res.deps(dep)})
				}
				continue
			}
			res.Values[top.name] = res.substitute(res.Bindings[top.name].Raw, res.Values)
			state[top.name] = done
			stack = stack[:len(stack)-1]
		}
	}
	return nil
}

func (res *Resolution) cycleError(stack []*frame, dep string) error {
	start := 0
	for i, f := range stack {
		if f.name == dep {
			start = i
			break
		}
	}
	path := make([]string, 0, len(stack)-start+1)
	for _, f := range stack[start:] {
		path = append(path, f.name)
	}
	path = append(path, dep)
	cycle := strings.Join(path, " -> ")

	b := res.Bindings[dep]
	return ferrors.CyclicVariable("cyclic variable reference "+cycle).
		WithContext("cycle", cycle).
		WithContext("variable", dep).
		WithContext("fragment", b.Fragment).
		WithContext("line", b.Line).
		Build()
}

// deps returns the defined names referenced by name's raw value, in first-use order.
func (res *Resolution) deps(name string) []string {
	var out []string
	seen := make(map[string]bool)
	res.syntax.scanReferences(res.Bindings[name].Raw, func(_, _ int, token string) {
		if ref, ok := res.match(token); ok && !seen[ref] {
			seen[ref] = true
			out = append(out, ref)
		}
	})
	return out
}

// match finds the longest defined name that prefixes token.
func (res *Resolution) match(token string) (string, bool) {
	for end := len(token); end > 0; end-- {
		if _, ok := res.Bindings[token[:end]]; ok {
			return token[:end], true
		}
	}
	return "", false
}

func (res *Resolution) substitute(text string, values map[string]string) string {
	var sb strings.Builder
	last := 0
	res.syntax.scanReferences(text, func(start, end int, token string) {
		ref, ok := res.match(token)
		if !ok {
			return
		}
		sb.WriteString(text[last:start])
		sb.WriteString(values[ref])
		last = start + len(res.syntax.Sigil) + len(ref)
	})
	if last == 0 {
		return text
	}
	sb.WriteString(text[last:])
	return sb.String()
}

// Expand replaces every defined reference in text with its resolved value. Undefined
// references stay as written.
func (res *Resolution) Expand(text string) string {
	return res.substitute(text, res.Values)
}

// ExpandLine expands one line of fragment content. Comment lines are returned as is;
// on a definition line only the value part is expanded.
func (res *Resolution) ExpandLine(line string) string {
	if IsComment(line) {
		return line
	}
	if def, ok := res.syntax.ParseDefinition(line); ok {
		return line[:def.ValueOffset] + res.Expand(line[def.ValueOffset:])
	}
	return res.Expand(line)
}

// IsDefinition reports whether line defines a variable.
func (res *Resolution) IsDefinition(line string) bool {
	_, ok := res.syntax.ParseDefinition(line)
	return ok
}

func (res *Resolution) undefinedIn(frags []fragments.Fragment) []string {
	seen := make(map[string]bool)
	collect := func(text string) {
		res.syntax.scanReferences(text, func(_, _ int, token string) {
			if _, ok := res.match(token); !ok {
				seen[token] = true
			}
		})
	}
	for _, f := range frags {
		for _, ll := range JoinContinuations(f.Content) {
			line := ll.Text
			if IsComment(line) {
				continue
			}
			if def, ok := res.syntax.ParseDefinition(line); ok {
				collect(line[def.ValueOffset:])
				continue
			}
			collect(line)
		}
	}
	for _, b := range res.Bindings {
		if b.Fragment == ConfigSource {
			collect(b.Raw)
		}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

package deploy

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Validation errors returned by GraphBuilder.Build.
var (
	ErrEmptyGraph    = errors.New("graph must have at least one step")
	ErrDuplicateStep = errors.New("duplicate step name")
	ErrInvalidStep   = errors.New("step must either deploy or perform")
)

// UnknownDependencyError is returned when a step depends on a name no step
// produces.
type UnknownDependencyError struct {
	Step       string
	Dependency string
}

func (e *UnknownDependencyError) Error() string {
	return fmt.Sprintf("step %s depends on unknown step %s", e.Step, e.Dependency)
}

// CycleError is returned when the dependency graph is not acyclic. Path
// starts and ends with the same step.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return "dependency cycle: " + strings.Join(e.Path, " -> ")
}

// UnknownTagError is returned when a requested tag selects no step.
type UnknownTagError struct {
	Tag string
}

func (e *UnknownTagError) Error() string {
	return fmt.Sprintf("no step is tagged %q", e.Tag)
}

// GraphBuilder provides a fluent API for declaring deployment steps.
type GraphBuilder struct {
	steps []*Step
}

// NewGraph creates an empty GraphBuilder.
func NewGraph() *GraphBuilder {
	return &GraphBuilder{steps: []*Step{}}
}

// Step declares a step. Declaration order breaks ordering ties.
func (b *GraphBuilder) Step(name string, opts ...StepOption) *GraphBuilder {
	step := &Step{name: name, index: len(b.steps)}
	for _, opt := range opts {
		opt(step)
	}
	b.steps = append(b.steps, step)
	return b
}

// Build validates the declared steps and returns an immutable Graph.
func (b *GraphBuilder) Build() (*Graph, error) {
	if len(b.steps) == 0 {
		return nil, ErrEmptyGraph
	}

	byName := make(map[string]*Step, len(b.steps))
	for _, step := range b.steps {
		if step.name == "" {
			return nil, fmt.Errorf("%w: step %d has no name", ErrInvalidStep, step.index)
		}
		if _, exists := byName[step.name]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateStep, step.name)
		}
		if (step.deploy == nil) == (step.perform == nil) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidStep, step.name)
		}
		if step.ensure != nil && step.deploy == nil {
			return nil, fmt.Errorf("%w: %s has a post-condition but deploys nothing", ErrInvalidStep, step.name)
		}
		byName[step.name] = step
	}

	for _, step := range b.steps {
		for _, dep := range step.dependsOn {
			target, ok := byName[dep]
			if !ok {
				return nil, &UnknownDependencyError{Step: step.name, Dependency: dep}
			}
			if target.IsAction() {
				return nil, fmt.Errorf("%w: %s depends on action %s, which records nothing", ErrInvalidStep, step.name, dep)
			}
		}
	}

	g := &Graph{steps: b.steps, byName: byName}
	if err := g.detectCycles(); err != nil {
		return nil, err
	}
	return g, nil
}

// Graph is a validated, acyclic set of steps.
type Graph struct {
	steps  []*Step
	byName map[string]*Step
}

// Steps returns every step in declaration order.
func (g *Graph) Steps() []*Step {
	return append([]*Step(nil), g.steps...)
}

// Step returns the named step.
func (g *Graph) Step(name string) (*Step, bool) {
	s, ok := g.byName[name]
	return s, ok
}

// Tags returns every tag used by the graph, sorted.
func (g *Graph) Tags() []string {
	seen := make(map[string]bool)
	var tags []string
	for _, s := range g.steps {
		for _, t := range s.tags {
			if !seen[t] {
				seen[t] = true
				tags = append(tags, t)
			}
		}
	}
	sort.Strings(tags)
	return tags
}

// Resolve returns the steps selected by tags together with their
// transitive dependencies, in execution order. No tags selects every step.
//
// Among steps whose dependencies are satisfied, contract steps come before
// action steps and otherwise declaration order wins.
func (g *Graph) Resolve(tags []string) ([]*Step, error) {
	selected := make(map[string]bool)
	if len(tags) == 0 {
		for _, s := range g.steps {
			selected[s.name] = true
		}
	} else {
		for _, tag := range tags {
			found := false
			for _, s := range g.steps {
				if s.HasTag(tag) {
					found = true
					g.include(s, selected)
				}
			}
			if !found {
				return nil, &UnknownTagError{Tag: tag}
			}
		}
	}

	indegree := make(map[string]int, len(selected))
	dependents := make(map[string][]*Step)
	var ready []*Step
	for _, s := range g.steps {
		if !selected[s.name] {
			continue
		}
		indegree[s.name] = len(uniq(s.dependsOn))
		for _, dep := range uniq(s.dependsOn) {
			dependents[dep] = append(dependents[dep], s)
		}
		if indegree[s.name] == 0 {
			ready = append(ready, s)
		}
	}

	order := make([]*Step, 0, len(selected))
	for len(ready) > 0 {
		sort.SliceStable(ready, func(i, j int) bool { return before(ready[i], ready[j]) })
		next := ready[0]
		ready = ready[1:]
		order = append(order, next)
		for _, d := range dependents[next.name] {
			indegree[d.name]--
			if indegree[d.name] == 0 {
				ready = append(ready, d)
			}
		}
	}

	if len(order) != len(selected) {
		// Build rejects cycles, so this only trips on a corrupted graph.
		if err := g.detectCycles(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("resolved %d of %d steps", len(order), len(selected))
	}
	return order, nil
}

func (g *Graph) include(s *Step, selected map[string]bool) {
	if selected[s.name] {
		return
	}
	selected[s.name] = true
	for _, dep := range s.dependsOn {
		g.include(g.byName[dep], selected)
	}
}

func before(a, b *Step) bool {
	if a.IsAction() != b.IsAction() {
		return !a.IsAction()
	}
	return a.index < b.index
}

func uniq(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := names[:0:0]
	for _, n := range names {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}

// detectCycles walks the graph depth first and reports the first cycle
// found, in declaration order.
func (g *Graph) detectCycles() error {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(g.steps))
	var stack []string

	var visit func(s *Step) error
	visit = func(s *Step) error {
		state[s.name] = visiting
		stack = append(stack, s.name)
		for _, dep := range s.dependsOn {
			switch state[dep] {
			case visiting:
				start := 0
				for i, name := range stack {
					if name == dep {
						start = i
						break
					}
				}
				path := append(append([]string(nil), stack[start:]...), dep)
				return &CycleError{Path: path}
			case unvisited:
				if err := visit(g.byName[dep]); err != nil {
					return err
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[s.name] = done
		return nil
	}

	for _, s := range g.steps {
		if state[s.name] == unvisited {
			if err := visit(s); err != nil {
				return err
			}
		}
	}
	return nil
}

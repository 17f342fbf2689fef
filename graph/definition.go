package graph

import (
	"fmt"
	"sort"
	"strings"
)

// Graph is a validated, immutable workflow definition. It is safe to share
// read-only across any number of engines and sessions.
type Graph struct {
	name      string
	specs     map[string]NodeSpec
	order     []string       // topological order over forward edges
	rank      map[string]int // position in order
	edges     []Edge
	inbound   map[string][]int // forward edge indexes by destination
	outbound  map[string][]int // all edge indexes by source
	entry     string
	terminals map[string]bool
	loop      *loopRegion
	warnings  []error

	// types are the concrete types a checkpoint can rebuild a value of
	// when its slot is declared Any, by name.
	types map[string]Type
}

// loopRegion describes the single cycle of a graph.
type loopRegion struct {
	edge   int
	head   string
	tail   string
	body   map[string]bool // on some forward path head -> tail
	region map[string]bool // head and everything forward-reachable from it
}

// Define validates nodes and edges and returns the Graph. Every problem
// found is reported in a single *MalformedGraphError.
func Define(name string, nodes []NodeSpec, edges []Edge, entry string, terminals ...string) (*Graph, error) {
	var problems []string
	addf := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	g := &Graph{
		name:      name,
		specs:     make(map[string]NodeSpec, len(nodes)),
		rank:      make(map[string]int, len(nodes)),
		edges:     append([]Edge(nil), edges...),
		inbound:   make(map[string][]int),
		outbound:  make(map[string][]int),
		entry:     entry,
		terminals: make(map[string]bool),
		types:     make(map[string]Type),
	}
	g.addTypes(String, Strings, Bool, Int, Float)

	declared := make([]string, 0, len(nodes))
	for _, n := range nodes {
		switch {
		case n.Name == "":
			addf("node with empty name")
			continue
		case g.specs[n.Name].Name != "":
			addf("duplicate node %q", n.Name)
			continue
		}
		switch n.role() {
		case RoleNormal, RoleInterrupt, RoleTerminal:
		default:
			addf("node %q has unknown role %q", n.Name, n.Role)
		}
		seen := make(map[string]bool)
		for _, p := range n.Inputs {
			if p.Name == "" || seen[p.Name] {
				addf("node %q declares an empty or duplicate port %q", n.Name, p.Name)
			}
			seen[p.Name] = true
		}
		g.specs[n.Name] = n
		g.addTypes(n.Output, n.Prompt)
		for _, p := range n.Inputs {
			g.addTypes(p.Type)
		}
		declared = append(declared, n.Name)
	}

	if _, ok := g.specs[entry]; !ok {
		addf("entry node %q is not defined", entry)
	}
	if len(terminals) == 0 {
		addf("no terminal node designated")
	}
	for _, t := range terminals {
		spec, ok := g.specs[t]
		if !ok {
			addf("terminal node %q is not defined", t)
			continue
		}
		if spec.role() != RoleTerminal {
			addf("terminal node %q has role %q", t, spec.role())
		}
		g.terminals[t] = true
	}
	for _, n := range declared {
		if g.specs[n].role() == RoleTerminal && !g.terminals[n] {
			addf("node %q has role terminal but is not a designated terminal", n)
		}
	}

	type edgeKey struct{ from, to, port string }
	seenEdges := make(map[edgeKey]bool)
	loopEdge := -1
	for i, e := range g.edges {
		from, okFrom := g.specs[e.From]
		to, okTo := g.specs[e.To]
		if !okFrom {
			addf("edge %s -> %s references unknown node %q", e.From, e.To, e.From)
		}
		if !okTo {
			addf("edge %s -> %s references unknown node %q", e.From, e.To, e.To)
		}
		if !okFrom || !okTo {
			continue
		}
		key := edgeKey{e.From, e.To, e.port()}
		if seenEdges[key] {
			addf("duplicate edge %s -> %s on port %q", e.From, e.To, e.port())
		}
		seenEdges[key] = true

		if g.terminals[e.From] {
			addf("terminal node %q has an outbound edge to %q", e.From, e.To)
		}
		if len(to.Inputs) > 0 {
			port, ok := to.port(e.port())
			switch {
			case !ok:
				addf("edge %s -> %s targets undeclared port %q", e.From, e.To, e.port())
			case !compatible(port.Type, from.output()):
				addf("edge %s -> %s: port %q wants %s but %q produces %s",
					e.From, e.To, port.Name, port.Type.Name(), e.From, from.output().Name())
			}
		}

		g.outbound[e.From] = append(g.outbound[e.From], i)
		if e.LoopBack {
			if loopEdge >= 0 {
				addf("more than one loop-back edge (%s -> %s and %s -> %s)",
					g.edges[loopEdge].From, g.edges[loopEdge].To, e.From, e.To)
				continue
			}
			loopEdge = i
			continue
		}
		if e.To == entry {
			addf("entry node %q has inbound edge from %q that is not the loop-back edge", entry, e.From)
		}
		g.inbound[e.To] = append(g.inbound[e.To], i)
	}

	// Port satisfiability.
	for _, n := range declared {
		spec := g.specs[n]
		for _, p := range spec.Inputs {
			if n == entry && p.Name == InputPort {
				continue
			}
			forward, loopOnly := 0, false
			for _, idx := range g.inbound[n] {
				if g.edges[idx].port() == p.Name {
					forward++
				}
			}
			if loopEdge >= 0 && g.edges[loopEdge].To == n && g.edges[loopEdge].port() == p.Name {
				loopOnly = forward == 0
			}
			switch {
			case p.Optional:
			case loopOnly:
				addf("node %q: required port %q is fed only by the loop-back edge", n, p.Name)
			case forward == 0:
				addf("node %q: required port %q has no inbound edge", n, p.Name)
			}
		}
	}

	// Exactly one entry point.
	var extra []string
	for _, n := range declared {
		if n != entry && len(g.inbound[n]) == 0 {
			extra = append(extra, n)
		}
	}
	if len(extra) > 0 {
		addf("more than one entry point: %q and %s", entry, strings.Join(quoteAll(extra), ", "))
	}

	if len(problems) == 0 {
		if cyclic := g.sortForward(declared); len(cyclic) > 0 {
			addf("cycle without a loop-back edge through %s", strings.Join(quoteAll(cyclic), ", "))
		}
	}

	if len(problems) == 0 && loopEdge >= 0 {
		g.loop = g.buildLoop(loopEdge)
		if !g.loop.body[g.loop.tail] {
			addf("loop-back edge %s -> %s does not return to its loop head: %q is not reachable from %q",
				g.loop.tail, g.loop.head, g.loop.tail, g.loop.head)
		}
	}

	if len(problems) > 0 {
		return nil, &MalformedGraphError{Graph: name, Problems: problems}
	}

	if g.loop != nil && !g.loop.guarded(g) {
		g.warnings = append(g.warnings, &NonTerminationRisk{Head: g.loop.head, Tail: g.loop.tail})
	}
	return g, nil
}

// sortForward computes the topological order over forward edges, ordering
// ties by declaration. It returns the nodes left on a cycle, if any.
func (g *Graph) sortForward(declared []string) []string {
	indeg := make(map[string]int, len(declared))
	for _, n := range declared {
		indeg[n] = len(g.inbound[n])
	}
	pos := make(map[string]int, len(declared))
	for i, n := range declared {
		pos[n] = i
	}

	var ready []string
	for _, n := range declared {
		if indeg[n] == 0 {
			ready = append(ready, n)
		}
	}
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return pos[ready[i]] < pos[ready[j]] })
		n := ready[0]
		ready = ready[1:]
		g.rank[n] = len(g.order)
		g.order = append(g.order, n)
		for _, idx := range g.outbound[n] {
			e := g.edges[idx]
			if e.LoopBack {
				continue
			}
			indeg[e.To]--
			if indeg[e.To] == 0 {
				ready = append(ready, e.To)
			}
		}
	}

	var cyclic []string
	for _, n := range declared {
		if _, ok := g.rank[n]; !ok {
			cyclic = append(cyclic, n)
		}
	}
	return cyclic
}

func (g *Graph) buildLoop(idx int) *loopRegion {
	e := g.edges[idx]
	lr := &loopRegion{edge: idx, head: e.To, tail: e.From}
	lr.region = g.reach(e.To, func(i int) string { return g.edges[i].To }, g.outbound)

	// Nodes that can reach the tail through forward edges.
	back := make(map[string][]int)
	for to, list := range g.inbound {
		back[to] = list
	}
	reachesTail := g.reach(e.From, func(i int) string { return g.edges[i].From }, back)

	lr.body = make(map[string]bool)
	for n := range lr.region {
		if reachesTail[n] {
			lr.body[n] = true
		}
	}
	return lr
}

func (g *Graph) reach(start string, next func(int) string, adj map[string][]int) map[string]bool {
	seen := map[string]bool{start: true}
	queue := []string{start}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		for _, idx := range adj[n] {
			if g.edges[idx].LoopBack {
				continue
			}
			m := next(idx)
			if !seen[m] {
				seen[m] = true
				queue = append(queue, m)
			}
		}
	}
	return seen
}

// guarded reports whether something inside the graph can end the loop.
func (lr *loopRegion) guarded(g *Graph) bool {
	if g.edges[lr.edge].When != nil {
		return true
	}
	for n := range lr.body {
		if g.specs[n].role() == RoleInterrupt {
			return true
		}
	}
	return false
}

func quoteAll(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = fmt.Sprintf("%q", n)
	}
	return out
}

// Name returns the graph name.
func (g *Graph) Name() string { return g.name }

// Entry returns the entry node name.
func (g *Graph) Entry() string { return g.entry }

// Terminals returns the terminal node names in topological order.
func (g *Graph) Terminals() []string {
	var out []string
	for _, n := range g.order {
		if g.terminals[n] {
			out = append(out, n)
		}
	}
	return out
}

// Nodes returns the node specs in topological order.
func (g *Graph) Nodes() []NodeSpec {
	out := make([]NodeSpec, 0, len(g.order))
	for _, n := range g.order {
		out = append(out, g.specs[n])
	}
	return out
}

// Node returns the spec of a node.
func (g *Graph) Node(name string) (NodeSpec, bool) {
	s, ok := g.specs[name]
	return s, ok
}

// Edges returns a copy of the edge list.
func (g *Graph) Edges() []Edge {
	return append([]Edge(nil), g.edges...)
}

// Loop returns the loop head and tail. ok is false for an acyclic graph.
func (g *Graph) Loop() (head, tail string, ok bool) {
	if g.loop == nil {
		return "", "", false
	}
	return g.loop.head, g.loop.tail, true
}

// Warnings returns definition-time warnings such as *NonTerminationRisk.
func (g *Graph) Warnings() []error {
	return append([]error(nil), g.warnings...)
}

func (g *Graph) addTypes(types ...Type) {
	for _, t := range types {
		if t == nil || t.Name() == Any.Name() {
			continue
		}
		g.types[t.Name()] = t
	}
}

// concreteType finds the known type holding exactly v. Names are tried in
// order so a Go type known under several names always gets the same one.
func (g *Graph) concreteType(v any) (Type, bool) {
	names := make([]string, 0, len(g.types))
	for name := range g.types {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if t := g.types[name]; t.Check(v) == nil {
			return t, true
		}
	}
	return nil, false
}

package graph

// Edge connects two nodes and carries the source's output into one input
// port of the destination.
//
// Edges are data dependencies, not just control order. An edge whose When
// predicate rejects the source value is skipped for the current iteration,
// and a node none of whose required ports can be delivered is skipped too.
//
// At most one edge per graph is the loop-back edge. It closes the loop
// region and is only considered satisfied at an iteration boundary.
type Edge struct {
	From string
	To   string

	// Port names the destination port. Empty means the source node name.
	Port string

	// When is an optional predicate over the source's output value.
	When Predicate

	// LoopBack marks the edge closing the cycle.
	LoopBack bool

	// Label names the predicate for diagnostics and the YAML DSL.
	Label string
}

// Predicate decides from the source node's output whether an edge delivers.
// Predicates must be pure.
type Predicate func(v any) bool

func (e Edge) port() string {
	if e.Port == "" {
		return e.From
	}
	return e.Port
}

func (e Edge) delivers(v any) bool {
	return e.When == nil || e.When(v)
}

package graph

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Predicates resolves the edge predicate names used by the YAML DSL.
type Predicates map[string]Predicate

// graphDoc is the YAML form of a graph.
//
//	name: interview
//	entry: GenerateHypotheses
//	terminals: [SaveResults]
//	nodes:
//	  - name: GenerateHypotheses
//	    output: interview.Hypotheses
//	    inputs:
//	      - {name: input, type: string}
//	      - {name: DetermineNextState, type: interview.Decision, optional: true}
//	  - name: AskUserVerification
//	    role: interrupt
//	    prompt: interview.VerificationPrompt
//	    output: "[]string"
//	edges:
//	  - {from: GenerateHypotheses, to: AskUserVerification}
//	  - {from: DetermineNextState, to: GenerateHypotheses, when: continue, loop_back: true}
type graphDoc struct {
	Name      string    `yaml:"name"`
	Entry     string    `yaml:"entry"`
	Terminals []string  `yaml:"terminals"`
	Nodes     []nodeDoc `yaml:"nodes"`
	Edges     []edgeDoc `yaml:"edges"`
}

type nodeDoc struct {
	Name    string    `yaml:"name"`
	Role    string    `yaml:"role"`
	Output  string    `yaml:"output"`
	Prompt  string    `yaml:"prompt"`
	Timeout string    `yaml:"timeout"`
	Inputs  []portDoc `yaml:"inputs"`
}

type portDoc struct {
	Name     string `yaml:"name"`
	Type     string `yaml:"type"`
	Optional bool   `yaml:"optional"`
}

type edgeDoc struct {
	From     string `yaml:"from"`
	To       string `yaml:"to"`
	Port     string `yaml:"port"`
	When     string `yaml:"when"`
	LoopBack bool   `yaml:"loop_back"`
}

// LoadYAML parses a graph written in the YAML DSL and defines it.
//
// Type names are resolved through registry (nil means the builtins only)
// and predicate names through predicates. Unknown names, unknown fields and
// every structural problem Define detects are reported together in one
// *MalformedGraphError. Syntax errors are returned as they are.
func LoadYAML(data []byte, registry *TypeRegistry, predicates Predicates) (*Graph, error) {
	var doc graphDoc
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &MalformedGraphError{Problems: []string{"empty graph document"}}
		}
		return nil, fmt.Errorf("parse graph: %w", err)
	}
	if registry == nil {
		registry = NewTypeRegistry()
	}

	var problems []string
	addf := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}
	resolve := func(node, field, name string) Type {
		if name == "" {
			return nil
		}
		t, ok := registry.Lookup(name)
		if !ok {
			addf("node %q: unknown %s type %q", node, field, name)
		}
		return t
	}

	nodes := make([]NodeSpec, 0, len(doc.Nodes))
	for _, nd := range doc.Nodes {
		spec := NodeSpec{
			Name:   nd.Name,
			Output: resolve(nd.Name, "output", nd.Output),
			Prompt: resolve(nd.Name, "prompt", nd.Prompt),
		}

		switch Role(nd.Role) {
		case "", RoleNormal:
			spec.Role = RoleNormal
		case RoleInterrupt, RoleTerminal:
			spec.Role = Role(nd.Role)
		default:
			addf("node %q: unknown role %q", nd.Name, nd.Role)
		}

		if nd.Timeout != "" {
			d, err := time.ParseDuration(nd.Timeout)
			if err != nil || d < 0 {
				addf("node %q: invalid timeout %q", nd.Name, nd.Timeout)
			}
			spec.Timeout = d
		}

		for _, pd := range nd.Inputs {
			typ := resolve(nd.Name, "port", pd.Type)
			if pd.Type == "" {
				typ = Any
			}
			spec.Inputs = append(spec.Inputs, Port{Name: pd.Name, Type: typ, Optional: pd.Optional})
		}
		nodes = append(nodes, spec)
	}

	edges := make([]Edge, 0, len(doc.Edges))
	for _, ed := range doc.Edges {
		e := Edge{From: ed.From, To: ed.To, Port: ed.Port, LoopBack: ed.LoopBack, Label: ed.When}
		if ed.When != "" {
			pred, ok := predicates[ed.When]
			if !ok || pred == nil {
				addf("edge %s -> %s: unknown predicate %q", ed.From, ed.To, ed.When)
			}
			e.When = pred
		}
		edges = append(edges, e)
	}

	g, err := Define(doc.Name, nodes, edges, doc.Entry, doc.Terminals...)
	if len(problems) == 0 {
		if err == nil {
			for _, name := range registry.Names() {
				t, _ := registry.Lookup(name)
				g.addTypes(t)
			}
		}
		return g, err
	}

	var mg *MalformedGraphError
	if errors.As(err, &mg) {
		problems = append(problems, mg.Problems...)
	} else if err != nil {
		return nil, err
	}
	return nil, &MalformedGraphError{Graph: doc.Name, Problems: problems}
}

// LoadFile reads and loads a YAML graph file.
func LoadFile(path string, registry *TypeRegistry, predicates Predicates) (*Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read graph file: %w", err)
	}
	return LoadYAML(data, registry, predicates)
}

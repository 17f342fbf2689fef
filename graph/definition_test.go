package graph

import (
	"errors"
	"strings"
	"testing"
)

func TestDefine_Valid(t *testing.T) {
	g := designGraph(t)

	if g.Name() != "design" || g.Entry() != "Gen" {
		t.Errorf("unexpected name/entry %q/%q", g.Name(), g.Entry())
	}
	if got := g.Terminals(); len(got) != 1 || got[0] != "Done" {
		t.Errorf("unexpected terminals %v", got)
	}
	head, tail, ok := g.Loop()
	if !ok || head != "Gen" || tail != "Solve" {
		t.Errorf("unexpected loop %q -> %q (%v)", tail, head, ok)
	}
	if len(g.Warnings()) != 0 {
		t.Errorf("a loop through an interrupt node should not warn: %v", g.Warnings())
	}
	if spec, ok := g.Node("Verify"); !ok || spec.Role != RoleInterrupt {
		t.Errorf("unexpected Verify spec %+v", spec)
	}
	if len(g.Nodes()) != 4 || len(g.Edges()) != 4 {
		t.Errorf("unexpected sizes %d nodes, %d edges", len(g.Nodes()), len(g.Edges()))
	}
}

func TestDefine_Malformed(t *testing.T) {
	always := func(any) bool { return true }

	tests := []struct {
		name      string
		nodes     []NodeSpec
		edges     []Edge
		entry     string
		terminals []string
		want      string
	}{
		{
			name:      "duplicate node",
			nodes:     []NodeSpec{{Name: "A"}, {Name: "A"}, {Name: "T", Role: RoleTerminal}},
			edges:     []Edge{{From: "A", To: "T"}},
			entry:     "A",
			terminals: []string{"T"},
			want:      `duplicate node "A"`,
		},
		{
			name:      "unknown edge endpoint",
			nodes:     []NodeSpec{{Name: "A"}, {Name: "T", Role: RoleTerminal}},
			edges:     []Edge{{From: "A", To: "T"}, {From: "A", To: "Ghost"}},
			entry:     "A",
			terminals: []string{"T"},
			want:      `unknown node "Ghost"`,
		},
		{
			name:      "unknown entry",
			nodes:     []NodeSpec{{Name: "A"}, {Name: "T", Role: RoleTerminal}},
			edges:     []Edge{{From: "A", To: "T"}},
			entry:     "Z",
			terminals: []string{"T"},
			want:      `entry node "Z" is not defined`,
		},
		{
			name:      "terminal with wrong role",
			nodes:     []NodeSpec{{Name: "A"}, {Name: "T"}},
			edges:     []Edge{{From: "A", To: "T"}},
			entry:     "A",
			terminals: []string{"T"},
			want:      `terminal node "T" has role "normal"`,
		},
		{
			name:      "undesignated terminal role",
			nodes:     []NodeSpec{{Name: "A"}, {Name: "T", Role: RoleTerminal}, {Name: "U", Role: RoleTerminal}},
			edges:     []Edge{{From: "A", To: "T"}, {From: "A", To: "U"}},
			entry:     "A",
			terminals: []string{"T"},
			want:      `node "U" has role terminal but is not a designated terminal`,
		},
		{
			name:      "terminal with outbound edge",
			nodes:     []NodeSpec{{Name: "A"}, {Name: "B"}, {Name: "T", Role: RoleTerminal}},
			edges:     []Edge{{From: "A", To: "T"}, {From: "T", To: "B"}},
			entry:     "A",
			terminals: []string{"T"},
			want:      `terminal node "T" has an outbound edge`,
		},
		{
			name:      "required port without edge",
			nodes:     []NodeSpec{{Name: "A"}, {Name: "B", Inputs: []Port{{Name: "A"}, {Name: "extra"}}}, {Name: "T", Role: RoleTerminal}},
			edges:     []Edge{{From: "A", To: "B"}, {From: "B", To: "T"}},
			entry:     "A",
			terminals: []string{"T"},
			want:      `required port "extra" has no inbound edge`,
		},
		{
			name:      "undeclared port",
			nodes:     []NodeSpec{{Name: "A"}, {Name: "B", Inputs: []Port{{Name: "x"}}}, {Name: "T", Role: RoleTerminal}},
			edges:     []Edge{{From: "A", To: "B", Port: "x"}, {From: "A", To: "B", Port: "y"}, {From: "B", To: "T"}},
			entry:     "A",
			terminals: []string{"T"},
			want:      `targets undeclared port "y"`,
		},
		{
			name:      "incompatible port type",
			nodes:     []NodeSpec{{Name: "A", Output: Int}, {Name: "B", Inputs: []Port{{Name: "A", Type: String}}}, {Name: "T", Role: RoleTerminal}},
			edges:     []Edge{{From: "A", To: "B"}, {From: "B", To: "T"}},
			entry:     "A",
			terminals: []string{"T"},
			want:      `port "A" wants string but "A" produces int`,
		},
		{
			name:      "port fed only by loop-back",
			nodes:     []NodeSpec{{Name: "A", Inputs: []Port{{Name: "B"}}}, {Name: "B"}, {Name: "T", Role: RoleTerminal}},
			edges:     []Edge{{From: "A", To: "B"}, {From: "B", To: "T"}, {From: "B", To: "A", LoopBack: true, When: always}},
			entry:     "A",
			terminals: []string{"T"},
			want:      `required port "B" is fed only by the loop-back edge`,
		},
		{
			name:      "second entry point",
			nodes:     []NodeSpec{{Name: "A"}, {Name: "Orphan"}, {Name: "T", Role: RoleTerminal}},
			edges:     []Edge{{From: "A", To: "T"}, {From: "Orphan", To: "T", Port: "o"}},
			entry:     "A",
			terminals: []string{"T"},
			want:      `more than one entry point`,
		},
		{
			name:      "forward edge into entry",
			nodes:     []NodeSpec{{Name: "A"}, {Name: "B"}, {Name: "T", Role: RoleTerminal}},
			edges:     []Edge{{From: "A", To: "B"}, {From: "B", To: "A"}, {From: "B", To: "T"}},
			entry:     "A",
			terminals: []string{"T"},
			want:      `is not the loop-back edge`,
		},
		{
			name:      "cycle without loop-back",
			nodes:     []NodeSpec{{Name: "A"}, {Name: "B"}, {Name: "C"}, {Name: "T", Role: RoleTerminal}},
			edges:     []Edge{{From: "A", To: "B"}, {From: "B", To: "C"}, {From: "C", To: "B", Port: "back"}, {From: "C", To: "T"}},
			entry:     "A",
			terminals: []string{"T"},
			want:      `cycle without a loop-back edge`,
		},
		{
			name:  "two loop-back edges",
			nodes: []NodeSpec{{Name: "A"}, {Name: "B"}, {Name: "T", Role: RoleTerminal}},
			edges: []Edge{
				{From: "A", To: "B"}, {From: "B", To: "T"},
				{From: "B", To: "A", LoopBack: true, When: always},
				{From: "B", To: "B", Port: "self", LoopBack: true, When: always},
			},
			entry:     "A",
			terminals: []string{"T"},
			want:      `more than one loop-back edge`,
		},
		{
			name:  "loop tail unreachable from head",
			nodes: []NodeSpec{{Name: "A"}, {Name: "B"}, {Name: "C"}, {Name: "T", Role: RoleTerminal}},
			edges: []Edge{
				{From: "A", To: "B"}, {From: "A", To: "C"}, {From: "B", To: "T"}, {From: "C", To: "T", Port: "c"},
				{From: "C", To: "B", Port: "loop", LoopBack: true, When: always},
			},
			entry:     "A",
			terminals: []string{"T"},
			want:      `does not return to its loop head`,
		},
		{
			name:  "no terminal",
			nodes: []NodeSpec{{Name: "A"}},
			entry: "A",
			want:  `no terminal node designated`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := Define("bad", tt.nodes, tt.edges, tt.entry, tt.terminals...)
			if g != nil {
				t.Fatal("malformed graph must not be returned")
			}
			var mg *MalformedGraphError
			if !errors.As(err, &mg) {
				t.Fatalf("expected MalformedGraphError, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected problem %q in %v", tt.want, mg.Problems)
			}
		})
	}
}

func TestDefine_CollectsEveryProblem(t *testing.T) {
	_, err := Define("bad",
		[]NodeSpec{{Name: ""}, {Name: "A"}},
		[]Edge{{From: "A", To: "X"}},
		"Z")
	var mg *MalformedGraphError
	if !errors.As(err, &mg) {
		t.Fatalf("expected MalformedGraphError, got %v", err)
	}
	if len(mg.Problems) < 4 {
		t.Errorf("expected every problem to be reported, got %v", mg.Problems)
	}
}

func TestNew_Bindings(t *testing.T) {
	g := designGraph(t)

	t.Run("missing and unknown bindings", func(t *testing.T) {
		b := designBindings()
		delete(b, "Solve")
		b["Ghost"] = b["Gen"]
		_, err := New(g, b, designHistory)

		var mg *MalformedGraphError
		if !errors.As(err, &mg) || len(mg.Problems) != 2 {
			t.Fatalf("expected two problems, got %v", err)
		}
		if !strings.Contains(err.Error(), `node "Solve" has no executable`) ||
			!strings.Contains(err.Error(), `unknown node "Ghost"`) {
			t.Errorf("unexpected problems %v", mg.Problems)
		}
	})

	t.Run("nil graph", func(t *testing.T) {
		_, err := New[record](nil, nil, HistoryPolicy[record]{})
		var ee *EngineError
		if !errors.As(err, &ee) || ee.Code != "MISSING_GRAPH" {
			t.Errorf("expected MISSING_GRAPH, got %v", err)
		}
	})

	t.Run("invalid option", func(t *testing.T) {
		_, err := New(g, designBindings(), designHistory, WithMaxSteps(-1))
		var ee *EngineError
		if !errors.As(err, &ee) || ee.Code != "INVALID_OPTION" {
			t.Errorf("expected INVALID_OPTION, got %v", err)
		}
	})
}

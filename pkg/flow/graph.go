// CLAUDE:SUMMARY Flow graph (Sankey) builder: source sequences feed a central hub, sink sequences drain it; nodes are identified by role, parent and label.
package flow

import (
	"errors"
	"fmt"
	"slices"

	"github.com/hazyhaar/fiscalflow/pkg/aggregate"
	"github.com/hazyhaar/fiscalflow/pkg/fiscal"
	"github.com/shopspring/decimal"
)

// ErrBadSequence is returned for a sequence that cannot be placed in a graph.
var ErrBadSequence = errors.New("invalid flow sequence")

// Role places a node relative to the hub.
type Role int

const (
	Source Role = iota
	Hub
	Sink
)

func (r Role) String() string {
	switch r {
	case Source:
		return "source"
	case Hub:
		return "hub"
	case Sink:
		return "sink"
	}
	return fmt.Sprintf("role(%d)", int(r))
}

// Node is one box in the diagram.
type Node struct {
	ID    int
	Stage int
	Role  Role
	Label string
	// Path holds the labels from the hub outward, ending with Label.
	Path []string
}

// Edge carries Value from Source to Target (node ids).
type Edge struct {
	Source int
	Target int
	Value  decimal.Decimal
}

// nodeKey is a node's identity: two nodes with the same label under
// different parents are different nodes.
type nodeKey struct {
	role   Role
	parent int
	label  string
}

// Graph is a layered flow graph. Build a new one per parameterization.
type Graph struct {
	Nodes []Node
	Edges []Edge

	nodeIndex map[nodeKey]int
	edgeIndex map[[2]int]int
}

func newGraph() *Graph {
	return &Graph{
		nodeIndex: make(map[nodeKey]int),
		edgeIndex: make(map[[2]int]int),
	}
}

// node returns the id for key, creating the node on first use.
func (g *Graph) node(key nodeKey, stage int, path []string) int {
	if id, ok := g.nodeIndex[key]; ok {
		return id
	}
	id := len(g.Nodes)
	g.nodeIndex[key] = id
	g.Nodes = append(g.Nodes, Node{
		ID:    id,
		Stage: stage,
		Role:  key.role,
		Label: key.label,
		Path:  slices.Clone(path),
	})
	return id
}

// edge adds value to the (src, dst) edge, creating it on first use.
func (g *Graph) edge(src, dst int, value decimal.Decimal) {
	k := [2]int{src, dst}
	if i, ok := g.edgeIndex[k]; ok {
		g.Edges[i].Value = g.Edges[i].Value.Add(value)
		return
	}
	g.edgeIndex[k] = len(g.Edges)
	g.Edges = append(g.Edges, Edge{Source: src, Target: dst, Value: value})
}

// Node returns the node with id.
func (g *Graph) Node(id int) (Node, bool) {
	if id < 0 || id >= len(g.Nodes) {
		return Node{}, false
	}
	return g.Nodes[id], true
}

// Lookup finds a node by role and path from the hub outward. An empty path
// with role Hub returns the hub.
func (g *Graph) Lookup(role Role, path ...string) (Node, bool) {
	for _, n := range g.Nodes {
		if n.Role == role && slices.Equal(n.Path, path) {
			return n, true
		}
	}
	return Node{}, false
}

// Inflow sums the edges entering id.
func (g *Graph) Inflow(id int) decimal.Decimal {
	sum := decimal.Zero
	for _, e := range g.Edges {
		if e.Target == id {
			sum = sum.Add(e.Value)
		}
	}
	return sum
}

// Outflow sums the edges leaving id.
func (g *Graph) Outflow(id int) decimal.Decimal {
	sum := decimal.Zero
	for _, e := range g.Edges {
		if e.Source == id {
			sum = sum.Add(e.Value)
		}
	}
	return sum
}

// Throughput is the value shown on a node: its inflow, or its outflow when
// nothing enters it.
func (g *Graph) Throughput(id int) decimal.Decimal {
	for _, e := range g.Edges {
		if e.Target == id {
			return g.Inflow(id)
		}
	}
	return g.Outflow(id)
}

// Hub returns the hub node.
func (g *Graph) Hub() Node {
	n, _ := g.Lookup(Hub)
	return n
}

// Stages returns the number of layers.
func (g *Graph) Stages() int {
	last := -1
	for _, n := range g.Nodes {
		last = max(last, n.Stage)
	}
	return last + 1
}

// Limit restricts a sequence to the top N values of Column before building.
// Rows outside the top are relabelled Sentinel, or dropped when Drop is set.
type Limit struct {
	Column   fiscal.Column
	N        int
	Sentinel string
	Drop     bool
}

// Sequence is one side of the diagram: the dimension path walked from the
// hub outward and the measure carried along it.
type Sequence struct {
	Table   *fiscal.Table
	Path    []fiscal.Column
	Measure fiscal.Column
	Role    Role
	Limit   *Limit
}

// resolve applies the sequence's limit and returns a sequence without one.
func (s Sequence) resolve() (Sequence, error) {
	if s.Limit == nil {
		return s, nil
	}
	var (
		t   *fiscal.Table
		err error
	)
	if s.Limit.Drop {
		t, err = aggregate.KeepTop(s.Table, s.Limit.Column, s.Measure, s.Limit.N)
	} else {
		t, err = aggregate.Collapse(s.Table, s.Limit.Column, s.Measure, s.Limit.N, s.Limit.Sentinel)
	}
	if err != nil {
		return Sequence{}, fmt.Errorf("limit %s: %w", s.Limit.Column, err)
	}
	s.Table = t
	s.Limit = nil
	return s, nil
}

func (s Sequence) validate() error {
	if s.Table == nil {
		return fmt.Errorf("%s sequence without table: %w", s.Role, ErrBadSequence)
	}
	if len(s.Path) == 0 {
		return fmt.Errorf("%s sequence without path: %w", s.Role, ErrBadSequence)
	}
	if s.Role != Source && s.Role != Sink {
		return fmt.Errorf("sequence role %s: %w", s.Role, ErrBadSequence)
	}
	return nil
}

// Build assembles a graph around a hub labelled hub.
//
// For source sequences the values of Path[0] flow into the hub and each
// deeper level flows into its parent. For sink sequences the hub flows into
// the values of Path[0] and each level flows into its children. Edge values
// are the summed measure of the rows under the edge's outer node; repeated
// (source, target) pairs are summed into one edge.
func Build(hub string, seqs ...Sequence) (*Graph, error) {
	resolved := make([]Sequence, 0, len(seqs))
	maxSource := 0
	for _, s := range seqs {
		if err := s.validate(); err != nil {
			return nil, err
		}
		r, err := s.resolve()
		if err != nil {
			return nil, err
		}
		resolved = append(resolved, r)
		if s.Role == Source {
			maxSource = max(maxSource, len(s.Path))
		}
	}

	g := newGraph()
	hubID := g.node(nodeKey{role: Hub, parent: -1, label: hub}, maxSource, nil)

	for _, s := range resolved {
		groups, err := aggregate.Aggregate(s.Table, s.Path, s.Measure)
		if err != nil {
			return nil, fmt.Errorf("%s sequence: %w", s.Role, err)
		}
		for _, grp := range groups {
			parent := hubID
			for depth := 1; depth <= len(grp.Key); depth++ {
				stage := maxSource + depth
				if s.Role == Source {
					stage = maxSource - depth
				}
				id := g.node(nodeKey{role: s.Role, parent: parent, label: grp.Key[depth-1]}, stage, grp.Key[:depth])
				if s.Role == Source {
					g.edge(id, parent, grp.Value())
				} else {
					g.edge(parent, id, grp.Value())
				}
				parent = id
			}
		}
	}
	return g, nil
}

// YearGraph is the graph built for a single fiscal year.
type YearGraph struct {
	Year  int
	Graph *Graph
}

// BuildByYear builds one graph per year. Sequence limits are resolved once on
// the full tables, so the same top-N categories appear in every year.
func BuildByYear(hub string, years []int, seqs ...Sequence) ([]YearGraph, error) {
	resolved := make([]Sequence, 0, len(seqs))
	for _, s := range seqs {
		if err := s.validate(); err != nil {
			return nil, err
		}
		r, err := s.resolve()
		if err != nil {
			return nil, err
		}
		resolved = append(resolved, r)
	}

	out := make([]YearGraph, 0, len(years))
	for _, y := range years {
		perYear := make([]Sequence, len(resolved))
		for i, s := range resolved {
			s.Table = fiscal.FilterYears(s.Table, []int{y})
			perYear[i] = s
		}
		g, err := Build(hub, perYear...)
		if err != nil {
			return nil, fmt.Errorf("year %d: %w", y, err)
		}
		out = append(out, YearGraph{Year: y, Graph: g})
	}
	return out, nil
}

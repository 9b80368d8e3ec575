package mission

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/randalmurphal/mission/pkg/mission/expr"
)

// NodeID is a handle to a vertex of a loaded Graph.
type NodeID int

// NoNode is returned for missing vertices.
const NoNode NodeID = -1

// vertex is one resolved node. Reference sites get their own vertex of kind
// KindReference pointing at the shared target, so every site shares the
// target's identity and run state while keeping its own parameter values.
type vertex struct {
	id          NodeID
	name        string
	kind        Kind
	impl        Impl
	node        *Node
	target      NodeID
	children    []NodeID
	referenceID string
	paramValues []expr.KeyValue
	overrides   []expr.KeyValue
	parameters  []expr.VariableDeclaration
}

// Graph is an immutable, validated mission tree. One Graph can back any
// number of Mission instances.
type Graph struct {
	name     string
	vertices []vertex
	root     NodeID
	refs     map[string]NodeID
	logger   *slog.Logger
}

// Load resolves references in tree, validates it and builds a Graph.
// Nothing is executed. Every problem found is reported; the errors are
// joined and no partial graph is returned.
//
// Validation checks:
//  1. Every node has exactly one of impl and node_reference
//  2. Reference ids are unique
//  3. Every node_reference resolves
//  4. References do not form cycles
//  5. Composites have children; counts and durations are usable
//  6. Overrides name real fields
//  7. Every parameter used is declared or bound
func Load(tree Tree, opts ...LoadOption) (*Graph, error) {
	cfg := defaultLoadConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	if tree.Root == nil {
		return nil, fmt.Errorf("%w: tree has no root", ErrInvalidNode)
	}

	b := &builder{
		index: make(map[string]*Node),
		ids:   make(map[*Node]NodeID),
		state: make(map[*Node]visitState),
		g: &Graph{
			name:   tree.Name,
			refs:   make(map[string]NodeID),
			logger: cfg.logger,
		},
	}

	b.indexTree(tree.Root)
	for _, n := range tree.Shared {
		b.indexTree(n)
	}
	if len(b.errs) > 0 {
		return nil, errors.Join(b.errs...)
	}

	b.g.root = b.build(tree.Root)
	for _, n := range tree.Shared {
		b.build(n)
	}
	if len(b.errs) > 0 {
		return nil, errors.Join(b.errs...)
	}

	if err := b.g.validate(cfg); err != nil {
		return nil, err
	}

	b.g.warnUnreachable()
	return b.g, nil
}

type visitState int

const (
	unvisited visitState = iota
	inProgress
	done
)

type builder struct {
	g     *Graph
	index map[string]*Node
	ids   map[*Node]NodeID
	state map[*Node]visitState
	errs  []error
}

func (b *builder) fail(n *Node, kind Kind, op string, err error) {
	b.errs = append(b.errs, &NodeError{Node: n.label(), Kind: kind, Op: op, Err: err})
}

// indexTree records reference ids and structural errors without following references.
func (b *builder) indexTree(n *Node) {
	if n == nil {
		return
	}
	switch {
	case n.Impl != nil && n.NodeReference != "":
		b.fail(n, n.Impl.Kind(), "load", fmt.Errorf("%w: node has both impl and node_reference", ErrInvalidNode))
	case n.Impl == nil && n.NodeReference == "":
		b.fail(n, "", "load", fmt.Errorf("%w: node has neither impl nor node_reference", ErrInvalidNode))
	}

	if n.ReferenceID != "" {
		if prev, ok := b.index[n.ReferenceID]; ok && prev != n {
			b.fail(n, "", "load", fmt.Errorf("%w: %q", ErrDuplicateReference, n.ReferenceID))
		} else {
			b.index[n.ReferenceID] = n
		}
	}

	if n.Impl == nil {
		return
	}
	slots, _ := childSlots(n.Impl)
	for _, c := range slots {
		b.indexTree(c)
	}
}

// build creates the vertex for n and its subtree. Nodes carrying a reference
// id are built once; reaching one again while it is still being built means
// the references form a cycle.
func (b *builder) build(n *Node) NodeID {
	if n == nil {
		return NoNode
	}
	if n.ReferenceID != "" {
		switch b.state[n] {
		case done:
			return b.ids[n]
		case inProgress:
			b.fail(n, "", "load", fmt.Errorf("%w: through %q", ErrCyclicReference, n.ReferenceID))
			return NoNode
		}
		b.state[n] = inProgress
		defer func() { b.state[n] = done }()
	}

	if n.NodeReference != "" {
		target, ok := b.index[n.NodeReference]
		if !ok {
			b.fail(n, KindReference, "load", fmt.Errorf("%w: %q", ErrUnresolvedReference, n.NodeReference))
			return NoNode
		}
		id := b.add(vertex{
			name:        n.label(),
			kind:        KindReference,
			node:        n,
			referenceID: n.ReferenceID,
			paramValues: n.ParameterValues,
			overrides:   n.Overrides,
			parameters:  n.Parameters,
		})
		b.remember(n, id)
		t := b.build(target)
		b.g.vertices[id].target = t
		if t != NoNode {
			b.g.vertices[id].children = []NodeID{t}
		}
		return id
	}

	if n.Impl == nil {
		return NoNode
	}

	id := b.add(vertex{
		name:        n.label(),
		kind:        n.Impl.Kind(),
		impl:        n.Impl,
		node:        n,
		target:      NoNode,
		referenceID: n.ReferenceID,
		paramValues: n.ParameterValues,
		overrides:   n.Overrides,
		parameters:  n.Parameters,
	})
	b.remember(n, id)

	slots, err := childSlots(n.Impl)
	if err != nil {
		b.fail(n, n.Impl.Kind(), "load", err)
	}
	children := make([]NodeID, 0, len(slots))
	for _, c := range slots {
		if c == nil {
			continue
		}
		children = append(children, b.build(c))
	}
	b.g.vertices[id].children = children
	return id
}

func (b *builder) add(v vertex) NodeID {
	v.id = NodeID(len(b.g.vertices))
	b.g.vertices = append(b.g.vertices, v)
	return v.id
}

func (b *builder) remember(n *Node, id NodeID) {
	if n.ReferenceID == "" {
		return
	}
	b.ids[n] = id
	b.g.refs[n.ReferenceID] = id
}

// childSlots returns an impl's child links in tick order. Optional slots
// that are unset are returned as nil. A missing required child is reported
// as ErrEmptyComposite.
func childSlots(impl Impl) ([]*Node, error) {
	switch im := impl.(type) {
	case *Sequence:
		if len(im.Children) == 0 {
			return nil, ErrEmptyComposite
		}
		return im.Children, nil
	case *Selector:
		if len(im.Children) == 0 {
			return nil, ErrEmptyComposite
		}
		return im.Children, nil
	case *Repeat:
		return required(im.Child)
	case *Retry:
		return required(im.Child)
	case *ForDuration:
		if im.Child == nil {
			return nil, ErrEmptyComposite
		}
		return []*Node{im.Child, im.TimeoutChild}, nil
	case *SimpleParallel:
		if im.Primary == nil || im.Secondary == nil {
			return []*Node{im.Primary, im.Secondary}, fmt.Errorf("%w: simple parallel needs primary and secondary", ErrEmptyComposite)
		}
		return []*Node{im.Primary, im.Secondary}, nil
	case *BosdynRobotState:
		return required(im.Child)
	case *BosdynGraphNavState:
		return required(im.Child)
	case *Prompt:
		return required(im.Child)
	case *DefineBlackboard:
		return required(im.Child)
	}
	return nil, nil
}

func required(child *Node) ([]*Node, error) {
	if child == nil {
		return nil, ErrEmptyComposite
	}
	return []*Node{child}, nil
}

// warnUnreachable logs shared nodes that the root never reaches.
func (g *Graph) warnUnreachable() {
	reachable := make(map[NodeID]bool)
	var walk func(NodeID)
	walk = func(id NodeID) {
		if id == NoNode || reachable[id] {
			return
		}
		reachable[id] = true
		for _, c := range g.vertices[id].children {
			walk(c)
		}
	}
	walk(g.root)
	for ref, id := range g.refs {
		if !reachable[id] {
			g.logger.Warn("shared node is unreachable from root", slog.String("reference_id", ref))
		}
	}
}

// Name returns the tree name the graph was loaded from.
func (g *Graph) Name() string { return g.name }

// Root returns the root vertex.
func (g *Graph) Root() NodeID { return g.root }

// Len returns the number of vertices, including reference sites.
func (g *Graph) Len() int { return len(g.vertices) }

func (g *Graph) valid(id NodeID) bool {
	return id >= 0 && int(id) < len(g.vertices)
}

// NodeName returns the label of a vertex.
func (g *Graph) NodeName(id NodeID) string {
	if !g.valid(id) {
		return ""
	}
	return g.vertices[id].name
}

// Kind returns the kind of a vertex.
func (g *Graph) Kind(id NodeID) Kind {
	if !g.valid(id) {
		return ""
	}
	return g.vertices[id].kind
}

// Children returns the child vertices of id in tick order. A reference site
// has its target as sole child.
func (g *Graph) Children(id NodeID) []NodeID {
	if !g.valid(id) {
		return nil
	}
	return append([]NodeID(nil), g.vertices[id].children...)
}

// Resolve follows reference sites to the vertex that owns the run state.
func (g *Graph) Resolve(id NodeID) NodeID {
	for g.valid(id) && g.vertices[id].kind == KindReference {
		id = g.vertices[id].target
	}
	return id
}

// Lookup returns the vertex holding reference id ref.
func (g *Graph) Lookup(ref string) (NodeID, bool) {
	id, ok := g.refs[ref]
	return id, ok
}

// ReferenceIDs returns every reference id, sorted.
func (g *Graph) ReferenceIDs() []string {
	ids := make([]string, 0, len(g.refs))
	for ref := range g.refs {
		ids = append(ids, ref)
	}
	sort.Strings(ids)
	return ids
}

// Parameters returns the parameters the root declares. They must be
// supplied with WithParameterValues.
func (g *Graph) Parameters() []expr.VariableDeclaration {
	return append([]expr.VariableDeclaration(nil), g.vertices[g.root].parameters...)
}

// Kinds returns the distinct impl kinds used by the graph, sorted.
func (g *Graph) Kinds() []Kind {
	seen := make(map[Kind]bool)
	for _, v := range g.vertices {
		if v.kind != KindReference {
			seen[v.kind] = true
		}
	}
	kinds := make([]Kind, 0, len(seen))
	for k := range seen {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

package mission

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/mission/pkg/mission/expr"
)

// TestLoad_Structure tests arena construction and introspection.
func TestLoad_Structure(t *testing.T) {
	tree := Tree{
		Name: "patrol",
		Root: sequence("root",
			constant(ResultSuccess),
			sleep("wait", 1),
		),
	}

	g, err := Load(tree, WithLoadLogger(nil))
	require.NoError(t, err)

	assert.Equal(t, "patrol", g.Name())
	assert.Equal(t, 3, g.Len())
	assert.Equal(t, KindSequence, g.Kind(g.Root()))
	assert.Equal(t, "root", g.NodeName(g.Root()))

	children := g.Children(g.Root())
	require.Len(t, children, 2)
	assert.Equal(t, KindConstantResult, g.Kind(children[0]))
	assert.Equal(t, "wait", g.NodeName(children[1]))
	assert.Equal(t, []Kind{KindConstantResult, KindSequence, KindSleep}, g.Kinds())

	assert.Equal(t, "", g.NodeName(NodeID(99)))
	assert.Nil(t, g.Children(NoNode))
}

// TestLoad_SharedReference tests that every reference site resolves to the same vertex.
func TestLoad_SharedReference(t *testing.T) {
	shared := node("look", &Repeat{MaxStarts: 2, Child: constant(ResultSuccess)})
	shared.ReferenceID = "look-around"

	tree := Tree{
		Root: node("par", &SimpleParallel{
			Primary:   ref("first", "look-around"),
			Secondary: ref("second", "look-around"),
		}),
		Shared: []*Node{shared},
	}

	g := mustLoad(t, tree)

	sites := g.Children(g.Root())
	require.Len(t, sites, 2)
	assert.Equal(t, KindReference, g.Kind(sites[0]))
	assert.Equal(t, KindReference, g.Kind(sites[1]))
	assert.NotEqual(t, sites[0], sites[1])
	assert.Equal(t, g.Resolve(sites[0]), g.Resolve(sites[1]))

	id, ok := g.Lookup("look-around")
	require.True(t, ok)
	assert.Equal(t, id, g.Resolve(sites[0]))
	assert.Equal(t, []string{"look-around"}, g.ReferenceIDs())
}

// TestLoad_InlineReferenceTarget tests referencing a node defined inside the root tree.
func TestLoad_InlineReferenceTarget(t *testing.T) {
	inline := sleep("nap", 1)
	inline.ReferenceID = "nap"

	g := mustLoad(t, Tree{Root: sequence("root", inline, ref("again", "nap"))})

	children := g.Children(g.Root())
	require.Len(t, children, 2)
	assert.Equal(t, children[0], g.Resolve(children[1]))
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		tree func() Tree
		want error
	}{
		{
			name: "nil root",
			tree: func() Tree { return Tree{} },
			want: ErrInvalidNode,
		},
		{
			name: "unresolved reference",
			tree: func() Tree { return Tree{Root: sequence("root", ref("missing", "nowhere"))} },
			want: ErrUnresolvedReference,
		},
		{
			name: "duplicate reference id",
			tree: func() Tree {
				a, b := constant(ResultSuccess), constant(ResultFailure)
				a.ReferenceID, b.ReferenceID = "dup", "dup"
				return Tree{Root: sequence("root", a, b)}
			},
			want: ErrDuplicateReference,
		},
		{
			name: "cycle through two shared nodes",
			tree: func() Tree {
				a := sequence("a", ref("to-b", "b"))
				a.ReferenceID = "a"
				b := sequence("b", ref("to-a", "a"))
				b.ReferenceID = "b"
				return Tree{Root: ref("start", "a"), Shared: []*Node{a, b}}
			},
			want: ErrCyclicReference,
		},
		{
			name: "self reference",
			tree: func() Tree {
				loop := node("loop", &Repeat{MaxStarts: 2, Child: ref("again", "loop")})
				loop.ReferenceID = "loop"
				return Tree{Root: loop}
			},
			want: ErrCyclicReference,
		},
		{
			name: "impl and reference",
			tree: func() Tree {
				n := constant(ResultSuccess)
				n.NodeReference = "x"
				return Tree{Root: n}
			},
			want: ErrInvalidNode,
		},
		{
			name: "neither impl nor reference",
			tree: func() Tree { return Tree{Root: &Node{Name: "empty"}} },
			want: ErrInvalidNode,
		},
		{
			name: "empty sequence",
			tree: func() Tree { return Tree{Root: sequence("root")} },
			want: ErrEmptyComposite,
		},
		{
			name: "parallel without secondary",
			tree: func() Tree {
				return Tree{Root: node("par", &SimpleParallel{Primary: constant(ResultSuccess)})}
			},
			want: ErrEmptyComposite,
		},
		{
			name: "repeat without child",
			tree: func() Tree { return Tree{Root: node("r", &Repeat{MaxStarts: 1})} },
			want: ErrEmptyComposite,
		},
		{
			name: "define blackboard without child",
			tree: func() Tree { return Tree{Root: node("d", &DefineBlackboard{})} },
			want: ErrEmptyComposite,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := Load(tt.tree(), WithLoadLogger(nil))
			assert.Nil(t, g)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

// TestLoad_CollectsAllErrors tests that problems in separate nodes are all reported.
func TestLoad_CollectsAllErrors(t *testing.T) {
	tree := Tree{Root: sequence("root",
		ref("a", "missing-a"),
		ref("b", "missing-b"),
		node("bad repeat", &Repeat{MaxStarts: 1}),
	)}

	_, err := Load(tree, WithLoadLogger(nil))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnresolvedReference)
	assert.ErrorIs(t, err, ErrEmptyComposite)
	assert.Contains(t, err.Error(), "missing-a")
	assert.Contains(t, err.Error(), "missing-b")

	var nodeErr *NodeError
	require.True(t, errors.As(err, &nodeErr))
	assert.Equal(t, "load", nodeErr.Op)
}

func TestGraph_Parameters(t *testing.T) {
	root := sequence("root", condition("check", expr.Param("limit", expr.TypeInt), expr.OpGT, expr.Const(expr.Int(1))))
	root.Parameters = []expr.VariableDeclaration{{Name: "limit", Type: expr.TypeInt}}

	g := mustLoad(t, Tree{Root: root})
	assert.Equal(t, []expr.VariableDeclaration{{Name: "limit", Type: expr.TypeInt}}, g.Parameters())
}

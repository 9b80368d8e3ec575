package blackboard

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/mission/pkg/mission/expr"
)

func TestBlackboard_ScopeVisibility(t *testing.T) {
	root := New(map[string]expr.Constant{"mode": expr.String("patrol")})
	child := root.Push("define", map[string]expr.Constant{"x": expr.Int(1)})

	got, err := child.Get("x")
	require.NoError(t, err)
	assert.True(t, got.Equal(expr.Int(1)))

	got, err = child.Get("mode")
	require.NoError(t, err)
	assert.True(t, got.Equal(expr.String("patrol")))

	_, err = root.Get("x")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, child.Pop())
	_, err = child.Get("x")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.True(t, child.Closed())
}

func TestBlackboard_MessageFields(t *testing.T) {
	root := New(map[string]expr.Constant{
		"mode":       expr.String("patrol"),
		"arm.joints": expr.Int(6),
	})
	child := root.Push("state", map[string]expr.Constant{
		"state": expr.Message(map[string]any{
			"battery": 72.5,
			"pose":    map[string]any{"x": 1.5, "frame": "odom"},
		}),
	})

	tests := []struct {
		name string
		key  string
		want expr.Constant
	}{
		{name: "top level field", key: "state.battery", want: expr.Float(72.5)},
		{name: "nested field", key: "state.pose.frame", want: expr.String("odom")},
		{name: "nested message", key: "state.pose", want: expr.Message(map[string]any{"x": 1.5, "frame": "odom"})},
		{name: "literal dotted name wins", key: "arm.joints", want: expr.Int(6)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := child.Get(tt.key)
			require.NoError(t, err)
			assert.True(t, got.Equal(tt.want), "got %v", got)
		})
	}

	for _, key := range []string{"state.voltage", "state.pose.x.y", "mode.length", "ghost.field"} {
		_, err := child.Get(key)
		assert.ErrorIs(t, err, ErrNotFound, key)
	}

	_, err := root.Get("state.battery")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBlackboard_SetNeverCreates(t *testing.T) {
	root := New(nil)
	err := root.Set("missing", expr.Int(1))
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, root.Snapshot())
}

func TestBlackboard_SetMutatesNearestDefiningScope(t *testing.T) {
	root := New(map[string]expr.Constant{"x": expr.Int(0), "y": expr.Int(0)})
	inner := root.Push("inner", map[string]expr.Constant{"x": expr.Int(10)})

	require.NoError(t, inner.Set("x", expr.Int(11)))
	require.NoError(t, inner.Set("y", expr.Int(5)))

	x, _ := root.Get("x")
	assert.True(t, x.Equal(expr.Int(0)), "outer x is shadowed, not written")
	y, _ := root.Get("y")
	assert.True(t, y.Equal(expr.Int(5)))
	x, _ = inner.Get("x")
	assert.True(t, x.Equal(expr.Int(11)))
}

func TestBlackboard_SiblingIsolation(t *testing.T) {
	root := New(nil)
	left := root.Push("primary", map[string]expr.Constant{"a": expr.Int(1)})
	right := root.Push("secondary", map[string]expr.Constant{"b": expr.Int(2)})

	_, err := left.Get("b")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = right.Get("a")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBlackboard_Pop(t *testing.T) {
	root := New(nil)
	assert.ErrorIs(t, root.Pop(), ErrRootScope)

	child := root.Push("c", nil)
	assert.Equal(t, 1, child.Depth())
	assert.Equal(t, "c", child.Owner())
	assert.Same(t, root, child.Parent())
	require.NoError(t, child.Pop())
	assert.ErrorIs(t, child.Pop(), ErrScopeClosed)
	assert.ErrorIs(t, child.Define("z", expr.Int(1)), ErrScopeClosed)
}

func TestBlackboard_SnapshotShadowing(t *testing.T) {
	root := New(map[string]expr.Constant{"x": expr.Int(1), "y": expr.Int(2)})
	inner := root.Push("inner", map[string]expr.Constant{"x": expr.Int(3)})
	require.NoError(t, inner.Define("z", expr.Bool(true)))

	snap := inner.Snapshot()
	assert.Len(t, snap, 3)
	assert.True(t, snap["x"].Equal(expr.Int(3)))
	assert.Equal(t, []string{"x", "y", "z"}, inner.Names())
}

func TestBlackboard_NewCopiesInput(t *testing.T) {
	vars := map[string]expr.Constant{"x": expr.Int(1)}
	b := New(vars)
	vars["x"] = expr.Int(2)
	got, _ := b.Get("x")
	assert.True(t, got.Equal(expr.Int(1)))
}

func TestBlackboard_ConcurrentReaders(t *testing.T) {
	root := New(map[string]expr.Constant{"n": expr.Int(0)})
	scope := root.Push("s", nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = root.Snapshot()
				_, _ = scope.Get("n")
			}
		}()
	}
	for j := 0; j < 100; j++ {
		require.NoError(t, scope.Set("n", expr.Int(int64(j))))
	}
	wg.Wait()
}

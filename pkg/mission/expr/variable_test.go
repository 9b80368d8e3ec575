package expr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValue_Resolve(t *testing.T) {
	r := MapResolver{
		Variables: map[string]Constant{"battery": Int(80)},
		Params:    map[string]Constant{"speed": String("0.5")},
	}

	c, err := Const(Bool(true)).Resolve(nil)
	require.NoError(t, err)
	assert.True(t, c.Equal(Bool(true)))

	c, err = RuntimeVar("battery", TypeFloat).Resolve(r)
	require.NoError(t, err)
	assert.True(t, c.Equal(Float(80)))

	c, err = Param("speed", TypeFloat).Resolve(r)
	require.NoError(t, err)
	assert.True(t, c.Equal(Float(0.5)))

	c, err = RuntimeVar("battery", TypeUnknown).Resolve(r)
	require.NoError(t, err)
	assert.True(t, c.Equal(Int(80)))
}

func TestValue_ResolveErrors(t *testing.T) {
	r := MapResolver{Params: map[string]Constant{"name": String("dock")}}

	_, err := RuntimeVar("missing", TypeInt).Resolve(r)
	assert.ErrorIs(t, err, ErrUnbound)

	_, err = Param("name", TypeInt).Resolve(r)
	assert.ErrorIs(t, err, ErrTypeMismatch)

	_, err = Param("name", TypeString).Resolve(nil)
	assert.ErrorIs(t, err, ErrNoResolver)
}

func TestParameters(t *testing.T) {
	names := Parameters(
		Param("a", TypeInt),
		Const(Int(1)),
		RuntimeVar("b", TypeInt),
		Param("c", TypeInt),
		Param("a", TypeInt),
	)
	assert.Equal(t, []string{"a", "c"}, names)
}

func TestValue_String(t *testing.T) {
	assert.Equal(t, "var:x", RuntimeVar("x", TypeInt).String())
	assert.Equal(t, "param:y", Param("y", TypeInt).String())
	assert.Equal(t, "2", Const(Int(2)).String())
	assert.True(t, Value{}.IsZero())
}

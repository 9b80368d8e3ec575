/*
Package expr is the value model shared by mission nodes, the blackboard and the
parameter binder.

# Constants

A Constant is a typed literal: float, string, int, bool or message (a
map[string]any, used for service responses such as robot state).

	c := expr.Float(1.5)
	n, _ := c.Convert(expr.TypeInt) // error: 1.5 is not integral

# Values

A Value is something that produces a Constant when resolved:

  - a constant literal
  - a runtime variable, looked up on the blackboard
  - a parameter, looked up in the caller-supplied bindings

Resolution is lazy. Values are resolved against a Resolver every time a node
needs them, so blackboard changes made by earlier nodes are visible to later
ones.

	v := expr.RuntimeVar("battery", expr.TypeFloat)
	c, err := v.Resolve(resolver)

# Comparisons

Compare implements the Condition node's operators:

	ok, err := expr.Compare(expr.OpGE, battery, expr.Float(0.2))

Ints and floats compare numerically. Strings compare lexically. Bools and
messages support only equality. Operands of other mismatched types are
converted to the type of the left-hand side, failing with ErrTypeMismatch when
that is not possible.
*/
package expr

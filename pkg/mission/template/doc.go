/*
Package template expands ${name} placeholders in prompt text.

# Basic Usage

Values come from a Lookup, usually the blackboard scope of the node being
ticked:

	exp := template.NewExpander(template.WithMissingAction(template.MissingError))
	text, err := exp.Expand("Battery at ${battery}%. Continue?", lookup)

MapLookup adapts a plain map:

	text, _ := template.NewExpander().Expand("Go to ${dock}", template.MapLookup(map[string]any{"dock": "A3"}))
	// text: "Go to A3"

# Placeholder Styles

  - ${name} is always expanded
  - $name is expanded only with WithDollarStyle(true)

Names may contain dots, so ${state.battery_percentage} reads a field of a
message variable.

# Missing Variables

WithMissingAction picks what happens to a placeholder with no value:

  - MissingKeep leaves it in place (the default)
  - MissingEmpty replaces it with an empty string
  - MissingError leaves it and returns an *UndefinedVariableError

Names lists the placeholders of a string without expanding it.
*/
package template

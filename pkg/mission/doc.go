/*
Package mission loads and runs robot missions expressed as behavior trees.

# Overview

A mission is a tree of control-flow and action nodes. The engine ticks the
root at a fixed period; each tick walks the active path, and every node
answers RUNNING, SUCCESS or FAILURE. Action nodes talk to slow services
(robot commands, navigation, remote missions, human prompts) through
two-phase adapters, so a tick never waits on I/O.

The package is organised in three stages:
  - Load resolves node_reference links, rejects cycles and validates fields
    and parameters, producing an immutable Graph
  - NewMission binds a Graph to adapters, root parameters and observability
  - Tick or Run drives the tree

# Basic Usage

	tree := mission.Tree{
	    Name: "dock",
	    Root: &mission.Node{Name: "go home", Impl: &mission.Sequence{
	        Children: []*mission.Node{
	            {Name: "power on", Impl: &mission.BosdynPowerRequest{Request: "REQUEST_ON"}},
	            {Name: "drive", Impl: &mission.BosdynNavigateTo{DestinationWaypointID: "w-dock"}},
	        },
	    }},
	}

	g, err := mission.Load(tree)
	if err != nil {
	    log.Fatal(err)
	}

	m, err := mission.NewMission(g, mission.WithAdapters(robot.Adapters()))
	if err != nil {
	    log.Fatal(err)
	}

	res, err := m.Run(ctx, mission.WithTickPeriod(100*time.Millisecond))

Documents are usually decoded with the codec package rather than built by
hand.

# Shared Nodes

A node with a reference_id can be used from anywhere with node_reference.
Every reference site is the same node: it has one identity and one run
state. Ticking a shared Repeat from both branches of a SimpleParallel
advances the same counter twice per cycle.

Reference sites may bind parameters for the shared node with
parameter_values. Overrides are not allowed on a reference site; put them on
the shared node itself.

# Parameters and Overrides

A node declares the parameters it expects with parameters and binds values
for everything below it with parameter_values. A bound value may be a
constant, a blackboard variable or another parameter, and is resolved when
it is read.

Overrides rewrite impl fields, addressed by wire name, each time a node is
entered:

	overrides:
	  - key: seconds
	    value: {parameter: {name: wait, type: float}}
	  - key: travel_params.max_speed
	    value: 0.5

Load checks that every parameter used is declared or bound and that every
override names a real field. The root's declarations are supplied with
WithParameterValues.

# Blackboard

Variables live in scopes that follow the execution path. DefineBlackboard
pushes a scope for its child and pops it when the child finishes;
SetBlackboard only writes variables that already exist. Once a run is over,
Lookup and Snapshot read the root scope; while the run is active they return
ErrMissionActive.

# Stopping

When a composite resets while a child is RUNNING (a Sequence failing early,
a ForDuration timing out, a SimpleParallel whose primary finished) the child
is stopped: its running descendants are stopped, outstanding adapter
operations are cancelled and its scopes popped.

# Error Handling

Load errors are fatal and joined; nothing is returned until the whole tree
is valid:

	g, err := mission.Load(tree)
	if errors.Is(err, mission.ErrCyclicReference) {
	    // references loop back on themselves
	}

Tick-time problems never abort a run. A missing variable, an unbound
parameter or a failed adapter call turns that node's tick into FAILURE, is
logged and is kept as LastError. Cancelling the context passed to Run or
Tick stops the tree and returns a *CancellationError.

# Observability

	m, err := mission.NewMission(g,
	    mission.WithLogger(logger),
	    mission.WithMetrics(true),
	    mission.WithTracing(true),
	    mission.WithHistory(store),
	)

Metrics and spans use the global OpenTelemetry providers. History records
every finished run with its final blackboard.
*/
package mission

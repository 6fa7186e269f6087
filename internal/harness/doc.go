// Package harness runs ghjkfile scenarios end to end.
//
// A scenario embeds a ghjkfile, a flow of task executions and env cooks,
// and assertions over the resulting trace. Each scenario compiles its
// ghjkfile, installs into a fresh data directory backed by an in-memory
// Install DB, and records every task run and cooked env in order.
//
// # Scenario Format
//
//	name: scenario_name
//	description: "What this scenario validates"
//	ghjkfile: |
//	  envs: main: vars: GREETING: "hello"
//	  tasks: hi: cmd: ["sh", "-c", "echo $GREETING"]
//	flow:
//	  - exec: hi
//	    expect:
//	      stdout: "hello\n"
//	  - cook: main
//	assertions:
//	  - type: trace_contains
//	    task: hi
//	  - type: final_env
//	    env: main
//	    expect: { GREETING: hello }
//
// # Assertion Types
//
//   - trace_contains: the task ran at least once
//   - trace_order: the tasks first ran in the given order
//   - trace_count: the task ran exactly N times
//   - final_env: the last cook of the env exported the given vars
//
// Traces are compared against golden files with RunWithGolden.
package harness

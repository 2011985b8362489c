// Package harness runs kernel scenarios: scripted system calls issued as
// given processes, followed by assertions on the resulting kernel state.
//
// The harness plays the hart. Before each step it acquires the named
// process (SUSPENDED/READY -> RUNNING) unless it is already running, traps
// into the kernel, and releases the process again when the call yields or
// blocks. Nothing is scheduled by time; steps run in file order.
//
// # Scenario Format
//
//	name: derive_memory
//	description: "Bump allocation from a memory capability"
//	board:
//	  procs: 2
//	  quanta: 4
//	  memory: [{begin: 0, end: 100}]
//	flow:
//	  - pid: 0
//	    call: derive_cap
//	    args: [1, 4]
//	    cap: {type: memory, begin: 0, end: 50}
//	    expect: {status: OK}
//	  - hold: 1            # the harness holds pid 1 as another supervisor
//	  - unhold: 1
//	  - pid: 1
//	    release: true      # switch pid 1 out
//	  - pid: 1
//	    fault: {cause: 2}  # raise an exception instead of a system call
//	assertions:
//	  - {type: cap, pid: 0, slot: 1, cap: {type: memory, begin: 0, end: 100, free: 50}}
//	  - {type: empty, pid: 0, slot: 5}
//	  - {type: state, pid: 1, state: HALTED}
//	  - {type: schedule, hart: 0, quantum: 2, pid: 0, depth: 0}
//	  - {type: reg, pid: 0, reg: a1, value: 4}
//	  - {type: status, pid: 0, call: derive_cap, status: OK, count: 1}
//
// The board is decoded exactly like a board file. Argument words are
// integers or names: "none" for no slot, register names, invoke operation
// names and rwx masks. A cap on a step is appended to its arguments as
// two words.
//
// # Determinism
//
// Every scenario boots a fresh kernel on a manual clock that never moves
// and records its syscalls through the audit log into an in-memory SQLite
// store under a fixed run id. The trace is read back from the store, so
// the same scenario always produces the same trace for golden comparison.
package harness

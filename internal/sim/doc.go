// Package sim runs user programs on the kernel without hardware.
//
// Every process with a program gets a goroutine. A hart and the goroutine
// of the process it dispatched pass a baton back and forth over channels:
// the goroutine runs user code until it traps (a system call, a fault, a
// stretch of computation), hands the trap to the hart, and waits to be
// handed back. Whichever side holds the baton owns the process's
// registers. Preemption happens at trap boundaries, when the hart finds
// the programmed timeout has passed. A blocking receive parks the
// goroutine until some later dispatch hands the baton back.
//
// Time is simulated by default: with a virtual clock the harts jump from
// one quantum boundary to the next and computation advances the clock
// directly.
package sim

package abi

import (
	"fmt"
	"strings"
)

// Reg indexes a process's saved register file.
type Reg int

// Index 0 is the program counter, 1..31 are x1..x31, followed by the trap
// and exception shadow registers.
const (
	PC Reg = iota
	RA
	SP
	GP
	TP
	T0
	T1
	T2
	S0
	S1
	A0
	A1
	A2
	A3
	A4
	A5
	A6
	A7
	S2
	S3
	S4
	S5
	S6
	S7
	S8
	S9
	S10
	S11
	T3
	T4
	T5
	T6
	TPC    // trap handler entry
	TSP    // trap handler stack
	EPC    // pc at last exception
	ESP    // sp at last exception
	ECAUSE // mcause of last exception
	EVAL   // mtval of last exception

	NumRegs
)

var regNames = [...]string{
	"pc", "ra", "sp", "gp", "tp", "t0", "t1", "t2", "s0", "s1",
	"a0", "a1", "a2", "a3", "a4", "a5", "a6", "a7",
	"s2", "s3", "s4", "s5", "s6", "s7", "s8", "s9", "s10", "s11",
	"t3", "t4", "t5", "t6",
	"tpc", "tsp", "epc", "esp", "ecause", "eval",
}

func (r Reg) String() string {
	if r >= 0 && r < NumRegs {
		return regNames[r]
	}
	return fmt.Sprintf("reg(%d)", int(r))
}

// ParseReg accepts an ABI register name such as "a0" or "epc".
func ParseReg(s string) (Reg, error) {
	s = strings.ToLower(s)
	for i, name := range regNames {
		if name == s {
			return Reg(i), nil
		}
	}
	return 0, fmt.Errorf("unknown register %q", s)
}

// Arg returns the register holding argument n (a0..a7).
func Arg(n int) Reg {
	return A0 + Reg(n)
}

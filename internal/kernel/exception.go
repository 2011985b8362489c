package kernel

import (
	"context"

	"github.com/roach88/s3k/internal/abi"
	"github.com/roach88/s3k/internal/proc"
)

// Exception handles a synchronous fault other than ecall. A process that
// installed a trap handler (tpc != 0) continues there with the faulting
// pc, sp, cause and value saved; anything else is halted.
func (k *Kernel) Exception(ctx context.Context, hart int, p *proc.Process, cause, tval uint64) Action {
	if tpc := p.Reg(abi.TPC); tpc != 0 {
		p.SetReg(abi.EPC, p.Reg(abi.PC))
		p.SetReg(abi.ESP, p.Reg(abi.SP))
		p.SetReg(abi.ECAUSE, cause)
		p.SetReg(abi.EVAL, tval)
		p.SetReg(abi.PC, tpc)
		p.SetReg(abi.SP, p.Reg(abi.TSP))
		k.logger.Debug("exception redirected", "hart", hart, "pid", p.PID, "cause", cause, "tval", tval)
		return Continue
	}
	p.RequestHalt()
	k.logger.InfoContext(ctx, "process halted on exception",
		"hart", hart, "pid", p.PID, "cause", cause, "tval", tval, "pc", p.Reg(abi.PC))
	return Yield
}

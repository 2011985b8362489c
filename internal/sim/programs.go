package sim

import (
	"fmt"
	"sort"

	"github.com/roach88/s3k/internal/abi"
	"github.com/roach88/s3k/internal/capability"
	"github.com/roach88/s3k/internal/config"
	"github.com/roach88/s3k/internal/ipc"
	"github.com/roach88/s3k/internal/proc"
)

// Slots the monitor fills in every child's table.
const (
	SlotTime  = 0
	SlotMem   = 1
	SlotPMP   = 2
	SlotRecv  = 3
	SlotSend  = 4
	SlotInbox = 5

	childSlots = 6
)

// child is the monitor's plan for one other process.
type child struct {
	pid     int
	name    string
	hart    int
	quanta  int
	channel int // -1 when the program does not talk
	memory  uint64
}

// Programs builds the program of every process listed in the board.
//
// Process 0 may run the monitor, which hands every other program its
// resources and starts it. Each child takes these args:
//
//	hart     hart its quanta are on (default 0)
//	quanta   number of quanta per frame (default 1)
//	channel  ping and pong only: ping sends on channel and receives on
//	         channel+1, pong the other way round
//	memory   size of a naturally aligned region from the first memory
//	         range, loaded as PMP slot 0 before the program starts
func Programs(b *config.Board) (map[int]Program, error) {
	progs := make(map[int]Program, len(b.Programs))
	var children []child
	hasMonitor := false

	for _, p := range b.Programs {
		switch p.Name {
		case "monitor":
			if p.PID != 0 {
				return nil, fmt.Errorf("pid %d: the monitor must run as process 0", p.PID)
			}
			hasMonitor = true
			continue
		}
		if p.PID == 0 {
			progs[0] = builtin(p)
			continue
		}
		c, err := plan(b, p)
		if err != nil {
			return nil, err
		}
		children = append(children, c)
		progs[p.PID] = withSetup(builtin(p))
	}

	if !hasMonitor {
		if len(children) > 0 {
			return nil, fmt.Errorf("programs for pids other than 0 need a monitor on pid 0")
		}
		return progs, nil
	}
	if err := checkPlan(b, children); err != nil {
		return nil, err
	}
	m, _ := b.Program(0)
	progs[0] = monitor(b, children, m.Args["rounds"])
	return progs, nil
}

func arg(p config.Program, name string, def uint64) uint64 {
	if v, ok := p.Args[name]; ok {
		return v
	}
	return def
}

func plan(b *config.Board, p config.Program) (child, error) {
	c := child{
		pid:     p.PID,
		name:    p.Name,
		hart:    int(arg(p, "hart", 0)),
		quanta:  int(arg(p, "quanta", 1)),
		channel: -1,
		memory:  arg(p, "memory", 0),
	}
	if c.hart >= b.Harts {
		return c, fmt.Errorf("pid %d: hart %d out of range", p.PID, c.hart)
	}
	if p.Name == "ping" || p.Name == "pong" {
		ch, ok := p.Args["channel"]
		if !ok {
			return c, fmt.Errorf("pid %d: %s needs a channel", p.PID, p.Name)
		}
		if ch+1 >= uint64(b.Channels) {
			return c, fmt.Errorf("pid %d: channels %d and %d need channels >= %d", p.PID, ch, ch+1, ch+2)
		}
		c.channel = int(ch)
	}
	if c.memory != 0 {
		if len(b.Memory) == 0 {
			return c, fmt.Errorf("pid %d: memory requested but the board has none", p.PID)
		}
		if _, ok := capability.NAPOTEncode(0, c.memory); !ok {
			return c, fmt.Errorf("pid %d: memory size %d is not a power of two >= %d", p.PID, c.memory, capability.MinRegion)
		}
	}
	if b.Caps < childSlots {
		return c, fmt.Errorf("pid %d: caps = %d, programs need %d slots", p.PID, b.Caps, childSlots)
	}
	return c, nil
}

func checkPlan(b *config.Board, children []child) error {
	used := make([]int, b.Harts)
	for _, c := range children {
		used[c.hart] += c.quanta
		if used[c.hart] > b.Quanta {
			return fmt.Errorf("pid %d: hart %d has only %d quanta", c.pid, c.hart, b.Quanta)
		}
	}
	if boot := bootSlots(b); b.Caps < boot+2 {
		return fmt.Errorf("caps = %d, the monitor needs %d slots", b.Caps, boot+2)
	}
	return nil
}

func bootSlots(b *config.Board) int {
	return b.Harts + len(b.Memory) + 2
}

// withSetup loads the process's memory region, if it was given one, before
// running prog.
func withSetup(prog Program) Program {
	return func(u *User) {
		c, s := u.ReadCap(SlotMem)
		if m, ok := c.(capability.Memory); ok && s == abi.OK {
			addr, _ := capability.NAPOTEncode(uint64(m.Begin), uint64(m.End-m.Begin))
			if st := u.DeriveCap(SlotMem, SlotPMP, capability.PMP{Addr: addr, RWX: m.RWX}); st != abi.OK {
				u.Logger().Warn("derive pmp failed", "status", st)
			} else if st := u.LoadPMP(SlotPMP, 0); st != abi.OK {
				u.Logger().Warn("load pmp failed", "status", st)
			}
		}
		prog(u)
	}
}

func builtin(p config.Program) Program {
	switch p.Name {
	case "ping":
		return Ping(int(arg(p, "rounds", 3)))
	case "pong":
		return Pong(int(arg(p, "rounds", 0)))
	case "spin":
		return Spin(arg(p, "ticks", 10), int(arg(p, "rounds", 0)))
	case "fault":
		return Fault(arg(p, "cause", 2), arg(p, "handler", 0))
	}
	return func(*User) {}
}

// monitor returns process 0's program: it distributes time, memory and
// channels to children, resumes them, then watches their states for
// rounds sweeps (forever when rounds is 0).
func monitor(b *config.Board, children []child, rounds uint64) Program {
	children = append([]child(nil), children...)
	sort.Slice(children, func(i, j int) bool { return children[i].pid < children[j].pid })

	return func(u *User) {
		var (
			boot    = bootSlots(b)
			chans   = uint64(boot - 2)
			sup     = uint64(boot - 1)
			scratch = uint64(boot)
			spare   = uint64(boot + 1)
			free    = make([]uint16, b.Harts)
		)
		give := func(pid int, src, dst uint64) {
			if s, _ := u.Supervise(sup, abi.OpGiveCap, pid, src, dst); s != abi.OK {
				u.Logger().Warn("give failed", "to", pid, "slot", dst, "status", s)
			}
		}

		for _, c := range children {
			t := capability.Time{
				Hart:  uint8(c.hart),
				Begin: free[c.hart],
				End:   free[c.hart] + uint16(c.quanta),
				Free:  free[c.hart],
				Depth: 1,
			}
			free[c.hart] = t.End
			if s := u.DeriveCap(uint64(c.hart), scratch, t); s != abi.OK {
				u.Logger().Warn("derive time failed", "for", c.pid, "status", s)
				continue
			}
			give(c.pid, scratch, SlotTime)
		}

		mem := uint64(b.Harts)
		for _, c := range children {
			if c.memory == 0 {
				continue
			}
			region, s := u.ReadCap(mem)
			r, ok := region.(capability.Memory)
			if s != abi.OK || !ok {
				continue
			}
			begin := (uint64(r.Free) + c.memory - 1) &^ (c.memory - 1)
			if begin+c.memory > uint64(r.End) {
				u.Logger().Warn("out of memory", "for", c.pid, "size", c.memory)
				continue
			}
			if begin > uint64(r.Free) {
				pad := capability.Memory{Begin: r.Free, End: uint32(begin), Free: r.Free, RWX: r.RWX}
				u.DeriveCap(mem, scratch, pad)
				u.DeleteCap(scratch)
			}
			m := capability.Memory{Begin: uint32(begin), End: uint32(begin + c.memory), Free: uint32(begin), RWX: r.RWX}
			if s := u.DeriveCap(mem, scratch, m); s != abi.OK {
				u.Logger().Warn("derive memory failed", "for", c.pid, "status", s)
				continue
			}
			give(c.pid, scratch, SlotMem)
		}

		senders, receivers := map[int]int{}, map[int]int{}
		last := -1
		for _, c := range children {
			if c.channel < 0 {
				continue
			}
			out, in := c.channel, c.channel+1
			if c.name == "pong" {
				out, in = in, out
			}
			senders[out], receivers[in] = c.pid, c.pid
			last = max(last, c.channel+1)
		}
		for ch := 0; ch <= last; ch++ {
			if s := u.DeriveCap(chans, scratch, capability.Receiver{Channel: uint16(ch)}); s != abi.OK {
				u.Logger().Warn("derive receiver failed", "channel", ch, "status", s)
				continue
			}
			if pid, ok := senders[ch]; ok {
				if s := u.DeriveCap(scratch, spare, capability.Sender{Channel: uint16(ch)}); s == abi.OK {
					give(pid, spare, SlotSend)
				}
			}
			if pid, ok := receivers[ch]; ok {
				give(pid, scratch, SlotRecv)
			} else {
				u.DeleteCap(scratch)
			}
		}

		for _, c := range children {
			if s, _ := u.Supervise(sup, abi.OpResume, c.pid); s != abi.OK {
				u.Logger().Warn("resume failed", "pid", c.pid, "status", s)
			}
		}
		u.Logger().Info("monitor started children", "count", len(children))

		reported := map[int]bool{}
		for n := uint64(0); rounds == 0 || n < rounds; n++ {
			for _, c := range children {
				s, v := u.Supervise(sup, abi.OpGetState, c.pid)
				if s == abi.OK && proc.State(v[0]) == proc.Halted && !reported[c.pid] {
					reported[c.pid] = true
					u.Logger().Info("child halted", "pid", c.pid, "program", c.name)
				}
			}
			u.Yield()
		}
	}
}

// Ping sends round numbers to pong and checks each reply is one more.
func Ping(rounds int) Program {
	return func(u *User) {
		for i := 1; i <= rounds; i++ {
			for {
				_, s := u.Send(SlotSend, ipc.Message{uint64(i)}, abi.NoSlot, false)
				if s == abi.OK {
					break
				}
				if s != abi.NoReceiver {
					u.Logger().Warn("ping send failed", "status", s)
					return
				}
				u.Yield()
			}
			r, s := u.Recv(SlotRecv, abi.NoSlot)
			if s != abi.OK {
				u.Logger().Warn("ping recv failed", "status", s)
				return
			}
			if r.Msg[0] != uint64(i)+1 {
				u.Logger().Warn("bad reply", "round", i, "got", r.Msg[0])
				return
			}
			u.Logger().Info("pong replied", "round", i, "from", r.Sender)
		}
	}
}

// Pong answers every message with its first word plus one. It runs
// forever when rounds is 0.
func Pong(rounds int) Program {
	return func(u *User) {
		for n := 0; rounds == 0 || n < rounds; n++ {
			r, s := u.Recv(SlotRecv, SlotInbox)
			if s != abi.OK {
				u.Logger().Warn("pong recv failed", "status", s)
				u.Yield()
				continue
			}
			for {
				_, s := u.Send(SlotSend, ipc.Message{r.Msg[0] + 1}, abi.NoSlot, false)
				if s == abi.OK {
					break
				}
				if s != abi.NoReceiver {
					u.Logger().Warn("pong send failed", "status", s)
					break
				}
				u.Yield()
			}
		}
	}
}

// Spin computes in stretches of ticks, rounds times or forever when
// rounds is 0.
func Spin(ticks uint64, rounds int) Program {
	return func(u *User) {
		for n := 0; rounds == 0 || n < rounds; n++ {
			u.Compute(ticks)
		}
	}
}

// Fault raises one exception with the given cause. With a non-zero
// handler address it installs a trap handler first and reports what the
// handler saw.
func Fault(cause, handler uint64) Program {
	return func(u *User) {
		if handler != 0 {
			u.WriteReg(abi.TPC, handler)
		}
		if !u.Fault(cause, uint64(u.PID())) {
			u.Logger().Info("resumed after unhandled fault")
			return
		}
		ecause, _ := u.ReadReg(abi.ECAUSE)
		eval, _ := u.ReadReg(abi.EVAL)
		u.Logger().Info("fault handled", "ecause", ecause, "eval", eval, "pc", u.Reg(abi.PC))
	}
}
